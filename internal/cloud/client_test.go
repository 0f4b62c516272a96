package cloud

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"testing"
	"time"
)

// scriptedTransport returns canned responses in order and records requests
// with their issue times.
type scriptedTransport struct {
	mu        sync.Mutex
	responses []Response
	errs      []error
	requests  []Request
	times     []time.Time
}

func (t *scriptedTransport) Send(_ context.Context, req Request) (Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = append(t.requests, req)
	t.times = append(t.times, time.Now())
	idx := len(t.requests) - 1
	if idx < len(t.errs) && t.errs[idx] != nil {
		return Response{}, t.errs[idx]
	}
	if idx < len(t.responses) {
		return t.responses[idx], nil
	}
	return Response{StatusCode: http.StatusOK}, nil
}

func (t *scriptedTransport) calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

func (t *scriptedTransport) request(i int) Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requests[i]
}

func (t *scriptedTransport) issueOffsets(start time.Time) []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	offsets := make([]time.Duration, len(t.times))
	for i, ts := range t.times {
		offsets[i] = ts.Sub(start)
	}
	return offsets
}

// newTestClient builds a client with generous limits so rate limiting never
// interferes with classification tests.
func newTestClient(transport Transport, store CredentialStore) *Client {
	return NewClient(transport, NewSession(store, time.Minute), ClientConfig{
		Capacity:        100,
		RefillPerSecond: 1000,
		PerCallTimeout:  time.Second,
	})
}

func TestClientSuccessAddsBearerToken(t *testing.T) {
	transport := &scriptedTransport{
		responses: []Response{{StatusCode: 200, Body: []byte(`{"ok":true}`)}},
	}
	store := &fakeStore{next: validCreds("tok-1")}
	c := newTestClient(transport, store)

	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/v1/devices"})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if got := transport.request(0).Headers["Authorization"]; got != "Bearer tok-1" {
		t.Errorf("Authorization = %q, want Bearer tok-1", got)
	}
}

func TestClientClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		class  Class
	}{
		{"server error is transient", 500, ClassTransient},
		{"bad gateway is transient", 502, ClassTransient},
		{"not found is permanent", 404, ClassPermanent},
		{"bad request is permanent", 400, ClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &scriptedTransport{responses: []Response{{StatusCode: tt.status}}}
			c := newTestClient(transport, &fakeStore{next: validCreds("tok-1")})

			_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
			if err == nil {
				t.Fatal("expected error")
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %T", err)
			}
			if apiErr.Class != tt.class {
				t.Errorf("Class = %s, want %s", apiErr.Class, tt.class)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
		})
	}
}

func TestClientNetworkFailureIsTransient(t *testing.T) {
	transport := &scriptedTransport{errs: []error{errors.New("connection refused")}}
	c := newTestClient(transport, &fakeStore{next: validCreds("tok-1")})

	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
	if Classify(err) != ClassTransient {
		t.Errorf("Classify = %s, want transient", Classify(err))
	}
}

func TestClientRefreshesOnceOnAuthRejection(t *testing.T) {
	transport := &scriptedTransport{
		responses: []Response{
			{StatusCode: http.StatusUnauthorized},
			{StatusCode: 200},
		},
	}
	store := &fakeStore{next: validCreds("tok-1")}
	c := newTestClient(transport, store)

	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if got := transport.calls(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
	// Initial login plus one refresh after the rejection.
	if got := store.loads.Load() + store.refreshs.Load(); got != 2 {
		t.Errorf("expected 2 credential fetches, got %d", got)
	}
}

func TestClientSecondAuthRejectionEscalates(t *testing.T) {
	transport := &scriptedTransport{
		responses: []Response{
			{StatusCode: http.StatusUnauthorized},
			{StatusCode: http.StatusUnauthorized},
		},
	}
	c := newTestClient(transport, &fakeStore{next: validCreds("tok-1")})

	_, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if Classify(err) != ClassAuth {
		t.Errorf("Classify = %s, want auth", Classify(err))
	}
	if got := transport.calls(); got != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", got)
	}
}

func TestClientRefreshCutOffByCallerDeadlineIsNotAuth(t *testing.T) {
	transport := &scriptedTransport{}
	store := &fakeStore{next: validCreds("tok-1"), delay: 200 * time.Millisecond}
	c := newTestClient(transport, store)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/x"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if Classify(err) == ClassAuth {
		t.Error("a deadline expiring mid-refresh must not classify as an auth failure")
	}
	if got := transport.calls(); got != 0 {
		t.Errorf("expected no attempts without a token, got %d", got)
	}
}

func TestClientPacesFanOutThroughSharedBucket(t *testing.T) {
	transport := &scriptedTransport{}
	c := NewClient(transport, NewSession(&fakeStore{next: validCreds("tok-1")}, time.Minute), ClientConfig{
		Capacity:        5,
		RefillPerSecond: 1,
		PerCallTimeout:  time.Second,
	})

	start := time.Now()
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/v1/devices"}); err != nil {
				t.Errorf("Do failed: %v", err)
			}
		}()
	}
	wg.Wait()

	offsets := transport.issueOffsets(start)
	if len(offsets) != 10 {
		t.Fatalf("expected 10 issued calls, got %d", len(offsets))
	}
	slices.Sort(offsets)

	// The initial burst of five goes straight through.
	for i, off := range offsets[:5] {
		if off > 500*time.Millisecond {
			t.Errorf("call %d issued at %v, want within the initial burst", i, off)
		}
	}
	// The rest wait for one refill token per second.
	for i, off := range offsets[5:] {
		earliest := time.Duration(i+1)*time.Second - 300*time.Millisecond
		if off < earliest {
			t.Errorf("call %d issued at %v, want no earlier than %v", i+5, off, earliest)
		}
	}
}

func TestClientRateLimitResponseCoolsDownAndRetries(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "1")
	transport := &scriptedTransport{
		responses: []Response{
			{StatusCode: http.StatusTooManyRequests, Headers: headers},
			{StatusCode: 200},
		},
	}
	c := newTestClient(transport, &fakeStore{next: validCreds("tok-1")})

	start := time.Now()
	resp, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("retry fired before the cooldown: %v", elapsed)
	}
	if got := transport.calls(); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestClientRateLimitRespectsCallerDeadline(t *testing.T) {
	headers := http.Header{}
	headers.Set("Retry-After", "30")
	transport := &scriptedTransport{
		responses: []Response{{StatusCode: http.StatusTooManyRequests, Headers: headers}},
	}
	c := newTestClient(transport, &fakeStore{next: validCreds("tok-1")})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/x"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded while cooling down, got %v", err)
	}
}

func TestClientCommandReserveBypassesEmptySharedBucket(t *testing.T) {
	transport := &scriptedTransport{
		responses: []Response{{StatusCode: 200}, {StatusCode: 200}},
	}
	c := NewClient(transport, NewSession(&fakeStore{next: validCreds("tok-1")}, time.Minute), ClientConfig{
		Capacity:        1,
		RefillPerSecond: 0.001, // effectively no refill during the test
		CommandReserve:  1,
		PerCallTimeout:  time.Second,
	})

	// Drain the shared bucket.
	if _, err := c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/poll"}); err != nil {
		t.Fatalf("first poll failed: %v", err)
	}

	// A further poll cannot get a token before its deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/poll"}); err == nil {
		t.Fatal("expected poll to fail with an empty bucket")
	}

	// A command still goes through on the reserved allotment.
	if _, err := c.DoPriority(context.Background(), Request{Method: http.MethodPost, Path: "/cmd"}, PriorityCommand); err != nil {
		t.Fatalf("command failed despite reserve: %v", err)
	}
}
