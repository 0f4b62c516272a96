package cloud

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Credentials is an opaque access token and its validity window.
type Credentials struct {
	Token     string
	AccountID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Valid reports whether the token is usable at the given instant with the
// given safety margin before expiry.
func (c Credentials) Valid(now time.Time, margin time.Duration) bool {
	return c.Token != "" && now.Add(margin).Before(c.ExpiresAt)
}

// CredentialStore loads and refreshes account credentials. Implementations
// talk to the vendor's auth endpoint (or a local secret store); the session
// treats the result as opaque.
type CredentialStore interface {
	// Load obtains initial credentials, typically by logging in.
	Load(ctx context.Context) (Credentials, error)

	// Refresh exchanges current credentials for fresh ones.
	Refresh(ctx context.Context, current Credentials) (Credentials, error)
}

// Session holds the current access token and refreshes it on demand.
//
// Refresh is performed at most once concurrently: callers that hit Token()
// while a refresh is in flight wait for that refresh instead of issuing a
// duplicate. ExpiresAt is monotonically non-decreasing across refreshes.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Session struct {
	store  CredentialStore
	margin time.Duration
	now    func() time.Time

	mu       sync.Mutex
	creds    Credentials
	inflight *refreshResult
}

// refreshResult is the shared outcome of one in-flight refresh.
type refreshResult struct {
	done  chan struct{}
	creds Credentials
	err   error
}

// NewSession creates a session backed by the given store. The margin is how
// long before expiry a token is considered stale (default config is 60s).
func NewSession(store CredentialStore, margin time.Duration) *Session {
	return &Session{
		store:  store,
		margin: margin,
		now:    time.Now,
	}
}

// Token returns a non-expired access token, transparently refreshing when
// the current one expires within the safety margin.
//
// Returns:
//   - string: Valid token
//   - error: ErrAuth (wrapped) if refresh fails; ctx error on cancellation
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.creds.Valid(s.now(), s.margin) {
		token := s.creds.Token
		s.mu.Unlock()
		return token, nil
	}

	// Join an in-flight refresh rather than issuing a duplicate.
	if s.inflight != nil {
		res := s.inflight
		s.mu.Unlock()
		select {
		case <-res.done:
			if res.err != nil {
				return "", res.err
			}
			return res.creds.Token, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	res := &refreshResult{done: make(chan struct{})}
	s.inflight = res
	current := s.creds
	s.mu.Unlock()

	creds, err := s.refresh(ctx, current)

	s.mu.Lock()
	s.inflight = nil
	if err == nil {
		// ExpiresAt never moves backwards across refreshes.
		if creds.ExpiresAt.Before(s.creds.ExpiresAt) {
			creds.ExpiresAt = s.creds.ExpiresAt
		}
		s.creds = creds
	}
	s.mu.Unlock()

	res.creds = creds
	res.err = err
	close(res.done)

	if err != nil {
		return "", err
	}
	return creds.Token, nil
}

// refresh obtains fresh credentials, logging in from scratch when no
// credentials are held yet.
func (s *Session) refresh(ctx context.Context, current Credentials) (Credentials, error) {
	var (
		creds Credentials
		err   error
	)
	if current.Token == "" {
		creds, err = s.store.Load(ctx)
	} else {
		creds, err = s.store.Refresh(ctx, current)
	}
	if err != nil {
		// A refresh cut short by the caller's deadline is a context failure,
		// not a credential one.
		if ctx.Err() != nil {
			return Credentials{}, ctx.Err()
		}
		return Credentials{}, fmt.Errorf("%w: %w", ErrAuth, err)
	}
	if creds.Token == "" {
		return Credentials{}, fmt.Errorf("%w: store returned empty token", ErrAuth)
	}
	return creds, nil
}

// Invalidate marks the given token as expired so the next Token() call
// refreshes. A no-op if the session has already moved to a newer token,
// which keeps concurrent AuthExpired responses from triggering multiple
// refreshes.
func (s *Session) Invalidate(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds.Token == token {
		s.creds.ExpiresAt = time.Time{}
	}
}

// Expiry returns the current token's expiry time (zero if none held).
func (s *Session) Expiry() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds.ExpiresAt
}
