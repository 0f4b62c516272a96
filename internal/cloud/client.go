package cloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Priority selects which rate-limit allotment a call draws from.
type Priority int

// Priority constants.
const (
	// PriorityPoll is for routine poll traffic; draws from the shared bucket.
	PriorityPoll Priority = iota

	// PriorityCommand is for user-initiated commands; tries the reserved
	// command bucket first so a large poll fan-out cannot starve commands.
	PriorityCommand
)

// defaultCooldown is applied after a server-signalled 429 when the response
// carries no Retry-After header.
const defaultCooldown = 5 * time.Second

// Logger is the minimal logging interface used by the client.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// ClientConfig holds the tunables for the rate-limited client.
type ClientConfig struct {
	// Capacity is the shared token bucket size (maximum burst).
	Capacity int

	// RefillPerSecond is the shared bucket refill rate.
	RefillPerSecond float64

	// CommandReserve is the size of the reserved command bucket. 0 disables it.
	CommandReserve int

	// PerCallTimeout bounds each individual attempt.
	PerCallTimeout time.Duration
}

// Client wraps a Transport with authentication, rate limiting, and response
// classification.
//
// Behaviour per call:
//   - one bucket token is consumed per attempt (not per success)
//   - an empty bucket makes the call wait, bounded by the caller's ctx
//   - a server-signalled 429 puts the bucket into cooldown and the call
//     retries after the cooldown; rate limiting is never surfaced to callers
//   - a 401/419 invalidates the session token, triggers one refresh, and
//     retries once; a second rejection escalates as ClassAuth
//   - network errors and 5xx are returned as ClassTransient
//   - other 4xx are returned as ClassPermanent
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	transport Transport
	session   *Session
	limiter   *rate.Limiter
	reserve   *rate.Limiter
	timeout   time.Duration
	logger    Logger

	cooldownMu    sync.Mutex
	cooldownUntil time.Time
}

// NewClient creates a rate-limited API client.
func NewClient(transport Transport, session *Session, cfg ClientConfig) *Client {
	c := &Client{
		transport: transport,
		session:   session,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RefillPerSecond), cfg.Capacity),
		timeout:   cfg.PerCallTimeout,
		logger:    noopLogger{},
	}
	if cfg.CommandReserve > 0 {
		// The reserve refills at the same rate but holds fewer tokens, so
		// commands get a small private burst while steady-state throughput
		// still comes from the shared bucket.
		c.reserve = rate.NewLimiter(rate.Limit(cfg.RefillPerSecond), cfg.CommandReserve)
	}
	return c
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// Do sends a request at poll priority. See DoPriority.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	return c.DoPriority(ctx, req, PriorityPoll)
}

// DoPriority sends one authenticated request through the rate limiter and
// classifies the outcome.
//
// Parameters:
//   - ctx: Caller deadline/cancellation; bounds bucket and cooldown waits
//   - req: Request to send (Authorization header is added here)
//   - pri: Which rate-limit allotment to draw from
//
// Returns:
//   - Response: Raw response on success (2xx)
//   - error: *APIError with a Class on failure, or ctx error on cancellation
func (c *Client) DoPriority(ctx context.Context, req Request, pri Priority) (Response, error) {
	authRetried := false

	for {
		if err := c.waitCooldown(ctx); err != nil {
			return Response{}, err
		}
		if err := c.acquire(ctx, pri); err != nil {
			return Response{}, err
		}

		token, err := c.session.Token(ctx)
		if err != nil {
			// A deadline expiring mid-refresh is not an auth failure. The
			// second check catches a joined refresh whose initiator's context
			// ended; for this caller that is a transient fault.
			if ctx.Err() != nil {
				return Response{}, ctx.Err()
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return Response{}, transientErr(0, err)
			}
			return Response{}, authErr(0, err)
		}

		resp, err := c.attempt(ctx, req, token)
		if err != nil {
			// Transport-level failure: transient unless the caller's own
			// context ended.
			if ctx.Err() != nil {
				return Response{}, ctx.Err()
			}
			return Response{}, transientErr(0, err)
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			d := retryAfter(resp)
			c.startCooldown(d)
			c.logger.Warn("server rate limit hit, cooling down", "delay", d)
			// Loop; waitCooldown blocks the retry.

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == 419:
			c.session.Invalidate(token)
			if authRetried {
				return Response{}, authErr(resp.StatusCode, fmt.Errorf("token rejected after refresh"))
			}
			authRetried = true
			c.logger.Debug("token rejected, refreshing session", "status", resp.StatusCode)
			// Loop; the next Token() call performs (or joins) the refresh.

		case resp.StatusCode >= 500:
			return Response{}, transientErr(resp.StatusCode, fmt.Errorf("server error"))

		default:
			return Response{}, permanentErr(resp.StatusCode, fmt.Errorf("request rejected"))
		}
	}
}

// attempt sends one request with the per-call timeout applied.
func (c *Client) attempt(ctx context.Context, req Request, token string) (Response, error) {
	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	send := req
	send.Headers = make(map[string]string, len(req.Headers)+1)
	for k, v := range req.Headers {
		send.Headers[k] = v
	}
	send.Headers["Authorization"] = "Bearer " + token

	return c.transport.Send(callCtx, send)
}

// acquire consumes one bucket token, waiting if the bucket is empty.
// Commands try the reserved allotment first without blocking.
func (c *Client) acquire(ctx context.Context, pri Priority) error {
	if pri == PriorityCommand && c.reserve != nil && c.reserve.Allow() {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return nil
}

// waitCooldown blocks until any server-signalled cooldown has passed.
func (c *Client) waitCooldown(ctx context.Context) error {
	c.cooldownMu.Lock()
	until := c.cooldownUntil
	c.cooldownMu.Unlock()

	wait := time.Until(until)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startCooldown extends the cooldown window. Never shortens an existing one.
func (c *Client) startCooldown(d time.Duration) {
	until := time.Now().Add(d)
	c.cooldownMu.Lock()
	if until.After(c.cooldownUntil) {
		c.cooldownUntil = until
	}
	c.cooldownMu.Unlock()
}

// retryAfter extracts the server's requested delay, falling back to the
// default cooldown.
func retryAfter(resp Response) time.Duration {
	if v := resp.Headers.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultCooldown
}
