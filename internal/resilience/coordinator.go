package resilience

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nerrad567/cloudsync-core/internal/cloud"
)

// Outcome is the coordinator's verdict for one failure.
type Outcome int

// Outcome constants.
const (
	// Retry means the operation should run again once Decision.Delay passes.
	Retry Outcome = iota

	// GiveUp means the consecutive-failure ceiling was reached. Polls report
	// the device unavailable but keep retrying at the capped delay; commands
	// fail terminally.
	GiveUp

	// Escalate means the failure is not retryable at all (permanent
	// rejection, or auth failure after the single refresh-retry) and must
	// cross the component boundary to the host.
	Escalate
)

// Decision is the coordinator's answer to one recorded failure.
type Decision struct {
	Outcome Outcome

	// Delay is how long the operation must wait before its next attempt.
	// Meaningful for Retry and GiveUp (the capped retry interval).
	Delay time.Duration
}

// Policy holds the shared backoff curve applied to both poll and command
// retries, so both paths behave identically under failure.
type Policy struct {
	// MaxAttempts is the consecutive-failure ceiling.
	MaxAttempts int

	// Base is the first retry delay. Doubles per attempt.
	Base time.Duration

	// Cap limits exponential growth.
	Cap time.Duration

	// Jitter is the fraction of the delay randomised symmetrically around
	// the nominal value (0.25 = ±25%). Zero disables jitter.
	Jitter float64
}

// backoff computes the delay for the given attempt number (1-based),
// exponential with cap and jitter.
func (p Policy) backoff(attempt int) time.Duration {
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Cap {
			d = p.Cap
			break
		}
	}
	if d > p.Cap {
		d = p.Cap
	}
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d = time.Duration(float64(d) + (rand.Float64()*2-1)*spread)
		if d < 0 {
			d = 0
		}
	}
	return d
}

// RetryState tracks consecutive failures for one operation identity.
type RetryState struct {
	Attempts       int
	NextEligibleAt time.Time
	LastErr        error
}

// Coordinator owns per-operation retry state and applies the shared policy.
// Keys are operation identities (e.g., "poll:<deviceID>", "cmd:<commandID>");
// state is garbage-collected on success or escalation.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Coordinator struct {
	policy Policy
	now    func() time.Time

	mu     sync.Mutex
	states map[string]*RetryState
}

// NewCoordinator creates a coordinator with the given policy.
func NewCoordinator(policy Policy) *Coordinator {
	return &Coordinator{
		policy: policy,
		now:    time.Now,
		states: make(map[string]*RetryState),
	}
}

// Failure records one classified failure for the operation and returns the
// policy decision.
//
// Parameters:
//   - key: Operation identity
//   - class: Failure classification from the cloud package
//   - err: The failure itself, retained as LastErr for diagnostics
//
// Returns:
//   - Decision: Retry with a backoff delay, GiveUp at the ceiling (delay
//     stays capped for callers that keep retrying), or Escalate for
//     permanent/auth failures
func (c *Coordinator) Failure(key string, class cloud.Class, err error) Decision {
	switch class {
	case cloud.ClassPermanent, cloud.ClassAuth:
		// Not retryable: drop any accumulated state and hand the failure up.
		c.mu.Lock()
		delete(c.states, key)
		c.mu.Unlock()
		return Decision{Outcome: Escalate}
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[key]
	if !ok {
		st = &RetryState{}
		c.states[key] = st
	}
	if st.Attempts < c.policy.MaxAttempts {
		st.Attempts++
	}
	st.LastErr = err

	delay := c.policy.backoff(st.Attempts)
	st.NextEligibleAt = c.now().Add(delay)

	if st.Attempts >= c.policy.MaxAttempts {
		return Decision{Outcome: GiveUp, Delay: delay}
	}
	return Decision{Outcome: Retry, Delay: delay}
}

// Suspend pauses the operation for the capped retry interval without
// counting a failure. Used when the fault is account-wide (credential
// refresh failing) rather than specific to the operation: the attempt
// counter stays where it is so the operation is not written off.
//
// Returns:
//   - time.Duration: How long the operation is paused
func (c *Coordinator) Suspend(key string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[key]
	if !ok {
		st = &RetryState{}
		c.states[key] = st
	}
	st.NextEligibleAt = c.now().Add(c.policy.Cap)
	return c.policy.Cap
}

// Success clears the operation's retry state.
func (c *Coordinator) Success(key string) {
	c.mu.Lock()
	delete(c.states, key)
	c.mu.Unlock()
}

// Eligible reports whether the operation may run now. Operations with no
// recorded failures are always eligible.
func (c *Coordinator) Eligible(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[key]
	if !ok {
		return true
	}
	return !c.now().Before(st.NextEligibleAt)
}

// State returns a copy of the operation's retry state, if any.
func (c *Coordinator) State(key string) (RetryState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[key]
	if !ok {
		return RetryState{}, false
	}
	return *st, true
}

// Exhausted reports whether the operation has hit the failure ceiling.
func (c *Coordinator) Exhausted(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[key]
	return ok && st.Attempts >= c.policy.MaxAttempts
}
