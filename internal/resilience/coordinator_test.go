package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/cloudsync-core/internal/cloud"
)

var errBoom = errors.New("boom")

func newTestCoordinator(policy Policy) (*Coordinator, *time.Time) {
	c := NewCoordinator(policy)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestBackoffCurve(t *testing.T) {
	p := Policy{Base: 2 * time.Second, Cap: 300 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{8, 256 * time.Second},
		{9, 300 * time.Second},
		{20, 300 * time.Second},
	}
	for _, tt := range tests {
		if got := p.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	p := Policy{Base: 8 * time.Second, Cap: 300 * time.Second, Jitter: 0.25}

	for range 100 {
		d := p.backoff(1)
		if d < 6*time.Second || d > 10*time.Second {
			t.Fatalf("jittered delay %v outside ±25%% of 8s", d)
		}
	}
}

func TestCoordinatorRetryThenGiveUp(t *testing.T) {
	c, _ := newTestCoordinator(Policy{MaxAttempts: 3, Base: time.Second, Cap: time.Minute})

	d := c.Failure("poll:d1", cloud.ClassTransient, errBoom)
	if d.Outcome != Retry || d.Delay != time.Second {
		t.Errorf("attempt 1: %+v", d)
	}
	d = c.Failure("poll:d1", cloud.ClassTransient, errBoom)
	if d.Outcome != Retry || d.Delay != 2*time.Second {
		t.Errorf("attempt 2: %+v", d)
	}
	d = c.Failure("poll:d1", cloud.ClassTransient, errBoom)
	if d.Outcome != GiveUp || d.Delay != 4*time.Second {
		t.Errorf("attempt 3: %+v", d)
	}

	// Past the ceiling the delay stays capped at the ceiling value; attempts
	// never exceed MaxAttempts.
	d = c.Failure("poll:d1", cloud.ClassTransient, errBoom)
	if d.Outcome != GiveUp || d.Delay != 4*time.Second {
		t.Errorf("post-ceiling: %+v", d)
	}
	st, ok := c.State("poll:d1")
	if !ok || st.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", st.Attempts)
	}
	if !c.Exhausted("poll:d1") {
		t.Error("expected Exhausted after ceiling")
	}
}

func TestCoordinatorEscalatesNonRetryable(t *testing.T) {
	c, _ := newTestCoordinator(Policy{MaxAttempts: 5, Base: time.Second, Cap: time.Minute})

	// Build up some transient state first.
	c.Failure("poll:d1", cloud.ClassTransient, errBoom)

	for _, class := range []cloud.Class{cloud.ClassPermanent, cloud.ClassAuth} {
		d := c.Failure("poll:d1", class, errBoom)
		if d.Outcome != Escalate {
			t.Errorf("class %s: Outcome = %v, want Escalate", class, d.Outcome)
		}
		if _, ok := c.State("poll:d1"); ok {
			t.Errorf("class %s: state not cleared on escalation", class)
		}
	}
}

func TestCoordinatorSuspendPausesWithoutCountingFailure(t *testing.T) {
	c, now := newTestCoordinator(Policy{MaxAttempts: 3, Base: time.Second, Cap: time.Minute})

	delay := c.Suspend("poll:d1")
	if delay != time.Minute {
		t.Errorf("Suspend delay = %v, want the capped interval", delay)
	}
	if c.Eligible("poll:d1") {
		t.Error("must be ineligible while suspended")
	}

	st, ok := c.State("poll:d1")
	if !ok || st.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0 (suspension is not a failure)", st.Attempts)
	}
	if c.Exhausted("poll:d1") {
		t.Error("suspension must not count toward the failure ceiling")
	}

	*now = now.Add(time.Minute + time.Second)
	if !c.Eligible("poll:d1") {
		t.Error("must become eligible once the pause window elapses")
	}
}

func TestCoordinatorSuccessResetsState(t *testing.T) {
	c, _ := newTestCoordinator(Policy{MaxAttempts: 3, Base: time.Second, Cap: time.Minute})

	c.Failure("poll:d1", cloud.ClassTransient, errBoom)
	c.Failure("poll:d1", cloud.ClassTransient, errBoom)
	c.Success("poll:d1")

	if _, ok := c.State("poll:d1"); ok {
		t.Error("state must be garbage-collected on success")
	}

	// The next failure starts the curve over.
	d := c.Failure("poll:d1", cloud.ClassTransient, errBoom)
	if d.Outcome != Retry || d.Delay != time.Second {
		t.Errorf("post-success failure: %+v", d)
	}
}

func TestCoordinatorEligibility(t *testing.T) {
	c, now := newTestCoordinator(Policy{MaxAttempts: 3, Base: 10 * time.Second, Cap: time.Minute})

	if !c.Eligible("poll:d1") {
		t.Error("unknown key must be eligible")
	}

	c.Failure("poll:d1", cloud.ClassTransient, errBoom)
	if c.Eligible("poll:d1") {
		t.Error("must be ineligible immediately after a failure")
	}

	*now = now.Add(5 * time.Second)
	if c.Eligible("poll:d1") {
		t.Error("must stay ineligible before the backoff delay passes")
	}

	*now = now.Add(6 * time.Second)
	if !c.Eligible("poll:d1") {
		t.Error("must become eligible after the backoff delay")
	}
}

func TestCoordinatorKeysAreIndependent(t *testing.T) {
	c, _ := newTestCoordinator(Policy{MaxAttempts: 3, Base: time.Second, Cap: time.Minute})

	c.Failure("poll:d1", cloud.ClassTransient, errBoom)
	c.Failure("poll:d1", cloud.ClassTransient, errBoom)

	d := c.Failure("cmd:abc", cloud.ClassTransient, errBoom)
	if d.Delay != time.Second {
		t.Errorf("fresh key inherited state: %+v", d)
	}
	if !c.Eligible("poll:d2") {
		t.Error("unrelated key must stay eligible")
	}
}
