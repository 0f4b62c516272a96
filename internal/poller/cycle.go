package poller

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// errMissingFromBatch marks a device the batched response left out.
// Classified as transient: the device enters the normal backoff path.
var errMissingFromBatch = errors.New("poller: device missing from batch response")

// Outcome is the per-device result of one cycle.
type Outcome string

// Outcome constants.
const (
	// OutcomeSuccess means the device's state merged cleanly.
	OutcomeSuccess Outcome = "success"

	// OutcomePartial means the main state merged but a secondary fetch
	// (energy readings) did not.
	OutcomePartial Outcome = "partial"

	// OutcomeFailed means the device's poll failed or missed the deadline.
	OutcomeFailed Outcome = "failed"
)

// Cycle records one poll cycle for scheduling diagnostics and backoff
// decisions. Transient; never persisted.
type Cycle struct {
	ID          string             `json:"id"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at"`
	Targets     []string           `json:"targets"`
	Outcomes    map[string]Outcome `json:"outcomes"`

	// Pointer so cycle copies handed to diagnostics readers stay copyable.
	mu *sync.Mutex
}

// newCycle starts a cycle record.
func newCycle() *Cycle {
	return &Cycle{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Outcomes:  make(map[string]Outcome),
		mu:        &sync.Mutex{},
	}
}

// record stores one device outcome. Safe for concurrent use from the
// per-device poll goroutines.
func (c *Cycle) record(deviceID string, outcome Outcome) {
	c.mu.Lock()
	c.Outcomes[deviceID] = outcome
	c.mu.Unlock()
}

// finish stamps the completion time.
func (c *Cycle) finish() {
	c.mu.Lock()
	c.CompletedAt = time.Now().UTC()
	c.mu.Unlock()
}

// count returns how many devices finished with the given outcome.
func (c *Cycle) count(outcome Outcome) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, o := range c.Outcomes {
		if o == outcome {
			n++
		}
	}
	return n
}

// clone returns an independent copy for diagnostics readers.
func (c *Cycle) clone() Cycle {
	c.mu.Lock()
	defer c.mu.Unlock()
	cpy := Cycle{
		ID:          c.ID,
		StartedAt:   c.StartedAt,
		CompletedAt: c.CompletedAt,
		Targets:     append([]string(nil), c.Targets...),
		Outcomes:    make(map[string]Outcome, len(c.Outcomes)),
		mu:          &sync.Mutex{},
	}
	for k, v := range c.Outcomes {
		cpy.Outcomes[k] = v
	}
	return cpy
}
