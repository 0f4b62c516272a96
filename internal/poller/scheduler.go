package poller

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/cloudsync-core/internal/cloud"
	"github.com/nerrad567/cloudsync-core/internal/device"
	"github.com/nerrad567/cloudsync-core/internal/resilience"
)

// CloudAPI is the slice of the cloud adapter the scheduler needs.
type CloudAPI interface {
	ListDevices(ctx context.Context) ([]cloud.DeviceInfo, error)
	FetchState(ctx context.Context, deviceID string) (map[string]device.Value, error)
	FetchStates(ctx context.Context, deviceIDs []string) (map[string]map[string]device.Value, error)
	FetchEnergy(ctx context.Context, deviceID string) (map[string]device.Value, error)
}

// Logger is the minimal logging interface used by the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds scheduler tunables.
type Config struct {
	// Interval is the delay between cycle starts.
	Interval time.Duration

	// CycleDeadline bounds one cycle; devices still outstanding when it
	// elapses are treated as transient failures.
	CycleDeadline time.Duration

	// Batched selects one batched state fetch per cycle instead of one call
	// per device.
	Batched bool

	// EnergyInterval is the slower per-device cadence for energy readings.
	EnergyInterval time.Duration
}

// pollState is the per-device scheduling state machine.
type pollState string

const (
	stateIdle    pollState = "idle"
	statePolling pollState = "polling"
	stateUpdated pollState = "updated"
	stateFailed  pollState = "failed"
)

// Scheduler drives periodic poll cycles: discovery reconciliation, fan-out
// of per-device (or batched) state fetches, merge into the registry, and
// backoff bookkeeping through the shared failure coordinator.
//
// Each device's poll is independent; a cycle completes once every
// outstanding poll returns or the cycle deadline elapses, whichever first.
// Overlapping cycles are skipped, never queued.
type Scheduler struct {
	api      CloudAPI
	registry *device.Registry
	coord    *resilience.Coordinator
	cfg      Config
	logger   Logger

	mu         sync.Mutex
	states     map[string]pollState
	permanent  map[string]error     // devices rejected permanently by the cloud
	lastEnergy map[string]time.Time // per-device last energy refresh
	lastCycle  *Cycle
	onCycle    func(Cycle)
	onAuth     func(error)

	running sync.Mutex // held for the duration of one cycle
	wg      sync.WaitGroup
}

// NewScheduler creates a poll scheduler.
func NewScheduler(api CloudAPI, registry *device.Registry, coord *resilience.Coordinator, cfg Config) *Scheduler {
	return &Scheduler{
		api:        api,
		registry:   registry,
		coord:      coord,
		cfg:        cfg,
		logger:     noopLogger{},
		states:     make(map[string]pollState),
		permanent:  make(map[string]error),
		lastEnergy: make(map[string]time.Time),
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// SetOnCycle sets a callback invoked with a copy of each completed cycle.
// Must be set before Run is called.
func (s *Scheduler) SetOnCycle(fn func(Cycle)) {
	s.onCycle = fn
}

// SetOnAuthError sets a callback invoked when polling hits an account-level
// authentication failure. Must be set before Run is called. The callback may
// fire once per affected device within a cycle.
func (s *Scheduler) SetOnAuthError(fn func(error)) {
	s.onAuth = fn
}

// Run drives poll cycles until ctx is cancelled. The first cycle starts
// immediately; subsequent cycles follow the configured interval. Run returns
// only after any in-flight cycle has reached a terminal state.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle executes one poll cycle. If a previous cycle is still in flight
// the call is skipped; cycles never overlap or queue.
func (s *Scheduler) RunCycle(ctx context.Context) {
	if !s.running.TryLock() {
		s.logger.Warn("previous poll cycle still running, skipping")
		return
	}
	defer s.running.Unlock()

	s.wg.Add(1)
	defer s.wg.Done()

	cycleCtx, cancel := context.WithTimeout(ctx, s.cfg.CycleDeadline)
	defer cancel()

	cycle := newCycle()

	s.discover(cycleCtx)

	targets := s.eligibleTargets()
	cycle.Targets = targets

	if len(targets) > 0 {
		if s.cfg.Batched {
			s.pollBatched(cycleCtx, cycle, targets)
		} else {
			s.pollEach(cycleCtx, cycle, targets)
		}
	}

	cycle.finish()

	s.mu.Lock()
	s.lastCycle = cycle
	s.mu.Unlock()

	if s.onCycle != nil {
		s.onCycle(cycle.clone())
	}

	s.logger.Info("poll cycle complete",
		"cycle", cycle.ID,
		"targets", len(cycle.Targets),
		"succeeded", cycle.count(OutcomeSuccess),
		"partial", cycle.count(OutcomePartial),
		"failed", cycle.count(OutcomeFailed),
		"duration", cycle.CompletedAt.Sub(cycle.StartedAt),
	)
}

// discover fetches the cloud device list and reconciles the registry:
// new devices are added, devices the cloud no longer reports are removed.
// A failed discovery leaves the registry untouched; known devices are still
// polled this cycle.
func (s *Scheduler) discover(ctx context.Context) {
	infos, err := s.api.ListDevices(ctx)
	if err != nil {
		s.logger.Warn("device discovery failed", "error", err)
		return
	}

	seen := make(map[string]bool, len(infos))
	for _, info := range infos {
		seen[info.ID] = true
		s.registry.Add(&device.Device{
			ID:           info.ID,
			Name:         info.Name,
			Model:        info.Model,
			Type:         info.Type,
			Capabilities: info.Capabilities,
		})
	}

	for _, id := range s.registry.IDs() {
		if !seen[id] {
			s.registry.Remove(id)
			s.coord.Success(pollKey(id))
			s.mu.Lock()
			delete(s.states, id)
			delete(s.permanent, id)
			delete(s.lastEnergy, id)
			s.mu.Unlock()
		}
	}
}

// eligibleTargets selects devices due for polling: known, not permanently
// rejected, and past any backoff window.
func (s *Scheduler) eligibleTargets() []string {
	var targets []string
	for _, id := range s.registry.IDs() {
		s.mu.Lock()
		_, perm := s.permanent[id]
		s.mu.Unlock()
		if perm {
			continue
		}
		if !s.coord.Eligible(pollKey(id)) {
			continue
		}
		targets = append(targets, id)
	}
	return targets
}

// pollEach issues one state fetch per device, fanned out concurrently under
// the cycle deadline. Individual failures never cancel sibling polls.
func (s *Scheduler) pollEach(ctx context.Context, cycle *Cycle, targets []string) {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range targets {
		g.Go(func() error {
			outcome := s.pollDevice(gctx, id)
			cycle.record(id, outcome)
			return nil // failures are per-device outcomes, not group errors
		})
	}
	_ = g.Wait()
}

// pollDevice fetches and merges one device's state, then any due energy
// readings. Returns the per-device cycle outcome.
func (s *Scheduler) pollDevice(ctx context.Context, id string) Outcome {
	s.setState(id, statePolling)

	attrs, err := s.api.FetchState(ctx, id)
	if err != nil {
		s.setState(id, stateFailed)
		s.recordFailure(id, err)
		return OutcomeFailed
	}

	now := time.Now().UTC()
	if upsertErr := s.registry.Upsert(id, attrs, device.SourcePolled, now); upsertErr != nil {
		// Device vanished between discovery and merge.
		s.setState(id, stateIdle)
		return OutcomeFailed
	}
	s.recordSuccess(id)

	outcome := OutcomeSuccess
	if s.energyDue(id, now) {
		if energyErr := s.pollEnergy(ctx, id, now); energyErr != nil {
			// Main state landed; a missed energy reading degrades the
			// outcome but is not a device failure.
			s.logger.Debug("energy refresh failed", "id", id, "error", energyErr)
			outcome = OutcomePartial
		}
	}

	s.setState(id, stateUpdated)
	s.setState(id, stateIdle)
	return outcome
}

// pollBatched issues one batched call for all targets and fans the results
// back out to per-device outcomes. Devices absent from the response are
// recorded as failures; a call-level error fails every target.
func (s *Scheduler) pollBatched(ctx context.Context, cycle *Cycle, targets []string) {
	for _, id := range targets {
		s.setState(id, statePolling)
	}

	states, err := s.api.FetchStates(ctx, targets)
	if err != nil {
		for _, id := range targets {
			s.setState(id, stateFailed)
			s.recordFailure(id, err)
			cycle.record(id, OutcomeFailed)
		}
		return
	}

	now := time.Now().UTC()
	for _, id := range targets {
		attrs, ok := states[id]
		if !ok {
			s.setState(id, stateFailed)
			s.recordFailure(id, errMissingFromBatch)
			cycle.record(id, OutcomeFailed)
			continue
		}
		if upsertErr := s.registry.Upsert(id, attrs, device.SourcePolled, now); upsertErr != nil {
			cycle.record(id, OutcomeFailed)
			continue
		}
		s.recordSuccess(id)

		outcome := OutcomeSuccess
		if s.energyDue(id, now) {
			if energyErr := s.pollEnergy(ctx, id, now); energyErr != nil {
				s.logger.Debug("energy refresh failed", "id", id, "error", energyErr)
				outcome = OutcomePartial
			}
		}
		s.setState(id, stateUpdated)
		s.setState(id, stateIdle)
		cycle.record(id, outcome)
	}
}

// pollEnergy fetches the slow-cadence energy readings for one device.
// Only devices declaring an energy-class capability are queried.
func (s *Scheduler) pollEnergy(ctx context.Context, id string, now time.Time) error {
	attrs, err := s.api.FetchEnergy(ctx, id)
	if err != nil {
		return err
	}
	if err := s.registry.Upsert(id, attrs, device.SourcePolled, now); err != nil {
		return err
	}
	s.mu.Lock()
	s.lastEnergy[id] = now
	s.mu.Unlock()
	return nil
}

// energyDue reports whether the device carries energy-class capabilities and
// its energy readings are older than the energy interval.
func (s *Scheduler) energyDue(id string, now time.Time) bool {
	if s.cfg.EnergyInterval <= 0 {
		return false
	}
	dev, err := s.registry.Get(id)
	if err != nil {
		return false
	}
	hasEnergy := false
	for _, c := range dev.Capabilities {
		if c.EnergyClass() {
			hasEnergy = true
			break
		}
	}
	if !hasEnergy {
		return false
	}

	s.mu.Lock()
	last, ok := s.lastEnergy[id]
	s.mu.Unlock()
	return !ok || now.Sub(last) >= s.cfg.EnergyInterval
}

// Confirm performs one immediate, out-of-cycle confirmation poll for a
// device, merging the result as authoritative over any optimistic values.
// Used by the command dispatcher directly after a successful command.
//
// Returns:
//   - map[string]device.Value: The confirmed attribute values
//   - error: Classified fetch error, or device.ErrNotFound
func (s *Scheduler) Confirm(ctx context.Context, id string) (map[string]device.Value, error) {
	attrs, err := s.api.FetchState(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Upsert(id, attrs, device.SourceConfirmed, time.Now().UTC()); err != nil {
		return nil, err
	}
	s.recordSuccess(id)
	return attrs, nil
}

// recordFailure routes one poll failure through the failure coordinator and
// applies the decision: backoff (skip in coming cycles), give-up (report
// unavailable, keep retrying at the capped interval), or escalate
// (permanent: stop polling, report unavailable).
//
// Auth failures are handled apart from the coordinator's verdict: they are
// account-wide, not device faults, so the device is paused at the capped
// interval and the failure is surfaced to the host. Polling resumes on its
// own once credential refresh recovers.
func (s *Scheduler) recordFailure(id string, err error) {
	class := cloud.Classify(err)

	if class == cloud.ClassAuth {
		delay := s.coord.Suspend(pollKey(id))
		s.logger.Warn("cloud authentication failing, pausing device poll",
			"id", id,
			"retry_in", delay,
			"error", err,
		)
		if s.onAuth != nil {
			s.onAuth(err)
		}
		return
	}

	decision := s.coord.Failure(pollKey(id), class, err)

	switch decision.Outcome {
	case resilience.Escalate:
		s.mu.Lock()
		s.permanent[id] = err
		s.mu.Unlock()
		s.logger.Error("device poll failed permanently", "id", id, "class", class, "error", err)
		_ = s.registry.SetAvailability(id, false)

	case resilience.GiveUp:
		// Registry fires the availability event exactly once per transition;
		// repeated give-ups are no-ops there.
		_ = s.registry.SetAvailability(id, false)
		s.logger.Warn("device poll failures at ceiling",
			"id", id,
			"retry_in", decision.Delay,
			"error", err,
		)

	case resilience.Retry:
		s.logger.Debug("device poll failed, backing off",
			"id", id,
			"retry_in", decision.Delay,
			"error", err,
		)
	}
}

// recordSuccess clears retry state and restores availability.
func (s *Scheduler) recordSuccess(id string) {
	s.coord.Success(pollKey(id))
	_ = s.registry.SetAvailability(id, true)
}

// setState updates the per-device scheduling state for diagnostics.
func (s *Scheduler) setState(id string, st pollState) {
	s.mu.Lock()
	if st == stateIdle {
		delete(s.states, id)
	} else {
		s.states[id] = st
	}
	s.mu.Unlock()
}

// LastCycle returns a copy of the most recent cycle record, if any.
func (s *Scheduler) LastCycle() (Cycle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastCycle == nil {
		return Cycle{}, false
	}
	return s.lastCycle.clone(), true
}

// pollKey is the failure-coordinator operation identity for a device poll.
func pollKey(id string) string {
	return "poll:" + id
}
