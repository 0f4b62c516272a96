package device

import (
	"iter"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Listener receives registry events. All callbacks are invoked after the
// triggering merge has committed, outside registry locks, from the calling
// goroutine. Implementations must not call back into the Registry
// synchronously with blocking work.
type Listener interface {
	OnDeviceDiscovered(dev Device)
	OnDeviceRemoved(deviceID string)
	OnStateChanged(deviceID, attribute string, oldValue, newValue Value)
	OnAvailabilityChanged(deviceID string, available bool)
}

// noopListener discards all events.
type noopListener struct{}

func (noopListener) OnDeviceDiscovered(Device)                    {}
func (noopListener) OnDeviceRemoved(string)                       {}
func (noopListener) OnStateChanged(string, string, Value, Value)  {}
func (noopListener) OnAvailabilityChanged(string, bool)           {}

// Registry is the in-memory catalog of known devices and the single source
// of truth for their state. The poll scheduler and command dispatcher only
// propose updates through Upsert/Revert; they never share in-flight buffers.
//
// Locking is per device: concurrent Upsert calls for different devices do
// not contend, while merges for one device are serialised and atomic.
type Registry struct {
	mu      sync.RWMutex // guards the devices map, not entry contents
	devices map[string]*entry

	listener Listener
	logger   Logger
}

// entry pairs a device with its own lock.
type entry struct {
	mu  sync.Mutex
	dev *Device
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{
		devices:  make(map[string]*entry),
		listener: noopListener{},
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetListener sets the event listener for the registry.
// Must be called before the registry is shared across goroutines.
func (r *Registry) SetListener(l Listener) {
	r.listener = l
}

// Add registers a newly discovered device. Identity fields are fixed from
// this point on. Returns false if the device was already known, in which
// case the existing entry is untouched.
func (r *Registry) Add(dev *Device) bool {
	if dev.State.Attributes == nil {
		dev.State.Attributes = make(map[string]Attribute)
	}
	if dev.DiscoveredAt.IsZero() {
		dev.DiscoveredAt = time.Now().UTC()
	}
	dev.Available = true

	r.mu.Lock()
	if _, exists := r.devices[dev.ID]; exists {
		r.mu.Unlock()
		return false
	}
	stored := dev.Clone()
	r.devices[dev.ID] = &entry{dev: stored}
	r.mu.Unlock()

	r.logger.Info("device discovered", "id", dev.ID, "name", dev.Name, "model", dev.Model)
	r.listener.OnDeviceDiscovered(*stored.Clone())
	return true
}

// Remove deletes a device that the cloud no longer reports.
// Returns false if the device was not known.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	_, exists := r.devices[id]
	if exists {
		delete(r.devices, id)
	}
	r.mu.Unlock()

	if !exists {
		return false
	}
	r.logger.Info("device removed", "id", id)
	r.listener.OnDeviceRemoved(id)
	return true
}

// Get retrieves a device by ID.
// Returns ErrNotFound if the device does not exist.
// The returned device is a copy; callers can safely modify it.
func (r *Registry) Get(id string) (*Device, error) {
	e, err := r.entryFor(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dev.Clone(), nil
}

// All returns a lazy, restartable sequence over all known devices.
// The device set is captured when All is called; each iteration yields
// fresh copies, so it is not a live view of ongoing merges.
func (r *Registry) All() iter.Seq[Device] {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.devices))
	for _, e := range r.devices {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	return func(yield func(Device) bool) {
		for _, e := range entries {
			e.mu.Lock()
			dev := e.dev.Clone()
			e.mu.Unlock()
			if !yield(*dev) {
				return
			}
		}
	}
}

// IDs returns the identifiers of all known devices.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of known devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// stateChange records one applied attribute change for event delivery.
type stateChange struct {
	attribute string
	oldValue  Value
	newValue  Value
}

// Upsert merges a partial set of attribute observations into the device
// snapshot. The merge is attribute-granular and atomic for the whole call:
// either every eligible attribute is applied before any reader sees the
// entry again, or (on ErrNotFound) nothing is.
//
// Merge rules per attribute:
//   - optimistic always applies (it is the newest local intent)
//   - confirmed always overwrites optimistic, regardless of timestamp;
//     against polled/confirmed it is last-writer-wins on observedAt
//   - polled overwrites optimistic only when strictly newer; against
//     polled/confirmed it is last-writer-wins on observedAt
//
// A stale partial poll therefore cannot erase a fresher attribute that
// arrived from a different source.
//
// Parameters:
//   - id: Device identifier
//   - attrs: Attribute values observed, keyed by attribute name
//   - source: How the values were obtained
//   - observedAt: Observation timestamp applied to every attribute
//
// Returns:
//   - error: ErrNotFound if the device is unknown
func (r *Registry) Upsert(id string, attrs map[string]Value, source Source, observedAt time.Time) error {
	e, err := r.entryFor(id)
	if err != nil {
		return err
	}

	var changes []stateChange

	e.mu.Lock()
	for name, value := range attrs {
		incoming := Attribute{Value: value, ObservedAt: observedAt, Source: source}
		existing, ok := e.dev.State.Attributes[name]
		if ok && !supersedes(incoming, existing) {
			continue
		}
		e.dev.State.Attributes[name] = incoming
		if !ok || !existing.Value.Equal(value) {
			changes = append(changes, stateChange{
				attribute: name,
				oldValue:  existing.Value,
				newValue:  value,
			})
		}
	}
	if len(attrs) > 0 {
		e.dev.State.UpdatedAt = time.Now().UTC()
	}
	e.mu.Unlock()

	for _, ch := range changes {
		r.logger.Debug("state changed",
			"id", id,
			"attribute", ch.attribute,
			"value", ch.newValue.Render(),
			"source", source,
		)
		r.listener.OnStateChanged(id, ch.attribute, ch.oldValue, ch.newValue)
	}
	return nil
}

// supersedes reports whether the incoming attribute should replace the
// existing one under the merge rules.
func supersedes(incoming, existing Attribute) bool {
	switch incoming.Source {
	case SourceOptimistic:
		return true
	case SourceConfirmed:
		if existing.Source == SourceOptimistic {
			return true
		}
		return !incoming.ObservedAt.Before(existing.ObservedAt)
	case SourcePolled:
		if existing.Source == SourceOptimistic {
			return incoming.ObservedAt.After(existing.ObservedAt)
		}
		return !incoming.ObservedAt.Before(existing.ObservedAt)
	default:
		return false
	}
}

// Revert restores the named attributes to their values in a prior snapshot,
// deleting any that the prior snapshot did not contain. Used by the command
// dispatcher to roll back optimistic updates after a failed dispatch. The
// restore is atomic for the whole call.
//
// Parameters:
//   - id: Device identifier
//   - names: Attributes to restore
//   - prior: Snapshot taken before the optimistic update
//
// Returns:
//   - error: ErrNotFound if the device is unknown
func (r *Registry) Revert(id string, names []string, prior Snapshot) error {
	e, err := r.entryFor(id)
	if err != nil {
		return err
	}

	var changes []stateChange

	e.mu.Lock()
	for _, name := range names {
		current, curOK := e.dev.State.Attributes[name]
		restored, ok := prior.Attributes[name]
		if ok {
			e.dev.State.Attributes[name] = restored
			if curOK && !current.Value.Equal(restored.Value) {
				changes = append(changes, stateChange{attribute: name, oldValue: current.Value, newValue: restored.Value})
			}
		} else {
			delete(e.dev.State.Attributes, name)
		}
	}
	e.dev.State.UpdatedAt = time.Now().UTC()
	e.mu.Unlock()

	for _, ch := range changes {
		r.logger.Debug("state reverted", "id", id, "attribute", ch.attribute)
		r.listener.OnStateChanged(id, ch.attribute, ch.oldValue, ch.newValue)
	}
	return nil
}

// SetAvailability updates the device availability flag. The
// OnAvailabilityChanged event fires exactly once per transition; repeated
// calls with the same value are no-ops.
//
// Returns:
//   - error: ErrNotFound if the device is unknown
func (r *Registry) SetAvailability(id string, available bool) error {
	e, err := r.entryFor(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	changed := e.dev.Available != available
	e.dev.Available = available
	e.mu.Unlock()

	if changed {
		if available {
			r.logger.Info("device available", "id", id)
		} else {
			r.logger.Warn("device unavailable", "id", id)
		}
		r.listener.OnAvailabilityChanged(id, available)
	}
	return nil
}

// entryFor looks up the entry for a device ID.
func (r *Registry) entryFor(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.devices[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

// Stats returns registry statistics for diagnostics.
type Stats struct {
	TotalDevices int                `json:"total_devices"`
	Available    int                `json:"available"`
	ByType       map[DeviceType]int `json:"by_type"`
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	stats := Stats{
		ByType: make(map[DeviceType]int),
	}
	for dev := range r.All() {
		stats.TotalDevices++
		if dev.Available {
			stats.Available++
		}
		stats.ByType[dev.Type]++
	}
	return stats
}
