package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/cloudsync-core/internal/command"
	"github.com/nerrad567/cloudsync-core/internal/device"
	"github.com/nerrad567/cloudsync-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/cloudsync-core/internal/infrastructure/logging"
	"github.com/nerrad567/cloudsync-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/cloudsync-core/internal/poller"
)

// historyWriteTimeout bounds each history insert so a slow disk cannot
// stall event delivery.
const historyWriteTimeout = 5 * time.Second

// Engine ties the sync components together and fans registry events out to
// hosts and local infrastructure.
//
// It implements device.Listener and is installed as the registry's listener:
// every discovery, state change, and availability transition flows through
// the engine to host listeners, the MQTT broker, the time-series store, and
// the attribute history database. Sinks are best-effort; a failing sink is
// logged and never blocks the merge path permanently.
type Engine struct {
	logger     *logging.Logger
	registry   *device.Registry
	scheduler  *poller.Scheduler
	dispatcher *command.Dispatcher

	// Optional sinks.
	mqtt    *mqtt.Client
	influx  *influxdb.Client
	history device.HistoryRepository

	mu        sync.RWMutex
	listeners []device.Listener
}

// Deps holds the dependencies required by the engine.
type Deps struct {
	Logger     *logging.Logger
	Registry   *device.Registry
	Scheduler  *poller.Scheduler
	Dispatcher *command.Dispatcher

	// Optional sinks; nil disables the corresponding fan-out.
	MQTT    *mqtt.Client
	Influx  *influxdb.Client
	History device.HistoryRepository
}

// New creates the engine and installs it as the registry's event listener.
func New(deps Deps) *Engine {
	e := &Engine{
		logger:     deps.Logger,
		registry:   deps.Registry,
		scheduler:  deps.Scheduler,
		dispatcher: deps.Dispatcher,
		mqtt:       deps.MQTT,
		influx:     deps.Influx,
		history:    deps.History,
	}
	deps.Registry.SetListener(e)
	e.scheduler.SetOnAuthError(e.onAuthError)
	if e.influx != nil {
		e.scheduler.SetOnCycle(e.recordCycle)
	}
	return e
}

// onAuthError surfaces an account-level authentication failure to the host.
// Polling pauses per device until credentials recover; the host decides
// whether operator action (re-entering credentials) is needed.
func (e *Engine) onAuthError(err error) {
	e.logger.Error("cloud authentication failing", "error", err)
	if e.mqtt != nil {
		payload, merr := json.Marshal(map[string]any{
			"status":    "auth_error",
			"error":     err.Error(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		if merr == nil {
			if perr := e.mqtt.PublishEvent(mqtt.Topics{}.SystemStatus(), payload); perr != nil {
				e.logger.Warn("publishing auth status failed", "error", perr)
			}
		}
	}
}

// recordCycle writes one completed poll cycle to the time-series store.
func (e *Engine) recordCycle(c poller.Cycle) {
	var succeeded, failed int
	for _, outcome := range c.Outcomes {
		switch outcome {
		case poller.OutcomeSuccess, poller.OutcomePartial:
			succeeded++
		case poller.OutcomeFailed:
			failed++
		}
	}
	e.influx.WriteCycleMetric(c.ID, len(c.Targets), succeeded, failed, c.CompletedAt.Sub(c.StartedAt))
}

// AddListener registers a host listener for registry events.
// Must be called before Run; listeners are not removable.
func (e *Engine) AddListener(l device.Listener) {
	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()
}

// Run drives poll cycles until ctx is cancelled. It blocks; callers run it
// in a goroutine or as the main loop. In-flight work completes before Run
// returns.
func (e *Engine) Run(ctx context.Context) {
	e.scheduler.Run(ctx)
}

// RequestCommand validates and dispatches one host command.
//
// The call blocks until the command is confirmed, rolled back, or rejected;
// see the command package for the full lifecycle.
func (e *Engine) RequestCommand(ctx context.Context, cmd command.Command) error {
	return e.dispatcher.Dispatch(ctx, cmd)
}

// Devices returns a snapshot of all known devices.
func (e *Engine) Devices() []device.Device {
	devices := make([]device.Device, 0, e.registry.Count())
	for dev := range e.registry.All() {
		devices = append(devices, dev)
	}
	return devices
}

// Device returns one device by ID.
func (e *Engine) Device(id string) (*device.Device, error) {
	return e.registry.Get(id)
}

// hostListeners returns the current host listener set.
func (e *Engine) hostListeners() []device.Listener {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.listeners
}

// OnDeviceDiscovered fans a discovery event out to sinks and host listeners.
func (e *Engine) OnDeviceDiscovered(dev device.Device) {
	if e.mqtt != nil {
		payload, err := json.Marshal(map[string]any{
			"id":           dev.ID,
			"name":         dev.Name,
			"model":        dev.Model,
			"type":         dev.Type,
			"capabilities": dev.Capabilities,
		})
		if err == nil {
			if err := e.mqtt.PublishEvent(mqtt.Topics{}.DeviceDiscovered(dev.ID), payload); err != nil {
				e.logger.Warn("publishing discovery event failed", "id", dev.ID, "error", err)
			}
		}
	}

	for _, l := range e.hostListeners() {
		l.OnDeviceDiscovered(dev)
	}
}

// OnDeviceRemoved fans a removal event out to sinks and host listeners.
func (e *Engine) OnDeviceRemoved(deviceID string) {
	if e.mqtt != nil {
		if err := e.mqtt.PublishEvent(mqtt.Topics{}.DeviceRemoved(deviceID), []byte(`{"id":"`+deviceID+`"}`)); err != nil {
			e.logger.Warn("publishing removal event failed", "id", deviceID, "error", err)
		}
	}

	for _, l := range e.hostListeners() {
		l.OnDeviceRemoved(deviceID)
	}
}

// OnStateChanged fans one merged attribute change out to sinks and host
// listeners. The attribute's source is read back from the registry for the
// history and telemetry records.
func (e *Engine) OnStateChanged(deviceID, attribute string, oldValue, newValue device.Value) {
	source := e.attributeSource(deviceID, attribute)

	if e.mqtt != nil {
		payload, err := json.Marshal(map[string]any{
			"attribute": attribute,
			"value":     newValue,
			"source":    source,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		if err == nil {
			if err := e.mqtt.PublishRetained(mqtt.Topics{}.DeviceState(deviceID), payload); err != nil {
				e.logger.Warn("publishing state event failed", "id", deviceID, "error", err)
			}
		}
	}

	if e.influx != nil && newValue.Kind == device.KindNumber {
		e.influx.WriteAttributeMetric(deviceID, attribute, newValue.Num, string(source))
	}

	if e.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
		if err := e.history.RecordChange(ctx, deviceID, attribute, newValue, source); err != nil {
			e.logger.Warn("recording attribute history failed", "id", deviceID, "attribute", attribute, "error", err)
		}
		cancel()
	}

	for _, l := range e.hostListeners() {
		l.OnStateChanged(deviceID, attribute, oldValue, newValue)
	}
}

// OnAvailabilityChanged fans an availability transition out to sinks and
// host listeners.
func (e *Engine) OnAvailabilityChanged(deviceID string, available bool) {
	if e.mqtt != nil {
		status := "offline"
		if available {
			status = "online"
		}
		if err := e.mqtt.PublishRetained(mqtt.Topics{}.DeviceAvailability(deviceID), []byte(`{"status":"`+status+`"}`)); err != nil {
			e.logger.Warn("publishing availability event failed", "id", deviceID, "error", err)
		}
	}

	if e.influx != nil {
		e.influx.WriteAvailabilityMetric(deviceID, available)
	}

	for _, l := range e.hostListeners() {
		l.OnAvailabilityChanged(deviceID, available)
	}
}

// attributeSource looks up how the attribute's current value was obtained.
func (e *Engine) attributeSource(deviceID, attribute string) device.Source {
	dev, err := e.registry.Get(deviceID)
	if err != nil {
		return device.SourcePolled
	}
	attr, ok := dev.State.Attributes[attribute]
	if !ok {
		return device.SourcePolled
	}
	return attr.Source
}
