package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/cloudsync-core/internal/cloud"
	"github.com/nerrad567/cloudsync-core/internal/command"
	"github.com/nerrad567/cloudsync-core/internal/device"
	"github.com/nerrad567/cloudsync-core/internal/infrastructure/logging"
	"github.com/nerrad567/cloudsync-core/internal/poller"
	"github.com/nerrad567/cloudsync-core/internal/resilience"
)

// staticCloud serves one device with a fixed state.
type staticCloud struct{}

func (staticCloud) ListDevices(context.Context) ([]cloud.DeviceInfo, error) {
	return []cloud.DeviceInfo{{
		ID:           "d1",
		Name:         "Outlet",
		Model:        "M1",
		Type:         device.DeviceTypeOutlet,
		Capabilities: []device.Capability{device.CapPower},
	}}, nil
}

func (staticCloud) FetchState(context.Context, string) (map[string]device.Value, error) {
	return map[string]device.Value{"power": device.Boolean(true)}, nil
}

func (staticCloud) FetchStates(context.Context, []string) (map[string]map[string]device.Value, error) {
	return nil, errors.New("not used")
}

func (staticCloud) FetchEnergy(context.Context, string) (map[string]device.Value, error) {
	return nil, errors.New("not used")
}

func (staticCloud) SendCommand(context.Context, string, device.Capability, device.Value) error {
	return nil
}

// countingListener records fan-out deliveries.
type countingListener struct {
	mu           sync.Mutex
	discovered   int
	stateChanges int
	availability int
}

func (l *countingListener) OnDeviceDiscovered(device.Device) {
	l.mu.Lock()
	l.discovered++
	l.mu.Unlock()
}

func (l *countingListener) OnDeviceRemoved(string) {}

func (l *countingListener) OnStateChanged(string, string, device.Value, device.Value) {
	l.mu.Lock()
	l.stateChanges++
	l.mu.Unlock()
}

func (l *countingListener) OnAvailabilityChanged(string, bool) {
	l.mu.Lock()
	l.availability++
	l.mu.Unlock()
}

func newTestEngine(t *testing.T) (*Engine, *poller.Scheduler, *countingListener) {
	t.Helper()

	registry := device.NewRegistry()
	coord := resilience.NewCoordinator(resilience.Policy{MaxAttempts: 3, Base: time.Second, Cap: time.Minute})
	scheduler := poller.NewScheduler(staticCloud{}, registry, coord, poller.Config{
		Interval:      time.Minute,
		CycleDeadline: 10 * time.Second,
	})
	dispatcher := command.NewDispatcher(staticCloud{}, scheduler, registry, coord)

	eng := New(Deps{
		Logger:     logging.Default(),
		Registry:   registry,
		Scheduler:  scheduler,
		Dispatcher: dispatcher,
	})
	l := &countingListener{}
	eng.AddListener(l)
	return eng, scheduler, l
}

func TestEngineFansOutRegistryEvents(t *testing.T) {
	eng, scheduler, l := newTestEngine(t)

	scheduler.RunCycle(context.Background())

	l.mu.Lock()
	discovered, stateChanges := l.discovered, l.stateChanges
	l.mu.Unlock()

	if discovered != 1 {
		t.Errorf("discovered events = %d, want 1", discovered)
	}
	if stateChanges != 1 {
		t.Errorf("state change events = %d, want 1", stateChanges)
	}

	devices := eng.Devices()
	if len(devices) != 1 || devices[0].ID != "d1" {
		t.Fatalf("Devices() = %v", devices)
	}
	if _, err := eng.Device("d1"); err != nil {
		t.Errorf("Device failed: %v", err)
	}
	if _, err := eng.Device("missing"); !errors.Is(err, device.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEngineRequestCommand(t *testing.T) {
	eng, scheduler, _ := newTestEngine(t)
	scheduler.RunCycle(context.Background())

	err := eng.RequestCommand(context.Background(), command.Command{
		DeviceID:   "d1",
		Capability: device.CapPower,
		Value:      device.Boolean(false),
	})
	if err != nil {
		t.Fatalf("RequestCommand failed: %v", err)
	}

	// Confirmation merges the cloud's actual state over the optimistic value.
	dev, err := eng.Device("d1")
	if err != nil {
		t.Fatalf("Device failed: %v", err)
	}
	attr := dev.State.Attributes["power"]
	if attr.Source != device.SourceConfirmed {
		t.Errorf("power source = %s, want confirmed", attr.Source)
	}
}
