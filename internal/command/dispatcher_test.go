package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/cloudsync-core/internal/cloud"
	"github.com/nerrad567/cloudsync-core/internal/device"
	"github.com/nerrad567/cloudsync-core/internal/resilience"
)

// fakeSender records sends and fails a scripted number of times first.
type fakeSender struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
}

func (s *fakeSender) SendCommand(context.Context, string, device.Capability, device.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return s.err
	}
	return nil
}

func (s *fakeSender) sendCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeConfirmer merges scripted attributes as confirmed, like the scheduler.
type fakeConfirmer struct {
	registry *device.Registry
	attrs    map[string]device.Value
	err      error
	calls    int
}

func (c *fakeConfirmer) Confirm(_ context.Context, deviceID string) (map[string]device.Value, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	if err := c.registry.Upsert(deviceID, c.attrs, device.SourceConfirmed, time.Now().UTC()); err != nil {
		return nil, err
	}
	return c.attrs, nil
}

func newTestDispatcher(sender Sender, confirmer Confirmer, registry *device.Registry) *Dispatcher {
	coord := resilience.NewCoordinator(resilience.Policy{
		MaxAttempts: 3,
		Base:        time.Millisecond,
		Cap:         10 * time.Millisecond,
	})
	d := NewDispatcher(sender, confirmer, registry, coord)
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d
}

func newOutletRegistry() *device.Registry {
	r := device.NewRegistry()
	r.Add(&device.Device{
		ID:           "d1",
		Name:         "Outlet",
		Model:        "M1",
		Type:         device.DeviceTypeOutlet,
		Capabilities: []device.Capability{device.CapPower, device.CapEnergyRead},
	})
	return r
}

func TestDispatchValidationRejectsLocally(t *testing.T) {
	registry := newOutletRegistry()

	tests := []struct {
		name    string
		cmd     Command
		wantErr error
	}{
		{
			name:    "unknown device",
			cmd:     Command{DeviceID: "missing", Capability: device.CapPower, Value: device.Boolean(true)},
			wantErr: device.ErrNotFound,
		},
		{
			name:    "undeclared capability",
			cmd:     Command{DeviceID: "d1", Capability: device.CapBrightness, Value: device.Number(50)},
			wantErr: device.ErrUnsupportedCapability,
		},
		{
			name:    "read-only capability",
			cmd:     Command{DeviceID: "d1", Capability: device.CapEnergyRead, Value: device.Number(1)},
			wantErr: device.ErrUnsupportedCapability,
		},
		{
			name:    "wrong value kind",
			cmd:     Command{DeviceID: "d1", Capability: device.CapPower, Value: device.Number(1)},
			wantErr: device.ErrInvalidValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			d := newTestDispatcher(sender, &fakeConfirmer{registry: registry}, registry)

			err := d.Dispatch(context.Background(), tt.cmd)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Dispatch = %v, want %v", err, tt.wantErr)
			}
			if sender.sendCalls() != 0 {
				t.Error("validation failure must not reach the network")
			}
		})
	}
}

func TestDispatchRejectsUnavailableDevice(t *testing.T) {
	registry := newOutletRegistry()
	_ = registry.SetAvailability("d1", false)

	sender := &fakeSender{}
	d := newTestDispatcher(sender, &fakeConfirmer{registry: registry}, registry)

	err := d.Dispatch(context.Background(), Command{DeviceID: "d1", Capability: device.CapPower, Value: device.Boolean(true)})
	if !errors.Is(err, device.ErrUnavailable) {
		t.Errorf("Dispatch = %v, want ErrUnavailable", err)
	}
	if sender.sendCalls() != 0 {
		t.Error("unavailable device must not be contacted")
	}
}

func TestDispatchOptimisticThenConfirmed(t *testing.T) {
	registry := newOutletRegistry()
	sender := &fakeSender{}
	confirmer := &fakeConfirmer{
		registry: registry,
		attrs:    map[string]device.Value{"power": device.Boolean(true)},
	}
	d := newTestDispatcher(sender, confirmer, registry)

	err := d.Dispatch(context.Background(), Command{DeviceID: "d1", Capability: device.CapPower, Value: device.Boolean(true)})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if sender.sendCalls() != 1 {
		t.Errorf("send calls = %d, want 1", sender.sendCalls())
	}
	if confirmer.calls != 1 {
		t.Errorf("confirm calls = %d, want 1", confirmer.calls)
	}

	dev, _ := registry.Get("d1")
	attr := dev.State.Attributes["power"]
	if !attr.Value.Equal(device.Boolean(true)) || attr.Source != device.SourceConfirmed {
		t.Errorf("final attribute = %+v, want confirmed true", attr)
	}
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	registry := newOutletRegistry()
	sender := &fakeSender{
		failures: 2,
		err:      &cloud.APIError{Class: cloud.ClassTransient, StatusCode: 500, Err: errors.New("flaky")},
	}
	confirmer := &fakeConfirmer{
		registry: registry,
		attrs:    map[string]device.Value{"power": device.Boolean(true)},
	}
	d := newTestDispatcher(sender, confirmer, registry)

	err := d.Dispatch(context.Background(), Command{DeviceID: "d1", Capability: device.CapPower, Value: device.Boolean(true)})
	if err != nil {
		t.Fatalf("Dispatch failed after retries: %v", err)
	}
	if got := sender.sendCalls(); got != 3 {
		t.Errorf("send calls = %d, want 3 (two failures then success)", got)
	}
}

func TestDispatchRollsBackOnTerminalFailure(t *testing.T) {
	registry := newOutletRegistry()

	// Establish a known pre-command value.
	base := time.Now().UTC()
	if err := registry.Upsert("d1", map[string]device.Value{"power": device.Boolean(false)}, device.SourcePolled, base); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	sender := &fakeSender{
		failures: 1,
		err:      &cloud.APIError{Class: cloud.ClassPermanent, StatusCode: 400, Err: errors.New("rejected")},
	}
	confirmer := &fakeConfirmer{registry: registry}
	d := newTestDispatcher(sender, confirmer, registry)

	err := d.Dispatch(context.Background(), Command{DeviceID: "d1", Capability: device.CapPower, Value: device.Boolean(true)})
	if err == nil {
		t.Fatal("expected error")
	}
	if cloud.Classify(err) != cloud.ClassPermanent {
		t.Errorf("Classify = %s, want permanent", cloud.Classify(err))
	}
	if sender.sendCalls() != 1 {
		t.Errorf("permanent failure retried: %d calls", sender.sendCalls())
	}
	if confirmer.calls != 0 {
		t.Error("failed command must not be confirmed")
	}

	dev, _ := registry.Get("d1")
	attr := dev.State.Attributes["power"]
	if !attr.Value.Equal(device.Boolean(false)) || attr.Source != device.SourcePolled {
		t.Errorf("rollback incomplete: %+v", attr)
	}
}

func TestDispatchRollsBackAfterRetryCeiling(t *testing.T) {
	registry := newOutletRegistry()
	sender := &fakeSender{
		failures: 10,
		err:      &cloud.APIError{Class: cloud.ClassTransient, StatusCode: 500, Err: errors.New("down")},
	}
	d := newTestDispatcher(sender, &fakeConfirmer{registry: registry}, registry)

	err := d.Dispatch(context.Background(), Command{DeviceID: "d1", Capability: device.CapPower, Value: device.Boolean(true)})
	if err == nil {
		t.Fatal("expected error after the retry ceiling")
	}
	if got := sender.sendCalls(); got != 3 {
		t.Errorf("send calls = %d, want 3 (ceiling)", got)
	}

	// The optimistic attribute did not exist before the command; rollback
	// removes it entirely.
	dev, _ := registry.Get("d1")
	if _, ok := dev.State.Attributes["power"]; ok {
		t.Error("rollback left the optimistic attribute behind")
	}
}

func TestDispatchConfirmationFailureDoesNotFailCommand(t *testing.T) {
	registry := newOutletRegistry()
	sender := &fakeSender{}
	confirmer := &fakeConfirmer{registry: registry, err: errors.New("confirm fetch failed")}
	d := newTestDispatcher(sender, confirmer, registry)

	err := d.Dispatch(context.Background(), Command{DeviceID: "d1", Capability: device.CapPower, Value: device.Boolean(true)})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	// The optimistic value stays until the next routine poll reconciles.
	dev, _ := registry.Get("d1")
	attr := dev.State.Attributes["power"]
	if !attr.Value.Equal(device.Boolean(true)) || attr.Source != device.SourceOptimistic {
		t.Errorf("attribute = %+v, want optimistic true", attr)
	}
}

func TestDispatchModeAcceptsStringAndEnum(t *testing.T) {
	registry := device.NewRegistry()
	registry.Add(&device.Device{
		ID:           "p1",
		Name:         "Purifier",
		Model:        "P1",
		Type:         device.DeviceTypePurifier,
		Capabilities: []device.Capability{device.CapMode},
	})

	for _, value := range []device.Value{device.Enum("sleep"), device.String("auto")} {
		sender := &fakeSender{}
		confirmer := &fakeConfirmer{registry: registry, attrs: map[string]device.Value{"mode": value}}
		d := newTestDispatcher(sender, confirmer, registry)

		if err := d.Dispatch(context.Background(), Command{DeviceID: "p1", Capability: device.CapMode, Value: value}); err != nil {
			t.Errorf("mode command with kind %s rejected: %v", value.Kind, err)
		}
	}
}

func TestDispatchAssignsCommandID(t *testing.T) {
	registry := newOutletRegistry()
	d := newTestDispatcher(&fakeSender{}, &fakeConfirmer{registry: registry, attrs: map[string]device.Value{"power": device.Boolean(true)}}, registry)

	// Explicit IDs are kept; empty IDs are assigned. Either way the dispatch
	// succeeds, so ID handling never blocks a command.
	for _, id := range []string{"", "host-assigned-1"} {
		if err := d.Dispatch(context.Background(), Command{ID: id, DeviceID: "d1", Capability: device.CapPower, Value: device.Boolean(true)}); err != nil {
			t.Errorf("Dispatch with ID %q failed: %v", id, err)
		}
	}
}
