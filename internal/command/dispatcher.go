package command

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/cloudsync-core/internal/cloud"
	"github.com/nerrad567/cloudsync-core/internal/device"
	"github.com/nerrad567/cloudsync-core/internal/resilience"
)

// Sender is the slice of the cloud adapter the dispatcher needs.
type Sender interface {
	SendCommand(ctx context.Context, deviceID string, capability device.Capability, value device.Value) error
}

// Confirmer performs an immediate out-of-cycle poll that merges the result
// as authoritative over optimistic values. Satisfied by the poll scheduler.
type Confirmer interface {
	Confirm(ctx context.Context, deviceID string) (map[string]device.Value, error)
}

// Logger is the minimal logging interface used by the dispatcher.
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

// Command is one host-requested capability write.
type Command struct {
	// ID identifies the command for logging and retry bookkeeping. Assigned
	// by Dispatch when empty.
	ID string

	DeviceID   string
	Capability device.Capability
	Value      device.Value
}

// expectedKind maps each writable capability to the value kind it accepts.
var expectedKind = map[device.Capability]device.Kind{
	device.CapPower:          device.KindBool,
	device.CapChildLock:      device.KindBool,
	device.CapBrightness:     device.KindNumber,
	device.CapColorTemp:      device.KindNumber,
	device.CapFanSpeed:       device.KindNumber,
	device.CapHumidityTarget: device.KindNumber,
	device.CapMode:           device.KindEnum,
}

// Dispatcher validates host commands, applies optimistic registry updates,
// sends them to the cloud with retries through the shared failure
// coordinator, and either confirms the result or rolls the optimistic
// update back.
type Dispatcher struct {
	sender    Sender
	confirmer Confirmer
	registry  *device.Registry
	coord     *resilience.Coordinator
	logger    Logger

	// sleep is replaced in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a command dispatcher.
func NewDispatcher(sender Sender, confirmer Confirmer, registry *device.Registry, coord *resilience.Coordinator) *Dispatcher {
	return &Dispatcher{
		sender:    sender,
		confirmer: confirmer,
		registry:  registry,
		coord:     coord,
		logger:    noopLogger{},
		sleep:     sleepCtx,
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// Dispatch executes one command end to end.
//
// Validation happens before any network traffic: unknown devices, read-only
// or undeclared capabilities, and kind mismatches are rejected locally.
// Unavailable devices are rejected without contacting the cloud.
//
// On send the registry already holds the target value as an optimistic
// attribute, so hosts observe the intended state immediately. Transient
// send failures retry with backoff up to the shared ceiling; any terminal
// failure rolls the attribute back to its pre-command value before the
// error is returned.
//
// After a successful send a confirmation poll fetches the device's actual
// state and merges it as authoritative. A confirmation that fails to fetch
// does not fail the command; the next routine poll reconciles instead.
//
// Returns:
//   - error: device.ErrNotFound, device.ErrUnsupportedCapability,
//     device.ErrInvalidValue, device.ErrUnavailable, a classified cloud
//     error from the send, or ctx.Err()
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) error {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	dev, err := d.registry.Get(cmd.DeviceID)
	if err != nil {
		return err
	}
	if err := validate(dev, cmd); err != nil {
		return err
	}

	attr := cmd.Capability.Attribute()
	prior := dev.State.Clone()

	if err := d.registry.Upsert(cmd.DeviceID, map[string]device.Value{attr: cmd.Value}, device.SourceOptimistic, time.Now().UTC()); err != nil {
		return err
	}

	d.logger.Info("dispatching command",
		"command", cmd.ID,
		"device", cmd.DeviceID,
		"capability", cmd.Capability,
		"value", cmd.Value.Render(),
	)

	if err := d.send(ctx, cmd); err != nil {
		if revertErr := d.registry.Revert(cmd.DeviceID, []string{attr}, prior); revertErr != nil {
			d.logger.Warn("optimistic rollback failed", "command", cmd.ID, "device", cmd.DeviceID, "error", revertErr)
		}
		return fmt.Errorf("command %s on device %s: %w", cmd.Capability, cmd.DeviceID, err)
	}

	if _, err := d.confirmer.Confirm(ctx, cmd.DeviceID); err != nil {
		// The command reached the device; the routine poll cycle will
		// reconcile the optimistic value.
		d.logger.Warn("confirmation poll failed", "command", cmd.ID, "device", cmd.DeviceID, "error", err)
	}
	return nil
}

// validate rejects commands the device cannot honour.
func validate(dev *device.Device, cmd Command) error {
	if !cmd.Capability.Writable() || !dev.HasCapability(cmd.Capability) {
		return fmt.Errorf("%w: %s on %s", device.ErrUnsupportedCapability, cmd.Capability, dev.ID)
	}
	if !kindAccepted(cmd.Capability, cmd.Value.Kind) {
		return fmt.Errorf("%w: %s wants %s, got %s", device.ErrInvalidValue, cmd.Capability, expectedKind[cmd.Capability], cmd.Value.Kind)
	}
	if !dev.Available {
		return fmt.Errorf("%w: %s", device.ErrUnavailable, dev.ID)
	}
	return nil
}

// kindAccepted reports whether the value kind satisfies the capability.
// Mode accepts plain strings as well as enums; hosts often cannot tell
// the difference.
func kindAccepted(c device.Capability, k device.Kind) bool {
	want := expectedKind[c]
	if want == device.KindEnum {
		return k == device.KindEnum || k == device.KindString
	}
	return k == want
}

// send submits the command, retrying transient failures with backoff until
// the shared policy gives up or escalates. Retry state is keyed per command
// and always cleared before send returns.
func (d *Dispatcher) send(ctx context.Context, cmd Command) error {
	key := cmdKey(cmd.ID)
	defer d.coord.Success(key)

	for {
		err := d.sender.SendCommand(ctx, cmd.DeviceID, cmd.Capability, cmd.Value)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		decision := d.coord.Failure(key, cloud.Classify(err), err)
		if decision.Outcome != resilience.Retry {
			return err
		}

		d.logger.Debug("command send failed, backing off",
			"command", cmd.ID,
			"retry_in", decision.Delay,
			"error", err,
		)
		if err := d.sleep(ctx, decision.Delay); err != nil {
			return err
		}
	}
}

// sleepCtx waits for d or context cancellation, whichever first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// cmdKey is the failure-coordinator operation identity for a command.
func cmdKey(id string) string {
	return "cmd:" + id
}
