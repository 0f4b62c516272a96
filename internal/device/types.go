package device

import (
	"fmt"
	"time"
)

// Source identifies how an attribute value was obtained.
type Source string

// Source constants, in increasing order of authority over optimistic values.
const (
	// SourcePolled is a value observed during a routine poll cycle.
	SourcePolled Source = "polled"

	// SourceOptimistic is a value applied locally after a command was sent,
	// before the cloud confirmed it.
	SourceOptimistic Source = "optimistic"

	// SourceConfirmed is a value observed by a confirmation poll issued
	// directly after a successful command. Confirmation is authoritative
	// over optimistic values regardless of timestamp.
	SourceConfirmed Source = "confirmed"
)

// Kind discriminates the typed attribute value union.
type Kind string

// Kind constants.
const (
	KindNumber Kind = "number"
	KindBool   Kind = "bool"
	KindString Kind = "string"
	KindEnum   Kind = "enum"
)

// Value is a tagged union for dynamically-typed device attribute payloads.
// Cloud APIs return loosely-typed JSON; values are normalised into one of
// four kinds at the boundary and validated against the device's declared
// capability set.
type Value struct {
	Kind Kind    `json:"kind"`
	Num  float64 `json:"num,omitempty"`
	Bool bool    `json:"bool,omitempty"`
	Str  string  `json:"str,omitempty"`
}

// Number returns a numeric Value.
func Number(v float64) Value { return Value{Kind: KindNumber, Num: v} }

// Boolean returns a boolean Value.
func Boolean(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// String returns a free-form string Value.
func String(v string) Value { return Value{Kind: KindString, Str: v} }

// Enum returns an enumerated string Value (e.g., mode names).
func Enum(v string) Value { return Value{Kind: KindEnum, Str: v} }

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(other Value) bool {
	return v == other
}

// Render formats the value for logs and diagnostics.
func (v Value) Render() string {
	switch v.Kind {
	case KindNumber:
		return fmt.Sprintf("%g", v.Num)
	case KindBool:
		return fmt.Sprintf("%t", v.Bool)
	case KindString, KindEnum:
		return v.Str
	default:
		return ""
	}
}

// Attribute is one named state value together with how and when it was observed.
type Attribute struct {
	Value      Value     `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
	Source     Source    `json:"source"`
}

// Snapshot is the latest known attribute values for one device.
type Snapshot struct {
	Attributes map[string]Attribute `json:"attributes"`

	// UpdatedAt is the time of the most recent merge, regardless of source.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns an independent copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	cpy := Snapshot{
		Attributes: make(map[string]Attribute, len(s.Attributes)),
		UpdatedAt:  s.UpdatedAt,
	}
	for k, a := range s.Attributes {
		cpy.Attributes[k] = a
	}
	return cpy
}

// Device represents one cloud-managed device.
//
// Identity (ID, Model, Type, Capabilities) is immutable after discovery.
// Only State and Available mutate, and only through Registry methods.
type Device struct {
	// Identity
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Model string     `json:"model"`
	Type  DeviceType `json:"type"`

	// Capabilities never change after discovery.
	Capabilities []Capability `json:"capabilities"`

	// Available is false once consecutive poll failures pass the retry
	// ceiling; the device stays in the registry and keeps being retried.
	Available bool `json:"available"`

	// State is the merged attribute snapshot.
	State Snapshot `json:"state"`

	DiscoveredAt time.Time `json:"discovered_at"`
}

// Clone returns an independent copy of the device.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	cpy.State = d.State.Clone()
	if d.Capabilities != nil {
		cpy.Capabilities = make([]Capability, len(d.Capabilities))
		copy(cpy.Capabilities, d.Capabilities)
	}
	return &cpy
}

// HasCapability reports whether the device declared the capability at discovery.
func (d *Device) HasCapability(c Capability) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// DeviceType represents the device family reported by the cloud.
type DeviceType string //nolint:revive // device.DeviceType is clearer than device.Type in calling code

// DeviceType constants.
const (
	DeviceTypeOutlet     DeviceType = "outlet"
	DeviceTypeSwitch     DeviceType = "switch"
	DeviceTypeBulb       DeviceType = "bulb"
	DeviceTypeFan        DeviceType = "fan"
	DeviceTypePurifier   DeviceType = "purifier"
	DeviceTypeHumidifier DeviceType = "humidifier"
	DeviceTypeSensor     DeviceType = "sensor"
)

// Capability represents what a device can do. The capability name doubles as
// the attribute name it controls or reads.
type Capability string

// Control capabilities.
const (
	CapPower          Capability = "power"
	CapBrightness     Capability = "brightness"
	CapColorTemp      Capability = "color_temp" //nolint:misspell // vendor APIs use American "color"
	CapFanSpeed       Capability = "fan_speed"
	CapMode           Capability = "mode"
	CapHumidityTarget Capability = "humidity_target"
	CapChildLock      Capability = "child_lock"
)

// Reading capabilities.
const (
	CapEnergyRead      Capability = "energy"
	CapPowerDrawRead   Capability = "power_draw"
	CapVoltageRead     Capability = "voltage"
	CapTemperatureRead Capability = "temperature"
	CapHumidityRead    Capability = "humidity"
	CapAirQualityRead  Capability = "air_quality"
	CapFilterLifeRead  Capability = "filter_life"
)

// writable lists capabilities that accept commands; the rest are read-only.
var writable = map[Capability]bool{
	CapPower:          true,
	CapBrightness:     true,
	CapColorTemp:      true,
	CapFanSpeed:       true,
	CapMode:           true,
	CapHumidityTarget: true,
	CapChildLock:      true,
}

// Writable reports whether the capability accepts commands.
func (c Capability) Writable() bool {
	return writable[c]
}

// energyClass lists read capabilities refreshed on the slower energy cadence.
var energyClass = map[Capability]bool{
	CapEnergyRead:    true,
	CapPowerDrawRead: true,
	CapVoltageRead:   true,
}

// EnergyClass reports whether the capability is refreshed on the energy interval.
func (c Capability) EnergyClass() bool {
	return energyClass[c]
}

// Attribute returns the attribute name the capability maps to.
func (c Capability) Attribute() string {
	return string(c)
}
