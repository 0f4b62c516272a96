// Package engine assembles the CloudSync components into one running unit.
//
// The engine owns the event fan-out: it sits behind the device registry as
// its listener and forwards discovery, state, and availability events to
// registered host listeners, the MQTT broker, InfluxDB telemetry, and the
// SQLite attribute history. It also exposes the host-facing entry points:
// RequestCommand for device writes and Devices/Device for registry reads.
package engine
