// Package influxdb provides time-series telemetry for CloudSync Core.
//
// Numeric device attributes, availability transitions, and poll-cycle
// statistics are written to InfluxDB v2 with non-blocking batched writes.
// Telemetry is best-effort: a down InfluxDB never blocks polling or
// command dispatch, writes are simply dropped.
package influxdb
