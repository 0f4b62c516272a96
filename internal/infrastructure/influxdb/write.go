package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteAttributeMetric records one numeric device attribute observation.
//
// This is the primary telemetry path: the engine calls it for every numeric
// state change merged into the registry. The write is non-blocking; data is
// batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Device identifier (e.g., "outlet-kitchen")
//   - attribute: The attribute name (e.g., "power_draw", "humidity")
//   - value: The observed value
//   - source: How the value was obtained (polled, optimistic, confirmed)
func (c *Client) WriteAttributeMetric(deviceID, attribute string, value float64, source string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_attributes",
		map[string]string{
			"device_id": deviceID,
			"attribute": attribute,
			"source":    source,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteAvailabilityMetric records a device availability transition.
//
// Parameters:
//   - deviceID: Device identifier
//   - available: The new availability state
func (c *Client) WriteAvailabilityMetric(deviceID string, available bool) {
	if !c.IsConnected() {
		return
	}

	v := 0.0
	if available {
		v = 1.0
	}

	point := write.NewPoint(
		"device_availability",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"available": v,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteCycleMetric records poll-cycle statistics.
//
// Used for tracking scheduler health: cycle duration, target counts, and
// per-outcome totals over time.
//
// Parameters:
//   - cycleID: Cycle identifier
//   - targets: Number of devices polled this cycle
//   - succeeded: Devices whose state merged cleanly
//   - failed: Devices whose poll failed
//   - duration: Wall-clock cycle duration
func (c *Client) WriteCycleMetric(cycleID string, targets, succeeded, failed int, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"poll_cycles",
		map[string]string{
			"cycle_id": cycleID,
		},
		map[string]interface{}{
			"targets":     targets,
			"succeeded":   succeeded,
			"failed":      failed,
			"duration_ms": duration.Milliseconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
