package mqtt

import "fmt"

// Topic prefixes for the cloudsync topic hierarchy.
//
// Scheme: cloudsync/device/{device_id}/{suffix} for per-device topics,
// cloudsync/system/{suffix} for engine-level topics.
const (
	// TopicPrefixDevice is the base for per-device topics.
	TopicPrefixDevice = "cloudsync/device"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "cloudsync/system"
)

// Topics provides builders for cloudsync MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct{}

// DeviceState returns the topic for per-device state updates.
//
// Example: cloudsync/device/outlet-1/state
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefixDevice, deviceID)
}

// DeviceAvailability returns the topic for per-device availability changes.
//
// Example: cloudsync/device/outlet-1/availability
func (Topics) DeviceAvailability(deviceID string) string {
	return fmt.Sprintf("%s/%s/availability", TopicPrefixDevice, deviceID)
}

// DeviceDiscovered returns the topic for device discovery announcements.
//
// Example: cloudsync/device/outlet-1/discovered
func (Topics) DeviceDiscovered(deviceID string) string {
	return fmt.Sprintf("%s/%s/discovered", TopicPrefixDevice, deviceID)
}

// DeviceRemoved returns the topic for device removal announcements.
//
// Example: cloudsync/device/outlet-1/removed
func (Topics) DeviceRemoved(deviceID string) string {
	return fmt.Sprintf("%s/%s/removed", TopicPrefixDevice, deviceID)
}

// SystemStatus returns the engine status topic.
//
// Example: cloudsync/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceStates returns a pattern matching all device state updates.
//
// Pattern: cloudsync/device/+/state
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/+/state", TopicPrefixDevice)
}

// AllDeviceAvailability returns a pattern matching all availability updates.
//
// Pattern: cloudsync/device/+/availability
func (Topics) AllDeviceAvailability() string {
	return fmt.Sprintf("%s/+/availability", TopicPrefixDevice)
}

// AllTopics returns a pattern matching all cloudsync topics.
// Use with caution, this receives ALL traffic.
//
// Pattern: cloudsync/#
func (Topics) AllTopics() string {
	return "cloudsync/#"
}
