package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"device state", topics.DeviceState("outlet-1"), "cloudsync/device/outlet-1/state"},
		{"device availability", topics.DeviceAvailability("outlet-1"), "cloudsync/device/outlet-1/availability"},
		{"device discovered", topics.DeviceDiscovered("outlet-1"), "cloudsync/device/outlet-1/discovered"},
		{"device removed", topics.DeviceRemoved("outlet-1"), "cloudsync/device/outlet-1/removed"},
		{"system status", topics.SystemStatus(), "cloudsync/system/status"},
		{"all states pattern", topics.AllDeviceStates(), "cloudsync/device/+/state"},
		{"all availability pattern", topics.AllDeviceAvailability(), "cloudsync/device/+/availability"},
		{"everything pattern", topics.AllTopics(), "cloudsync/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}
