// Package mqtt provides the MQTT client for CloudSync Core event publishing.
//
// The engine publishes device state changes, availability transitions, and
// discovery events to the cloudsync topic hierarchy so local consumers
// (dashboards, automations, recorders) can follow device state without
// talking to the vendor cloud themselves.
//
// # Topic Scheme
//
//	cloudsync/device/{device_id}/state         retained, per-attribute updates
//	cloudsync/device/{device_id}/availability  retained, online/offline
//	cloudsync/device/{device_id}/discovered    discovery announcements
//	cloudsync/device/{device_id}/removed       removal announcements
//	cloudsync/system/status                    retained, engine online/offline (LWT)
//
// The client auto-reconnects with exponential backoff and uses a Last Will
// and Testament on cloudsync/system/status so consumers can tell a crash
// from a graceful shutdown.
package mqtt
