// Package poller drives periodic refresh cycles for CloudSync Core.
//
// Each cycle reconciles the registry against the cloud's device list, fans
// out per-device state fetches (or one batched fetch, by configuration),
// merges results into the Device Registry as polled observations, and
// refreshes energy-class readings on their own slower cadence.
//
// # Scheduling
//
// Per device the state machine is Idle → Polling → {Updated, Failed} → Idle.
// Polls are independent: a cycle completes when every outstanding poll
// returns or the cycle deadline elapses, whichever first; devices cut off by
// the deadline fail as transient. Failed devices back off exponentially
// through the shared failure coordinator and are skipped in subsequent
// cycles until eligible again. Past the attempt ceiling a device is reported
// unavailable but stays in the registry and keeps being retried at the
// capped interval. Permanently rejected devices stop being polled until the
// cloud lists them again.
//
// The scheduler also serves immediate out-of-cycle confirmation polls for
// the command dispatcher via Confirm.
package poller
