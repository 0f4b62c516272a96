// Package resilience is the failure coordinator for CloudSync Core.
//
// It is a pure policy component: given a failure classification and the
// operation's accumulated retry state, it answers Retry (with an exponential,
// jittered, capped backoff delay), GiveUp (ceiling reached), or Escalate
// (permanent or auth failures that must reach the host).
//
// The poll scheduler and command dispatcher share one Coordinator so both
// paths apply identical backoff curves and ceilings. Retry state is keyed by
// operation identity and garbage-collected on success or escalation.
package resilience
