// Package cloud provides the rate-limited cloud API client for CloudSync Core.
//
// It layers, bottom up:
//
//   - Transport: a generic send(method, path, headers, body) contract with a
//     net/http implementation; the engine assumes nothing about the carrier
//     beyond status-code-based classification
//   - Session: token holder with safety-margin refresh; at most one refresh
//     in flight, concurrent callers join it
//   - Client: shared token bucket (plus a small reserved command allotment),
//     per-call timeout, server-429 cooldown, one auth refresh-and-retry, and
//     classification of every failure into transient / permanent / auth
//   - API: vendor-generic adapter exposing typed operations (ListDevices,
//     FetchState, FetchStates, SendCommand) to the poller and dispatcher
//
// # Failure Classes
//
// Rate limiting never escapes this package: a local empty bucket makes the
// call wait, and a server-signalled 429 triggers a cooldown and retry, both
// bounded by the caller's context. What callers see is success, ClassTransient
// (network, 5xx, deadline), ClassPermanent (other 4xx), or ClassAuth (refresh
// failed or refreshed token rejected again).
package cloud
