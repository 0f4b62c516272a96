// Package device provides the Device Registry for CloudSync Core.
//
// The Device Registry is the in-memory catalog of all devices known to the
// cloud account and the single source of truth for their last-known state.
// The poll scheduler and command dispatcher propose updates through Upsert
// and Revert; neither ever reads the other's in-flight buffers.
//
// # Key Types
//
//   - Device: immutable identity (id, model, type, capabilities) plus a
//     mutable state Snapshot
//   - Snapshot / Attribute: per-attribute values tagged with observedAt and
//     a Source (polled, optimistic, confirmed)
//   - Value: tagged union (number, bool, string, enum) for the loosely-typed
//     payloads cloud APIs return
//   - Registry: per-device-locked store with attribute-granular merging
//   - Listener: event callbacks for discovery, removal, state and
//     availability changes
//
// # Merge Semantics
//
// Merges are attribute-granular, never whole-snapshot replacement. Within
// one attribute, polled and confirmed values are last-writer-wins on
// observedAt; an optimistic value is overwritten by any confirmed value
// regardless of timestamp, but by a polled value only when the poll is
// strictly newer. A stale partial poll therefore cannot erase a fresher
// attribute obtained from a different source.
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Locking is per device:
// merges for one device are serialised and atomic per Upsert call, while
// different devices merge fully concurrently.
package device
