// Package command dispatches host-requested device writes to the cloud.
//
// A command is validated entirely locally first (capability declared and
// writable, value kind correct, device available), then applied to the
// registry as an optimistic update so hosts see the intended state
// immediately. The send draws from the command-reserved rate allotment and
// retries transient failures through the shared failure coordinator. A
// terminal failure rolls the optimistic update back to the exact
// pre-command value; a success triggers an immediate confirmation poll
// whose result is authoritative over the optimistic value.
package command
