// Package device persists observed device state for the Lutron bridge.
//
// The History store records every state change reported by the
// controller (output levels, on/off transitions) into SQLite, giving
// the system a queryable timeline per integration ID. Recent history
// drives diagnostics ("what did zone 5 do overnight?") and seeds
// last-known state on restart.
//
// # Retention
//
// History grows unbounded unless pruned. Callers run Prune
// periodically with their retention window; the bridge does this from
// its health loop. Rows are small (one JSON object each) so generous
// windows are cheap.
//
// # Thread Safety
//
// History is safe for concurrent use; serialisation happens in the
// single-writer SQLite pool underneath.
package device
