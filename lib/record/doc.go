// Package record defines the Record (revision) type and the Container
// capability-set interface that every chunk's record history is accessed
// through.
//
// Grounded on lib/db/db.go's KVDB interface (Set/Get/Has/SupportsFeature,
// an opaque per-record blob plus indexed metadata) generalized from
// single-current-value semantics to a full append-only per-id history,
// since point-in-time reads need a strictly increasing update-time per id
// rather than last-write-wins.
package record
