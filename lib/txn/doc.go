// Package txn implements three stacked transaction layers: a single-chunk
// transaction (chunk view -> commit-history view
// -> delta view, with check/commit), a net-table transaction that routes by
// record id across a table's chunks and commits them in a fixed order to
// avoid deadlock, and a multi-table transaction nested one level higher
// with a read-through cache and cross-table trackee bookkeeping.
//
// The "one interface, layered, read-through" shape generalizes a
// store-over-KVDB style layering (an outer layer adding write-indexing and
// typed errors over a bare key-value interface) into three views over a
// chunk.Coordinator instead of two layers over a flat store. Multi-chunk
// commit ordering and rollback reuses a deterministic, fixed-order setup
// loop as "iterate participants in a fixed order, abort-all-on-first-
// failure". github.com/hashicorp/go-multierror aggregates rollback/unlock
// errors (pulled in via dragonboat's own hashicorp dependency tree, used
// here directly rather than left unexercised).
package txn
