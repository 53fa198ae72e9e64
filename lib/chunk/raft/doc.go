// Package raft implements the raft-consensus chunk coordination protocol:
// every mutation is a log entry proposed through dragonboat and applied
// by a per-chunk state machine; write-lock ownership is implicit in
// leader-for-term rather than a separate lock state machine.
//
// Grounded on lib/store/dstore: statemachine.go's
// sm.IConcurrentStateMachine.Update/Lookup split and store.go's
// SyncPropose/SyncRead retry-on-ErrSystemBusy loop, generalized from a
// single flat KV command set to the chunk's insert/update/add-peer/
// remove-peer log-entry set. Commands here are encoded with
// encoding/gob rather than a hand-rolled big-endian layout, since a
// Record carries nested maps (Trackees) a fixed-width header cannot
// describe; DESIGN.md records the divergence. Uses
// github.com/lni/dragonboat/v4.
package raft
