package raft

import (
	"io"
	"sync"

	sm "github.com/lni/dragonboat/v4/statemachine"

	"github.com/dmap-io/dmap/internal/ltime"
	"github.com/dmap-io/dmap/lib/peer"
	"github.com/dmap-io/dmap/lib/record"
)

// resultErr mirrors dragonboat's RetCode-in-sm.Result.Value
// convention. A successful mutation's Value carries the raft log index
// assigned as the record's revision time, so 0 unambiguously means
// rejected (log indices start at 1).
const resultErr uint64 = 0

// FSM applies a chunk's raft log to a record.Container and a peer set.
// It is the per-replica component dragonboat drives via
// sm.IConcurrentStateMachine; a Coordinator on the same process holds
// the same container/peers pointers for local reads.
type FSM struct {
	mu        sync.RWMutex
	container record.Container
	peers     *peer.Set
}

// NewFSM wraps container/peers for raft application. Both must already
// exist; the factory below is what dragonboat actually calls per
// replica.
func NewFSM(container record.Container, peers *peer.Set) *FSM {
	return &FSM{container: container, peers: peers}
}

// CreateStateMachineFactory returns the per-shard/per-replica
// constructor dragonboat's NodeHost config expects, closing over a
// single shared container/peers pair (grounded on dstore/statemachine.go's
// CreateStateMaschineFactory).
func CreateStateMachineFactory(container record.Container, peers *peer.Set) func(shardID, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID, replicaID uint64) sm.IConcurrentStateMachine {
		return NewFSM(container, peers)
	}
}

// Update applies a batch of log entries in order, setting each entry's
// Result so the proposer can recover the assigned revision time.
func (f *FSM) Update(entries []sm.Entry) ([]sm.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for idx, e := range entries {
		cmd, err := DeserializeCommand(e.Cmd)
		if err != nil {
			entries[idx].Result = sm.Result{Value: resultErr, Data: []byte("malformed command: " + err.Error())}
			continue
		}

		switch cmd.Type {
		case CommandInsert:
			cmd.Record.Insert = ltime.Time(e.Index)
			if err := f.container.Insert(cmd.Record); err != nil {
				entries[idx].Result = sm.Result{Value: resultErr, Data: []byte(err.Error())}
				continue
			}
			entries[idx].Result = sm.Result{Value: e.Index}
		case CommandUpdate:
			cmd.Record.Update = ltime.Time(e.Index)
			if err := f.container.Patch(cmd.Record); err != nil {
				entries[idx].Result = sm.Result{Value: resultErr, Data: []byte(err.Error())}
				continue
			}
			entries[idx].Result = sm.Result{Value: e.Index}
		case CommandAddPeer:
			f.peers.Add(cmd.Peer)
			entries[idx].Result = sm.Result{Value: e.Index}
		case CommandRemovePeer:
			f.peers.Remove(cmd.Peer)
			entries[idx].Result = sm.Result{Value: e.Index}
		default:
			entries[idx].Result = sm.Result{Value: resultErr, Data: []byte("unknown command type")}
		}
	}
	return entries, nil
}

// Lookup answers a single-id read or a peer-set read. Every other
// Container capability (Dump, history, ...) is served directly off the
// shared container by Coordinator, bypassing raft's read path, the same
// staleness trade-off a stale-read GetDBInfo-style query makes.
func (f *FSM) Lookup(arg interface{}) (interface{}, error) {
	q, ok := arg.(Query)
	if !ok {
		return nil, errInvalidQuery
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	switch q.Type {
	case QueryGetByID:
		r, found := f.container.GetByID(q.ID, ltime.Time(q.At))
		return QueryResult{Record: r, Found: found}, nil
	case QueryPeers:
		return QueryResult{Peers: f.peers.Ascending()}, nil
	default:
		return nil, errInvalidQuery
	}
}

// PrepareSnapshot is unused; fuzzy snapshotting needs no separate
// prepare step for a single in-memory container.
func (f *FSM) PrepareSnapshot() (interface{}, error) { return nil, nil }

// SaveSnapshot serializes the full container history.
func (f *FSM) SaveSnapshot(_ interface{}, w io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.container.Save(w)
}

// RecoverFromSnapshot restores the container from a snapshot stream.
func (f *FSM) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.container.Clear()
	return f.container.Load(r)
}

// Close releases no resources of its own; the container's lifetime is
// owned by whoever constructed it.
func (f *FSM) Close() error { return nil }

type invalidQueryError struct{}

func (invalidQueryError) Error() string { return "raft: invalid query type" }

var errInvalidQuery = invalidQueryError{}
