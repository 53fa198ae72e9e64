package chunk

import (
	"context"

	"github.com/dmap-io/dmap/internal/ltime"
	"github.com/dmap-io/dmap/lib/peer"
	"github.com/dmap-io/dmap/lib/record"
)

// Schema describes the shape of records stored in a table's chunks. A
// table's schema is fixed at creation and compared byte-for-byte against
// whatever the metatable already has on file (first-definer-wins).
type Schema struct {
	TableName string
	Fields    map[string]string // field name -> declared type name
}

// Bytes renders the schema deterministically (sorted field names) so two
// Schema values can be compared for byte-equality regardless of map
// iteration order.
func (s Schema) Bytes() []byte {
	names := make([]string, 0, len(s.Fields))
	for k := range s.Fields {
		names = append(names, k)
	}
	sortStrings(names)
	buf := []byte(s.TableName)
	buf = append(buf, 0)
	for _, n := range names {
		buf = append(buf, []byte(n)...)
		buf = append(buf, ':')
		buf = append(buf, []byte(s.Fields[n])...)
		buf = append(buf, 0)
	}
	return buf
}

// Equal reports whether two schemas describe the same table shape.
func (s Schema) Equal(other Schema) bool {
	a, b := s.Bytes(), other.Bytes()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// TriggerFunc is invoked after a write-locked session that mutated a
// chunk commits and releases: insertedIDs/updatedIDs
// name what changed during the session that just ended.
type TriggerFunc func(insertedIDs, updatedIDs []record.ID)

// Coordinator is the capability set a table driver needs from a chunk
// regardless of whether it is backed by the legacy distributed lock
// protocol or by raft. Both lib/chunk/legacy.Coordinator and
// lib/chunk/raft.Coordinator implement it.
type Coordinator interface {
	// ID returns the chunk's identity.
	ID() record.ChunkID

	// Peers returns the chunk's current replica set.
	Peers() *peer.Set

	// Container exposes the chunk's underlying record store for reads
	// that don't need a lock held across the call (e.g. point-in-time
	// dumps for transaction views).
	Container() record.Container

	// ReadLock blocks until local read access is safe to take according to
	// the chunk's own state machine, and returns a release func.
	ReadLock(ctx context.Context) (release func(), err error)

	// WriteLock attempts to become the chunk's writer. A returned
	// dmaperr.KindDecline error means the attempt was declined (by a
	// tie-break loser or a peer already holding the lock) and the
	// caller may retry from scratch; any other error is terminal for
	// this attempt.
	WriteLock(ctx context.Context) error

	// Unlock releases a write lock held by this process and dispatches
	// any registered triggers for the session that just ended.
	Unlock(ctx context.Context) error

	// Insert and Update replicate a new or revised record to the
	// chunk's peer set. Both require the caller to currently hold the
	// write lock.
	Insert(ctx context.Context, r record.Record) error
	Update(ctx context.Context, r record.Record) error
	// Remove tombstones id as of at, replicating the tombstone like any
	// other patch.
	Remove(ctx context.Context, id record.ID, at ltime.Time) error

	// AddPeer admits a new replica to the chunk while write-locked.
	AddPeer(ctx context.Context, p peer.Peer) error
	// Leave removes this process from the chunk's replica set.
	Leave(ctx context.Context) error

	// RegisterTrigger adds a callback fired after each write-locked
	// session that mutated the chunk releases.
	RegisterTrigger(fn TriggerFunc)

	// LatestCommitTime is the logical time of the most recent
	// committed mutation, used by lib/txn's conflict checks.
	LatestCommitTime() ltime.Time
}
