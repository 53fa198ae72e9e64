package legacy

import (
	"context"

	"github.com/dmap-io/dmap/lib/peer"
	"github.com/dmap-io/dmap/lib/record"
)

// Transport is the remote half of the legacy protocol. It is
// implemented over the module's RPC transport (rpc/client) in
// production and by an in-process fake in tests.
type Transport interface {
	// Lock sends a LOCK request for chunk to target on behalf of
	// requester, returning the target's ACK (true) or DECLINE (false).
	Lock(ctx context.Context, target peer.Peer, chunk record.ChunkID, requester peer.Peer) (ack bool, err error)
	// Unlock tells target that holder is releasing chunk's write lock.
	Unlock(ctx context.Context, target peer.Peer, chunk record.ChunkID, holder peer.Peer) error
	// Insert replicates a newly inserted record to target.
	Insert(ctx context.Context, target peer.Peer, chunk record.ChunkID, rec record.Record) error
	// Patch replicates an updated or tombstoned record to target.
	Patch(ctx context.Context, target peer.Peer, chunk record.ChunkID, rec record.Record) error
	// NewPeer tells target that joined is now part of chunk's replica set.
	// Sent once per existing peer to a joining replica (carrying the
	// replica set) and once per existing replica when a peer joins
	//.
	NewPeer(ctx context.Context, target peer.Peer, chunk record.ChunkID, joined peer.Peer) error
	// LeaveNotice tells target that leaver is removing itself from
	// chunk's replica set.
	LeaveNotice(ctx context.Context, target peer.Peer, chunk record.ChunkID, leaver peer.Peer) error
}
