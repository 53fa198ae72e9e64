package chord

import (
	"context"

	"github.com/dmap-io/dmap/lib/peer"
	"github.com/dmap-io/dmap/lib/record"
)

// Transport is the remote half of the chord protocol.
// It is implemented over the module's RPC transport (rpc/client) in
// production and by an in-process fake in tests.
type Transport interface {
	// FindSuccessor asks target to resolve key, possibly forwarding the
	// request further around the ring itself.
	FindSuccessor(ctx context.Context, target peer.Peer, key peer.Key) (peer.Peer, error)
	// GetPredecessor asks target for its current predecessor.
	GetPredecessor(ctx context.Context, target peer.Peer) (p peer.Peer, ok bool, err error)
	// Notify tells target that candidate believes it may be target's
	// predecessor.
	Notify(ctx context.Context, target peer.Peer, candidate peer.Peer) error
	// AnnouncePossession tells target (the responsible node for chunk) that
	// holder serves chunk.
	AnnouncePossession(ctx context.Context, target peer.Peer, chunk record.ChunkID, holder peer.Peer) error
	// SeekPeers asks target (the responsible node for chunk) for the
	// current holder set.
	SeekPeers(ctx context.Context, target peer.Peer, chunk record.ChunkID) ([]peer.Peer, error)
}
