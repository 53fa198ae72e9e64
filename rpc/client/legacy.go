package client

import (
	"context"

	"github.com/dmap-io/dmap/lib/chunk/legacy"
	"github.com/dmap-io/dmap/lib/peer"
	"github.com/dmap-io/dmap/lib/record"
	"github.com/dmap-io/dmap/rpc/common"
)

var _ legacy.Transport = (*LegacyClient)(nil)

// LegacyClient implements lib/chunk/legacy.Transport over the RPC
// layer. One instance is bound to a single table's name at
// construction: lib/chunk/legacy.Coordinator itself carries no table
// name (only a chunk id), and legacy.Transport's methods take no table
// parameter either, so the table that every message this client sends
// belongs to is fixed per instance rather than threaded through each
// call - rpc/server wires one LegacyClient per registered table.
type LegacyClient struct {
	table string
	peers *Peers
}

// NewLegacyClient builds a legacy.Transport for table, sending requests
// through peers' connection cache.
func NewLegacyClient(table string, peers *Peers) *LegacyClient {
	return &LegacyClient{table: table, peers: peers}
}

func (c *LegacyClient) Lock(ctx context.Context, target peer.Peer, chunk record.ChunkID, requester peer.Peer) (bool, error) {
	resp, err := c.peers.Send(target.Addr, common.NewLockRequest(c.table, chunk, requester))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (c *LegacyClient) Unlock(ctx context.Context, target peer.Peer, chunk record.ChunkID, holder peer.Peer) error {
	_, err := c.peers.Send(target.Addr, common.NewUnlockRequest(c.table, chunk, holder))
	return err
}

func (c *LegacyClient) Insert(ctx context.Context, target peer.Peer, chunk record.ChunkID, rec record.Record) error {
	_, err := c.peers.Send(target.Addr, common.NewInsertRequest(c.table, chunk, rec))
	return err
}

func (c *LegacyClient) Patch(ctx context.Context, target peer.Peer, chunk record.ChunkID, rec record.Record) error {
	_, err := c.peers.Send(target.Addr, common.NewUpdateRequest(c.table, chunk, rec))
	return err
}

func (c *LegacyClient) NewPeer(ctx context.Context, target peer.Peer, chunk record.ChunkID, joined peer.Peer) error {
	_, err := c.peers.Send(target.Addr, common.NewNewPeerRequest(c.table, chunk, joined))
	return err
}

func (c *LegacyClient) LeaveNotice(ctx context.Context, target peer.Peer, chunk record.ChunkID, leaver peer.Peer) error {
	_, err := c.peers.Send(target.Addr, common.NewLeaveRequest(c.table, chunk, leaver))
	return err
}
