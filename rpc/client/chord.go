package client

import (
	"context"

	"github.com/dmap-io/dmap/lib/chord"
	"github.com/dmap-io/dmap/lib/peer"
	"github.com/dmap-io/dmap/lib/record"
	"github.com/dmap-io/dmap/rpc/common"
)

var _ chord.Transport = (*ChordClient)(nil)

// ChordClient implements lib/chord.Transport over the RPC layer, bound
// to a single table's name at construction for the same reason
// LegacyClient is: each table owns an independent ring, but
// chord.Transport's methods carry no table parameter, so rpc/server
// wires one ChordClient per table's chord.Node.
type ChordClient struct {
	table string
	peers *Peers
}

// NewChordClient builds a chord.Transport for table.
func NewChordClient(table string, peers *Peers) *ChordClient {
	return &ChordClient{table: table, peers: peers}
}

func (c *ChordClient) FindSuccessor(ctx context.Context, target peer.Peer, key peer.Key) (peer.Peer, error) {
	resp, err := c.peers.Send(target.Addr, common.NewFindSuccessorRequest(c.table, key))
	if err != nil {
		return peer.Peer{}, err
	}
	return resp.Successor, nil
}

func (c *ChordClient) GetPredecessor(ctx context.Context, target peer.Peer) (peer.Peer, bool, error) {
	resp, err := c.peers.Send(target.Addr, common.NewGetPredecessorRequest(c.table))
	if err != nil {
		return peer.Peer{}, false, err
	}
	return resp.Predecessor, resp.HasPredecessor, nil
}

func (c *ChordClient) Notify(ctx context.Context, target peer.Peer, candidate peer.Peer) error {
	_, err := c.peers.Send(target.Addr, common.NewNotifyRequest(c.table, candidate))
	return err
}

func (c *ChordClient) AnnouncePossession(ctx context.Context, target peer.Peer, chunk record.ChunkID, holder peer.Peer) error {
	_, err := c.peers.Send(target.Addr, common.NewAnnouncePossessionRequest(c.table, chunk, holder))
	return err
}

func (c *ChordClient) SeekPeers(ctx context.Context, target peer.Peer, chunk record.ChunkID) ([]peer.Peer, error) {
	resp, err := c.peers.Send(target.Addr, common.NewSeekPeersRequest(c.table, chunk))
	if err != nil {
		return nil, err
	}
	return resp.Peers, nil
}
