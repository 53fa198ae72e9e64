package chord

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/dmap-io/dmap/lib/peer"
	"github.com/dmap-io/dmap/lib/record"
)

// memTransport dispatches chord RPCs directly to in-process Node
// instances, keyed by peer address. It is the test double for the real
// rpc-backed Transport.
type memTransport struct {
	nodes map[string]*Node
}

func newMemTransport() *memTransport {
	return &memTransport{nodes: make(map[string]*Node)}
}

func (t *memTransport) register(n *Node) { t.nodes[n.Self().Addr] = n }

func (t *memTransport) FindSuccessor(ctx context.Context, target peer.Peer, key peer.Key) (peer.Peer, error) {
	n, ok := t.nodes[target.Addr]
	if !ok {
		return peer.Peer{}, fmt.Errorf("no such node %s", target)
	}
	return n.FindSuccessor(ctx, key)
}

func (t *memTransport) GetPredecessor(ctx context.Context, target peer.Peer) (peer.Peer, bool, error) {
	n, ok := t.nodes[target.Addr]
	if !ok {
		return peer.Peer{}, false, fmt.Errorf("no such node %s", target)
	}
	p, ok := n.GetPredecessor()
	return p, ok, nil
}

func (t *memTransport) Notify(ctx context.Context, target peer.Peer, candidate peer.Peer) error {
	n, ok := t.nodes[target.Addr]
	if !ok {
		return fmt.Errorf("no such node %s", target)
	}
	n.Notify(candidate)
	return nil
}

func (t *memTransport) AnnouncePossession(ctx context.Context, target peer.Peer, chunk record.ChunkID, holder peer.Peer) error {
	n, ok := t.nodes[target.Addr]
	if !ok {
		return fmt.Errorf("no such node %s", target)
	}
	n.AnnouncePossession(chunk, holder)
	return nil
}

func (t *memTransport) SeekPeers(ctx context.Context, target peer.Peer, chunk record.ChunkID) ([]peer.Peer, error) {
	n, ok := t.nodes[target.Addr]
	if !ok {
		return nil, fmt.Errorf("no such node %s", target)
	}
	return n.SeekPeers(chunk), nil
}

func buildRing(t *testing.T, n int) ([]*Node, *memTransport) {
	t.Helper()
	tr := newMemTransport()
	nodes := make([]*Node, n)
	for i := 0; i < n; i++ {
		p := peer.New(fmt.Sprintf("10.0.0.%d:9000", i+1))
		node := NewNode(p, tr)
		nodes[i] = node
		tr.register(node)
	}
	ctx := context.Background()
	for i := 1; i < n; i++ {
		if err := nodes[i].Join(ctx, nodes[0].Self()); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	// converge: stabilize + fix fingers repeatedly
	for round := 0; round < n*4; round++ {
		for _, node := range nodes {
			if err := node.Stabilize(ctx); err != nil {
				t.Fatalf("stabilize: %v", err)
			}
		}
		for _, node := range nodes {
			for slot := 0; slot < M; slot++ {
				if err := node.FixFingers(ctx, slot); err != nil {
					t.Fatalf("fixfingers: %v", err)
				}
			}
		}
	}
	return nodes, tr
}

func TestFindSuccessorAgreement(t *testing.T) {
	const peers = 10
	nodes, _ := buildRing(t, peers)

	keys := make([]peer.Key, len(nodes))
	for i, n := range nodes {
		keys[i] = n.Self().Key()
	}
	sortedKeys := append([]peer.Key(nil), keys...)
	sort.Slice(sortedKeys, func(i, j int) bool { return sortedKeys[i].Less(sortedKeys[j]) })
	keyToAddr := map[peer.Key]string{}
	for _, n := range nodes {
		keyToAddr[n.Self().Key()] = n.Self().Addr
	}

	// expectedSuccessor returns the peer whose key is the smallest not
	// less than k, wrapping to the smallest key overall.
	expectedSuccessor := func(k peer.Key) string {
		for _, sk := range sortedKeys {
			if !sk.Less(k) {
				return keyToAddr[sk]
			}
		}
		return keyToAddr[sortedKeys[0]]
	}

	ctx := context.Background()
	for sample := 0; sample < 100; sample++ {
		key := peer.HashKey(fmt.Sprintf("sample-key-%d", sample))
		want := expectedSuccessor(key)

		for _, n := range nodes {
			got, err := n.FindSuccessor(ctx, key)
			if err != nil {
				t.Fatalf("find_successor from %s: %v", n.Self(), err)
			}
			if got.Addr != want {
				t.Fatalf("sample %d: node %s disagreed: got %s want %s", sample, n.Self(), got.Addr, want)
			}
		}
	}
}

func TestAnnounceSeekPeers(t *testing.T) {
	nodes, _ := buildRing(t, 8)
	ctx := context.Background()

	chunkID := record.NewID()
	holder1 := peer.New("192.168.1.1:7000")
	holder2 := peer.New("192.168.1.2:7000")

	if err := nodes[3].Announce(ctx, chunkID, holder1); err != nil {
		t.Fatalf("announce: %v", err)
	}
	if err := nodes[5].Announce(ctx, chunkID, holder2); err != nil {
		t.Fatalf("announce: %v", err)
	}

	for _, n := range nodes {
		got, err := n.Seek(ctx, chunkID)
		if err != nil {
			t.Fatalf("seek from %s: %v", n.Self(), err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 holders visible from %s, got %v", n.Self(), got)
		}
	}
}
