package legacy

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dmap-io/dmap/dmaperr"
	"github.com/dmap-io/dmap/lib/peer"
	"github.com/dmap-io/dmap/lib/record"
	"github.com/dmap-io/dmap/lib/record/memcontainer"
)

// memTransport dispatches the legacy protocol's RPCs directly between
// in-process Coordinators, keyed by peer address.
type memTransport struct {
	mu    sync.Mutex
	nodes map[string]*Coordinator
}

func newMemTransport() *memTransport {
	return &memTransport{nodes: make(map[string]*Coordinator)}
}

func (t *memTransport) register(addr string, c *Coordinator) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[addr] = c
}

func (t *memTransport) get(addr string) *Coordinator {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nodes[addr]
}

func (t *memTransport) Lock(ctx context.Context, target peer.Peer, chunk record.ChunkID, requester peer.Peer) (bool, error) {
	c := t.get(target.Addr)
	if c == nil {
		return false, fmt.Errorf("no such node %s", target)
	}
	return c.HandleLock(requester), nil
}

func (t *memTransport) Unlock(ctx context.Context, target peer.Peer, chunk record.ChunkID, holder peer.Peer) error {
	c := t.get(target.Addr)
	if c == nil {
		return fmt.Errorf("no such node %s", target)
	}
	c.HandleUnlock(holder)
	return nil
}

func (t *memTransport) Insert(ctx context.Context, target peer.Peer, chunk record.ChunkID, rec record.Record) error {
	c := t.get(target.Addr)
	if c == nil {
		return fmt.Errorf("no such node %s", target)
	}
	return c.HandleInsert(rec)
}

func (t *memTransport) Patch(ctx context.Context, target peer.Peer, chunk record.ChunkID, rec record.Record) error {
	c := t.get(target.Addr)
	if c == nil {
		return fmt.Errorf("no such node %s", target)
	}
	return c.HandlePatch(rec)
}

func (t *memTransport) NewPeer(ctx context.Context, target peer.Peer, chunk record.ChunkID, joined peer.Peer) error {
	c := t.get(target.Addr)
	if c == nil {
		return fmt.Errorf("no such node %s", target)
	}
	c.HandleNewPeer(joined)
	return nil
}

func (t *memTransport) LeaveNotice(ctx context.Context, target peer.Peer, chunk record.ChunkID, leaver peer.Peer) error {
	c := t.get(target.Addr)
	if c == nil {
		return fmt.Errorf("no such node %s", target)
	}
	c.HandleLeave(leaver)
	return nil
}

func buildSwarm(t *testing.T, n int, cfg Config) ([]*Coordinator, *memTransport) {
	t.Helper()
	chunkID := record.NewID()
	tr := newMemTransport()
	peers := make([]peer.Peer, n)
	for i := 0; i < n; i++ {
		peers[i] = peer.New(fmt.Sprintf("10.0.1.%d:8000", i+1))
	}
	coords := make([]*Coordinator, n)
	for i := 0; i < n; i++ {
		others := peer.NewSet()
		for j, p := range peers {
			if j != i {
				others.Add(p)
			}
		}
		c := New(chunkID, peers[i], others, tr, memcontainer.New(1), cfg)
		coords[i] = c
		tr.register(peers[i].Addr, c)
	}
	return coords, tr
}

func TestWriteLockExclusion(t *testing.T) {
	coords, _ := buildSwarm(t, 3, Config{})
	ctx := context.Background()

	if err := coords[0].WriteLock(ctx); err != nil {
		t.Fatalf("writelock 0: %v", err)
	}

	// coords[1] waits locally while coords[0] holds the lock. A decline
	// from a peer whose UNLOCK has not arrived yet is retried from scratch.
	acquired := make(chan error, 1)
	go func() {
		for {
			err := coords[1].WriteLock(ctx)
			if !dmaperr.Is(err, dmaperr.KindDecline) {
				acquired <- err
				return
			}
		}
	}()
	select {
	case err := <-acquired:
		t.Fatalf("expected coords[1] to wait, writelock returned (%v) while coords[0] holds it", err)
	case <-time.After(100 * time.Millisecond):
	}

	if err := coords[0].Unlock(ctx); err != nil {
		t.Fatalf("unlock 0: %v", err)
	}

	if err := <-acquired; err != nil {
		t.Fatalf("writelock 1 after release: %v", err)
	}
	if err := coords[1].Unlock(ctx); err != nil {
		t.Fatalf("unlock 1: %v", err)
	}
}

func TestInsertReplicatesToAllPeers(t *testing.T) {
	coords, _ := buildSwarm(t, 4, Config{})
	ctx := context.Background()

	if err := coords[2].WriteLock(ctx); err != nil {
		t.Fatalf("writelock: %v", err)
	}
	rec := record.Record{ID: record.NewID(), ChunkID: coords[2].ID(), Payload: []byte("hello")}
	if err := coords[2].Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := coords[2].Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	for i, c := range coords {
		got, ok := c.Container().GetByID(rec.ID, c.LatestCommitTime())
		if !ok {
			t.Fatalf("coords[%d] missing replicated record", i)
		}
		if string(got.Payload) != "hello" {
			t.Fatalf("coords[%d] got payload %q", i, got.Payload)
		}
	}
}

func TestTriggerFiresAfterUnlock(t *testing.T) {
	coords, _ := buildSwarm(t, 2, Config{})
	ctx := context.Background()

	done := make(chan []record.ID, 1)
	coords[0].RegisterTrigger(func(inserted, updated []record.ID) {
		done <- inserted
	})

	if err := coords[0].WriteLock(ctx); err != nil {
		t.Fatalf("writelock: %v", err)
	}
	rec := record.Record{ID: record.NewID(), ChunkID: coords[0].ID(), Payload: []byte("x")}
	if err := coords[0].Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := coords[0].Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	select {
	case ids := <-done:
		if len(ids) != 1 || ids[0] != rec.ID {
			t.Fatalf("unexpected trigger payload: %v", ids)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("trigger never fired")
	}
}

func TestAddPeerReplicatesHistory(t *testing.T) {
	coords, tr := buildSwarm(t, 2, Config{})
	ctx := context.Background()
	chunkID := coords[0].ID()

	if err := coords[0].WriteLock(ctx); err != nil {
		t.Fatalf("writelock: %v", err)
	}
	rec := record.Record{ID: record.NewID(), ChunkID: chunkID, Payload: []byte("seed")}
	if err := coords[0].Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	joinerAddr := peer.New("10.0.1.99:8000")
	joinerPeers := peer.NewSet(coords[0].self)
	joiner := New(chunkID, joinerAddr, joinerPeers, tr, memcontainer.New(1), Config{})
	tr.register(joinerAddr.Addr, joiner)

	if err := coords[0].AddPeer(ctx, joinerAddr); err != nil {
		t.Fatalf("addpeer: %v", err)
	}
	if err := coords[0].Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	got, ok := joiner.Container().GetByID(rec.ID, joiner.LatestCommitTime())
	if !ok || string(got.Payload) != "seed" {
		t.Fatalf("joiner did not receive seeded history: ok=%v got=%v", ok, got)
	}
	if !coords[1].Peers().Contains(joinerAddr) {
		t.Fatalf("existing peer did not learn about joiner")
	}
}
