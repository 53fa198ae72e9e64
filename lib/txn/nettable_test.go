package txn

import (
	"context"
	"fmt"
	"testing"

	"github.com/dmap-io/dmap/lib/chunk"
	"github.com/dmap-io/dmap/lib/chunk/legacy"
	"github.com/dmap-io/dmap/lib/peer"
	"github.com/dmap-io/dmap/lib/record"
	"github.com/dmap-io/dmap/lib/record/memcontainer"
)

type testRouter struct {
	byChunk map[record.ChunkID]chunk.Coordinator
	byID    map[record.ID]record.ChunkID
}

func newTestRouter() *testRouter {
	return &testRouter{
		byChunk: make(map[record.ChunkID]chunk.Coordinator),
		byID:    make(map[record.ID]record.ChunkID),
	}
}

func (r *testRouter) add(c chunk.Coordinator) {
	r.byChunk[c.ID()] = c
}

func (r *testRouter) RouteByChunk(_ context.Context, chunkID record.ChunkID) (chunk.Coordinator, error) {
	c, ok := r.byChunk[chunkID]
	if !ok {
		return nil, fmt.Errorf("no chunk %s known to test router", chunkID)
	}
	return c, nil
}

func (r *testRouter) RouteByID(ctx context.Context, id record.ID) (chunk.Coordinator, error) {
	chunkID, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("no chunk known for id %s", id)
	}
	return r.RouteByChunk(ctx, chunkID)
}

func newRoutedCoordinator(t *testing.T) *legacy.Coordinator {
	t.Helper()
	self := peer.New("10.0.0.1:9000")
	return legacy.New(record.NewID(), self, peer.NewSet(), nil, memcontainer.New(1), legacy.Config{})
}

func TestNetTableTxnCommitAcrossChunks(t *testing.T) {
	ctx := context.Background()
	c1 := newRoutedCoordinator(t)
	c2 := newRoutedCoordinator(t)
	router := newTestRouter()
	router.add(c1)
	router.add(c2)

	schema := chunk.Schema{TableName: "widgets"}
	txn := NewNetTableTxn(router, schema, 0)

	id1, id2 := record.NewID(), record.NewID()
	if err := txn.Insert(ctx, record.Record{ID: id1, ChunkID: c1.ID(), Payload: []byte("a")}); err != nil {
		t.Fatalf("insert into c1: %v", err)
	}
	if err := txn.Insert(ctx, record.Record{ID: id2, ChunkID: c2.ID(), Payload: []byte("b")}); err != nil {
		t.Fatalf("insert into c2: %v", err)
	}

	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if r, ok := c1.Container().GetByID(id1, c1.LatestCommitTime()); !ok || string(r.Payload) != "a" {
		t.Fatalf("expected record committed to c1, got %v ok=%v", r, ok)
	}
	if r, ok := c2.Container().GetByID(id2, c2.LatestCommitTime()); !ok || string(r.Payload) != "b" {
		t.Fatalf("expected record committed to c2, got %v ok=%v", r, ok)
	}

	// Both chunks must have been unlocked by Commit: a fresh write lock
	// attempt on each must succeed immediately.
	if err := c1.WriteLock(ctx); err != nil {
		t.Fatalf("c1 should be unlocked after commit: %v", err)
	}
	if err := c2.WriteLock(ctx); err != nil {
		t.Fatalf("c2 should be unlocked after commit: %v", err)
	}
}

func TestNetTableTxnUpdateRoutesByRecordID(t *testing.T) {
	ctx := context.Background()
	coord := newRoutedCoordinator(t)
	id := record.NewID()

	if err := coord.WriteLock(ctx); err != nil {
		t.Fatalf("seed write lock: %v", err)
	}
	if err := coord.Insert(ctx, record.Record{ID: id, ChunkID: coord.ID(), Payload: []byte("v1")}); err != nil {
		t.Fatalf("seed insert: %v", err)
	}
	if err := coord.Unlock(ctx); err != nil {
		t.Fatalf("seed unlock: %v", err)
	}

	router := newTestRouter()
	router.add(coord)
	router.byID[id] = coord.ID()

	schema := chunk.Schema{TableName: "widgets"}
	txn := NewNetTableTxn(router, schema, coord.LatestCommitTime())

	if err := txn.Update(ctx, record.Record{ID: id, ChunkID: coord.ID(), Payload: []byte("v2")}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	r, ok := coord.Container().GetByID(id, coord.LatestCommitTime())
	if !ok || string(r.Payload) != "v2" {
		t.Fatalf("expected updated payload, got %v ok=%v", r, ok)
	}
}

func TestNetTableTxnCommitRollsBackOnCheckFailure(t *testing.T) {
	ctx := context.Background()
	coord := newRoutedCoordinator(t)
	id := record.NewID()

	if err := coord.WriteLock(ctx); err != nil {
		t.Fatalf("seed write lock: %v", err)
	}
	if err := coord.Insert(ctx, record.Record{ID: id, ChunkID: coord.ID(), Payload: []byte("v1")}); err != nil {
		t.Fatalf("seed insert: %v", err)
	}
	if err := coord.Unlock(ctx); err != nil {
		t.Fatalf("seed unlock: %v", err)
	}

	router := newTestRouter()
	router.add(coord)
	router.byID[id] = coord.ID()

	schema := chunk.Schema{TableName: "widgets"}
	begin := coord.LatestCommitTime()
	txn := NewNetTableTxn(router, schema, begin)
	if err := txn.Update(ctx, record.Record{ID: id, ChunkID: coord.ID(), Payload: []byte("staged")}); err != nil {
		t.Fatalf("update: %v", err)
	}

	// A concurrent writer commits a newer revision after begin but before
	// this transaction's Commit runs its Check phase.
	if err := coord.WriteLock(ctx); err != nil {
		t.Fatalf("concurrent write lock: %v", err)
	}
	if err := coord.Update(ctx, record.Record{ID: id, ChunkID: coord.ID(), Payload: []byte("concurrent")}); err != nil {
		t.Fatalf("concurrent update: %v", err)
	}
	if err := coord.Unlock(ctx); err != nil {
		t.Fatalf("concurrent unlock: %v", err)
	}

	if err := txn.Commit(ctx); err == nil {
		t.Fatal("expected commit to fail due to concurrent modification")
	}

	// The chunk must have been unlocked despite the failure.
	if err := coord.WriteLock(ctx); err != nil {
		t.Fatalf("expected chunk unlocked after rolled-back commit: %v", err)
	}
}
