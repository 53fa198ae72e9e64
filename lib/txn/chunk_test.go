package txn

import (
	"context"
	"testing"

	"github.com/dmap-io/dmap/dmaperr"
	"github.com/dmap-io/dmap/lib/chunk"
	"github.com/dmap-io/dmap/lib/chunk/legacy"
	"github.com/dmap-io/dmap/lib/peer"
	"github.com/dmap-io/dmap/lib/record"
	"github.com/dmap-io/dmap/lib/record/memcontainer"
)

func newSoloCoordinator(t *testing.T) *legacy.Coordinator {
	t.Helper()
	self := peer.New("10.0.0.1:9000")
	return legacy.New(record.NewID(), self, peer.NewSet(), nil, memcontainer.New(1), legacy.Config{})
}

func TestChunkTxnInsertAndCommit(t *testing.T) {
	ctx := context.Background()
	coord := newSoloCoordinator(t)
	schema := chunk.Schema{TableName: "widgets", Fields: map[string]string{"name": "string"}}

	if err := coord.WriteLock(ctx); err != nil {
		t.Fatalf("write lock: %v", err)
	}

	txn := NewChunkTxn(coord, coord.LatestCommitTime(), nil, schema)
	id := record.NewID()
	rec := record.Record{ID: id, ChunkID: coord.ID(), Payload: []byte("hello")}
	if err := txn.Insert(rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if got, ok := txn.GetByID(id); !ok || string(got.Payload) != "hello" {
		t.Fatalf("expected staged record visible before commit, got %v ok=%v", got, ok)
	}

	if err := txn.Check(ctx); err != nil {
		t.Fatalf("check: %v", err)
	}

	committed, err := txn.Commit(ctx)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(committed) != 1 {
		t.Fatalf("expected 1 committed record, got %d", len(committed))
	}

	if err := coord.Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	stored, ok := coord.Container().GetByID(id, coord.LatestCommitTime())
	if !ok || string(stored.Payload) != "hello" {
		t.Fatalf("expected record persisted in the container, got %v ok=%v", stored, ok)
	}
}

func TestChunkTxnUpdateRequiresPriorExistence(t *testing.T) {
	coord := newSoloCoordinator(t)
	schema := chunk.Schema{TableName: "widgets"}

	txn := NewChunkTxn(coord, coord.LatestCommitTime(), nil, schema)
	rec := record.Record{ID: record.NewID(), ChunkID: coord.ID()}
	if err := txn.Update(rec); !dmaperr.Is(err, dmaperr.KindNotFound) {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestChunkTxnCheckDetectsConcurrentModification(t *testing.T) {
	ctx := context.Background()
	coord := newSoloCoordinator(t)
	schema := chunk.Schema{TableName: "widgets"}

	id := record.NewID()
	if err := coord.WriteLock(ctx); err != nil {
		t.Fatalf("write lock: %v", err)
	}
	if err := coord.Insert(ctx, record.Record{ID: id, ChunkID: coord.ID(), Payload: []byte("v1")}); err != nil {
		t.Fatalf("seed insert: %v", err)
	}
	begin := coord.LatestCommitTime()

	txn := NewChunkTxn(coord, begin, nil, schema)
	existing, ok := txn.GetByID(id)
	if !ok {
		t.Fatal("expected seeded record visible")
	}
	existing.Payload = []byte("v2-from-txn")
	if err := txn.Update(existing); err != nil {
		t.Fatalf("stage update: %v", err)
	}

	// A concurrent commit (same writer, simulating another transaction
	// that ran to completion before this one's Check) changes the record
	// again after begin.
	if err := coord.Update(ctx, record.Record{ID: id, ChunkID: coord.ID(), Payload: []byte("v2-concurrent")}); err != nil {
		t.Fatalf("concurrent update: %v", err)
	}

	if err := txn.Check(ctx); !dmaperr.Is(err, dmaperr.KindConflict) {
		t.Fatalf("expected KindConflict from concurrent modification, got %v", err)
	}
}

func TestChunkTxnConflictCondition(t *testing.T) {
	ctx := context.Background()
	coord := newSoloCoordinator(t)
	schema := chunk.Schema{TableName: "widgets"}

	if err := coord.WriteLock(ctx); err != nil {
		t.Fatalf("write lock: %v", err)
	}
	begin := coord.LatestCommitTime()

	txn := NewChunkTxn(coord, begin, nil, schema)
	txn.AddConflictCondition(ConflictCondition{
		Match: func(r record.Record) bool { return string(r.Payload) == "taken" },
		Desc:  "name must be unique",
	})

	other := record.NewID()
	if err := coord.Insert(ctx, record.Record{ID: other, ChunkID: coord.ID(), Payload: []byte("taken")}); err != nil {
		t.Fatalf("concurrent insert: %v", err)
	}

	if err := txn.Check(ctx); !dmaperr.Is(err, dmaperr.KindConflict) {
		t.Fatalf("expected KindConflict from conflict condition, got %v", err)
	}
}

func TestChunkTxnRemoveTombstones(t *testing.T) {
	ctx := context.Background()
	coord := newSoloCoordinator(t)
	schema := chunk.Schema{TableName: "widgets"}

	id := record.NewID()
	if err := coord.WriteLock(ctx); err != nil {
		t.Fatalf("write lock: %v", err)
	}
	if err := coord.Insert(ctx, record.Record{ID: id, ChunkID: coord.ID(), Payload: []byte("v1")}); err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	txn := NewChunkTxn(coord, coord.LatestCommitTime(), nil, schema)
	if err := txn.Remove(id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := txn.GetByID(id); ok {
		t.Fatal("expected removed record to be invisible in the delta view")
	}
	if len(txn.DumpChunk()) != 0 {
		t.Fatalf("expected empty dump after staged removal, got %v", txn.DumpChunk())
	}

	if _, err := txn.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := coord.Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	stored, ok := coord.Container().GetByID(id, coord.LatestCommitTime())
	if !ok || !stored.Removed {
		t.Fatalf("expected tombstoned record in container, got %v ok=%v", stored, ok)
	}
}
