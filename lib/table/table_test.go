package table

import (
	"context"
	"testing"

	"github.com/dmap-io/dmap/lib/chunk"
	"github.com/dmap-io/dmap/lib/chunk/legacy"
	"github.com/dmap-io/dmap/lib/peer"
	"github.com/dmap-io/dmap/lib/record"
	"github.com/dmap-io/dmap/lib/record/memcontainer"
)

func TestAddRemoveChunk(t *testing.T) {
	schema := chunk.Schema{TableName: "widgets", Fields: map[string]string{"name": "string"}}
	tbl := New("widgets", schema, nil)

	coord := legacy.New(record.NewID(), peer.New("10.0.0.1:9000"), peer.NewSet(), nil, memcontainer.New(1), legacy.Config{})
	tbl.AddChunk(coord)

	if _, ok := tbl.Chunk(coord.ID()); !ok {
		t.Fatal("expected chunk to be active after AddChunk")
	}
	if len(tbl.Chunks()) != 1 {
		t.Fatalf("expected 1 active chunk, got %d", len(tbl.Chunks()))
	}

	tbl.RemoveChunk(coord.ID())
	if _, ok := tbl.Chunk(coord.ID()); ok {
		t.Fatal("expected chunk to be gone after RemoveChunk")
	}
}

func TestRouteByChunkAndByID(t *testing.T) {
	schema := chunk.Schema{TableName: "widgets", Fields: map[string]string{"name": "string"}}
	tbl := New("widgets", schema, nil)
	ctx := context.Background()

	if _, err := tbl.RouteByChunk(ctx, record.NewID()); err == nil {
		t.Fatal("expected error routing to a chunk with no active chunks")
	}
	if _, err := tbl.RouteByID(ctx, record.NewID()); err == nil {
		t.Fatal("expected error routing a record with no active chunks")
	}

	container := memcontainer.New(1)
	coord := legacy.New(record.NewID(), peer.New("10.0.0.1:9000"), peer.NewSet(), nil, container, legacy.Config{})
	tbl.AddChunk(coord)

	got, err := tbl.RouteByChunk(ctx, coord.ID())
	if err != nil || got.ID() != coord.ID() {
		t.Fatalf("RouteByChunk(%s) = %v, %v", coord.ID(), got, err)
	}

	rec := record.Record{ID: record.NewID(), ChunkID: coord.ID()}
	if err := container.Insert(rec); err != nil {
		t.Fatalf("seed insert: %v", err)
	}

	got, err = tbl.RouteByID(ctx, rec.ID)
	if err != nil || got.ID() != coord.ID() {
		t.Fatalf("RouteByID(%s) = %v, %v", rec.ID, got, err)
	}

	if _, err := tbl.RouteByChunk(ctx, record.NewID()); err == nil {
		t.Fatal("expected error routing to an unknown chunk id")
	}
}

func TestListeners(t *testing.T) {
	tbl := New("widgets", chunk.Schema{TableName: "widgets"}, nil)
	p := peer.New("10.0.0.2:9000")
	tbl.AddListener(p)
	if !tbl.Listeners().Contains(p) {
		t.Fatal("expected listener to be present")
	}
	tbl.RemoveListener(p)
	if tbl.Listeners().Contains(p) {
		t.Fatal("expected listener to be gone")
	}
}
