package txn

import (
	"context"
	"testing"

	"github.com/dmap-io/dmap/dmaperr"
	"github.com/dmap-io/dmap/internal/ltime"
	"github.com/dmap-io/dmap/lib/chunk"
	"github.com/dmap-io/dmap/lib/record"
)

func TestMultiTableTxnCacheExclusivity(t *testing.T) {
	posts := newRoutedCoordinator(t)
	router := newTestRouter()
	router.add(posts)

	txn := NewMultiTableTxn(0)
	txn.AddTable("posts", router, chunk.Schema{TableName: "posts"})

	if _, err := txn.Table("posts"); err != nil {
		t.Fatalf("direct access: %v", err)
	}
	if _, _, err := txn.CacheGetByID(context.Background(), "posts", record.NewID()); !dmaperr.Is(err, dmaperr.KindInvariant) {
		t.Fatalf("expected cache access to be rejected after direct use, got %v", err)
	}
}

func TestMultiTableTxnTrackeePush(t *testing.T) {
	ctx := context.Background()
	postsChunk := newRoutedCoordinator(t)
	tagsChunk := newRoutedCoordinator(t)

	postsRouter := newTestRouter()
	postsRouter.add(postsChunk)
	tagsRouter := newTestRouter()
	tagsRouter.add(tagsChunk)

	txn := NewMultiTableTxn(0)
	txn.AddTable("posts", postsRouter, chunk.Schema{TableName: "posts"})
	txn.AddTable("tags", tagsRouter, chunk.Schema{TableName: "tags"})

	postID := record.NewID()
	trackees := record.Trackees{}
	trackees.Add("tags", tagsChunk.ID())
	post := record.Record{
		ID:       postID,
		ChunkID:  postsChunk.ID(),
		Payload:  []byte("hello world"),
		Trackees: trackees,
	}
	if err := txn.CacheStage("posts", post); err != nil {
		t.Fatalf("stage post: %v", err)
	}

	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if _, ok := postsChunk.Container().GetByID(postID, postsChunk.LatestCommitTime()); !ok {
		t.Fatal("expected post committed to its own chunk")
	}

	anchorID := trackerAnchorID(tagsChunk.ID())
	anchor, ok := tagsChunk.Container().GetByID(anchorID, tagsChunk.LatestCommitTime())
	if !ok {
		t.Fatal("expected tracker anchor record created in the tags chunk")
	}
	if _, tracked := anchor.Trackees["posts"][postsChunk.ID()]; !tracked {
		t.Fatalf("expected anchor to record posts chunk %s as a tracker, got %v", postsChunk.ID(), anchor.Trackees)
	}
}

func TestMultiChunkTransactionInfoRoundTrip(t *testing.T) {
	chunkA, chunkB := record.NewID(), record.NewID()
	info := MultiChunkTransactionInfo{
		TxnID:        "txn-1",
		Participants: []record.ChunkID{chunkA, chunkB},
		BeginTimes: map[record.ChunkID]ltime.Time{
			chunkA: 1,
			chunkB: 2,
		},
		Committed: true,
	}
	data, err := info.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeMultiChunkTransactionInfo(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.TxnID != info.TxnID || !decoded.Committed {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}
