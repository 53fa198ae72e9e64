package table

import (
	"context"
	"sync"

	"github.com/dmap-io/dmap/dmaperr"
	"github.com/dmap-io/dmap/lib/chord"
	"github.com/dmap-io/dmap/lib/chunk"
	"github.com/dmap-io/dmap/lib/peer"
	"github.com/dmap-io/dmap/lib/record"
)

// Table is one table's process-local state.
type Table struct {
	name   string
	schema chunk.Schema

	mu           sync.RWMutex
	activeChunks map[record.ChunkID]chunk.Coordinator

	ring        *chord.Node
	listenersMu sync.Mutex
	listeners   *peer.Set
}

// New creates a table with no active chunks yet.
func New(name string, schema chunk.Schema, ring *chord.Node) *Table {
	return &Table{
		name:         name,
		schema:       schema,
		activeChunks: make(map[record.ChunkID]chunk.Coordinator),
		ring:         ring,
		listeners:    peer.NewSet(),
	}
}

func (t *Table) Name() string         { return t.name }
func (t *Table) Schema() chunk.Schema { return t.schema }
func (t *Table) Ring() *chord.Node    { return t.ring }

// Chunk returns the locally active coordinator for id, if this process
// currently holds it.
func (t *Table) Chunk(id record.ChunkID) (chunk.Coordinator, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.activeChunks[id]
	return c, ok
}

// Chunks lists every chunk id currently active on this process.
func (t *Table) Chunks() []record.ChunkID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]record.ChunkID, 0, len(t.activeChunks))
	for id := range t.activeChunks {
		ids = append(ids, id)
	}
	return ids
}

// AddChunk registers c as locally active. It does not announce the chunk
// on the table's chord ring; rpc/server and cmd/table call
// Ring().AnnouncePossession themselves after AddChunk.
func (t *Table) AddChunk(c chunk.Coordinator) {
	t.mu.Lock()
	t.activeChunks[c.ID()] = c
	t.mu.Unlock()
}

// RemoveChunk drops a chunk this process no longer actively holds
// (after Leave, or after handing it off).
func (t *Table) RemoveChunk(id record.ChunkID) {
	t.mu.Lock()
	delete(t.activeChunks, id)
	t.mu.Unlock()
}

// Listeners returns the peers subscribed to this table's change
// notifications.
func (t *Table) Listeners() *peer.Set {
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()
	return t.listeners.Clone()
}

// AddListener subscribes p to this table's change notifications.
func (t *Table) AddListener(p peer.Peer) {
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()
	t.listeners.Add(p)
}

// RemoveListener unsubscribes p.
func (t *Table) RemoveListener(p peer.Peer) {
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()
	t.listeners.Remove(p)
}

// RouteByChunk implements lib/txn.Router, resolving a chunk id against
// this process's own active-chunk set. It does not consult the chord
// ring: a chunk this process hasn't joined isn't routable from here,
// matching the single-node embedding cmd/table drives a table through.
func (t *Table) RouteByChunk(_ context.Context, chunkID record.ChunkID) (chunk.Coordinator, error) {
	c, ok := t.Chunk(chunkID)
	if !ok {
		return nil, dmaperr.New(dmaperr.KindNotFound, "table %q: chunk %s is not active on this node", t.name, chunkID)
	}
	return c, nil
}

// RouteByID implements lib/txn.Router. With exactly one active chunk,
// that chunk is returned without a lookup; with more than one, it
// returns the first active chunk whose container holds id as of that
// chunk's latest commit time. Chunks this process has not joined are not
// searched, so an id found in none of the active chunks is KindNotFound.
func (t *Table) RouteByID(_ context.Context, id record.ID) (chunk.Coordinator, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	switch len(t.activeChunks) {
	case 0:
		return nil, dmaperr.New(dmaperr.KindNotFound, "table %q: no active chunks", t.name)
	case 1:
		for _, c := range t.activeChunks {
			return c, nil
		}
	}
	for _, c := range t.activeChunks {
		if _, ok := c.Container().GetByID(id, c.LatestCommitTime()); ok {
			return c, nil
		}
	}
	return nil, dmaperr.New(dmaperr.KindNotFound, "table %q: record %s not found on this node's %d active chunks", t.name, id, len(t.activeChunks))
}
