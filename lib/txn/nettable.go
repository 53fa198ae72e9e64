package txn

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	gometrics "github.com/rcrowley/go-metrics"

	"github.com/dmap-io/dmap/dmaperr"
	"github.com/dmap-io/dmap/internal/logging"
	"github.com/dmap-io/dmap/internal/ltime"
	"github.com/dmap-io/dmap/lib/chunk"
	"github.com/dmap-io/dmap/lib/record"
)

var log = logging.New("txn")

// commitLatency samples NetTableTxn.Commit's wall-clock duration in
// nanoseconds, from lock acquisition through the final unlock. Registered
// once at package init so every commit across every table reports into
// the same series; the sample size (1028) and alpha (0.015) mirror the
// defaults rcrowley/go-metrics' own docs recommend for an exponentially
// decaying reservoir.
var commitLatency = gometrics.NewRegisteredHistogram(
	"dmap.txn.commit.latency_ns",
	gometrics.DefaultRegistry,
	gometrics.NewExpDecaySample(1028, 0.015),
)

// Router resolves which chunk a record id, or a chunk id, maps to. The
// implementation in this module is lib/table.Table, which resolves both
// against the table's locally active chunks only; it does not consult
// the chord index or join a chunk on demand. txn stays agnostic of both
// the active-chunk set and the chord ring.
type Router interface {
	RouteByID(ctx context.Context, id record.ID) (chunk.Coordinator, error)
	RouteByChunk(ctx context.Context, chunkID record.ChunkID) (chunk.Coordinator, error)
}

// NetTableTxn is a transaction spanning every chunk of one table
//. It holds one ChunkTxn per chunk touched so far, routing
// each operation by record id (or, for inserts, by the chunk id already
// stamped on the record).
type NetTableTxn struct {
	router Router
	schema chunk.Schema
	begin  ltime.Time

	mu        sync.Mutex
	chunks    map[record.ChunkID]*ChunkTxn
	committed bool
}

// NewNetTableTxn starts a transaction over router's table as of begin.
func NewNetTableTxn(router Router, schema chunk.Schema, begin ltime.Time) *NetTableTxn {
	return &NetTableTxn{
		router: router,
		schema: schema,
		begin:  begin,
		chunks: make(map[record.ChunkID]*ChunkTxn),
	}
}

// ChunkTxns returns every per-chunk transaction opened so far, in no
// particular order; callers needing commit order should use Commit, not
// this directly.
func (t *NetTableTxn) ChunkTxns() []*ChunkTxn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*ChunkTxn, 0, len(t.chunks))
	for _, ctxn := range t.chunks {
		out = append(out, ctxn)
	}
	return out
}

func (t *NetTableTxn) chunkTxnByID(ctx context.Context, chunkID record.ChunkID) (*ChunkTxn, error) {
	t.mu.Lock()
	if ctxn, ok := t.chunks[chunkID]; ok {
		t.mu.Unlock()
		return ctxn, nil
	}
	t.mu.Unlock()

	c, err := t.router.RouteByChunk(ctx, chunkID)
	if err != nil {
		return nil, dmaperr.Wrap(dmaperr.KindNotFound, err, "net-table txn: resolve chunk %s", chunkID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if ctxn, ok := t.chunks[chunkID]; ok {
		return ctxn, nil
	}
	ctxn := NewChunkTxn(c, t.begin, nil, t.schema)
	t.chunks[chunkID] = ctxn
	return ctxn, nil
}

func (t *NetTableTxn) chunkTxnByRecordID(ctx context.Context, id record.ID) (*ChunkTxn, error) {
	c, err := t.router.RouteByID(ctx, id)
	if err != nil {
		return nil, dmaperr.Wrap(dmaperr.KindNotFound, err, "net-table txn: resolve id %s", id)
	}
	return t.chunkTxnByID(ctx, c.ID())
}

// GetByID routes to the owning chunk and reads through its transaction.
func (t *NetTableTxn) GetByID(ctx context.Context, id record.ID) (record.Record, bool, error) {
	ctxn, err := t.chunkTxnByRecordID(ctx, id)
	if err != nil {
		return record.Record{}, false, err
	}
	r, ok := ctxn.GetByID(id)
	return r, ok, nil
}

// Insert routes by the chunk id already stamped on rec.
func (t *NetTableTxn) Insert(ctx context.Context, rec record.Record) error {
	ctxn, err := t.chunkTxnByID(ctx, rec.ChunkID)
	if err != nil {
		return err
	}
	return ctxn.Insert(rec)
}

// Update routes by rec.ID to whichever chunk currently holds it.
func (t *NetTableTxn) Update(ctx context.Context, rec record.Record) error {
	ctxn, err := t.chunkTxnByRecordID(ctx, rec.ID)
	if err != nil {
		return err
	}
	return ctxn.Update(rec)
}

// Remove routes by id to whichever chunk currently holds it.
func (t *NetTableTxn) Remove(ctx context.Context, id record.ID) error {
	ctxn, err := t.chunkTxnByRecordID(ctx, id)
	if err != nil {
		return err
	}
	return ctxn.Remove(id)
}

// Commit acquires every participating chunk's write lock in a globally
// fixed order (chunk id ascending), runs every chunk's Check,
// and only once all pass does it run every chunk's Commit. Because all
// checks complete before any chunk commits, a single failure rolls back
// cleanly: no chunk has yet executed its checked-commit, so there is
// nothing to undo beyond releasing the acquired locks.
func (t *NetTableTxn) Commit(ctx context.Context) error {
	start := time.Now()
	defer func() { commitLatency.Update(time.Since(start).Nanoseconds()) }()

	t.mu.Lock()
	if t.committed {
		t.mu.Unlock()
		return dmaperr.New(dmaperr.KindInvariant, "net-table transaction already committed")
	}
	ids := make([]record.ChunkID, 0, len(t.chunks))
	for id := range t.chunks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	ordered := make([]*ChunkTxn, 0, len(ids))
	for _, id := range ids {
		ordered = append(ordered, t.chunks[id])
	}
	t.mu.Unlock()

	locked := make([]*ChunkTxn, 0, len(ordered))
	for _, ctxn := range ordered {
		if err := ctxn.Chunk().WriteLock(ctx); err != nil {
			unlockAll(ctx, locked)
			return dmaperr.Wrap(dmaperr.KindDecline, err, "net-table commit: lock chunk %s", ctxn.Chunk().ID())
		}
		locked = append(locked, ctxn)
	}

	for _, ctxn := range locked {
		if err := ctxn.Check(ctx); err != nil {
			unlockAll(ctx, locked)
			return err
		}
	}

	var failures *multierror.Error
	for _, ctxn := range locked {
		if _, err := ctxn.Commit(ctx); err != nil {
			failures = multierror.Append(failures, err)
		}
	}
	unlockAll(ctx, locked)
	if failures != nil {
		return dmaperr.Wrap(dmaperr.KindInvariant, failures, "net-table commit: partial failure after checks passed")
	}

	t.mu.Lock()
	t.committed = true
	t.mu.Unlock()
	return nil
}

func unlockAll(ctx context.Context, txns []*ChunkTxn) {
	var failures *multierror.Error
	for _, ctxn := range txns {
		if err := ctxn.Chunk().Unlock(ctx); err != nil {
			failures = multierror.Append(failures, err)
		}
	}
	if failures != nil {
		log.Warningf("net-table commit: unlock failures: %v", failures)
	}
}
