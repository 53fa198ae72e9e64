package txn

import (
	"context"
	"sort"
	"sync"

	"github.com/dmap-io/dmap/dmaperr"
	"github.com/dmap-io/dmap/internal/ltime"
	"github.com/dmap-io/dmap/lib/chunk"
	"github.com/dmap-io/dmap/lib/record"
)

type opKind int

const (
	opInsert opKind = iota
	opUpdate
	opRemove
)

type stagedChange struct {
	op         opKind
	rec        record.Record
	baseline   record.Record
	baselineOK bool
}

// ConflictCondition is a commit-time predicate registered via
// ChunkTxn.AddConflictCondition: the commit fails if any
// record in the chunk matches at commit time but did not already match at
// the transaction's begin time.
type ConflictCondition struct {
	Match func(record.Record) bool
	Desc  string
}

// ChunkTxn is a single-chunk transaction maintaining three stacked views:
// the chunk's own committed history as of begin, a commit-history view
// seeded by earlier transactions this tree already committed (pipelining),
// and this transaction's staged delta.
type ChunkTxn struct {
	chunk  chunk.Coordinator
	begin  ltime.Time
	schema chunk.Schema

	mu            sync.Mutex
	commitHistory map[record.ID]record.Record
	delta         map[record.ID]stagedChange
	conflicts     []ConflictCondition
	committed     bool
}

// NewChunkTxn starts a transaction against c as of begin. seedCommits is
// the commit-history view: records this transaction tree has already
// committed to c in an earlier, pipelined step but that c's own committed
// history (as of begin) does not yet reflect.
func NewChunkTxn(c chunk.Coordinator, begin ltime.Time, seedCommits []record.Record, schema chunk.Schema) *ChunkTxn {
	hist := make(map[record.ID]record.Record, len(seedCommits))
	for _, r := range seedCommits {
		hist[r.ID] = r
	}
	return &ChunkTxn{
		chunk:         c,
		begin:         begin,
		schema:        schema,
		commitHistory: hist,
		delta:         make(map[record.ID]stagedChange),
	}
}

// Chunk returns the coordinator this transaction targets.
func (t *ChunkTxn) Chunk() chunk.Coordinator { return t.chunk }

// GetByID consults the delta, then the commit-history view, then the
// chunk's committed history as of begin, returning the first hit.
func (t *ChunkTxn) GetByID(id record.ID) (record.Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getByIDLocked(id)
}

func (t *ChunkTxn) getByIDLocked(id record.ID) (record.Record, bool) {
	if s, ok := t.delta[id]; ok {
		if s.op == opRemove {
			return record.Record{}, false
		}
		return s.rec, true
	}
	if r, ok := t.commitHistory[id]; ok {
		if r.Removed {
			return record.Record{}, false
		}
		return r, true
	}
	if r, ok := t.chunk.Container().GetByID(id, t.begin); ok && !r.Removed {
		return r, true
	}
	return record.Record{}, false
}

// FindUnique returns the first record, across all three views, for which
// match returns true.
func (t *ChunkTxn) FindUnique(match func(record.Record) bool) (record.Record, bool) {
	for _, r := range t.DumpChunk() {
		if match(r) {
			return r, true
		}
	}
	return record.Record{}, false
}

// DumpChunk unions the three views, delta taking precedence over
// commit-history taking precedence over the chunk view, filtering
// tombstones out of the result.
func (t *ChunkTxn) DumpChunk() []record.Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	merged := make(map[record.ID]record.Record)
	for _, r := range t.chunk.Container().Dump(t.begin) {
		merged[r.ID] = r
	}
	for id, r := range t.commitHistory {
		if r.Removed {
			delete(merged, id)
		} else {
			merged[id] = r
		}
	}
	for id, s := range t.delta {
		if s.op == opRemove {
			delete(merged, id)
		} else {
			merged[id] = s.rec
		}
	}

	out := make([]record.Record, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// GetAvailableIDs is DumpChunk without payloads.
func (t *ChunkTxn) GetAvailableIDs() []record.ID {
	dump := t.DumpChunk()
	ids := make([]record.ID, 0, len(dump))
	for _, r := range dump {
		ids = append(ids, r.ID)
	}
	return ids
}

// Insert stages a brand-new record. rec.ID must not already be visible in
// any view, and rec.ChunkID must match this transaction's chunk.
func (t *ChunkTxn) Insert(rec record.Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed {
		return dmaperr.New(dmaperr.KindInvariant, "chunk transaction already committed")
	}
	if rec.ChunkID != t.chunk.ID() {
		return dmaperr.New(dmaperr.KindInvariant, "insert %s: chunk id %s does not match transaction chunk %s", rec.ID, rec.ChunkID, t.chunk.ID())
	}
	if _, ok := t.getByIDLocked(rec.ID); ok {
		return dmaperr.Conflict([]string{rec.ID.String()}, "insert %s: id already exists", rec.ID)
	}
	t.delta[rec.ID] = stagedChange{op: opInsert, rec: rec.Clone()}
	return nil
}

// Update stages a revision for an id that must already exist in one of the
// views.
func (t *ChunkTxn) Update(rec record.Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed {
		return dmaperr.New(dmaperr.KindInvariant, "chunk transaction already committed")
	}
	existing, ok := t.getByIDLocked(rec.ID)
	if !ok {
		return dmaperr.New(dmaperr.KindNotFound, "update %s: no prior record", rec.ID)
	}
	t.delta[rec.ID] = stagedChange{op: opUpdate, rec: rec.Clone(), baseline: existing, baselineOK: true}
	return nil
}

// Remove stages a tombstone revision for id, which must already exist.
func (t *ChunkTxn) Remove(id record.ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.committed {
		return dmaperr.New(dmaperr.KindInvariant, "chunk transaction already committed")
	}
	existing, ok := t.getByIDLocked(id)
	if !ok {
		return dmaperr.New(dmaperr.KindNotFound, "remove %s: no prior record", id)
	}
	tomb := existing.Clone()
	tomb.Removed = true
	tomb.Payload = nil
	t.delta[id] = stagedChange{op: opRemove, rec: tomb, baseline: existing, baselineOK: true}
	return nil
}

// AddConflictCondition registers a predicate checked at commit time.
func (t *ChunkTxn) AddConflictCondition(cc ConflictCondition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conflicts = append(t.conflicts, cc)
}

// Check verifies, under the chunk's write lock (held by the caller - see
// NetTableTxn.Commit), that no staged update or remove was superseded by a
// concurrent commit since begin (other than ones this transaction tree
// already committed), and that no conflict condition newly matches.
func (t *ChunkTxn) Check(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.chunk.LatestCommitTime()
	for id, s := range t.delta {
		if s.op == opInsert {
			continue
		}
		current, ok := t.chunk.Container().GetByID(id, now)
		if !ok {
			continue
		}
		if !s.baselineOK || s.baseline.ModificationTime().Less(current.ModificationTime()) {
			if !t.committedByUs(id, current.ModificationTime()) {
				return dmaperr.Conflict([]string{id.String()}, "chunk %s: record %s modified concurrently since begin", t.chunk.ID(), id)
			}
		}
	}

	for _, cc := range t.conflicts {
		for _, r := range t.chunk.Container().Dump(now) {
			if !cc.Match(r) {
				continue
			}
			if baseline, ok := t.chunk.Container().GetByID(r.ID, t.begin); ok && cc.Match(baseline) {
				continue
			}
			return dmaperr.Conflict([]string{r.ID.String()}, "chunk %s: conflict condition %q violated by %s", t.chunk.ID(), cc.Desc, r.ID)
		}
	}
	return nil
}

func (t *ChunkTxn) committedByUs(id record.ID, modTime ltime.Time) bool {
	r, ok := t.commitHistory[id]
	if !ok {
		return false
	}
	return !r.ModificationTime().Less(modTime)
}

// Commit applies every staged change to the chunk, once per record, in a
// deterministic order, and returns the committed records (with their final,
// coordinator-assigned revision times) for use as the next transaction's
// commit-history seed. After Commit the transaction is immutable.
func (t *ChunkTxn) Commit(ctx context.Context) ([]record.Record, error) {
	t.mu.Lock()
	if t.committed {
		t.mu.Unlock()
		return nil, dmaperr.New(dmaperr.KindInvariant, "chunk transaction already committed")
	}
	ids := make([]record.ID, 0, len(t.delta))
	for id := range t.delta {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	delta := t.delta
	t.mu.Unlock()

	committed := make([]record.Record, 0, len(ids))
	for _, id := range ids {
		s := delta[id]
		var err error
		switch s.op {
		case opInsert:
			err = t.chunk.Insert(ctx, s.rec)
		case opUpdate:
			err = t.chunk.Update(ctx, s.rec)
		case opRemove:
			err = t.chunk.Remove(ctx, id, t.chunk.LatestCommitTime())
		}
		if err != nil {
			return committed, dmaperr.Wrap(dmaperr.KindInvariant, err, "chunk %s: commit of %s failed", t.chunk.ID(), id)
		}
		applied, ok := t.chunk.Container().GetByID(id, t.chunk.LatestCommitTime())
		if ok {
			committed = append(committed, applied)
		}
	}

	t.mu.Lock()
	t.committed = true
	t.mu.Unlock()
	return committed, nil
}
