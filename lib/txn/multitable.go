package txn

import (
	"bytes"
	"context"
	"encoding/gob"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/dmap-io/dmap/dmaperr"
	"github.com/dmap-io/dmap/internal/ltime"
	"github.com/dmap-io/dmap/lib/chunk"
	"github.com/dmap-io/dmap/lib/record"
)

type cacheMode int

const (
	cacheModeUnset cacheMode = iota
	cacheModeCache
	cacheModeDirect
)

type tableParticipant struct {
	ntxn   *NetTableTxn
	router Router
	schema chunk.Schema

	mode  cacheMode
	cache map[record.ID]record.Record
	dirty map[record.ID]record.Record
}

// MultiTableTxn nests one NetTableTxn per participating table. It adds a per-table read-through cache (exclusive of direct
// per-table access) and, at commit, a chunk-tracker push that propagates
// newly-declared Trackees entries into the tracked chunk before the
// underlying per-table commits run.
type MultiTableTxn struct {
	id    string
	begin ltime.Time

	mu           sync.Mutex
	participants map[string]*tableParticipant
	committed    bool
}

// NewMultiTableTxn starts a transaction spanning zero or more tables, added
// via AddTable, as of begin.
func NewMultiTableTxn(begin ltime.Time) *MultiTableTxn {
	return &MultiTableTxn{
		id:           uuid.NewString(),
		begin:        begin,
		participants: make(map[string]*tableParticipant),
	}
}

// ID identifies this transaction, used as the key for its multi-chunk
// hand-off record.
func (t *MultiTableTxn) ID() string { return t.id }

// AddTable registers a table as a participant, creating its nested
// NetTableTxn. Calling AddTable twice for the same name is a no-op.
func (t *MultiTableTxn) AddTable(name string, router Router, schema chunk.Schema) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.participants[name]; ok {
		return
	}
	t.participants[name] = &tableParticipant{
		ntxn:   NewNetTableTxn(router, schema, t.begin),
		router: router,
		schema: schema,
		cache:  make(map[record.ID]record.Record),
		dirty:  make(map[record.ID]record.Record),
	}
}

func (t *MultiTableTxn) participant(name string) (*tableParticipant, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.participants[name]
	if !ok {
		return nil, dmaperr.New(dmaperr.KindInvariant, "multi-table txn: table %q not added", name)
	}
	return p, nil
}

// Table returns the nested NetTableTxn for direct (non-cached) access to
// table. Once used, the cache path is disallowed for that table for the
// rest of this transaction.
func (t *MultiTableTxn) Table(name string) (*NetTableTxn, error) {
	p, err := t.participant(name)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if p.mode == cacheModeCache {
		return nil, dmaperr.New(dmaperr.KindInvariant, "multi-table txn: table %q already used via cache", name)
	}
	p.mode = cacheModeDirect
	return p.ntxn, nil
}

// CacheGetByID reads id from table's per-table cache, populating it via the
// nested NetTableTxn on a miss. Disallowed once Table has been used
// directly for the same table.
func (t *MultiTableTxn) CacheGetByID(ctx context.Context, table string, id record.ID) (record.Record, bool, error) {
	p, err := t.participant(table)
	if err != nil {
		return record.Record{}, false, err
	}
	t.mu.Lock()
	if p.mode == cacheModeDirect {
		t.mu.Unlock()
		return record.Record{}, false, dmaperr.New(dmaperr.KindInvariant, "multi-table txn: table %q already used directly", table)
	}
	p.mode = cacheModeCache
	if r, ok := p.dirty[id]; ok {
		t.mu.Unlock()
		return r, true, nil
	}
	if r, ok := p.cache[id]; ok {
		t.mu.Unlock()
		return r, true, nil
	}
	t.mu.Unlock()

	r, ok, err := p.ntxn.GetByID(ctx, id)
	if err != nil {
		return record.Record{}, false, err
	}
	if ok {
		t.mu.Lock()
		p.cache[id] = r
		t.mu.Unlock()
	}
	return r, ok, nil
}

// CacheStage stages rec as a dirty write in table's cache, to be written
// out (via Insert or Update on the nested NetTableTxn) at commit time,
// after the chunk-tracker push has had a chance to inspect it.
func (t *MultiTableTxn) CacheStage(table string, rec record.Record) error {
	p, err := t.participant(table)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if p.mode == cacheModeDirect {
		return dmaperr.New(dmaperr.KindInvariant, "multi-table txn: table %q already used directly", table)
	}
	p.mode = cacheModeCache
	p.dirty[rec.ID] = rec.Clone()
	return nil
}

// trackerAnchorID names the well-known record, one per chunk, that
// aggregates reverse-dependency (tracker-table -> tracking chunk ids) info
// for every record in that chunk: a single deterministic per-chunk anchor
// record, in the style of tablemgr's schemaRecordID.
func trackerAnchorID(chunkID record.ChunkID) record.ID {
	return uuid.NewSHA1(uuid.Nil, append([]byte("dmap-chunk-tracker:"), chunkID[:]...))
}

// pushTrackeePush diffs every dirty record's Trackees against its cached
// (or freshly read) baseline and, for each newly-declared (table, chunk)
// dependency, stages an update on that chunk's tracker anchor recording
// that tableName's chunk now tracks it.
func (t *MultiTableTxn) pushTrackeePush(ctx context.Context, tableName string, p *tableParticipant) error {
	for id, staged := range p.dirty {
		baseline, hadBaseline := p.cache[id]
		if !hadBaseline {
			if r, ok, err := p.ntxn.GetByID(ctx, id); err == nil && ok {
				baseline, hadBaseline = r, true
			}
		}
		for trackedTable, chunkSet := range staged.Trackees {
			var baselineSet map[record.ChunkID]struct{}
			if hadBaseline {
				baselineSet = baseline.Trackees[trackedTable]
			}
			for trackeeChunk := range chunkSet {
				if _, existed := baselineSet[trackeeChunk]; existed {
					continue
				}
				if err := t.notifyTrackee(ctx, trackedTable, trackeeChunk, tableName, staged.ChunkID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (t *MultiTableTxn) notifyTrackee(ctx context.Context, trackedTable string, trackeeChunk record.ChunkID, trackerTable string, trackerChunk record.ChunkID) error {
	other, err := t.participant(trackedTable)
	if err != nil {
		// The tracked table isn't a participant in this transaction; the
		// push can only happen for chunks reachable from a table we've
		// already joined.
		return nil
	}

	anchorID := trackerAnchorID(trackeeChunk)
	ctxn, err := other.ntxn.chunkTxnByID(ctx, trackeeChunk)
	if err != nil {
		return err
	}
	existing, found := ctxn.GetByID(anchorID)

	trackees := record.Trackees{}
	if found {
		trackees = existing.Trackees.Clone()
	}
	trackees.Add(trackerTable, trackerChunk)

	if found {
		updated := existing.Clone()
		updated.Trackees = trackees
		return ctxn.Update(updated)
	}
	anchor := record.Record{
		ID:       anchorID,
		ChunkID:  trackeeChunk,
		Trackees: trackees,
	}
	return ctxn.Insert(anchor)
}

// Commit runs the chunk-tracker push for every table's dirty cache
// entries, flushes each table's cache into its nested NetTableTxn, stages
// a multi-chunk hand-off record into every participating chunk when the
// transaction touches more than one chunk, then commits every
// participating table. Tables
// commit in name-sorted order; since each NetTableTxn.Commit is itself
// atomic across its own chunks, a failure partway through still leaves
// every already-committed table durably committed - full cross-table
// atomicity is explicitly out of scope. Once every table has committed,
// the hand-off record on each participating chunk is marked Committed on
// a best-effort basis, so RecoverMultiChunkTransaction can later tell a
// finished hand-off from one a coordinator died in the middle of.
func (t *MultiTableTxn) Commit(ctx context.Context) error {
	t.mu.Lock()
	if t.committed {
		t.mu.Unlock()
		return dmaperr.New(dmaperr.KindInvariant, "multi-table transaction already committed")
	}
	names := make([]string, 0, len(t.participants))
	for name := range t.participants {
		names = append(names, name)
	}
	t.mu.Unlock()
	sort.Strings(names)

	for _, name := range names {
		p, err := t.participant(name)
		if err != nil {
			return err
		}
		if err := t.pushTrackeePush(ctx, name, p); err != nil {
			return dmaperr.Wrap(dmaperr.KindInvariant, err, "multi-table txn: trackee push for %q failed", name)
		}
		for id, rec := range p.dirty {
			if _, existed, _ := p.ntxn.GetByID(ctx, id); existed {
				if err := p.ntxn.Update(ctx, rec); err != nil {
					return err
				}
				continue
			}
			if err := p.ntxn.Insert(ctx, rec); err != nil {
				return err
			}
		}
	}

	chunkTxns := make(map[record.ChunkID]*ChunkTxn)
	chunkRouters := make(map[record.ChunkID]Router)
	for _, name := range names {
		p, err := t.participant(name)
		if err != nil {
			return err
		}
		for _, ctxn := range p.ntxn.ChunkTxns() {
			id := ctxn.Chunk().ID()
			chunkTxns[id] = ctxn
			chunkRouters[id] = p.router
		}
	}
	participants := make([]record.ChunkID, 0, len(chunkTxns))
	for id := range chunkTxns {
		participants = append(participants, id)
	}
	sort.Slice(participants, func(i, j int) bool { return participants[i].String() < participants[j].String() })

	if len(participants) > 1 {
		if err := t.stageHandoff(participants, chunkTxns); err != nil {
			return dmaperr.Wrap(dmaperr.KindInvariant, err, "multi-table txn: stage multi-chunk hand-off")
		}
	}

	for _, name := range names {
		p, err := t.participant(name)
		if err != nil {
			return err
		}
		if err := p.ntxn.Commit(ctx); err != nil {
			return dmaperr.Wrap(dmaperr.KindInvariant, err, "multi-table txn: commit of table %q failed", name)
		}
	}

	if len(participants) > 1 {
		t.markHandoffCommitted(ctx, participants, chunkRouters)
	}

	t.mu.Lock()
	t.committed = true
	t.mu.Unlock()
	return nil
}

// stageHandoff writes an uncommitted MultiChunkTransactionInfo record,
// naming every participating chunk, into each of their still-open
// ChunkTxns, so it lands durably alongside the transaction's real
// revisions when that chunk's commit runs. A surviving replica of any
// one participating chunk can then recover the full participant set from
// this record if the coordinating process dies before marking it
// committed.
func (t *MultiTableTxn) stageHandoff(participants []record.ChunkID, chunkTxns map[record.ChunkID]*ChunkTxn) error {
	begins := make(map[record.ChunkID]ltime.Time, len(participants))
	for _, id := range participants {
		begins[id] = t.begin
	}
	info := MultiChunkTransactionInfo{
		TxnID:        t.id,
		Participants: participants,
		BeginTimes:   begins,
		Committed:    false,
	}
	payload, err := info.Encode()
	if err != nil {
		return err
	}

	id := infoRecordID(t.id)
	for _, chunkID := range participants {
		ctxn := chunkTxns[chunkID]
		rec := record.Record{ID: id, ChunkID: chunkID, Payload: payload}
		if _, ok := ctxn.GetByID(id); ok {
			if err := ctxn.Update(rec); err != nil {
				return err
			}
			continue
		}
		if err := ctxn.Insert(rec); err != nil {
			return err
		}
	}
	return nil
}

// markHandoffCommitted flips every participating chunk's hand-off record
// to Committed once every table has durably committed. It runs outside
// any of the locks NetTableTxn.Commit already released, so each write
// takes its own write lock; failures are logged, not returned, since the
// transaction's data is already durably committed by this point and a
// failure here only costs a future recovery its precision, not
// correctness.
func (t *MultiTableTxn) markHandoffCommitted(ctx context.Context, participants []record.ChunkID, routers map[record.ChunkID]Router) {
	info := MultiChunkTransactionInfo{TxnID: t.id, Participants: participants, Committed: true}
	payload, err := info.Encode()
	if err != nil {
		log.Warningf("multi-table txn %s: encode committed hand-off record: %v", t.id, err)
		return
	}

	id := infoRecordID(t.id)
	for _, chunkID := range participants {
		router, ok := routers[chunkID]
		if !ok {
			continue
		}
		c, err := router.RouteByChunk(ctx, chunkID)
		if err != nil {
			log.Warningf("multi-table txn %s: resolve chunk %s for hand-off mark: %v", t.id, chunkID, err)
			continue
		}
		if err := c.WriteLock(ctx); err != nil {
			log.Warningf("multi-table txn %s: lock chunk %s for hand-off mark: %v", t.id, chunkID, err)
			continue
		}
		rec := record.Record{ID: id, ChunkID: chunkID, Payload: payload}
		if _, ok := c.Container().GetByID(id, c.LatestCommitTime()); ok {
			err = c.Update(ctx, rec)
		} else {
			err = c.Insert(ctx, rec)
		}
		if err != nil {
			log.Warningf("multi-table txn %s: write committed hand-off to chunk %s: %v", t.id, chunkID, err)
		}
		if err := c.Unlock(ctx); err != nil {
			log.Warningf("multi-table txn %s: unlock chunk %s after hand-off mark: %v", t.id, chunkID, err)
		}
	}
}

// MultiChunkTransactionInfo is the hand-off record written into every
// participating chunk, so that if the coordinating process fails partway
// through the commit, a surviving replica of any participating chunk can
// recover by contacting the other chunks this record names. Each chunk's
// copy is written under that chunk's own write lock during its table's
// commit; tables lock and commit one after another, so the participating
// chunks are not all locked at the same time.
type MultiChunkTransactionInfo struct {
	TxnID        string
	Participants []record.ChunkID
	BeginTimes   map[record.ChunkID]ltime.Time
	Committed    bool
}

func infoRecordID(txnID string) record.ID {
	return uuid.NewSHA1(uuid.Nil, []byte("dmap-multichunk-txn:"+txnID))
}

// Encode gob-encodes the info record for storage as a record's payload.
func (info MultiChunkTransactionInfo) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(info); err != nil {
		return nil, dmaperr.Wrap(dmaperr.KindInvariant, err, "encode multi-chunk transaction info")
	}
	return buf.Bytes(), nil
}

// DecodeMultiChunkTransactionInfo reverses Encode.
func DecodeMultiChunkTransactionInfo(data []byte) (MultiChunkTransactionInfo, error) {
	var info MultiChunkTransactionInfo
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&info); err != nil {
		return MultiChunkTransactionInfo{}, dmaperr.Wrap(dmaperr.KindInvariant, err, "decode multi-chunk transaction info")
	}
	return info, nil
}

// RecoverMultiChunkTransaction inspects every chunk named by
// participants (resolved through router) for txnID's hand-off record. If
// any chunk's record shows Committed, the protocol guarantees every
// participating chunk already received its revisions, so the transaction
// as a whole is considered committed; otherwise it is considered
// unresolved and the caller should decide whether to retry or abandon it.
func RecoverMultiChunkTransaction(ctx context.Context, router Router, txnID string, participants []record.ChunkID) (committed bool, err error) {
	id := infoRecordID(txnID)
	for _, chunkID := range participants {
		c, rerr := router.RouteByChunk(ctx, chunkID)
		if rerr != nil {
			continue
		}
		rec, ok := c.Container().GetByID(id, c.LatestCommitTime())
		if !ok {
			continue
		}
		info, derr := DecodeMultiChunkTransactionInfo(rec.Payload)
		if derr != nil {
			continue
		}
		if info.Committed {
			return true, nil
		}
	}
	return false, nil
}
