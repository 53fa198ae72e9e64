package memcontainer

import (
	"encoding/gob"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/dmap-io/dmap/internal/ltime"
	"github.com/dmap-io/dmap/lib/record"
)

// shard holds the history of the ids that hash into it.
type shard struct {
	mu      sync.RWMutex
	history map[record.ID][]record.Record // oldest first
}

// container is the sharded in-memory record.Container implementation.
type container struct {
	shards []*shard
}

// New creates an empty container with numShards shards (0 = one per CPU).
func New(numShards int) record.Container {
	if numShards <= 0 {
		numShards = runtime.NumCPU()
	}
	c := &container{shards: make([]*shard, numShards)}
	for i := range c.shards {
		c.shards[i] = &shard{history: make(map[record.ID][]record.Record)}
	}
	return c
}

func (c *container) shardFor(id record.ID) *shard {
	var h uint32
	for _, b := range id {
		h = h*31 + uint32(b)
	}
	return c.shards[int(h)%len(c.shards)]
}

func (c *container) Init() { c.Clear() }

func (c *container) Insert(r record.Record) error {
	s := c.shardFor(r.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.history[r.ID]; exists {
		return fmt.Errorf("memcontainer: insert of existing id %s", r.ID)
	}
	s.history[r.ID] = []record.Record{r.Clone()}
	return nil
}

func (c *container) Patch(r record.Record) error {
	s := c.shardFor(r.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[r.ID] = append(s.history[r.ID], r.Clone())
	return nil
}

// latestAt returns the last revision in hist whose modification time is
// <= at, or zero value + false if none qualifies.
func latestAt(hist []record.Record, at ltime.Time) (record.Record, bool) {
	var best record.Record
	found := false
	for _, r := range hist {
		if r.ModificationTime() <= at {
			if !found || r.ModificationTime() >= best.ModificationTime() {
				best = r
				found = true
			}
		}
	}
	return best, found
}

func (c *container) GetByID(id record.ID, at ltime.Time) (record.Record, bool) {
	s := c.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist, ok := s.history[id]
	if !ok {
		return record.Record{}, false
	}
	r, found := latestAt(hist, at)
	if !found {
		return record.Record{}, false
	}
	return r.Clone(), true
}

func (c *container) Dump(at ltime.Time) []record.Record {
	var out []record.Record
	for _, s := range c.shards {
		s.mu.RLock()
		for _, hist := range s.history {
			if r, ok := latestAt(hist, at); ok && !r.Removed {
				out = append(out, r.Clone())
			}
		}
		s.mu.RUnlock()
	}
	return out
}

func (c *container) AvailableIDs(at ltime.Time) []record.ID {
	dump := c.Dump(at)
	out := make([]record.ID, 0, len(dump))
	for _, r := range dump {
		out = append(out, r.ID)
	}
	return out
}

func (c *container) CountByRevision(at ltime.Time) int {
	count := 0
	for _, s := range c.shards {
		s.mu.RLock()
		for _, hist := range s.history {
			if _, ok := latestAt(hist, at); ok {
				count++
			}
		}
		s.mu.RUnlock()
	}
	return count
}

func (c *container) ChunkHistory() []record.Record {
	var out []record.Record
	for _, s := range c.shards {
		s.mu.RLock()
		for _, hist := range s.history {
			for _, r := range hist {
				out = append(out, r.Clone())
			}
		}
		s.mu.RUnlock()
	}
	return out
}

func (c *container) ItemHistory(id record.ID) []record.Record {
	s := c.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist := s.history[id]
	out := make([]record.Record, len(hist))
	for i, r := range hist {
		out[i] = r.Clone()
	}
	return out
}

func (c *container) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.history = make(map[record.ID][]record.Record)
		s.mu.Unlock()
	}
}

// gobRecord mirrors record.Record with exported trackees for gob, which
// cannot encode the uuid.UUID array fields directly inside map keys of a
// nested type without a registered concrete type. Trackees mirrors
// record.Trackees the same way ID/ChunkID mirror record.ID/record.ChunkID:
// [16]byte in place of the named uuid.UUID-based type, so gob never needs
// gob.Register to learn either concrete type.
type gobRecord struct {
	ID, ChunkID [16]byte
	Insert      ltime.Time
	Update      ltime.Time
	Removed     bool
	Payload     []byte
	Trackees    map[string]map[[16]byte]struct{}
}

// toGobTrackees converts a record.Trackees into gobRecord's plain-array-key
// mirror, or nil if t is empty.
func toGobTrackees(t record.Trackees) map[string]map[[16]byte]struct{} {
	if len(t) == 0 {
		return nil
	}
	out := make(map[string]map[[16]byte]struct{}, len(t))
	for table, set := range t {
		gs := make(map[[16]byte]struct{}, len(set))
		for chunkID := range set {
			gs[chunkID] = struct{}{}
		}
		out[table] = gs
	}
	return out
}

// fromGobTrackees is toGobTrackees's inverse.
func fromGobTrackees(g map[string]map[[16]byte]struct{}) record.Trackees {
	if len(g) == 0 {
		return nil
	}
	out := make(record.Trackees, len(g))
	for table, set := range g {
		ts := make(map[record.ChunkID]struct{}, len(set))
		for chunkID := range set {
			ts[chunkID] = struct{}{}
		}
		out[table] = ts
	}
	return out
}

func (c *container) Save(w io.Writer) error {
	enc := gob.NewEncoder(w)
	all := c.ChunkHistory()
	if err := enc.Encode(len(all)); err != nil {
		return err
	}
	for _, r := range all {
		gr := gobRecord{
			ID:       r.ID,
			ChunkID:  r.ChunkID,
			Insert:   r.Insert,
			Update:   r.Update,
			Removed:  r.Removed,
			Payload:  r.Payload,
			Trackees: toGobTrackees(r.Trackees),
		}
		if err := enc.Encode(gr); err != nil {
			return err
		}
	}
	return nil
}

func (c *container) Load(r io.Reader) error {
	c.Clear()
	dec := gob.NewDecoder(r)
	var n int
	if err := dec.Decode(&n); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	for i := 0; i < n; i++ {
		var gr gobRecord
		if err := dec.Decode(&gr); err != nil {
			return err
		}
		rec := record.Record{
			ID:       gr.ID,
			ChunkID:  gr.ChunkID,
			Insert:   gr.Insert,
			Update:   gr.Update,
			Removed:  gr.Removed,
			Payload:  gr.Payload,
			Trackees: fromGobTrackees(gr.Trackees),
		}
		s := c.shardFor(rec.ID)
		s.mu.Lock()
		s.history[rec.ID] = append(s.history[rec.ID], rec)
		s.mu.Unlock()
	}
	return nil
}
