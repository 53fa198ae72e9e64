package record

import (
	"github.com/google/uuid"

	"github.com/dmap-io/dmap/internal/ltime"
)

// ID is the stable 128-bit record identifier, set at creation and never
// changed.
type ID = uuid.UUID

// ChunkID is the 128-bit chunk identifier a record belongs to, set on
// insert and never changed.
type ChunkID = uuid.UUID

// NewID generates a fresh random 128-bit id.
func NewID() ID { return uuid.New() }

// Trackees is the multimap (other-table -> set of chunk-ids) carried
// alongside a record's payload, enabling lazy loading of dependent chunks.
type Trackees map[string]map[ChunkID]struct{}

// Add registers tbl/chunk as a trackee, returning true if it was new.
func (t Trackees) Add(table string, chunk ChunkID) bool {
	set, ok := t[table]
	if !ok {
		set = make(map[ChunkID]struct{})
		t[table] = set
	}
	if _, exists := set[chunk]; exists {
		return false
	}
	set[chunk] = struct{}{}
	return true
}

// Clone returns a deep copy.
func (t Trackees) Clone() Trackees {
	c := make(Trackees, len(t))
	for table, set := range t {
		cs := make(map[ChunkID]struct{}, len(set))
		for id := range set {
			cs[id] = struct{}{}
		}
		c[table] = cs
	}
	return c
}

// Record is one versioned value of a row.
type Record struct {
	ID       ID
	ChunkID  ChunkID
	Insert   ltime.Time
	Update   ltime.Time // zero if never updated since insert
	Removed  bool
	Payload  []byte // opaque, per-schema serialized fields
	Trackees Trackees
}

// ModificationTime returns Update if the record has been updated since
// insertion, else Insert.
func (r Record) ModificationTime() ltime.Time {
	if r.Update != ltime.Zero {
		return r.Update
	}
	return r.Insert
}

// Clone returns a deep copy, safe to hand to a caller that may mutate it.
func (r Record) Clone() Record {
	c := r
	if r.Payload != nil {
		c.Payload = append([]byte(nil), r.Payload...)
	}
	if r.Trackees != nil {
		c.Trackees = r.Trackees.Clone()
	}
	return c
}
