package memcontainer

import (
	"bytes"
	"testing"

	"github.com/dmap-io/dmap/internal/ltime"
	"github.com/dmap-io/dmap/lib/record"
)

func TestInsertGetByID(t *testing.T) {
	c := New(4)
	id := record.NewID()
	chunk := record.NewID()
	r := record.Record{ID: id, ChunkID: chunk, Insert: ltime.Time(1), Payload: []byte("n=42")}
	if err := c.Insert(r); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, ok := c.GetByID(id, ltime.Time(1))
	if !ok {
		t.Fatal("expected record to be found")
	}
	if string(got.Payload) != "n=42" {
		t.Fatalf("unexpected payload: %s", got.Payload)
	}

	if err := c.Insert(r); err == nil {
		t.Fatal("expected error re-inserting existing id")
	}
}

func TestPatchPointInTime(t *testing.T) {
	c := New(4)
	id := record.NewID()
	chunk := record.NewID()
	c.Insert(record.Record{ID: id, ChunkID: chunk, Insert: ltime.Time(1), Payload: []byte("v1")})
	c.Patch(record.Record{ID: id, ChunkID: chunk, Insert: ltime.Time(1), Update: ltime.Time(5), Payload: []byte("v2")})

	old, ok := c.GetByID(id, ltime.Time(3))
	if !ok || string(old.Payload) != "v1" {
		t.Fatalf("expected v1 at time 3, got %+v ok=%v", old, ok)
	}
	newer, ok := c.GetByID(id, ltime.Time(10))
	if !ok || string(newer.Payload) != "v2" {
		t.Fatalf("expected v2 at time 10, got %+v ok=%v", newer, ok)
	}
}

func TestDumpExcludesTombstones(t *testing.T) {
	c := New(4)
	live := record.NewID()
	removed := record.NewID()
	chunk := record.NewID()
	c.Insert(record.Record{ID: live, ChunkID: chunk, Insert: ltime.Time(1)})
	c.Insert(record.Record{ID: removed, ChunkID: chunk, Insert: ltime.Time(1)})
	c.Patch(record.Record{ID: removed, ChunkID: chunk, Insert: ltime.Time(1), Update: ltime.Time(2), Removed: true})

	dump := c.Dump(ltime.Time(10))
	if len(dump) != 1 || dump[0].ID != live {
		t.Fatalf("expected only the live record, got %+v", dump)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	c := New(4)
	chunk := record.NewID()
	trackedChunk := record.NewID()
	const n = 200
	ids := make([]record.ID, n)
	for i := 0; i < n; i++ {
		id := record.NewID()
		ids[i] = id
		rec := record.Record{ID: id, ChunkID: chunk, Insert: ltime.Time(i + 1), Payload: []byte{byte(i)}}
		if i == 0 {
			rec.Trackees = record.Trackees{}
			rec.Trackees.Add("tags", trackedChunk)
		}
		c.Insert(rec)
	}

	var buf bytes.Buffer
	if err := c.Save(&buf); err != nil {
		t.Fatalf("save: %v", err)
	}

	restored := New(4)
	if err := restored.Load(&buf); err != nil {
		t.Fatalf("load: %v", err)
	}

	before := c.Dump(ltime.Time(n + 1))
	after := restored.Dump(ltime.Time(n + 1))
	if len(before) != len(after) {
		t.Fatalf("dump size mismatch: %d vs %d", len(before), len(after))
	}

	beforeByID := map[record.ID]record.Record{}
	for _, r := range before {
		beforeByID[r.ID] = r
	}
	for _, r := range after {
		orig, ok := beforeByID[r.ID]
		if !ok {
			t.Fatalf("id %s missing from original dump", r.ID)
		}
		if orig.Insert != r.Insert || !bytes.Equal(orig.Payload, r.Payload) {
			t.Fatalf("round-trip mismatch for %s: %+v vs %+v", r.ID, orig, r)
		}
		if _, tracked := orig.Trackees["tags"][trackedChunk]; tracked {
			if _, stillTracked := r.Trackees["tags"][trackedChunk]; !stillTracked {
				t.Fatalf("trackees dropped across save/load for %s: got %+v", r.ID, r.Trackees)
			}
		}
	}
}
