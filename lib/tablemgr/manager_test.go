package tablemgr

import (
	"testing"

	"github.com/dmap-io/dmap/dmaperr"
	"github.com/dmap-io/dmap/lib/chunk"
)

func TestRegisterTableFirstDefinerWins(t *testing.T) {
	mgr := NewManager()
	schema := chunk.Schema{TableName: "widgets", Fields: map[string]string{"name": "string"}}

	t1, err := mgr.RegisterTable("widgets", schema, nil)
	if err != nil {
		t.Fatalf("first register: %v", err)
	}

	t2, err := mgr.RegisterTable("widgets", schema, nil)
	if err != nil {
		t.Fatalf("second register with same schema: %v", err)
	}
	if t1 != t2 {
		t.Fatal("expected the same Table handle across repeated registration")
	}

	conflicting := chunk.Schema{TableName: "widgets", Fields: map[string]string{"name": "int"}}
	_, err = mgr.RegisterTable("widgets", conflicting, nil)
	if !dmaperr.Is(err, dmaperr.KindConflict) {
		t.Fatalf("expected KindConflict for mismatched schema, got %v", err)
	}
}

func TestTablesAndSchemas(t *testing.T) {
	mgr := NewManager()
	if _, err := mgr.RegisterTable("a", chunk.Schema{TableName: "a"}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.RegisterTable("b", chunk.Schema{TableName: "b"}, nil); err != nil {
		t.Fatal(err)
	}

	names := mgr.Tables()
	if len(names) != 2 {
		t.Fatalf("expected 2 tables, got %v", names)
	}
	if len(mgr.Schemas()) != 2 {
		t.Fatalf("expected 2 schema rows, got %d", len(mgr.Schemas()))
	}

	if _, ok := mgr.Table("a"); !ok {
		t.Fatal("expected to find table a")
	}
	if _, ok := mgr.Table("missing"); ok {
		t.Fatal("expected missing table to not be found")
	}
}
