package tablemgr

import (
	"bytes"
	"sync"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/dmap-io/dmap/dmaperr"
	"github.com/dmap-io/dmap/internal/ltime"
	"github.com/dmap-io/dmap/lib/chord"
	"github.com/dmap-io/dmap/lib/chunk"
	"github.com/dmap-io/dmap/lib/record"
	"github.com/dmap-io/dmap/lib/record/memcontainer"
	"github.com/dmap-io/dmap/lib/table"
)

// metatableChunkID is the well-known chunk id every process's
// metatable container uses, derived deterministically so any two
// processes agree on it without a handshake.
var metatableChunkID = uuid.NewSHA1(uuid.Nil, []byte("dmap-metatable"))

// schemaRecordID derives a deterministic record id for a table name, so
// RegisterTable can look up an existing schema row without scanning.
func schemaRecordID(name string) record.ID {
	return uuid.NewSHA1(metatableChunkID, []byte(name))
}

// Manager is the process-wide table registry. The lock
// hierarchy is: Manager.metaMu (tables_registry) is held only across a
// single schema check-then-insert; the `tables` map itself is an
// xsync.MapOf needing no explicit lock; each returned table.Table then
// owns its own active_chunks lock, and its chord.Node owns the
// chord_index lock below that — acquired in that order, never reversed.
type Manager struct {
	metaMu    sync.Mutex
	metatable record.Container
	clock     *ltime.Clock

	tables *xsync.MapOf[string, *table.Table]
}

// NewManager creates an empty registry with a fresh, empty metatable.
func NewManager() *Manager {
	return &Manager{
		metatable: memcontainer.New(1),
		clock:     ltime.NewClock(),
		tables:    xsync.NewMapOf[string, *table.Table](),
	}
}

// RegisterTable bootstraps or re-joins table name with the given
// schema. If the metatable already carries a schema row
// for name, it must match byte-for-byte (first-definer-wins); a
// mismatch is a KindConflict error naming the table.
func (m *Manager) RegisterTable(name string, schema chunk.Schema, ring *chord.Node) (*table.Table, error) {
	m.metaMu.Lock()
	defer m.metaMu.Unlock()

	id := schemaRecordID(name)
	existing, ok := m.metatable.GetByID(id, m.clock.Now())
	if ok && !existing.Removed {
		if !bytes.Equal(existing.Payload, schema.Bytes()) {
			return nil, dmaperr.Conflict([]string{name}, "table %q already registered with a different schema", name)
		}
		if t, ok := m.tables.Load(name); ok {
			return t, nil
		}
		t := table.New(name, schema, ring)
		m.tables.Store(name, t)
		return t, nil
	}

	rec := record.Record{
		ID:      id,
		ChunkID: metatableChunkID,
		Insert:  m.clock.Tick(),
		Payload: schema.Bytes(),
	}
	if err := m.metatable.Insert(rec); err != nil {
		return nil, dmaperr.Wrap(dmaperr.KindInvariant, err, "registering table %q", name)
	}

	t := table.New(name, schema, ring)
	m.tables.Store(name, t)
	return t, nil
}

// Table returns the registered handle for name, if any.
func (m *Manager) Table(name string) (*table.Table, bool) {
	return m.tables.Load(name)
}

// SchemaFor returns this process's own locally registered schema for
// name, if it has ever called RegisterTable for it. Used to answer a
// peer's MsgMetatableSchema query (rpc/server/server.go's
// checkMetatableConflict), the first-definer-wins check's only way to
// see past its own process-local metatable.
func (m *Manager) SchemaFor(name string) (chunk.Schema, bool) {
	t, ok := m.tables.Load(name)
	if !ok {
		return chunk.Schema{}, false
	}
	return t.Schema(), true
}

// Tables lists every registered table name.
func (m *Manager) Tables() []string {
	var names []string
	m.tables.Range(func(name string, _ *table.Table) bool {
		names = append(names, name)
		return true
	})
	return names
}

// Schemas returns every schema row currently recorded in the
// metatable, including tables this process has not locally joined.
func (m *Manager) Schemas() []record.Record {
	return m.metatable.Dump(m.clock.Now())
}
