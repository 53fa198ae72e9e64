package record

import (
	"io"

	"github.com/dmap-io/dmap/internal/ltime"
)

// Container is the chunk-local ordered history of records keyed by id. It
// exposes exactly this capability set:
// {init, insert, patch, dump, getById, getAvailableIds, countByRevision,
// chunkHistory, itemHistory, clear}. A chunk owns exactly one Container.
type Container interface {
	// Init resets the container to empty, ready to receive an INIT
	// handshake's full chunk history.
	Init()

	// Insert appends a brand-new record. It is an invariant violation to
	// Insert an id that already has history.
	Insert(r Record) error

	// Patch appends a new revision for an existing id (an UPDATE or
	// REMOVE), or behaves like Insert for a not-yet-seen id arriving via
	// replication. The container does not validate update-time monotonicity
	// itself beyond the append-only invariant; that check belongs to the
	// transaction layer's Check phase.
	Patch(r Record) error

	// GetByID returns the live (non-removed) record for id as of logical
	// time at, or the tombstone if the most recent revision at that time is
	// a removal. ok is false if id has no history at or before at.
	GetByID(id ID, at ltime.Time) (r Record, ok bool)

	// Dump returns the latest revision as of at for every id whose latest
	// revision at that time is not a tombstone.
	Dump(at ltime.Time) []Record

	// AvailableIDs is Dump without payload, for a cheap existence scan.
	AvailableIDs(at ltime.Time) []ID

	// CountByRevision returns the number of distinct ids whose latest
	// revision has update/insert time <= at.
	CountByRevision(at ltime.Time) int

	// ChunkHistory returns every revision of every id. Each id's revisions
	// are grouped together, oldest first; the order across ids is not
	// defined. Used for full-chunk replication (INIT) and backup/restore
	// dumps.
	ChunkHistory() []Record

	// ItemHistory returns every revision of a single id, oldest first.
	ItemHistory(id ID) []Record

	// Clear empties the container, releasing all history.
	Clear()

	// Save/Load persist and restore a container's full history for
	// backup/restore.
	Save(w io.Writer) error
	Load(r io.Reader) error
}
