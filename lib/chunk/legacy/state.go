package legacy

// state is the local state machine each replica runs per chunk.
type state int

const (
	// unlocked: no one holds a lock; reads and write attempts may proceed.
	unlocked state = iota
	// readLocked: one or more local readers hold the read lock; a local
	// or remote write attempt must wait for them to finish.
	readLocked
	// attempting: this replica is in the middle of its own distributed
	// write-lock acquisition round.
	attempting
	// writeLocked: some replica (self or remote) holds the write lock.
	writeLocked
	// relinquished: this replica has left the chunk's replica set and
	// rejects all further requests.
	relinquished
)

func (s state) String() string {
	switch s {
	case unlocked:
		return "UNLOCKED"
	case readLocked:
		return "READ_LOCKED"
	case attempting:
		return "ATTEMPTING"
	case writeLocked:
		return "WRITE_LOCKED"
	case relinquished:
		return "RELINQUISHED"
	default:
		return "UNKNOWN"
	}
}

// ReleaseOrder controls the order UNLOCK messages go out in.
type ReleaseOrder int

const (
	// ReleaseReverse sends UNLOCK in descending peer-id order (the
	// default: last-locked, first-released).
	ReleaseReverse ReleaseOrder = iota
	// ReleaseForward sends UNLOCK in the same ascending order LOCK used.
	ReleaseForward
	// ReleaseRandom sends UNLOCK in a shuffled order.
	ReleaseRandom
)
