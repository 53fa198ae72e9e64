// Package legacy implements the distributed read/write lock chunk
// coordination protocol: peers acquire a chunk's write
// lock by sending an ordered LOCK round to every other replica,
// resolve simultaneous attempts with a deterministic peer-id tie-break,
// and replicate INSERT/UPDATE/REMOVE by broadcasting patches once the
// lock is held. Local reads take a purely local read lock that waits
// while this replica is attempting its own write lock or while another
// replica holds the write lock; the local writer itself is not blocked.
//
// Grounded on lib/lockmgr's impl.go / interface.go: the same
// CAS-acquire / ownership-verify / safe-release idiom, generalized from
// a single key in one KV store guarded by a random owner token to an
// ordered multi-peer LOCK/DECLINE/UNLOCK round guarded by peer identity
// and chunk replica set.
package legacy
