// Package memcontainer is an in-memory, sharded implementation of
// record.Container.
//
// Grounded on lib/db/engines/maple/maple.go (mapleImpl): a fixed number of
// shards selected by a hash of the key, each independently locked, plus an
// atomic write-index counter. memcontainer keeps that shard layout but
// stores a full append-only []Record history per id instead of a single
// current value, since every revision must be retained for point-in-time
// reads.
package memcontainer
