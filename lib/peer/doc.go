// Package peer defines the stable peer identity used throughout the
// module: an address/port pair plus the chord-keyspace hash of that
// identity.
//
// Grounded on lib/db/util/functions.go's seeded-hash idiom (HashString /
// UintKey) for general-purpose hashing; the chord keyspace hash itself uses
// crypto/sha1 instead of a per-process-seeded FNV because chord correctness
// depends on every peer computing the same key for the same identity with
// no shared seed (see DESIGN.md).
package peer
