package peer

import (
	"crypto/sha1"
	"fmt"
	"sort"
)

// KeyBits is the width of the chord/peer keyspace.
const KeyBits = 160

// Key is a point in the chord keyspace. Both hash(peer) and hash(chunk-id)
// live in this same space.
type Key [sha1.Size]byte

// String renders the key as hex, for logs and wire debugging.
func (k Key) String() string {
	return fmt.Sprintf("%x", [sha1.Size]byte(k))
}

// Less gives Key a total order, used for lock tie-breaking (§4.1) and chord
// interval arithmetic (§4.3).
func (k Key) Less(other Key) bool {
	for i := range k {
		if k[i] != other[i] {
			return k[i] < other[i]
		}
	}
	return false
}

// Equal reports whether two keys are identical.
func (k Key) Equal(other Key) bool { return k == other }

// HashKey hashes an arbitrary identifier (a peer address, a chunk id
// string, ...) into the shared keyspace.
func HashKey(id string) Key {
	return Key(sha1.Sum([]byte(id)))
}

// Peer is a stable network identity: address + port. hash(peer) = Key().
type Peer struct {
	Addr string // host:port
}

// New constructs a Peer from a host:port address.
func New(addr string) Peer { return Peer{Addr: addr} }

// Key returns this peer's position in the chord keyspace.
func (p Peer) Key() Key { return HashKey(p.Addr) }

// String implements fmt.Stringer.
func (p Peer) String() string { return p.Addr }

// Equal compares two peers by address.
func (p Peer) Equal(other Peer) bool { return p.Addr == other.Addr }

// Set is an ordered, de-duplicated collection of peers: a chunk's swarm.
// Not safe for concurrent use by itself; callers guard it the way
// chunk.Coordinator guards its peer set.
type Set struct {
	byAddr map[string]Peer
}

// NewSet builds a Set from the given peers.
func NewSet(peers ...Peer) *Set {
	s := &Set{byAddr: make(map[string]Peer, len(peers))}
	for _, p := range peers {
		s.Add(p)
	}
	return s
}

// Add inserts p if not already present.
func (s *Set) Add(p Peer) { s.byAddr[p.Addr] = p }

// Remove deletes p if present.
func (s *Set) Remove(p Peer) { delete(s.byAddr, p.Addr) }

// Contains reports whether p is a member.
func (s *Set) Contains(p Peer) bool {
	_, ok := s.byAddr[p.Addr]
	return ok
}

// Len returns the swarm size.
func (s *Set) Len() int { return len(s.byAddr) }

// Ascending returns the members sorted by ascending peer key, the order
// the legacy lock protocol sends LOCK requests in.
func (s *Set) Ascending() []Peer {
	out := make([]Peer, 0, len(s.byAddr))
	for _, p := range s.byAddr {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return out
}

// Lowest returns the swarm member with the smallest key, used by the
// legacy lock's tie-break: a replica attempting its own write lock
// declines an incoming LOCK only when its key is below this one.
func (s *Set) Lowest() (Peer, bool) {
	members := s.Ascending()
	if len(members) == 0 {
		return Peer{}, false
	}
	return members[0], true
}

// Clone returns an independent copy of the set.
func (s *Set) Clone() *Set {
	c := NewSet()
	for _, p := range s.byAddr {
		c.Add(p)
	}
	return c
}
