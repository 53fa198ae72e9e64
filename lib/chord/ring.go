package chord

import (
	"math/big"

	"github.com/dmap-io/dmap/lib/peer"
)

// M is the number of finger table entries (and the bit-width used for the
// finger offsets); this is a deployment parameter, and 32 is a practical
// default for test-scale rings without needing the full 160-bit finger
// table a production SHA-1 ring would carry.
const M = 32

// K is the length of the successor list carried for fault tolerance.
const K = 4

func keyToInt(k peer.Key) *big.Int {
	return new(big.Int).SetBytes(k[:])
}

// ringSize is 2^(8*len(Key)), the modulus of the keyspace. Finger offsets
// are reduced modulo this, independent of M.
func ringSize() *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), peer.KeyBits)
}

// addOffset returns (base + 2^i) mod ringSize, the target key for finger i.
func addOffset(base peer.Key, i int) peer.Key {
	b := keyToInt(base)
	offset := new(big.Int).Lsh(big.NewInt(1), uint(i))
	sum := new(big.Int).Add(b, offset)
	sum.Mod(sum, ringSize())
	return bigIntToKey(sum)
}

func bigIntToKey(v *big.Int) peer.Key {
	var k peer.Key
	b := v.Bytes()
	copy(k[len(k)-len(b):], b)
	return k
}

// isIn is the circular half-open interval test: true if k == a, or a < b
// and a < k < b, or the interval wraps zero (a > b) and k > a or k < b.
func isIn(k, a, b peer.Key) bool {
	if k.Equal(a) {
		return true
	}
	if a.Less(b) {
		return a.Less(k) && k.Less(b)
	}
	// wraps around zero
	return b.Less(a) && (a.Less(k) || k.Less(b))
}

// isInOpen is the open-interval variant (k == a excluded), used for
// predecessor/finger candidacy checks where the boundary peer itself must
// not match. When a == b the interval (a, a) is the whole ring except a,
// so a node that is still its own successor accepts any other peer.
func isInOpen(k, a, b peer.Key) bool {
	if k.Equal(a) || k.Equal(b) {
		return false
	}
	if a.Equal(b) {
		return true
	}
	if a.Less(b) {
		return a.Less(k) && k.Less(b)
	}
	return b.Less(a) && (a.Less(k) || k.Less(b))
}
