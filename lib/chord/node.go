package chord

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"

	"github.com/dmap-io/dmap/internal/logging"
	"github.com/dmap-io/dmap/lib/peer"
	"github.com/dmap-io/dmap/lib/record"
)

var log = logging.New("chord")

// stabilizeLatency samples Node.Stabilize's round-trip duration in
// nanoseconds, including the successor-list failover path.
var stabilizeLatency = gometrics.NewRegisteredHistogram(
	"dmap.chord.stabilize.latency_ns",
	gometrics.DefaultRegistry,
	gometrics.NewExpDecaySample(1028, 0.015),
)

// Node is one peer's membership in a table's chord ring.
type Node struct {
	self      peer.Peer
	selfKey   peer.Key
	transport Transport

	mu          sync.RWMutex
	predecessor *peer.Peer // nil until learned
	successors  []peer.Peer
	fingers     []peer.Peer // len M, fingers[i] may be the zero Peer if unknown

	// possession maps a chunk id to the set of peers that announced
	// serving it. Only meaningful on the node(s) responsible for that
	// chunk's key, but kept as a concurrent map so lookups never block
	// stabilization.
	possession *xsync.MapOf[record.ChunkID, *peer.Set]
	possessMu  sync.Mutex // guards mutation of *peer.Set values
}

// NewNode creates a chord ring containing only self. Callers join an
// existing ring by calling Join with a known member's address.
func NewNode(self peer.Peer, transport Transport) *Node {
	n := &Node{
		self:       self,
		selfKey:    self.Key(),
		transport:  transport,
		successors: []peer.Peer{self},
		fingers:    make([]peer.Peer, M),
		possession: xsync.NewMapOf[record.ChunkID, *peer.Set](),
	}
	return n
}

// Self returns this node's peer identity.
func (n *Node) Self() peer.Peer { return n.self }

// Join contacts introducer to learn this node's successor. Pass introducer
// == self (or call NewNode alone) to bootstrap a fresh ring.
func (n *Node) Join(ctx context.Context, introducer peer.Peer) error {
	if introducer.Equal(n.self) {
		return nil
	}
	succ, err := n.transport.FindSuccessor(ctx, introducer, n.selfKey)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.successors = []peer.Peer{succ}
	n.mu.Unlock()
	log.Infof("%s joined ring via %s, successor=%s", n.self, introducer, succ)
	return nil
}

func (n *Node) successor() peer.Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.successors[0]
}

// FindSuccessor resolves key to the live peer whose key is the smallest
// not less than key, modulo the ring.
func (n *Node) FindSuccessor(ctx context.Context, key peer.Key) (peer.Peer, error) {
	succ := n.successor()
	if isIn(key, n.selfKey, succ.Key()) || key.Equal(succ.Key()) {
		return succ, nil
	}
	closest := n.closestPrecedingFinger(key)
	if closest.Equal(n.self) {
		// nothing closer known; we are the best approximation
		return succ, nil
	}
	return n.transport.FindSuccessor(ctx, closest, key)
}

// closestPrecedingFinger returns the finger (or successor-list entry)
// strictly between self and key that is closest to key, or self if none
// qualifies.
func (n *Node) closestPrecedingFinger(key peer.Key) peer.Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for i := len(n.fingers) - 1; i >= 0; i-- {
		f := n.fingers[i]
		if f.Addr == "" {
			continue
		}
		if isInOpen(f.Key(), n.selfKey, key) {
			return f
		}
	}
	for _, s := range n.successors {
		if isInOpen(s.Key(), n.selfKey, key) {
			return s
		}
	}
	return n.self
}

// GetPredecessor returns this node's current predecessor, if known.
func (n *Node) GetPredecessor() (peer.Peer, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.predecessor == nil {
		return peer.Peer{}, false
	}
	return *n.predecessor, true
}

// Notify is called (locally or via Transport.Notify) when candidate
// believes it might be this node's predecessor. Finger maintenance is
// lazy: every finger and successor-list slot is checked on notify and
// updated if candidate now falls in its interval.
func (n *Node) Notify(candidate peer.Peer) {
	if candidate.Equal(n.self) {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.predecessor == nil || isInOpen(candidate.Key(), n.predecessor.Key(), n.selfKey) {
		p := candidate
		n.predecessor = &p
	}

	for i := range n.fingers {
		target := addOffset(n.selfKey, i)
		cur := n.fingers[i]
		if cur.Addr == "" {
			n.fingers[i] = candidate
			continue
		}
		if isInOpen(candidate.Key(), target, cur.Key()) {
			n.fingers[i] = candidate
		}
	}
	n.successors = insertSuccessor(n.successors, n.selfKey, candidate)
}

// insertSuccessor places candidate into list at the position that keeps
// list ordered by ring distance from base (list[0] is the nearest live
// successor), shifting later entries down and dropping the tail beyond K
// entries. A candidate farther than every known entry is appended only if
// list has not yet reached K members. Mirrors the successor-list upkeep
// the original chord index does on every notify, which is how that list
// grows from length 1 to its full fault-tolerance width over time instead
// of all at once at join.
func insertSuccessor(list []peer.Peer, base peer.Key, candidate peer.Peer) []peer.Peer {
	for _, s := range list {
		if s.Equal(candidate) {
			return list
		}
	}
	for i, s := range list {
		lower := base
		if i > 0 {
			lower = list[i-1].Key()
		}
		if isInOpen(candidate.Key(), lower, s.Key()) {
			out := append([]peer.Peer{}, list[:i]...)
			out = append(out, candidate)
			out = append(out, list[i:]...)
			if len(out) > K {
				out = out[:K]
			}
			return out
		}
	}
	if len(list) < K {
		return append(list, candidate)
	}
	return list
}

// Stabilize periodically re-asks the successor for its predecessor and
// reconciles, then notifies the successor of self. If the immediate
// successor doesn't answer, it falls back to the next live entry in the
// successor list - the fault-tolerance role K's list length exists for -
// promoting that entry to successors[0] instead of leaving the ring
// partitioned until the dead entry is noticed some other way.
func (n *Node) Stabilize(ctx context.Context) error {
	start := time.Now()
	defer func() { stabilizeLatency.Update(time.Since(start).Nanoseconds()) }()

	n.mu.RLock()
	candidates := append([]peer.Peer(nil), n.successors...)
	n.mu.RUnlock()

	var lastErr error
	for i, succ := range candidates {
		if succ.Equal(n.self) {
			return nil
		}
		pred, ok, err := n.transport.GetPredecessor(ctx, succ)
		if err != nil {
			lastErr = err
			continue
		}

		n.mu.Lock()
		if i > 0 {
			log.Warningf("%s: successor %s unreachable, failing over to %s", n.self, candidates[0], succ)
			n.successors = append([]peer.Peer{succ}, candidates[i+1:]...)
		}
		if ok && isInOpen(pred.Key(), n.selfKey, succ.Key()) {
			n.successors[0] = pred
			succ = pred
		}
		n.mu.Unlock()

		return n.transport.Notify(ctx, succ, n.self)
	}
	return lastErr
}

// FixFingers recomputes one finger table slot, cycling through all M
// slots over successive calls (a periodic background task in production).
func (n *Node) FixFingers(ctx context.Context, slot int) error {
	if slot < 0 || slot >= M {
		return nil
	}
	target := addOffset(n.selfKey, slot)
	succ, err := n.FindSuccessor(ctx, target)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.fingers[slot] = succ
	n.mu.Unlock()
	return nil
}

// Leave moves this node's chunk-possession data to its successor before
// severing, then stops participating. It does not attempt
// to fix up every other member's fingers; stabilization will repair them.
func (n *Node) Leave(ctx context.Context) error {
	succ := n.successor()
	if succ.Equal(n.self) {
		return nil
	}
	var rangeErr error
	n.possession.Range(func(chunk record.ChunkID, holders *peer.Set) bool {
		for _, h := range holders.Ascending() {
			if err := n.transport.AnnouncePossession(ctx, succ, chunk, h); err != nil {
				rangeErr = err
				return false
			}
		}
		return true
	})
	return rangeErr
}

// --------------------------------------------------------------------------
// Possession table: chunk-id -> holder set
// --------------------------------------------------------------------------

// AnnouncePossession records that holder serves chunk, on whichever node
// is asked (normally the chunk's responsible node, reached via
// FindSuccessor(hash(chunk-id)) by the caller).
func (n *Node) AnnouncePossession(chunk record.ChunkID, holder peer.Peer) {
	n.possessMu.Lock()
	defer n.possessMu.Unlock()
	set, _ := n.possession.LoadOrStore(chunk, peer.NewSet())
	set.Add(holder)
}

// SeekPeers returns the locally recorded holder set for chunk (empty if
// this node has never seen an announcement for it).
func (n *Node) SeekPeers(chunk record.ChunkID) []peer.Peer {
	set, ok := n.possession.Load(chunk)
	if !ok {
		return nil
	}
	return set.Ascending()
}

// Announce resolves chunk's responsible node via the ring and tells it
// that holder serves chunk.
func (n *Node) Announce(ctx context.Context, chunk record.ChunkID, holder peer.Peer) error {
	responsible, err := n.FindSuccessor(ctx, peer.HashKey(chunk.String()))
	if err != nil {
		return err
	}
	if responsible.Equal(n.self) {
		n.AnnouncePossession(chunk, holder)
		return nil
	}
	return n.transport.AnnouncePossession(ctx, responsible, chunk, holder)
}

// Seek resolves chunk's responsible node via the ring and returns its
// reported holder set.
func (n *Node) Seek(ctx context.Context, chunk record.ChunkID) ([]peer.Peer, error) {
	responsible, err := n.FindSuccessor(ctx, peer.HashKey(chunk.String()))
	if err != nil {
		return nil, err
	}
	if responsible.Equal(n.self) {
		return n.SeekPeers(chunk), nil
	}
	return n.transport.SeekPeers(ctx, responsible, chunk)
}
