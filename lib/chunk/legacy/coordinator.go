package legacy

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/dmap-io/dmap/dmaperr"
	"github.com/dmap-io/dmap/internal/logging"
	"github.com/dmap-io/dmap/internal/ltime"
	"github.com/dmap-io/dmap/lib/chunk"
	"github.com/dmap-io/dmap/lib/peer"
	"github.com/dmap-io/dmap/lib/record"
)

var log = logging.New("chunk.legacy")

var _ chunk.Coordinator = (*Coordinator)(nil)

// Config controls per-chunk protocol knobs.
type Config struct {
	// Persist, when true, retries a declined write-lock attempt
	// indefinitely with backoff instead of surfacing the decline to the
	// caller after the first attempt.
	Persist bool
	// Release controls the order UNLOCK is broadcast in.
	Release ReleaseOrder
	// Backoff is the delay between retries in Persist mode.
	Backoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.Backoff <= 0 {
		c.Backoff = 50 * time.Millisecond
	}
	return c
}

// Coordinator implements chunk.Coordinator using the distributed
// read/write lock protocol.
type Coordinator struct {
	id        record.ChunkID
	self      peer.Peer
	transport Transport
	cfg       Config
	container record.Container

	mu      sync.Mutex
	cond    *sync.Cond
	st      state
	holder  *peer.Peer // who holds the write lock, nil when unlocked
	readers int
	peers   *peer.Set // replica set, excludes self

	lastCommit ltime.Time
	clock      *ltime.Clock

	triggers []chunk.TriggerFunc
	dirtyIns []record.ID
	dirtyUpd []record.ID
}

// New creates a legacy-protocol coordinator for chunk id, replicated
// across peers (not including self), backed by container.
func New(id record.ChunkID, self peer.Peer, peers *peer.Set, transport Transport, container record.Container, cfg Config) *Coordinator {
	c := &Coordinator{
		id:        id,
		self:      self,
		transport: transport,
		cfg:       cfg.withDefaults(),
		container: container,
		peers:     peers,
		clock:     ltime.NewClock(),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *Coordinator) ID() record.ChunkID          { return c.id }
func (c *Coordinator) Peers() *peer.Set            { return c.peers.Clone() }
func (c *Coordinator) Container() record.Container { return c.container }
func (c *Coordinator) LatestCommitTime() ltime.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCommit
}

func (c *Coordinator) RegisterTrigger(fn chunk.TriggerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.triggers = append(c.triggers, fn)
}

// --------------------------------------------------------------------------
// Local read lock
// --------------------------------------------------------------------------

// ReadLock blocks while a local or remote write is in flight, then takes
// the local read lock. The release func decrements the reader count and
// wakes any waiter.
func (c *Coordinator) ReadLock(ctx context.Context) (func(), error) {
	c.mu.Lock()
	for c.st == attempting || (c.st == writeLocked && (c.holder == nil || !c.holder.Equal(c.self))) {
		c.cond.Wait()
	}
	if c.st == relinquished {
		c.mu.Unlock()
		return nil, dmaperr.New(dmaperr.KindRelinquished, "chunk %s has left its replica set", c.id)
	}
	if c.st == unlocked {
		c.st = readLocked
	}
	c.readers++
	c.mu.Unlock()

	released := false
	return func() {
		if released {
			return
		}
		released = true
		c.mu.Lock()
		c.readers--
		if c.readers == 0 && c.st == readLocked {
			c.st = unlocked
		}
		c.cond.Broadcast()
		c.mu.Unlock()
	}, nil
}

// --------------------------------------------------------------------------
// Distributed write lock
// --------------------------------------------------------------------------

// WriteLock attempts to acquire the chunk's write lock. In non-persist
// mode, the first DECLINE aborts the attempt and returns a
// dmaperr.KindDecline error; the caller retries from scratch by calling
// WriteLock again. In persist mode, declines are retried indefinitely
// with backoff inside this call.
func (c *Coordinator) WriteLock(ctx context.Context) error {
	for {
		ok, err := c.attemptWriteLock(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !c.cfg.Persist {
			return dmaperr.New(dmaperr.KindDecline, "write lock on chunk %s declined", c.id)
		}
		select {
		case <-ctx.Done():
			return dmaperr.Wrap(dmaperr.KindTransport, ctx.Err(), "write lock on chunk %s cancelled", c.id)
		case <-time.After(c.cfg.Backoff):
		}
	}
}

func (c *Coordinator) attemptWriteLock(ctx context.Context) (bool, error) {
	c.mu.Lock()
	for c.st == attempting || (c.st == writeLocked && (c.holder == nil || !c.holder.Equal(c.self))) {
		c.cond.Wait()
	}
	if c.st == relinquished {
		c.mu.Unlock()
		return false, dmaperr.New(dmaperr.KindRelinquished, "chunk %s has left its replica set", c.id)
	}
	if c.st == writeLocked && c.holder != nil && c.holder.Equal(c.self) {
		c.mu.Unlock()
		return true, nil // reentrant: already the writer
	}
	for c.readers > 0 {
		c.cond.Wait()
	}
	c.st = attempting
	c.mu.Unlock()

	granted := make([]peer.Peer, 0, c.peers.Len())
	for _, p := range c.peers.Ascending() {
		ack, err := c.transport.Lock(ctx, p, c.id, c.self)
		if err != nil {
			c.releaseGranted(ctx, granted)
			c.setState(unlocked, nil)
			return false, dmaperr.Wrap(dmaperr.KindTransport, err, "lock request to %s failed", p)
		}
		if !ack {
			c.releaseGranted(ctx, granted)
			c.setState(unlocked, nil)
			log.Debugf("chunk %s: lock declined by %s", c.id, p)
			return false, nil
		}
		granted = append(granted, p)
	}

	self := c.self
	c.setState(writeLocked, &self)
	return true, nil
}

func (c *Coordinator) releaseGranted(ctx context.Context, granted []peer.Peer) {
	for _, p := range granted {
		if err := c.transport.Unlock(ctx, p, c.id, c.self); err != nil {
			log.Warningf("chunk %s: failed to release lock held at %s: %v", c.id, p, err)
		}
	}
}

func (c *Coordinator) setState(s state, holder *peer.Peer) {
	c.mu.Lock()
	c.st = s
	c.holder = holder
	c.cond.Broadcast()
	c.mu.Unlock()
}

// HandleLock is invoked on the receiving side when a remote requester
// sends a LOCK message for this chunk. It applies the
// UNLOCKED/READ_LOCKED -> grant, ATTEMPTING -> tie-break, WRITE_LOCKED ->
// decline rules.
func (c *Coordinator) HandleLock(requester peer.Peer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.st {
	case relinquished:
		return false
	case unlocked, readLocked:
		c.st = writeLocked
		c.holder = &requester
		c.cond.Broadcast()
		return true
	case attempting:
		// Tie-break: only the swarm's lowest-id member ever declines an
		// incoming LOCK while attempting its own; every other member
		// yields regardless of the requester's id, so the lowest-id
		// member's own attempt is the one guaranteed to eventually win a
		// race instead of both sides backing off forever.
		lowest, ok := c.peers.Lowest()
		if ok && c.self.Key().Less(lowest.Key()) {
			return false
		}
		c.st = writeLocked
		c.holder = &requester
		c.cond.Broadcast()
		return true
	case writeLocked:
		return false
	default:
		return false
	}
}

// HandleUnlock is invoked when a remote holder releases the chunk's
// write lock.
func (c *Coordinator) HandleUnlock(holder peer.Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st == writeLocked && c.holder != nil && c.holder.Equal(holder) {
		c.st = unlocked
		c.holder = nil
		c.cond.Broadcast()
	}
}

// Unlock releases a write lock this process holds, broadcasting UNLOCK
// to every peer in the configured release order, flipping local state
// to unlocked at the moment self's position in that order is reached,
// and dispatching registered triggers for the session that just ended.
func (c *Coordinator) Unlock(ctx context.Context) error {
	c.mu.Lock()
	if c.st != writeLocked || c.holder == nil || !c.holder.Equal(c.self) {
		c.mu.Unlock()
		return dmaperr.New(dmaperr.KindInvariant, "unlock on chunk %s without holding its write lock", c.id)
	}
	inserted := append([]record.ID(nil), c.dirtyIns...)
	updated := append([]record.ID(nil), c.dirtyUpd...)
	c.dirtyIns = nil
	c.dirtyUpd = nil
	c.mu.Unlock()

	order := c.releaseOrder()
	for _, p := range order {
		if p.Equal(c.self) {
			c.setState(unlocked, nil)
			continue
		}
		if err := c.transport.Unlock(ctx, p, c.id, c.self); err != nil {
			log.Warningf("chunk %s: unlock to %s failed: %v", c.id, p, err)
		}
	}

	c.dispatchTriggers(inserted, updated)
	return nil
}

func (c *Coordinator) releaseOrder() []peer.Peer {
	full := append(c.peers.Ascending(), c.self)
	switch c.cfg.Release {
	case ReleaseForward:
		return full
	case ReleaseRandom:
		rand.Shuffle(len(full), func(i, j int) { full[i], full[j] = full[j], full[i] })
		return full
	default: // ReleaseReverse
		for i, j := 0, len(full)-1; i < j; i, j = i+1, j-1 {
			full[i], full[j] = full[j], full[i]
		}
		return full
	}
}

func (c *Coordinator) dispatchTriggers(inserted, updated []record.ID) {
	if len(inserted) == 0 && len(updated) == 0 {
		return
	}
	c.mu.Lock()
	triggers := append([]chunk.TriggerFunc(nil), c.triggers...)
	c.mu.Unlock()
	for _, fn := range triggers {
		go fn(inserted, updated)
	}
}

// --------------------------------------------------------------------------
// Replication: insert / update / remove
// --------------------------------------------------------------------------

func (c *Coordinator) requireHeld() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st != writeLocked || c.holder == nil || !c.holder.Equal(c.self) {
		return dmaperr.New(dmaperr.KindInvariant, "chunk %s mutation attempted without holding the write lock", c.id)
	}
	return nil
}

// Insert mutates the local container then broadcasts the new record to
// every peer.
func (c *Coordinator) Insert(ctx context.Context, r record.Record) error {
	if err := c.requireHeld(); err != nil {
		return err
	}
	r.Insert = c.clock.Tick()
	if err := c.container.Insert(r); err != nil {
		return err
	}
	c.markDirty(r.ID, true)
	c.bumpCommitTime(r.Insert)
	for _, p := range c.peers.Ascending() {
		if err := c.transport.Insert(ctx, p, c.id, r); err != nil {
			log.Warningf("chunk %s: insert replication to %s failed: %v", c.id, p, err)
		}
	}
	return nil
}

// Update appends a revision to the local container then broadcasts it.
func (c *Coordinator) Update(ctx context.Context, r record.Record) error {
	if err := c.requireHeld(); err != nil {
		return err
	}
	r.Update = c.clock.Tick()
	if err := c.container.Patch(r); err != nil {
		return err
	}
	c.markDirty(r.ID, false)
	c.bumpCommitTime(r.Update)
	for _, p := range c.peers.Ascending() {
		if err := c.transport.Patch(ctx, p, c.id, r); err != nil {
			log.Warningf("chunk %s: patch replication to %s failed: %v", c.id, p, err)
		}
	}
	return nil
}

// Remove tombstones id as of at (a zero-payload revision with Removed
// set) and replicates it like any other patch.
func (c *Coordinator) Remove(ctx context.Context, id record.ID, at ltime.Time) error {
	existing, ok := c.container.GetByID(id, at)
	if !ok {
		return dmaperr.New(dmaperr.KindNotFound, "record %s not found in chunk %s", id, c.id)
	}
	existing.Removed = true
	existing.Payload = nil
	return c.Update(ctx, existing)
}

func (c *Coordinator) markDirty(id record.ID, inserted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if inserted {
		c.dirtyIns = append(c.dirtyIns, id)
	} else {
		c.dirtyUpd = append(c.dirtyUpd, id)
	}
}

func (c *Coordinator) bumpCommitTime(t ltime.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastCommit.Less(t) {
		c.lastCommit = t
	}
}

// HandleInsert/HandlePatch apply a replicated mutation received from
// the current write-lock holder.
func (c *Coordinator) HandleInsert(r record.Record) error {
	c.clock.Observe(r.Insert)
	c.bumpCommitTime(r.Insert)
	return c.container.Insert(r)
}

func (c *Coordinator) HandlePatch(r record.Record) error {
	c.clock.Observe(r.Update)
	c.bumpCommitTime(r.Update)
	return c.container.Patch(r)
}

// --------------------------------------------------------------------------
// Membership: add peer / leave
// --------------------------------------------------------------------------

// AddPeer admits joined to the chunk's replica set while write-locked:
// joined receives an INIT with the current peer list and full history,
// then every existing peer gets a NEW_PEER notice.
func (c *Coordinator) AddPeer(ctx context.Context, joined peer.Peer) error {
	if err := c.requireHeld(); err != nil {
		return err
	}
	history := c.container.ChunkHistory()
	existing := c.peers.Ascending()
	if err := c.transport.NewPeer(ctx, joined, c.id, c.self); err != nil {
		return dmaperr.Wrap(dmaperr.KindTransport, err, "init for joining peer %s failed", joined)
	}
	for _, p := range existing {
		if err := c.transport.NewPeer(ctx, joined, c.id, p); err != nil {
			return dmaperr.Wrap(dmaperr.KindTransport, err, "init for joining peer %s failed", joined)
		}
	}
	seen := make(map[record.ID]bool, len(history))
	for _, h := range history {
		send := c.transport.Insert
		if seen[h.ID] {
			send = c.transport.Patch
		}
		seen[h.ID] = true
		if err := send(ctx, joined, c.id, h); err != nil {
			return dmaperr.Wrap(dmaperr.KindTransport, err, "history replay to %s failed", joined)
		}
	}
	c.peers.Add(joined)
	for _, p := range existing {
		if err := c.transport.NewPeer(ctx, p, c.id, joined); err != nil {
			log.Warningf("chunk %s: new-peer notice to %s failed: %v", c.id, p, err)
		}
	}
	return nil
}

// HandleNewPeer is invoked on existing replicas when a peer joins.
func (c *Coordinator) HandleNewPeer(joined peer.Peer) {
	c.peers.Add(joined)
}

// Leave removes this process from the chunk's replica set while
// write-locked, broadcasting LEAVE, then marks itself relinquished.
func (c *Coordinator) Leave(ctx context.Context) error {
	if err := c.WriteLock(ctx); err != nil {
		return err
	}
	for _, p := range c.peers.Ascending() {
		if err := c.transport.LeaveNotice(ctx, p, c.id, c.self); err != nil {
			log.Warningf("chunk %s: leave notice to %s failed: %v", c.id, p, err)
		}
	}
	c.setState(relinquished, nil)
	return nil
}

// HandleLeave is invoked on remaining replicas when leaver departs.
func (c *Coordinator) HandleLeave(leaver peer.Peer) {
	c.peers.Remove(leaver)
}
