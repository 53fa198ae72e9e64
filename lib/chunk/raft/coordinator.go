package raft

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"

	"github.com/dmap-io/dmap/dmaperr"
	"github.com/dmap-io/dmap/internal/logging"
	"github.com/dmap-io/dmap/internal/ltime"
	"github.com/dmap-io/dmap/lib/chunk"
	"github.com/dmap-io/dmap/lib/peer"
	"github.com/dmap-io/dmap/lib/record"
)

var _ chunk.Coordinator = (*Coordinator)(nil)

var log = logging.New("chunk.raft")

// maxRetries bounds the SyncPropose/SyncRead retry-on-busy loop
// (grounded on lib/store/dstore/store.go's `retries = 5`).
const maxRetries = 5

// containerView wraps a chunk's shared container, rejecting direct
// mutation so callers are forced through Coordinator.Insert/Update,
// which propose through raft instead of writing local state directly.
type containerView struct {
	record.Container
}

func (containerView) Insert(record.Record) error {
	return dmaperr.New(dmaperr.KindInvariant, "direct container mutation bypasses raft consensus; use Coordinator.Insert")
}

func (containerView) Patch(record.Record) error {
	return dmaperr.New(dmaperr.KindInvariant, "direct container mutation bypasses raft consensus; use Coordinator.Update")
}

// Coordinator implements chunk.Coordinator over a dragonboat raft
// group. Write-lock ownership is implicit in leader-for-term: there is
// no separate lock state machine.
type Coordinator struct {
	id        record.ChunkID
	self      peer.Peer
	replicaID uint64
	shardID   uint64
	nh        *dragonboat.NodeHost
	cs        *client.Session
	timeout   time.Duration

	container record.Container // shared with this replica's local FSM
	peers     *peer.Set        // shared with this replica's local FSM

	triggersMu sync.Mutex
	triggers   []chunk.TriggerFunc
	dirtyIns   []record.ID
	dirtyUpd   []record.ID

	lastCommit ltime.Time
}

// New wires a Coordinator to an already-started raft shard. container
// and peers must be the same instances passed to
// CreateStateMachineFactory for this shard, so local reads see the
// replica's applied state.
func New(id record.ChunkID, self peer.Peer, replicaID, shardID uint64, nh *dragonboat.NodeHost, timeout time.Duration, container record.Container, peers *peer.Set) *Coordinator {
	return &Coordinator{
		id:        id,
		self:      self,
		replicaID: replicaID,
		shardID:   shardID,
		nh:        nh,
		cs:        nh.GetNoOPSession(shardID),
		timeout:   timeout,
		container: container,
		peers:     peers,
	}
}

func (c *Coordinator) ID() record.ChunkID          { return c.id }
func (c *Coordinator) Peers() *peer.Set            { return c.peers.Clone() }
func (c *Coordinator) Container() record.Container { return containerView{c.container} }
func (c *Coordinator) LatestCommitTime() ltime.Time {
	c.triggersMu.Lock()
	defer c.triggersMu.Unlock()
	return c.lastCommit
}

func (c *Coordinator) RegisterTrigger(fn chunk.TriggerFunc) {
	c.triggersMu.Lock()
	defer c.triggersMu.Unlock()
	c.triggers = append(c.triggers, fn)
}

// ReadLock is a no-op: any replica may serve a local, possibly-stale
// read, the same staleness trade-off a stale-read GetDBInfo-style query
// makes.
func (c *Coordinator) ReadLock(ctx context.Context) (func(), error) {
	return func() {}, nil
}

// WriteLock reports whether this process currently leads shardID's
// raft group. A non-leader replica returns a KindDecline error; the
// caller (normally rpc/server) re-resolves the leader and retries there
// via client routing/not-leader forwarding.
func (c *Coordinator) WriteLock(ctx context.Context) error {
	leaderID, _, ok, err := c.nh.GetLeaderID(c.shardID)
	if err != nil {
		return dmaperr.Wrap(dmaperr.KindTransport, err, "resolving leader for chunk %s", c.id)
	}
	if !ok {
		return dmaperr.New(dmaperr.KindDecline, "no leader elected yet for chunk %s", c.id)
	}
	if leaderID != c.replicaID {
		return dmaperr.New(dmaperr.KindDecline, "replica %d is not leader for chunk %s (leader is %d)", c.replicaID, c.id, leaderID)
	}
	return nil
}

// Unlock has no distributed release to perform; it only flushes
// triggers accumulated by Insert/Update calls since the last Unlock.
func (c *Coordinator) Unlock(ctx context.Context) error {
	c.triggersMu.Lock()
	inserted := append([]record.ID(nil), c.dirtyIns...)
	updated := append([]record.ID(nil), c.dirtyUpd...)
	c.dirtyIns = nil
	c.dirtyUpd = nil
	triggers := append([]chunk.TriggerFunc(nil), c.triggers...)
	c.triggersMu.Unlock()

	if len(inserted) == 0 && len(updated) == 0 {
		return nil
	}
	for _, fn := range triggers {
		go fn(inserted, updated)
	}
	return nil
}

func (c *Coordinator) propose(ctx context.Context, cmd Command) (ltime.Time, error) {
	data, err := cmd.Serialize()
	if err != nil {
		return 0, dmaperr.Wrap(dmaperr.KindInvariant, err, "serializing %s command", cmd.Type)
	}
	for i := 0; i < maxRetries; i++ {
		pctx, cancel := context.WithTimeout(ctx, c.timeout)
		res, err := c.nh.SyncPropose(pctx, c.cs, data)
		cancel()

		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("chunk %s: propose busy, retrying (%d/%d)", c.id, i+1, maxRetries)
			time.Sleep(c.timeout / 10)
			continue
		}
		if err != nil {
			return 0, dmaperr.Wrap(dmaperr.KindTransport, err, "propose %s on chunk %s", cmd.Type, c.id)
		}
		if res.Value == resultErr {
			return 0, dmaperr.New(dmaperr.KindInvariant, "chunk %s rejected %s command: %s", c.id, cmd.Type, res.Data)
		}
		return ltime.Time(res.Value), nil
	}
	return 0, dmaperr.New(dmaperr.KindTransport, "chunk %s: propose %s timed out after %d retries", c.id, cmd.Type, maxRetries)
}

// Insert proposes a new record's insertion. The returned revision time
// (the log index the entry committed at) is not surfaced to the
// caller: callers read it back via Container().GetByID with
// LatestCommitTime().
func (c *Coordinator) Insert(ctx context.Context, r record.Record) error {
	t, err := c.propose(ctx, Command{Type: CommandInsert, Record: r})
	if err != nil {
		return err
	}
	c.markDirty(r.ID, true, t)
	return nil
}

// Update proposes a revision to an existing record.
func (c *Coordinator) Update(ctx context.Context, r record.Record) error {
	t, err := c.propose(ctx, Command{Type: CommandUpdate, Record: r})
	if err != nil {
		return err
	}
	c.markDirty(r.ID, false, t)
	return nil
}

// Remove proposes a tombstone revision for id.
func (c *Coordinator) Remove(ctx context.Context, id record.ID, at ltime.Time) error {
	existing, ok := c.container.GetByID(id, at)
	if !ok {
		return dmaperr.New(dmaperr.KindNotFound, "record %s not found in chunk %s", id, c.id)
	}
	existing.Removed = true
	existing.Payload = nil
	return c.Update(ctx, existing)
}

func (c *Coordinator) markDirty(id record.ID, inserted bool, t ltime.Time) {
	c.triggersMu.Lock()
	defer c.triggersMu.Unlock()
	if inserted {
		c.dirtyIns = append(c.dirtyIns, id)
	} else {
		c.dirtyUpd = append(c.dirtyUpd, id)
	}
	if c.lastCommit.Less(t) {
		c.lastCommit = t
	}
}

// AddPeer proposes a membership change admitting p to the chunk's
// replica set. Bringing p's dragonboat replica online (StartReplica /
// SyncRequestAddReplica) is an rpc/server concern layered above this
// call, which only appends the log entry every replica applies.
func (c *Coordinator) AddPeer(ctx context.Context, p peer.Peer) error {
	_, err := c.propose(ctx, Command{Type: CommandAddPeer, Peer: p})
	return err
}

// Leave proposes removing self from the chunk's replica set.
func (c *Coordinator) Leave(ctx context.Context) error {
	_, err := c.propose(ctx, Command{Type: CommandRemovePeer, Peer: c.self})
	return err
}
