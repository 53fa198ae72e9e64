package common

import (
	"encoding/json"
	"fmt"

	"github.com/dmap-io/dmap/lib/peer"
	"github.com/dmap-io/dmap/lib/record"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message is the single envelope carried over every transport for every
// wire operation: the legacy lock/replication protocol, the chord index
// protocol, and client-facing insert/update forwarding to a Raft chunk's
// leader. Which fields are populated depends on MsgType; unused fields are
// left zero and omitted by the JSON/GOB serializers.
type Message struct {
	MsgType MessageType `json:"msg_type"`

	// Routing: which table, and which chunk within it, this message
	// concerns. Table alone selects a chord ring (each table owns one,
	// lib/table.Table.Ring); Table+ChunkID together select a locally
	// active chunk.Coordinator (lib/table.Table.Chunk).
	Table   string         `json:"table,omitempty"`
	ChunkID record.ChunkID `json:"chunk_id,omitempty"`

	// Legacy protocol: lock/unlock/new-peer/leave carry
	// the single peer the message is about.
	Requester peer.Peer `json:"requester,omitempty"` // lock
	Holder    peer.Peer `json:"holder,omitempty"`    // unlock
	Joined    peer.Peer `json:"joined,omitempty"`    // new-peer (also used for the init handshake: one NewPeer per existing replica)
	Leaver    peer.Peer `json:"leaver,omitempty"`    // leave

	// Record replication: insert/update (the latter also carries
	// tombstones, since Remove is implemented as an Update with
	// Removed=true per lib/chunk's Coordinator.Remove).
	Record record.Record `json:"record,omitempty"`

	// Chord protocol.
	Key            peer.Key  `json:"key,omitempty"`            // find-successor
	Successor      peer.Peer `json:"successor,omitempty"`      // find-successor response
	Candidate      peer.Peer `json:"candidate,omitempty"`      // notify
	Predecessor    peer.Peer `json:"predecessor,omitempty"`    // get-predecessor response
	HasPredecessor bool      `json:"has_predecessor,omitempty"`
	Peers          []peer.Peer `json:"peers,omitempty"` // routed-request (seek-peers) response; announce-possession carries one via Holder

	// Raft membership/consensus RPCs. dragonboat's
	// own NodeHost-to-NodeHost networking carries the actual consensus
	// traffic; these kinds exist so the wire vocabulary is complete, and
	// Raw carries an opaque dragonboat-internal payload on the rare path
	// that needs to ride this envelope instead (e.g. forwarding a client
	// request to the current leader).
	Raw []byte `json:"raw,omitempty"`

	// Response-only fields.
	Ok      bool   `json:"ok,omitempty"`
	Err     string `json:"err,omitempty"`
	ErrKind string `json:"err_kind,omitempty"` // dmaperr.Kind.String(), empty for a plain error
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewErrorResponse builds an error response for msgType, preserving err's
// dmaperr.Kind (if any) in ErrKind so the client can reconstruct a typed
// error instead of a bare string.
func NewErrorResponse(msgType MessageType, err error) *Message {
	msg := &Message{MsgType: msgType, Err: err.Error()}
	if kind, ok := ErrKindOf(err); ok {
		msg.ErrKind = kind.String()
	}
	return msg
}

// NewOkResponse builds a bare success acknowledgement for msgType.
func NewOkResponse(msgType MessageType) *Message {
	return &Message{MsgType: msgType, Ok: true}
}

// NewLockRequest builds a lock request for chunk on behalf of requester.
func NewLockRequest(table string, chunk record.ChunkID, requester peer.Peer) *Message {
	return &Message{MsgType: MsgLock, Table: table, ChunkID: chunk, Requester: requester}
}

// NewLockResponse builds a lock response; ok reports ACK (true) or DECLINE.
func NewLockResponse(ok bool) *Message {
	return &Message{MsgType: MsgLock, Ok: ok}
}

// NewUnlockRequest builds an unlock notice for chunk from holder.
func NewUnlockRequest(table string, chunk record.ChunkID, holder peer.Peer) *Message {
	return &Message{MsgType: MsgUnlock, Table: table, ChunkID: chunk, Holder: holder}
}

// NewNewPeerRequest builds a new-peer notice (also used for the init
// handshake's per-peer replay, see Message.Joined).
func NewNewPeerRequest(table string, chunk record.ChunkID, joined peer.Peer) *Message {
	return &Message{MsgType: MsgNewPeer, Table: table, ChunkID: chunk, Joined: joined}
}

// NewLeaveRequest builds a leave notice for chunk from leaver.
func NewLeaveRequest(table string, chunk record.ChunkID, leaver peer.Peer) *Message {
	return &Message{MsgType: MsgLeave, Table: table, ChunkID: chunk, Leaver: leaver}
}

// NewInsertRequest builds an insert replication message.
func NewInsertRequest(table string, chunk record.ChunkID, rec record.Record) *Message {
	return &Message{MsgType: MsgInsert, Table: table, ChunkID: chunk, Record: rec}
}

// NewUpdateRequest builds an update (or tombstone) replication message.
func NewUpdateRequest(table string, chunk record.ChunkID, rec record.Record) *Message {
	return &Message{MsgType: MsgUpdate, Table: table, ChunkID: chunk, Record: rec}
}

// NewFindSuccessorRequest builds a chord find-successor request.
func NewFindSuccessorRequest(table string, key peer.Key) *Message {
	return &Message{MsgType: MsgChordFindSuccessor, Table: table, Key: key}
}

// NewFindSuccessorResponse builds a chord find-successor response.
func NewFindSuccessorResponse(successor peer.Peer) *Message {
	return &Message{MsgType: MsgChordFindSuccessor, Successor: successor, Ok: true}
}

// NewGetPredecessorRequest builds a chord get-predecessor request.
func NewGetPredecessorRequest(table string) *Message {
	return &Message{MsgType: MsgChordGetPredecessor, Table: table}
}

// NewGetPredecessorResponse builds a chord get-predecessor response.
func NewGetPredecessorResponse(predecessor peer.Peer, ok bool) *Message {
	return &Message{MsgType: MsgChordGetPredecessor, Predecessor: predecessor, HasPredecessor: ok, Ok: true}
}

// NewNotifyRequest builds a chord notify request.
func NewNotifyRequest(table string, candidate peer.Peer) *Message {
	return &Message{MsgType: MsgChordNotify, Table: table, Candidate: candidate}
}

// NewAnnouncePossessionRequest builds a chord announce-possession request.
func NewAnnouncePossessionRequest(table string, chunk record.ChunkID, holder peer.Peer) *Message {
	return &Message{MsgType: MsgChordAnnouncePossession, Table: table, ChunkID: chunk, Holder: holder}
}

// NewSeekPeersRequest builds a chord seek-peers request.
func NewSeekPeersRequest(table string, chunk record.ChunkID) *Message {
	return &Message{MsgType: MsgChordSeekPeers, Table: table, ChunkID: chunk}
}

// NewSeekPeersResponse builds a chord seek-peers response.
func NewSeekPeersResponse(peers []peer.Peer) *Message {
	return &Message{MsgType: MsgChordSeekPeers, Peers: peers, Ok: true}
}

// NewMetatableSchemaRequest builds a query for the responder's own locally
// registered schema for table, used to detect a first-definer-wins schema
// conflict against a bootstrap peer before registering a table locally.
func NewMetatableSchemaRequest(table string) *Message {
	return &Message{MsgType: MsgMetatableSchema, Table: table}
}

// NewMetatableSchemaResponse builds the response: ok reports whether the
// responder has table registered at all; Record.Payload carries its schema
// bytes (chunk.Schema.Bytes()) when ok.
func NewMetatableSchemaResponse(ok bool, schemaBytes []byte) *Message {
	return &Message{MsgType: MsgMetatableSchema, Ok: ok, Record: record.Record{Payload: schemaBytes}}
}

// NewTableAnnounceRequest builds a table-membership announcement: joined
// tells the receiver that peer now participates in table (via chunk, if
// non-zero), so the receiver should add it to its own listener set.
func NewTableAnnounceRequest(table string, chunk record.ChunkID, joined peer.Peer) *Message {
	return &Message{MsgType: MsgTableAnnounce, Table: table, ChunkID: chunk, Joined: joined}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the wire operation a Message carries: one of the
// legacy, chord, or Raft message kinds.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgSuccess:
		return "success"
	case MsgError:
		return "error"
	case MsgConnect:
		return "connect"
	case MsgInit:
		return "init"
	case MsgLock:
		return "lock"
	case MsgUnlock:
		return "unlock"
	case MsgNewPeer:
		return "new-peer"
	case MsgLeave:
		return "leave"
	case MsgInsert:
		return "insert"
	case MsgUpdate:
		return "update"
	case MsgRaftAppendEntries:
		return "append-entries"
	case MsgRaftRequestVote:
		return "request-vote"
	case MsgRaftJoinQuit:
		return "join-quit"
	case MsgRaftQueryState:
		return "query-state"
	case MsgRaftInitRequest:
		return "init-request"
	case MsgChordFindSuccessor:
		return "find-successor"
	case MsgChordGetPredecessor:
		return "get-predecessor"
	case MsgChordNotify:
		return "notify"
	case MsgChordAnnouncePossession:
		return "routed-request-announce"
	case MsgChordSeekPeers:
		return "routed-request-seek"
	case MsgTableAnnounce:
		return "table-announce"
	case MsgMetatableSchema:
		return "metatable-schema"
	default:
		return "unknown"
	}
}

// MarshalJSON implements json.Marshaler, rendering MessageType as its
// wire name rather than a bare integer.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "success":
		*t = MsgSuccess
	case "error":
		*t = MsgError
	case "connect":
		*t = MsgConnect
	case "init":
		*t = MsgInit
	case "lock":
		*t = MsgLock
	case "unlock":
		*t = MsgUnlock
	case "new-peer":
		*t = MsgNewPeer
	case "leave":
		*t = MsgLeave
	case "insert":
		*t = MsgInsert
	case "update":
		*t = MsgUpdate
	case "append-entries":
		*t = MsgRaftAppendEntries
	case "request-vote":
		*t = MsgRaftRequestVote
	case "join-quit":
		*t = MsgRaftJoinQuit
	case "query-state":
		*t = MsgRaftQueryState
	case "init-request":
		*t = MsgRaftInitRequest
	case "find-successor":
		*t = MsgChordFindSuccessor
	case "get-predecessor":
		*t = MsgChordGetPredecessor
	case "notify":
		*t = MsgChordNotify
	case "routed-request-announce":
		*t = MsgChordAnnouncePossession
	case "routed-request-seek":
		*t = MsgChordSeekPeers
	case "table-announce":
		*t = MsgTableAnnounce
	case "metatable-schema":
		*t = MsgMetatableSchema
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}
	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	MsgUnknown MessageType = iota
	MsgSuccess             // bare acknowledgement, no domain payload
	MsgError               // Err/ErrKind carry the failure

	// Legacy distributed-lock protocol. Connect/Init
	// are folded into NewPeer messages to the joiner (one carrying the
	// admitting replica's identity, then one per existing replica)
	// followed by a run of Insert messages replaying history (Update for
	// an id's later revisions), mirroring
	// lib/chunk/legacy.Coordinator.AddPeer's actual handshake.
	MsgConnect
	MsgInit
	MsgLock
	MsgUnlock
	MsgNewPeer
	MsgLeave
	MsgInsert
	MsgUpdate

	// Raft membership/consensus. Carried by dragonboat's own
	// NodeHost transport in this implementation; listed here for wire
	// vocabulary completeness (see Message.Raw's doc comment).
	MsgRaftAppendEntries
	MsgRaftRequestVote
	MsgRaftJoinQuit
	MsgRaftQueryState
	MsgRaftInitRequest

	// Chord index protocol. Announce-possession and seek-peers are both
	// "routed-request" messages: a chord node forwards them toward the
	// node responsible for a chunk.
	MsgChordFindSuccessor
	MsgChordGetPredecessor
	MsgChordNotify
	MsgChordAnnouncePossession
	MsgChordSeekPeers

	// MsgTableAnnounce carries a table's addTable step 4 (§4.7): a peer
	// newly participating in a table announces itself to a listener so
	// the listener's local Table.listeners set stays current.
	MsgTableAnnounce

	// MsgMetatableSchema queries a peer's own locally registered schema
	// for a table name, letting addTable's first-definer-wins conflict
	// check (§4.7) see past this process's own metatable.
	MsgMetatableSchema
)
