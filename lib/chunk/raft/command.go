package raft

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/dmap-io/dmap/lib/peer"
	"github.com/dmap-io/dmap/lib/record"
)

// CommandType names a raft log entry's operation.
type CommandType uint8

const (
	CommandInsert CommandType = iota
	CommandUpdate
	CommandAddPeer
	CommandRemovePeer
)

func (t CommandType) String() string {
	switch t {
	case CommandInsert:
		return "insert"
	case CommandUpdate:
		return "update"
	case CommandAddPeer:
		return "add-peer"
	case CommandRemovePeer:
		return "remove-peer"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// Command is a single raft log entry, proposed via SyncPropose and
// applied by FSM.Update. The assigned revision time is the raft log
// index itself (FSM.Update sets it), not a field here.
type Command struct {
	Type   CommandType
	Record record.Record // set for CommandInsert/CommandUpdate
	Peer   peer.Peer     // set for CommandAddPeer/CommandRemovePeer
}

// Serialize encodes a command with encoding/gob.
func (c *Command) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeCommand decodes a command previously produced by Serialize.
func DeserializeCommand(data []byte) (Command, error) {
	var c Command
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&c); err != nil {
		return Command{}, err
	}
	return c, nil
}

// QueryType names a read-only Lookup request.
type QueryType uint8

const (
	QueryGetByID QueryType = iota
	QueryPeers
)

// Query is the argument FSM.Lookup expects. Chunk reads beyond a single id (Dump, history, ...) are
// served directly off the in-process container a Coordinator shares
// with its local FSM instance, since any replica may answer them at
// whatever staleness the caller accepts.
type Query struct {
	Type QueryType
	ID   record.ID
	At   uint64 // logical time, i.e. a raft log index
}

// QueryResult is FSM.Lookup's return value.
type QueryResult struct {
	Record record.Record
	Found  bool
	Peers  []peer.Peer
}
