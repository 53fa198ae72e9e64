package server

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4"

	"github.com/dmap-io/dmap/dmaperr"
	"github.com/dmap-io/dmap/internal/logging"
	"github.com/dmap-io/dmap/lib/chord"
	"github.com/dmap-io/dmap/lib/chunk"
	"github.com/dmap-io/dmap/lib/chunk/legacy"
	"github.com/dmap-io/dmap/lib/chunk/raft"
	"github.com/dmap-io/dmap/lib/peer"
	"github.com/dmap-io/dmap/lib/record/memcontainer"
	"github.com/dmap-io/dmap/lib/table"
	"github.com/dmap-io/dmap/lib/tablemgr"
	"github.com/dmap-io/dmap/rpc/client"
	"github.com/dmap-io/dmap/rpc/common"
	"github.com/dmap-io/dmap/rpc/serializer"
	"github.com/dmap-io/dmap/rpc/transport"
)

var Logger = logging.New("rpc-server")

// genesisChunkID derives the one deterministic chunk id a table starts
// from when this process boots it with no Bootstrap peers configured,
// in the same style as lib/tablemgr's schemaRecordID: every process
// that starts table name from scratch converges on the same id without
// a handshake.
func genesisChunkID(table string) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte("dmap-genesis-chunk:"+table))
}

// NewRPCServer creates a new RPC server
// It takes a config, transport, serializer and client dialer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPServerTransport(64*1024),
//		serializer.NewBinarySerializer(),
//		func() transport.IRPCClientTransport { return tcp.NewTCPClientTransport() },
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	t transport.IRPCServerTransport,
	s serializer.IRPCSerializer,
	dialer client.Dialer,
) *rpcServer {
	logging.SetLevel(logging.ParseLevel(config.LogLevel))
	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return &rpcServer{
		config:     config,
		transport:  t,
		serializer: s,
		dialer:     dialer,
		manager:    tablemgr.NewManager(),
	}
}

type rpcServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	dialer     client.Dialer
	manager    *tablemgr.Manager
	dispatcher Dispatcher
	nodeHost   *dragonboat.NodeHost
	peers      *client.Peers
}

func (s *rpcServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(shardId uint64, req []byte) []byte {
		var msg common.Message

		var respMsg *common.Message
		if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = common.NewErrorResponse(common.MsgError, fmt.Errorf("failed to deserialize request: %w", err))
		} else {
			respMsg = s.dispatcher.Handle(&msg)
		}

		val, err := s.serializer.Serialize(*respMsg)
		if err != nil {
			val, _ = s.serializer.Serialize(*common.NewErrorResponse(common.MsgError, fmt.Errorf("failed to serialize response: %w", err)))
		}
		return val
	})
}

func (s *rpcServer) init() error {
	self := peer.New(s.config.Self)
	timeout := time.Duration(s.config.TimeoutSecond) * time.Second

	if s.config.HasRaftTable() {
		nh, err := dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}
		s.nodeHost = nh
	}

	s.peers = client.NewPeers(
		s.dialer,
		common.ClientConfig{
			TimeoutSecond:          int(s.config.TimeoutSecond),
			RetryCount:             3,
			ConnectionsPerEndpoint: 1,
		},
		s.serializer,
	)

	/*
		Note: A single RPC server can host any number of tables. Each
		table gets its own chord ring (joined via Bootstrap, or rooted
		fresh if Bootstrap is empty) and, on a process with no existing
		replica of its genesis chunk, one initial chunk coordinated
		solely by self using the table's configured variant.
	*/
	for _, tc := range s.config.Tables {
		schema := chunk.Schema{TableName: tc.Name, Fields: tc.Fields}

		if err := s.checkMetatableConflict(tc.Name, schema); err != nil {
			return err
		}

		chordTransport := client.NewChordClient(tc.Name, s.peers)
		ring := chord.NewNode(self, chordTransport)

		tbl, err := s.manager.RegisterTable(tc.Name, schema, ring)
		if err != nil {
			return fmt.Errorf("registering table %q: %w", tc.Name, err)
		}

		for _, b := range s.config.Bootstrap {
			entryPoint := peer.New(b)
			if err := ring.Join(context.Background(), entryPoint); err != nil {
				Logger.Warningf("table %q: join via %s failed: %v", tc.Name, b, err)
				continue
			}
			// Record the entry-point peer (§4.7 step 2) and announce this
			// process's membership to it (step 4) so it adds self back as
			// a listener for its own future table-membership news.
			tbl.AddListener(entryPoint)
			s.announceMembership(tbl, tc.Name, uuid.Nil, self)
		}

		if len(s.config.Bootstrap) == 0 {
			id := genesisChunkID(tc.Name)
			container := memcontainer.New(1)
			peers := peer.NewSet()

			var coord chunk.Coordinator
			switch tc.Variant {
			case common.VariantLegacy:
				legacyTransport := client.NewLegacyClient(tc.Name, s.peers)
				coord = legacy.New(id, self, peers, legacyTransport, container, legacy.Config{})
			case common.VariantRaft:
				if s.nodeHost == nil {
					return fmt.Errorf("table %q requests the raft variant but no node host was created", tc.Name)
				}
				shardID := shardIDFor(id)
				if err := s.nodeHost.StartConcurrentReplica(
					s.config.ClusterMembers,
					false,
					raft.CreateStateMachineFactory(container, peers),
					s.config.ToDragonboatConfig(shardID),
				); err != nil {
					return fmt.Errorf("starting raft shard for table %q: %w", tc.Name, err)
				}
				coord = raft.New(id, self, s.config.ReplicaID, shardID, s.nodeHost, timeout, container, peers)
			default:
				return fmt.Errorf("table %q: unknown chunk variant %q", tc.Name, tc.Variant)
			}

			tbl.AddChunk(coord)
			ring.AnnouncePossession(id, self)
			Logger.Infof("table %q: rooted genesis chunk %s (%s)", tc.Name, id, tc.Variant)
			s.announceMembership(tbl, tc.Name, id, self)
		}
	}

	Logger.Infof("dmap setup completed successfully")

	s.dispatcher = newTableDispatcher(s.manager, timeout)
	s.registerTransportHandler()

	return nil
}

// Serve starts the RPC server
// This function will also initialize the server plus the tables and start the transport layer
func (s *rpcServer) Serve() error {
	if err := s.init(); err != nil {
		return err
	}
	return s.transport.Listen(s.config)
}

// announceMembership sends addTable step 4 (§4.7) to every peer this
// process currently tracks as a listener for name, telling each that
// self now participates (via chunk, if it names one). Best-effort: a
// listener that fails to answer just misses one membership update.
func (s *rpcServer) announceMembership(tbl *table.Table, name string, chunkID uuid.UUID, self peer.Peer) {
	for _, l := range tbl.Listeners().Ascending() {
		if l.Equal(self) {
			continue
		}
		if resp, err := s.peers.Send(l.Addr, common.NewTableAnnounceRequest(name, chunkID, self)); err != nil || !resp.Ok {
			Logger.Warningf("table %q: announcing membership to %s failed: %v", name, l.Addr, err)
		}
	}
}

// checkMetatableConflict queries every configured bootstrap peer for its
// own locally registered schema for name (addTable's first-definer-wins
// check, §4.7): if a peer already knows name under different schema
// bytes, name is already taken and this process must not register its
// own conflicting definition. A peer that doesn't answer is skipped, not
// treated as a conflict - bootstrap peers are how this process reaches
// the ring at all, so one being briefly unreachable shouldn't block
// startup entirely.
func (s *rpcServer) checkMetatableConflict(name string, schema chunk.Schema) error {
	for _, b := range s.config.Bootstrap {
		resp, err := s.peers.Send(b, common.NewMetatableSchemaRequest(name))
		if err != nil {
			Logger.Warningf("table %q: querying %s for a schema conflict failed: %v", name, b, err)
			continue
		}
		if !resp.Ok {
			continue
		}
		if !bytes.Equal(resp.Record.Payload, schema.Bytes()) {
			return dmaperr.Conflict([]string{name}, "table %q already registered on peer %s with a different schema", name, b)
		}
	}
	return nil
}

// shardIDFor derives dragonboat's uint64 shard namespace from a chunk's
// own 128-bit id - the two namespaces are independent (see
// common.ServerConfig.ToDragonboatConfig's doc comment), so any
// deterministic reduction that every replica agrees on works.
func shardIDFor(id uuid.UUID) uint64 {
	var v uint64
	for _, b := range id {
		v = v<<8 | uint64(b)
	}
	return v
}
