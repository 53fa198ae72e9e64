// Package server implements the RPC server side of dmap's peer-to-peer
// protocol: one process-wide listener dispatching every wire Message
// (rpc/common.Message) to the table, chunk, or chord ring it names.
//
// The package focuses on:
//   - Table bootstrap: registering each configured table with a
//     lib/tablemgr.Manager, joining its chord ring (or rooting a fresh
//     one), and - on the first process to boot a table with no
//     Bootstrap peers - creating its genesis chunk.
//   - Dispatching incoming messages to lib/chunk/legacy.Coordinator's
//     Handle* methods or a table's lib/chord.Node, based on
//     Message.MsgType and Message.Table/ChunkID.
//   - Optional Raft-backed tables, via a shared dragonboat.NodeHost
//     created only when at least one table uses the Raft variant.
//
// Key Components:
//
//   - Dispatcher: the interface implemented by tableDispatcher, the
//     process's routing logic from wire Message to domain call.
//
//   - NewRPCServer: factory function creating a configured server with
//     the specified transport, serializer, and client dialer (used to
//     reach other peers for chord/legacy-protocol calls).
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Tables: []common.TableConfig{
//	    {Name: "accounts", Variant: common.VariantLegacy, Fields: map[string]string{"balance": "int64"}},
//	  },
//	  Self:          "0.0.0.0:8080",
//	  Endpoint:      "0.0.0.0:8080",
//	  TimeoutSecond: 5,
//	  LogLevel:      "info",
//	}
//
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPServerTransport(64*1024),
//	  serializer.NewBinarySerializer(),
//	  func() transport.IRPCClientTransport { return tcp.NewTCPClientTransport() },
//	)
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Every table configured in ServerConfig.Tables uses one of two chunk
// coordination backends:
//
//   - common.VariantLegacy: the distributed read/write lock + broadcast
//     replication protocol, suitable for any deployment.
//
//   - common.VariantRaft: Raft consensus via dragonboat,
//     providing a single leader-owned write path per chunk. Requires the
//     RTTMillisecond/SnapshotEntries/CompactionOverhead/DataDir/ReplicaID/
//     ClusterMembers fields of ServerConfig to be set.
//
// Thread Safety:
//
//	The server is safe for concurrent use across connections; each
//	dispatched request resolves its own table/chunk independently. Serve
//	should be called exactly once.
package server
