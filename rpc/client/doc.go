// Package client implements the RPC clients dmap's domain packages use to
// talk to remote peers: LegacyClient implements lib/chunk/legacy.Transport
// and ChordClient implements lib/chord.Transport, both over the module's
// pluggable transport and serializer layers.
//
// The package focuses on:
//   - Per-peer-address connections, opened lazily and cached (Peers),
//     since a chunk's replica set and a ring's membership both change at
//     runtime rather than being fixed at startup.
//   - Integration with the transport and serializer layers.
//   - Error handling and conversion between RPC and domain errors
//     (rpc/common.ErrFromMessage).
//
// Key Components:
//
//   - Peers: a connection cache keyed by peer address.
//   - LegacyClient / NewLegacyClient: one instance per table, implementing
//     lib/chunk/legacy.Transport.
//   - ChordClient / NewChordClient: one instance per table, implementing
//     lib/chord.Transport.
//
// Usage Example:
//
//	peers := client.NewPeers(
//	  func() transport.IRPCClientTransport { return tcp.NewTCPClientTransport() },
//	  common.ClientConfig{TimeoutSecond: 5, RetryCount: 3},
//	  serializer.NewBinarySerializer(),
//	)
//	legacyTransport := client.NewLegacyClient("accounts", peers)
//	chordTransport := client.NewChordClient("accounts", peers)
//
// Thread Safety:
//
//	Peers and both client types are safe for concurrent use by multiple
//	goroutines, matching lib/chunk/legacy.Coordinator and lib/chord.Node's
//	own concurrency expectations of their Transport.
package client
