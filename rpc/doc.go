// Package rpc provides the peer-to-peer communication layer dmap's nodes
// use to run the legacy lock/replication protocol, the chord index
// protocol, and table bootstrap across network boundaries.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message envelope and
//     configuration structures.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets, HTTP).
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Message objects and byte arrays.
//
//   - client: Per-peer RPC clients implementing lib/chunk/legacy.Transport
//     and lib/chord.Transport, allowing a process to reach any peer its
//     chunks or chord rings name.
//
//   - server: The RPC server dispatching incoming messages to the right
//     table's chunk.Coordinator or chord.Node.
package rpc
