// Package ltime implements the logical time used to order events across
// peers: a monotonically increasing scalar with total order, advanced on
// every local event and merged (Lamport-style) on message receive.
//
// Grounded on the write-index counter in lib/store/lstore (an
// atomic.Uint64 bumped on every local write) generalized to additionally
// merge with a remote peer's clock value on receive, as required for
// Lamport ordering across a swarm.
package ltime
