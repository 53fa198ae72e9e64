// Package util provides small standalone helpers shared by dmap's command
// layer. Today that's HashString, the FNV-1a hash cmd/serve uses to turn a
// --replica-id string into the uint64 node id raft's NodeHost wants.
package util
