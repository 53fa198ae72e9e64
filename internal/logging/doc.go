// Package logging provides the level-filtered logger used across every
// component (chunk coordination, chord index, transactions, table manager).
//
// Grounded on rpc/common/logger.go's dKVLogger: a named, level-filtered
// wrapper around the standard library's log.Logger implementing
// dragonboat/v4/logger.ILogger so the same logger can also back dragonboat
// itself in the Raft chunk variant.
package logging
