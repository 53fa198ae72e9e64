// Package table holds one table's process-local state: its schema, the
// set of chunk coordinators currently active on this process, its
// chord ring handle for locating chunks this process doesn't hold, and
// the set of peers subscribed to its change notifications.
//
// Grounded on rpc/server/server.go's `serverShard` struct (store +
// adapter, one entry per registered shard) generalized from one KV shard
// to one table's full active-chunk set, chord handle, and listener set.
package table
