// Package table implements dmapd table, grounded on cmd/kv/commands.go's
// command-group shape but pointed at lib/txn's NetTableTxn instead of a
// flat key-value store:
//
//	dmapd table create [name]            roots a fresh genesis chunk
//	dmapd table insert [name] [payload]  inserts a new record
//	dmapd table get [name] [id]          reads a record by id
//	dmapd table dump [name]              lists every live record
//
// Every subcommand boots the same way: join the table's chord ring via
// --bootstrap, or - if --bootstrap is empty - root a fresh genesis chunk
// locally (same derivation as rpc/server's table bootstrap), then operate
// against it through lib/table.Table's txn.Router implementation. This
// keeps the CLI scoped to a single node's locally active chunks; reaching
// a chunk this invocation hasn't joined requires dmapd serve's full
// dispatcher instead.
package table
