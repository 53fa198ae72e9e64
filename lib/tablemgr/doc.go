// Package tablemgr is the process-wide registry of tables: it bootstraps the distinguished metatable holding every
// table's schema row, enforces first-definer-wins on schema
// registration, and hands out table.Table handles to the rest of the
// process.
//
// Grounded on rpc/server/server.go's `rpcServer.shards
// *xsync.MapOf[uint64, serverShard]` registry-of-shards pattern,
// generalized to a registry-of-tables. That shard map needs no lock
// hierarchy beyond xsync's own internal sharding; this registry adds the
// explicit tables_registry -> active_chunks -> chord_index lock ordering,
// since a table registration touches the metatable's own chunk state while
// readers walk the table map.
package tablemgr
