// Package chunk defines the contract shared by both chunk coordination
// strategies: the set
// of operations a table driver needs regardless of which strategy backs
// a given chunk. lib/chunk/legacy and lib/chunk/raft each implement
// Coordinator.
//
// Grounded on lib/lockmgr.ILockManager / lib/store.IStore's split: a
// narrow capability interface that hides two very different
// acquire/replicate implementations behind one call surface used by
// rpc/server's dispatch and lib/txn's transaction layer.
package chunk
