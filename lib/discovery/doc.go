// Package discovery implements peer discovery via a shared, file-based
// address list: a flat file of "host:port" lines. A peer
// appends its own address on startup and removes it on clean shutdown;
// readers and writers take a file lock before touching the file.
//
// Grounded on spacemeshos-go-spacemesh's node/node.go, which guards its
// single-instance data directory with github.com/gofrs/flock
// (flock.New(path).TryLock()). discovery generalizes that single
// exclusive lock into shared-for-read / exclusive-for-write since several
// peers read the list concurrently while only the owner of a line writes.
package discovery
