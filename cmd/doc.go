// Package cmd implements dmapd, the command-line interface to dmap's
// peer-to-peer table store. It provides a hierarchical command structure
// for running a peer and inspecting/modifying a table.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a long-running dmap peer hosting a set of tables
//     (dmapd serve).
//   - table: Creates, inserts into, reads from, and dumps a table by
//     booting a short-lived node against it (dmapd table).
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dmapd -help for a list of all commands.
package cmd
