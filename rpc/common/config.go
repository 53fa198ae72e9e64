package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (for Raft-backed tables)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to a per-shard Dragonboat
// Config. shardID is the uint64 dragonboat assigns a Raft-backed chunk,
// derived from the chunk's own record.ChunkID by the table-bootstrap code
// (rpc/server's shardIDFor) - dragonboat's shard ids and dmap's own chunk ids are
// independent namespaces.
func (c *ServerConfig) ToDragonboatConfig(shardId uint64) config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            shardId,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat.
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ChunkVariant selects which of lib/chunk's two coordination backends a
// table's chunks use.
type ChunkVariant string

const (
	VariantLegacy ChunkVariant = "legacy"
	VariantRaft   ChunkVariant = "raft"
)

// TableConfig describes one table this process participates in.
type TableConfig struct {
	// Name is the table's identity in the metatable.
	Name string
	// Variant selects the chunk coordination backend new chunks of this
	// table use.
	Variant ChunkVariant
	// Fields is the table's schema (field name -> declared type name).
	Fields map[string]string
}

// ServerShard names one table this process hosts, for the summary view
// rendered by ServerConfig.String().
type ServerShard struct {
	Name    string
	Variant ChunkVariant
}

// ServerConfig holds all configuration for one dmap process: which
// tables it participates in, how it joins the swarm, and (only needed
// when a table uses the Raft variant) the dragonboat cluster parameters.
type ServerConfig struct {
	// Tables this process registers with its tablemgr.Manager on boot.
	Tables []TableConfig

	// Self is this process's own peer address (host:port), used both as
	// the legacy protocol's and the chord ring's identity.
	Self string
	// Bootstrap lists known peer addresses to join existing chord rings
	// through. Empty means this process starts the first node of a
	// fresh ring for every table in Tables.
	Bootstrap []string

	// Dragonboat parameters, used only by tables with Variant == VariantRaft.
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string

	// TimeoutSecond bounds both RPC round trips and Raft proposals.
	TimeoutSecond int64

	// Endpoint is the address this process's RPC transport listens on.
	Endpoint string

	// LogLevel configures every component logger (internal/logging) and,
	// transitively, dragonboat's own loggers.
	LogLevel string

	// DiscoveryFile is the shared peer-address-list file (lib/discovery)
	// this process announces itself into on startup and removes itself
	// from on clean shutdown. Empty disables discovery entirely.
	DiscoveryFile string
}

// HasRaftTable reports whether any configured table uses the Raft variant,
// i.e. whether a dragonboat.NodeHost needs to be created at all.
func (c *ServerConfig) HasRaftTable() bool {
	for _, t := range c.Tables {
		if t.Variant == VariantRaft {
			return true
		}
	}
	return false
}

// Shards renders Tables as the ServerShard summary used by String().
func (c *ServerConfig) Shards() []ServerShard {
	out := make([]ServerShard, 0, len(c.Tables))
	for _, t := range c.Tables {
		out = append(out, ServerShard{Name: t.Name, Variant: t.Variant})
	}
	return out
}

// String returns a formatted string representation of the configuration.
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Self", c.Self)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	addSection("Tables")
	for _, t := range c.Tables {
		addField(t.Name, string(t.Variant))
	}

	if len(c.Bootstrap) > 0 {
		addSection("Bootstrap Peers")
		for i, b := range c.Bootstrap {
			addField(strconv.Itoa(i), b)
		}
	}

	if c.DiscoveryFile != "" {
		addSection("Discovery")
		addField("File", c.DiscoveryFile)
	}

	if c.HasRaftTable() {
		addSection("Node Identity")
		addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
		addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))

		addSection("RAFT Parameters")
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Check Quorum", "true")
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))

		addSection("Storage")
		addField("Data Directory", c.DataDir)

		addSection("Cluster Members")
		var keys []uint64
		for k := range c.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig configures one peer-to-peer connection. rpc/client.Peers
// connects one ClientConfig per distinct target address on demand,
// overriding Endpoints with that single address - Endpoints is plural
// only because it is shared with transport.IRPCClientTransport.Connect's
// pool-of-endpoints shape.
type ClientConfig struct {
	Endpoints              []string
	TimeoutSecond          int
	RetryCount             int
	ConnectionsPerEndpoint int
}

// String returns a formatted string representation of the client configuration.
func (c *ClientConfig) String() string {
	var sb strings.Builder
	sb.WriteString("\nCLIENT CONFIGURATION\n")
	sb.WriteString(fmt.Sprintf("  %-22s: %d sec\n", "Timeout", c.TimeoutSecond))
	sb.WriteString(fmt.Sprintf("  %-22s: %d\n", "Retry Count", c.RetryCount))
	sb.WriteString(fmt.Sprintf("  %-22s: %d\n", "Connections Per Peer", max(1, c.ConnectionsPerEndpoint)))
	for i, e := range c.Endpoints {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", fmt.Sprintf("Endpoint %d", i), e))
	}
	return sb.String()
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
