package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	cmdUtil "github.com/dmap-io/dmap/cmd/util"
	"github.com/dmap-io/dmap/lib/db/util"
	"github.com/dmap-io/dmap/lib/discovery"
	"github.com/dmap-io/dmap/lib/peer"
	"github.com/dmap-io/dmap/rpc/common"
	"github.com/dmap-io/dmap/rpc/serializer"
	"github.com/dmap-io/dmap/rpc/server"
	"github.com/dmap-io/dmap/rpc/transport"
	"github.com/dmap-io/dmap/rpc/transport/http"
	"github.com/dmap-io/dmap/rpc/transport/tcp"
	"github.com/dmap-io/dmap/rpc/transport/unix"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a dmap peer",
		Long:    `Start a dmap peer hosting the given tables and join any given bootstrap peers. The configuration can be set via command line flags or environment variables. The format of the environment variables is DMAP_<flag> (e.g. DMAP_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	key := "tables"
	ServeCmd.PersistentFlags().String(key, "default=legacy", cmdUtil.WrapString("Comma-separated list of tables to host. Format: NAME=VARIANT where VARIANT is one of: legacy, raft"))

	key = "schema"
	ServeCmd.PersistentFlags().StringArray(key, nil, cmdUtil.WrapString("Schema for a table, repeatable. Format: NAME:field=type,field2=type2"))

	key = "self"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("This peer's own address, as advertised to other peers (host:port)"))

	key = "bootstrap"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of known peer addresses to join existing chord rings through. Empty means this peer roots a fresh ring for every table in --tables"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("(raft tables only) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. \nOther raft configuration parameters (ElectionRTT=10 x value, HeartbeatRTT=1 x value) are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 10, cmdUtil.WrapString("(raft tables only) SnapshotEntries defines how often the state machine should be snapshotted automatically. It is defined in terms of the number of applied Raft log entries. SnapshotEntries can be set to 0 to disable such automatic snapshotting (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 5, cmdUtil.WrapString("(raft tables only) CompactionOverhead defines the number of snapshots that should be retained in the system. When a new snapshot is generated, the system will attempt to remove older snapshots that go beyond the specified number of retained snapshots. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("(raft tables only) DataDir is the directory used for storing the snapshots"))

	key = "replica-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(raft tables only) ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(raft tables only) ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds for RPC round trips and Raft proposals"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which this peer's RPC transport will listen (e.g. localhost:8080, /tmp/dmap.sock, ...)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "discovery-file"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Path to a shared peer-address-list file: this peer announces itself on startup and removes itself on clean shutdown. Empty disables discovery"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	schemas, err := parseSchemas(viper.GetStringSlice("schema"))
	if err != nil {
		return err
	}

	tablesConfig := viper.GetString("tables")
	serveCmdConfig.Tables = nil
	for _, tableConfig := range strings.Split(tablesConfig, ",") {
		parts := strings.Split(tableConfig, "=")
		if len(parts) != 2 {
			return fmt.Errorf("invalid table format: %s (expected NAME=VARIANT)", tableConfig)
		}

		name := strings.TrimSpace(parts[0])
		variant := common.ChunkVariant(strings.TrimSpace(parts[1]))
		if variant != common.VariantLegacy && variant != common.VariantRaft {
			return fmt.Errorf("invalid table variant %q for table %q (expected legacy or raft)", parts[1], name)
		}

		serveCmdConfig.Tables = append(serveCmdConfig.Tables, common.TableConfig{
			Name:    name,
			Variant: variant,
			Fields:  schemas[name],
		})
	}

	serveCmdConfig.Self = viper.GetString("self")
	if bootstrap := viper.GetString("bootstrap"); bootstrap != "" {
		serveCmdConfig.Bootstrap = strings.Split(bootstrap, ",")
	} else {
		serveCmdConfig.Bootstrap = nil
	}

	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.DiscoveryFile = viper.GetString("discovery-file")

	// parse replica id
	if id := viper.GetString("replica-id"); id != "" {
		serveCmdConfig.ReplicaID = uint64(util.HashString(id, 0))
	} else if serveCmdConfig.HasRaftTable() {
		// error only if at least one table uses the raft variant
		return fmt.Errorf("replica-id is required when a table uses the raft variant")
	}

	// parse cluster members
	if clusterMembers := viper.GetString("cluster-members"); clusterMembers != "" {
		serveCmdConfig.ClusterMembers = make(map[uint64]string)
		for _, member := range strings.Split(clusterMembers, ",") {
			parts := strings.Split(member, "=")
			if len(parts) != 2 {
				return fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
			}
			idHash := util.HashString(parts[0], 0)
			serveCmdConfig.ClusterMembers[uint64(idHash)] = parts[1]
		}
	} else if serveCmdConfig.HasRaftTable() {
		return fmt.Errorf("cluster-members is required when a table uses the raft variant")
	}

	if _, ok := serveCmdConfig.ClusterMembers[serveCmdConfig.ReplicaID]; !ok && serveCmdConfig.HasRaftTable() {
		return fmt.Errorf("no address found for replica ID %d in cluster members", serveCmdConfig.ReplicaID)
	}

	return nil
}

// parseSchemas turns a repeated --schema NAME:field=type,field2=type2 flag
// into a table-name-keyed map of field->type maps.
func parseSchemas(raw []string) (map[string]map[string]string, error) {
	out := make(map[string]map[string]string)
	for _, entry := range raw {
		nameAndFields := strings.SplitN(entry, ":", 2)
		if len(nameAndFields) != 2 {
			return nil, fmt.Errorf("invalid schema format: %s (expected NAME:field=type,...)", entry)
		}
		name := strings.TrimSpace(nameAndFields[0])
		fields := make(map[string]string)
		for _, fieldSpec := range strings.Split(nameAndFields[1], ",") {
			kv := strings.SplitN(fieldSpec, "=", 2)
			if len(kv) != 2 {
				return nil, fmt.Errorf("invalid schema field %q for table %q (expected field=type)", fieldSpec, name)
			}
			fields[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
		out[name] = fields
	}
	return out, nil
}

// run starts the dmap peer
func run(_ *cobra.Command, _ []string) error {
	// parse the serializer
	var s serializer.IRPCSerializer
	switch viper.GetString("serializer") {
	case "json":
		s = serializer.NewJSONSerializer()
	case "gob":
		s = serializer.NewGOBSerializer()
	case "binary":
		s = serializer.NewBinarySerializer()
	default:
		return fmt.Errorf("invalid serializer %s", viper.GetString("serializer"))
	}

	// Parse the server transport
	var t transport.IRPCServerTransport
	switch viper.GetString("transport") {
	case "http":
		t = http.NewHttpServerTransport()
	case "tcp":
		t = tcp.NewTCPServerTransport(64 * 1024)
	case "unix":
		t = unix.NewUnixServerTransport(64 * 1024)
	default:
		return fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}

	// The client dialer used to reach other peers (chord/legacy-protocol
	// calls) is built from the same --transport flag as the listener.
	dialer, err := cmdUtil.GetDialer()
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(
		*serveCmdConfig,
		t,
		s,
		dialer,
	)

	if serveCmdConfig.DiscoveryFile != "" {
		self := peer.New(serveCmdConfig.Self)
		disc := discovery.New(serveCmdConfig.DiscoveryFile)
		ctx := context.Background()

		if err := disc.Announce(ctx, self); err != nil {
			return fmt.Errorf("announcing to discovery file %q: %w", serveCmdConfig.DiscoveryFile, err)
		}

		// serv.Serve() below blocks for the process's lifetime; a clean
		// shutdown (spec.md §6) removes self from the discovery file
		// before the process actually exits.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			if err := disc.Leave(ctx, self); err != nil {
				fmt.Fprintf(os.Stderr, "leaving discovery file %q: %v\n", serveCmdConfig.DiscoveryFile, err)
			}
			os.Exit(0)
		}()
	}

	return serv.Serve()
}

// initConfig reads in serveCmdConfig file and ENV variables if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dmap")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}
