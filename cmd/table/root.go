package table

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/google/uuid"

	cmdUtil "github.com/dmap-io/dmap/cmd/util"
	"github.com/dmap-io/dmap/internal/ltime"
	"github.com/dmap-io/dmap/lib/chord"
	"github.com/dmap-io/dmap/lib/chunk"
	"github.com/dmap-io/dmap/lib/chunk/legacy"
	"github.com/dmap-io/dmap/lib/peer"
	"github.com/dmap-io/dmap/lib/record"
	"github.com/dmap-io/dmap/lib/record/memcontainer"
	dmaptable "github.com/dmap-io/dmap/lib/table"
	"github.com/dmap-io/dmap/lib/tablemgr"
	"github.com/dmap-io/dmap/lib/txn"
	"github.com/dmap-io/dmap/rpc/client"
)

var (
	// TableCommands is the table command group. Each subcommand boots an
	// ephemeral dmap node for one table (no listener of its own: other
	// peers reach this process only if it stays running, which the CLI
	// doesn't do) and either roots a fresh genesis chunk or joins an
	// existing ring via --bootstrap, mirroring cmd/serve's own table
	// bootstrap in miniature.
	TableCommands = &cobra.Command{
		Use:               "table",
		Short:             "Inspect and modify a dmap table",
		PersistentPreRunE: setupTableClient,
	}

	tbl *dmaptable.Table

	createCmd = &cobra.Command{
		Use:   "create [name]",
		Short: "Root a fresh table with a genesis chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("table %q rooted with one %s chunk\n", args[0], viper.GetString("variant"))
			return nil
		},
	}

	insertCmd = &cobra.Command{
		Use:   "insert [name] [payload]",
		Short: "Insert a new record into a table",
		Args:  cobra.ExactArgs(2),
		RunE:  runInsert,
	}

	getCmd = &cobra.Command{
		Use:   "get [name] [id]",
		Short: "Read a record by id",
		Args:  cobra.ExactArgs(2),
		RunE:  runGet,
	}

	dumpCmd = &cobra.Command{
		Use:   "dump [name]",
		Short: "List every live record in a table's locally active chunks",
		Args:  cobra.ExactArgs(1),
		RunE:  runDump,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitClientConfig)

	cmdUtil.SetupRPCClientFlags(TableCommands)

	key := "self"
	TableCommands.PersistentFlags().String(key, "0.0.0.0:0", cmdUtil.WrapString("This CLI invocation's own ephemeral peer address"))

	key = "bootstrap"
	TableCommands.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated list of known peer addresses to join the table's ring through. Empty roots a fresh genesis chunk"))

	key = "variant"
	TableCommands.PersistentFlags().String(key, "legacy", cmdUtil.WrapString("Chunk coordination backend for a freshly rooted genesis chunk (legacy, raft - raft is not supported from this CLI)"))

	key = "schema"
	TableCommands.PersistentFlags().String(key, "", cmdUtil.WrapString("Schema for a freshly rooted table. Format: field=type,field2=type2"))

	TableCommands.AddCommand(createCmd)
	TableCommands.AddCommand(insertCmd)
	TableCommands.AddCommand(getCmd)
	TableCommands.AddCommand(dumpCmd)
}

// genesisChunkID mirrors rpc/server.genesisChunkID: every process that
// roots table name from scratch converges on the same chunk id.
func genesisChunkID(name string) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte("dmap-genesis-chunk:"+name))
}

// setupTableClient boots the ephemeral node each table subcommand
// operates against: a chord ring for the named table, joined via
// --bootstrap or rooted fresh, with a genesis chunk created locally when
// rooting fresh so single-node use (the common CLI case) has something
// to read and write immediately.
func setupTableClient(cmd *cobra.Command, args []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	name := args[0]

	self := peer.New(viper.GetString("self"))

	dial, err := cmdUtil.GetDialer()
	if err != nil {
		return err
	}
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}
	clientCfg := cmdUtil.GetClientConfig()
	peers := client.NewPeers(dial, *clientCfg, s)

	chordTransport := client.NewChordClient(name, peers)
	ring := chord.NewNode(self, chordTransport)

	fields := make(map[string]string)
	for _, fieldSpec := range strings.Split(viper.GetString("schema"), ",") {
		if fieldSpec == "" {
			continue
		}
		kv := strings.SplitN(fieldSpec, "=", 2)
		if len(kv) != 2 {
			return fmt.Errorf("invalid schema field %q (expected field=type)", fieldSpec)
		}
		fields[kv[0]] = kv[1]
	}
	schema := chunk.Schema{TableName: name, Fields: fields}

	manager := tablemgr.NewManager()
	tbl, err = manager.RegisterTable(name, schema, ring)
	if err != nil {
		return err
	}

	bootstrap := viper.GetString("bootstrap")
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(clientCfg.TimeoutSecond)*time.Second)
	defer cancel()

	if bootstrap != "" {
		for _, b := range strings.Split(bootstrap, ",") {
			if err := ring.Join(ctx, peer.New(b)); err != nil {
				return fmt.Errorf("join via %s: %w", b, err)
			}
		}
		return nil
	}

	if variant := viper.GetString("variant"); variant != "legacy" {
		return fmt.Errorf("variant %q is not supported from this CLI (only legacy)", variant)
	}
	id := genesisChunkID(name)
	legacyTransport := client.NewLegacyClient(name, peers)
	coord := legacy.New(id, self, peer.NewSet(), legacyTransport, memcontainer.New(1), legacy.Config{})
	tbl.AddChunk(coord)
	ring.AnnouncePossession(id, self)

	return nil
}

func runInsert(_ *cobra.Command, args []string) error {
	name, payload := args[0], args[1]
	ctx := context.Background()

	schema := tbl.Schema()
	t := txn.NewNetTableTxn(tbl, schema, ltime.Zero)

	chunks := tbl.Chunks()
	if len(chunks) == 0 {
		return fmt.Errorf("table %q has no active chunk on this node", name)
	}

	rec := record.Record{
		ID:      record.NewID(),
		ChunkID: chunks[0],
		Payload: []byte(payload),
	}
	if err := t.Insert(ctx, rec); err != nil {
		return err
	}
	if err := t.Commit(ctx); err != nil {
		return err
	}
	fmt.Printf("inserted id=%s\n", rec.ID)
	return nil
}

func runGet(_ *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[1])
	if err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}

	ctx := context.Background()
	schema := tbl.Schema()
	t := txn.NewNetTableTxn(tbl, schema, ltime.Zero)

	rec, ok, err := t.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Printf("id=%s not found\n", id)
		return nil
	}
	fmt.Printf("id=%s payload=%s\n", rec.ID, rec.Payload)
	return nil
}

func runDump(_ *cobra.Command, args []string) error {
	name := args[0]
	for _, chunkID := range tbl.Chunks() {
		c, ok := tbl.Chunk(chunkID)
		if !ok {
			continue
		}
		for _, rec := range c.Container().Dump(c.LatestCommitTime()) {
			fmt.Printf("table=%s chunk=%s id=%s payload=%s\n", name, chunkID, rec.ID, rec.Payload)
		}
	}
	return nil
}
