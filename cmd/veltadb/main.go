package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/veltadb/pkg/config"
	"github.com/cuemby/veltadb/pkg/logging"
	"github.com/cuemby/veltadb/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "veltadb",
	Short:   "veltadb - an embedded, single-writer transactional row store",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"veltadb version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "./veltadb-data", "Datastore data directory")
	rootCmd.PersistentFlags().String("config", "", "Path to a config.yaml (overrides --data-dir and defaults)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(inspectCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	logging.Init(logging.Config{
		Level:      logging.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// loadConfig resolves --config if given, otherwise --data-dir with
// spec-default tuning.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		return config.Load(configPath)
	}
	dataDir, _ := cmd.Flags().GetString("data-dir")
	cfg := config.Default(dataDir)
	return cfg, cfg.Validate()
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open the datastore and serve metrics/health endpoints until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ds, err := openDatastore(cfg)
		if err != nil {
			return fmt.Errorf("failed to open datastore: %w", err)
		}
		defer ds.Close()

		metrics.SetVersion(Version)
		metrics.RegisterComponent("commitlog", true, "ready")
		metrics.RegisterComponent("blobstore", true, "ready")
		metrics.RegisterComponent("catalog", true, "ready")

		collector := metrics.NewCollector(ds, 15*time.Second)
		collector.Start()
		defer collector.Stop()

		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())

		errCh := make(chan error, 1)
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()

		logging.Logger.Info().Str("data_dir", cfg.DataDir).Str("metrics_addr", metricsAddr).Msg("veltadb serving")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			logging.Logger.Info().Msg("shutting down")
		case err := <-errCh:
			logging.Logger.Error().Err(err).Msg("serve failed")
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the metrics/health HTTP server")
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage point-in-time snapshots",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Open the datastore and take a snapshot of its current committed state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ds, err := openDatastore(cfg)
		if err != nil {
			return fmt.Errorf("failed to open datastore: %w", err)
		}
		defer ds.Close()

		dir, err := ds.SnapshotNow()
		if err != nil {
			return fmt.Errorf("snapshot failed: %w", err)
		}
		fmt.Printf("snapshot created at %s\n", dir)
		return nil
	},
}

var snapshotVerifyCmd = &cobra.Command{
	Use:   "verify DIR",
	Short: "Verify a snapshot directory's manifest against its stored objects",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := verifySnapshot(args[0]); err != nil {
			return fmt.Errorf("snapshot is invalid: %w", err)
		}
		fmt.Println("snapshot OK")
		return nil
	},
}

var snapshotSyncCmd = &cobra.Command{
	Use:   "sync DEST_ROOT SRC_DIR",
	Short: "Hardlink a snapshot into another snapshot root for replication or backup",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dstDir, err := syncSnapshot(args[0], args[1])
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		fmt.Printf("synced to %s\n", dstDir)
		return nil
	},
}

var snapshotLatestCmd = &cobra.Command{
	Use:   "latest ROOT",
	Short: "Print the most recent valid snapshot under a root directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, offset, err := latestSnapshot(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s\ttx_offset=%d\n", dir, offset)
		return nil
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCmd.AddCommand(snapshotVerifyCmd)
	snapshotCmd.AddCommand(snapshotSyncCmd)
	snapshotCmd.AddCommand(snapshotLatestCmd)
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Inspect an on-disk datastore's tables and commit log",
}

var inspectTablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List tables registered in the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		tables, err := listCatalogTables(cfg)
		if err != nil {
			return err
		}
		if len(tables) == 0 {
			fmt.Println("no tables")
			return nil
		}
		fmt.Printf("%-6s %-24s %-8s %-8s\n", "ID", "NAME", "COLS", "INDEXES")
		for _, t := range tables {
			fmt.Printf("%-6d %-24s %-8d %-8d\n", t.ID, t.Name, len(t.Columns), len(t.Indexes))
		}
		return nil
	},
}

var inspectTableCmd = &cobra.Command{
	Use:   "table NAME",
	Short: "Show one table's schema by name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ds, err := openDatastore(cfg)
		if err != nil {
			return fmt.Errorf("failed to open datastore: %w", err)
		}
		defer ds.Close()

		schema, err := ds.TableByName(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("table %q (id=%d)\n", schema.Name, schema.ID)
		for _, col := range schema.Columns {
			fmt.Printf("  column %-20s %s\n", col.Name, col.Type.Kind)
		}
		for _, idx := range schema.Indexes {
			fmt.Printf("  index  %-20s unique=%v columns=%v\n", idx.Name, idx.Unique, idx.Columns)
		}
		return nil
	},
}

var inspectLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Print commit log records from a given offset",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		fromOffset, _ := cmd.Flags().GetUint64("from")
		return dumpCommitLog(cfg, fromOffset)
	},
}

func init() {
	inspectCmd.AddCommand(inspectTablesCmd)
	inspectCmd.AddCommand(inspectTableCmd)
	inspectCmd.AddCommand(inspectLogCmd)
	inspectLogCmd.Flags().Uint64("from", 0, "Starting commit offset")
}
