// Command ledgersync keeps a device's ledger in sync with a shared folder
// mirrored by a cloud-file provider.
package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/pocketledger/ledgersync/internal/config"
	"github.com/pocketledger/ledgersync/internal/ledger/replica"
	"github.com/pocketledger/ledgersync/internal/ledger/store"
	ledgersync "github.com/pocketledger/ledgersync/internal/ledger/sync"
	"github.com/pocketledger/ledgersync/internal/logging"
	"github.com/pocketledger/ledgersync/internal/ui"
)

var (
	configPath string
	replicaDir string
	dbPath     string
	strategy   string
	verbose    bool
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "ledgersync",
	Short: "Sync a shared ledger between devices",
	Long: `ledgersync merges this device's ledger with a shared folder of monthly
partition files (transactions_YYYY-MM.csv) that a cloud-file provider mirrors
between devices.

Conflicting edits are resolved per record by a configurable strategy, and
alternate copies left by the provider are collapsed automatically.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			ui.DisableColor()
		} else {
			ui.ConfigureColor(os.Stdout)
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "ledger", Title: "Ledger:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default: "+config.FileName+" in the config dir)")
	flags.StringVar(&replicaDir, "replica", "", "shared folder holding partition files")
	flags.StringVar(&dbPath, "db", "", "local ledger database")
	flags.StringVar(&strategy, "strategy", "", "conflict strategy (keep-local, keep-remote, keep-both, keep-newest)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log to stderr")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if replicaDir != "" {
		cfg.Ledger.Replica = replicaDir
	}
	if dbPath != "" {
		cfg.Ledger.Database = dbPath
	}
	if strategy != "" {
		cfg.Sync.Strategy = strategy
	}
	if verbose {
		cfg.Log.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ledger bundles everything a command needs to work on one ledger.
type ledger struct {
	cfg      *config.Config
	logs     *logging.Logs
	db       *store.DB
	folder   *replica.Folder
	orch     *ledgersync.Orchestrator
	registry *prometheus.Registry
}

// openLedger opens the local store and the replica folder.
func openLedger() (*ledger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Ledger.Replica == "" {
		return nil, fmt.Errorf("no replica folder configured (use --replica or set ledger.replica)")
	}

	logs := openLogs(cfg)

	db, err := store.Open(cfg.Ledger.Database)
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.InitSchema(); err != nil {
		db.Close()
		logs.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	folder, err := replica.NewFolder(afero.NewOsFs(), cfg.Ledger.Replica, &replica.Config{
		Download: cfg.DownloadPolicy(),
		Logger:   logs.Logger("replica"),
	})
	if err != nil {
		db.Close()
		logs.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	orch := ledgersync.New(db, db, folder, &ledgersync.Config{
		Strategy:        cfg.Strategy(),
		Tolerance:       cfg.Sync.Tolerance,
		ReadConcurrency: cfg.Sync.ReadConcurrency,
		LockPath:        cfg.LockPath(),
		Logger:          logs.Logger("sync"),
		Metrics:         ledgersync.NewMetrics(registry),
	})

	return &ledger{
		cfg:      cfg,
		logs:     logs,
		db:       db,
		folder:   folder,
		orch:     orch,
		registry: registry,
	}, nil
}

// openLogs keeps CLI output clean: component logs go to the configured file,
// to stderr with --verbose, or nowhere.
func openLogs(cfg *config.Config) *logging.Logs {
	if cfg.Log.File == "" && !cfg.Log.Verbose {
		return logging.Discard()
	}
	return logging.Open(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Verbose:    cfg.Log.Verbose,
	})
}

func (l *ledger) Close() {
	_ = l.db.Close()
	_ = l.logs.Close()
}

// mustOpenLedger opens the ledger or exits.
func mustOpenLedger() *ledger {
	l, err := openLedger()
	if err != nil {
		fatalf("%v", err)
	}
	return l
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, ui.Fail(fmt.Sprintf(format, args...)))
	os.Exit(1)
}
