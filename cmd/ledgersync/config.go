package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pocketledger/ledgersync/internal/config"
	"github.com/pocketledger/ledgersync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage ledgersync configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the defaults",
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		path := configPath
		if path == "" {
			path = filepath.Join(config.Dir(), config.FileName)
		}

		cfg := config.Default()
		if replicaDir != "" {
			cfg.Ledger.Replica = replicaDir
		}
		if dbPath != "" {
			cfg.Ledger.Database = dbPath
		}
		if strategy != "" {
			cfg.Sync.Strategy = strategy
		}
		if err := cfg.Validate(); err != nil {
			fatalf("%v", err)
		}

		if err := cfg.WriteFile(path, force); err != nil {
			fatalf("%v", err)
		}
		fmt.Println(ui.Pass("Wrote " + path))
		if cfg.Ledger.Replica == "" {
			fmt.Println(ui.Warn("Set ledger.replica to your shared folder before syncing"))
		}
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		source := cfg.Path()
		if source == "" {
			source = "defaults"
		}
		fmt.Println(ui.RenderMuted("# source: " + source))
		if err := cfg.Encode(os.Stdout); err != nil {
			fatalf("%v", err)
		}
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
