package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/pocketledger/ledgersync/internal/ledger/loadtest"
	"github.com/pocketledger/ledgersync/internal/ledger/merge"
	"github.com/pocketledger/ledgersync/internal/logging"
	"github.com/pocketledger/ledgersync/internal/ui"
)

var simulateCmd = &cobra.Command{
	Use:     "simulate",
	GroupID: "sync",
	Short:   "Simulate several devices sharing one folder",
	Long: `Run a fleet of simulated devices, each with its own store, recording and
editing transactions concurrently in an in-memory shared folder, then sync
them in rounds until every ledger is identical.

Nothing touches your ledger or replica folder.

Examples:
  ledgersync simulate
  ledgersync simulate --devices 5 --transactions 200 --strategy keep-both`,
	Run: func(cmd *cobra.Command, args []string) {
		opts := loadtest.DefaultOptions()
		opts.Devices, _ = cmd.Flags().GetInt("devices")
		opts.TransactionsPerDevice, _ = cmd.Flags().GetInt("transactions")
		opts.EditPct, _ = cmd.Flags().GetFloat64("edit-pct")
		opts.SyncEvery, _ = cmd.Flags().GetInt("sync-every")
		opts.Months, _ = cmd.Flags().GetInt("months")
		opts.Seed, _ = cmd.Flags().GetInt64("seed")
		if strategy != "" {
			s, err := merge.ParseStrategy(strategy)
			if err != nil {
				fatalf("%v", err)
			}
			opts.Strategy = s
		}
		if verbose {
			logs := logging.Open(logging.Options{Verbose: true})
			defer logs.Close()
			opts.Logger = logs.Logger("simulate")
		}

		dir, err := os.MkdirTemp("", "ledgersync-simulate-")
		if err != nil {
			fatalf("failed to create temp dir: %v", err)
		}
		defer os.RemoveAll(dir)

		fleet, err := loadtest.NewFleet(dir, afero.NewMemMapFs(), "/shared", opts)
		if err != nil {
			fatalf("%v", err)
		}
		defer fleet.Close()

		ctx := context.Background()
		start := time.Now()
		result, err := fleet.Run(ctx)
		if err != nil {
			fatalf("simulation failed: %v", err)
		}

		fmt.Println(ui.KeyValues([][2]string{
			{"Devices", fmt.Sprint(opts.Devices)},
			{"Recorded", fmt.Sprint(result.Recorded)},
			{"Edited", fmt.Sprint(result.Edited)},
			{"Appends", fmt.Sprint(result.Appends)},
			{"Rounds", fmt.Sprint(result.Rounds)},
			{"Elapsed", time.Since(start).Round(time.Millisecond).String()},
		}))
		fmt.Println(result.Syncs.String())

		if err := fleet.Verify(ctx); err != nil {
			fatalf("devices diverged: %v", err)
		}
		fmt.Println(ui.Pass("All devices converged"))
	},
}

func init() {
	defaults := loadtest.DefaultOptions()
	simulateCmd.Flags().Int("devices", defaults.Devices, "number of devices")
	simulateCmd.Flags().Int("transactions", defaults.TransactionsPerDevice, "transactions recorded per device")
	simulateCmd.Flags().Float64("edit-pct", defaults.EditPct, "share of its own transactions each device edits (0..1)")
	simulateCmd.Flags().Int("sync-every", defaults.SyncEvery, "full sync after this many writes (0: only at the end)")
	simulateCmd.Flags().Int("months", defaults.Months, "months the business dates spread over")
	simulateCmd.Flags().Int64("seed", defaults.Seed, "random seed")

	rootCmd.AddCommand(simulateCmd)
}
