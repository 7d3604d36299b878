package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pocketledger/ledgersync/internal/ledger/daemon"
	"github.com/pocketledger/ledgersync/internal/ledger/dashboard"
	"github.com/pocketledger/ledgersync/internal/ledger/replica"
	ledgersync "github.com/pocketledger/ledgersync/internal/ledger/sync"
	"github.com/pocketledger/ledgersync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one full sync with the shared folder",
	Long: `Run a full sync between the local ledger and the shared folder.

This performs:
  1. Collapses alternate copies the provider left next to a partition
  2. Reads every partition, downloading placeholders first
  3. Merges remote records into the local ledger
  4. Rewrites partitions whose content changed

Running it again without changes leaves every file untouched.`,
	Run: func(cmd *cobra.Command, args []string) {
		l := mustOpenLedger()
		defer l.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Printf("%s Syncing with %s (strategy %s)...\n",
			ui.RenderAccent("↻"), l.folder.Root(), l.orch.Strategy())

		report, err := l.orch.FullSync(ctx)
		if err != nil {
			switch {
			case errors.Is(err, ledgersync.ErrSyncInProgress), errors.Is(err, ledgersync.ErrLocked):
				fatalf("another sync is running; try again shortly")
			case errors.Is(err, replica.ErrReplicaUnavailable):
				fatalf("shared folder unavailable: %s", l.folder.Root())
			default:
				fatalf("sync failed: %v", err)
			}
		}

		fmt.Println(ui.Pass(fmt.Sprintf("Sync complete in %v", report.Duration.Round(time.Millisecond))))
		fmt.Print(formatReport(report))
		printConflicts(report)
	},
}

// formatReport renders the counters of a full sync.
func formatReport(r *ledgersync.Report) string {
	return ui.KeyValues([][2]string{
		{"Partitions", strconv.Itoa(r.Partitions)},
		{"Siblings resolved", strconv.Itoa(r.SiblingsResolved)},
		{"Added", strconv.Itoa(r.Added)},
		{"Updated", strconv.Itoa(r.Updated)},
		{"Skipped", strconv.Itoa(r.Skipped)},
		{"Written", strconv.Itoa(r.Written)},
		{"Conflicts", strconv.Itoa(len(r.Conflicts))},
	})
}

func printConflicts(r *ledgersync.Report) {
	if len(r.Conflicts) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(ui.Warn(fmt.Sprintf("%d record(s) edited on two devices; this device's copy was kept:", len(r.Conflicts))))
	for _, c := range r.Conflicts {
		remote := "-"
		if c.Remote != nil {
			remote = c.Remote.Amount
		}
		fmt.Printf("   %s  %s  local %s  remote %s\n", c.Local.ID, c.Local.Date, c.Local.Amount, remote)
	}
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local ledger and shared folder status",
	Run: func(cmd *cobra.Command, args []string) {
		l := mustOpenLedger()
		defer l.Close()

		ctx := context.Background()

		count, err := l.db.CountContext(ctx)
		if err != nil {
			fatalf("failed to count transactions: %v", err)
		}
		partitions, err := l.folder.ListPartitions(ctx)
		if err != nil {
			fatalf("failed to list partitions: %v", err)
		}
		conflicted, err := l.folder.ConflictedPartitions(ctx)
		if err != nil {
			fatalf("failed to list conflicts: %v", err)
		}

		fmt.Printf("\n%s Ledger Status\n\n", ui.RenderAccent("●"))
		fmt.Print(ui.KeyValues([][2]string{
			{"Database", l.db.Path()},
			{"Shared folder", l.folder.Root()},
			{"Strategy", l.orch.Strategy().String()},
			{"Transactions", strconv.Itoa(count)},
			{"Partitions", strconv.Itoa(len(partitions))},
		}))

		if len(conflicted) > 0 {
			fmt.Println()
			fmt.Println(ui.Warn(fmt.Sprintf("%d partition(s) have alternate copies; run 'ledgersync sync' or 'ledgersync resolve'", len(conflicted))))
			for _, name := range conflicted {
				fmt.Printf("   %s\n", name)
			}
		} else {
			fmt.Println()
			fmt.Println(ui.Pass("No alternate copies"))
		}
		fmt.Println()
	},
}

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Watch the shared folder and sync on change (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon will:
  1. Run a full sync on start
  2. Watch the shared folder for partition changes from other devices
  3. Sync once the folder has been quiet for the debounce interval
  4. Sync periodically in case an event was missed

With --dashboard, a WebSocket status feed and Prometheus metrics are served
on the configured dashboard address.`,
	Run: func(cmd *cobra.Command, args []string) {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		port, _ := cmd.Flags().GetInt("port")

		l := mustOpenLedger()
		defer l.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if withDashboard {
			if cmd.Flags().Changed("port") {
				l.cfg.Dashboard.Port = port
			}
			stop, err := startDashboard(ctx, l)
			if err != nil {
				fatalf("failed to start dashboard: %v", err)
			}
			defer stop()
		}

		d, err := daemon.NewWithConfig(l.orch, l.folder.Root(), &daemon.Config{
			DebounceInterval: l.cfg.Daemon.Debounce,
			SyncInterval:     l.cfg.Daemon.Interval,
			Logger:           l.logs.Logger("daemon"),
			OnSync: func(report *ledgersync.Report, err error) {
				switch {
				case err == nil:
					fmt.Printf("%s %s  +%d ~%d written %d\n", ui.RenderPass(ui.IconPass),
						time.Now().Format("15:04:05"), report.Added, report.Updated, report.Written)
				case ledgersync.IsRetryable(err), errors.Is(err, context.Canceled):
				default:
					fmt.Println(ui.Fail(fmt.Sprintf("%s  %v", time.Now().Format("15:04:05"), err)))
				}
			},
		})
		if err != nil {
			fatalf("failed to create daemon: %v", err)
		}

		fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("▶"))
		fmt.Printf("   Shared folder: %s\n", l.folder.Root())
		fmt.Printf("   Database: %s\n", l.db.Path())
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := d.Start(ctx); err != nil {
			fatalf("daemon stopped with error: %v", err)
		}
	},
}

// startDashboard serves the status feed until the returned stop is called.
func startDashboard(ctx context.Context, l *ledger) (func(), error) {
	logger := l.logs.Logger("dashboard")

	var handler *dashboard.Handler
	server := dashboard.NewServer(&dashboard.Config{
		Host:     l.cfg.Dashboard.Host,
		Port:     l.cfg.Dashboard.Port,
		Gatherer: l.registry,
		Snapshot: func() interface{} { return handler.Snapshot() },
		Logger:   logger,
	})
	handler = dashboard.NewHandler(server, logger)

	if err := server.Start(); err != nil {
		return nil, err
	}

	updates, unsubscribe := l.orch.Subscribe()
	go handler.Run(ctx, updates)

	// Partitions still holding alternate copies after a sync need a person.
	interval := l.cfg.Daemon.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if names, err := l.folder.ConflictedPartitions(ctx); err == nil && len(names) > 0 {
					handler.OnConflicts(names, nil)
				}
			}
		}
	}()

	fmt.Printf("   Dashboard: http://%s\n", server.GetAddr())

	return func() {
		unsubscribe()
		_ = server.Stop()
	}, nil
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "serve the WebSocket status feed and /metrics")
	daemonCmd.Flags().IntP("port", "p", 8080, "dashboard port (overrides dashboard.port)")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(daemonCmd)
}
