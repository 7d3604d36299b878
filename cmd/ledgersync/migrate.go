package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pocketledger/ledgersync/internal/ledger/migrate"
	"github.com/pocketledger/ledgersync/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <file.jsonl>",
	GroupID: "ledger",
	Short:   "Import transactions from a JSON Lines file",
	Long: `Import transactions exported by another device or kept as a backup.

New transactions are added. An existing transaction is replaced only when
the line was modified later than the local copy. Use --sync to publish the
result to the shared folder right away.

Examples:
  ledgersync import backup.jsonl --dry-run
  ledgersync import backup.jsonl --backup --sync`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetBool("backup")
		publish, _ := cmd.Flags().GetBool("sync")

		l := mustOpenLedger()
		defer l.Close()

		ctx := context.Background()
		result, err := migrate.Import(ctx, l.db, args[0], migrate.ImportOptions{
			DryRun: dryRun,
			Backup: backup,
		})
		if err != nil {
			fatalf("import failed: %v", err)
		}

		if dryRun {
			fmt.Println(ui.RenderAccent("Dry run, nothing written"))
		}
		fmt.Println(ui.KeyValues([][2]string{
			{"Imported", fmt.Sprint(result.Imported)},
			{"Updated", fmt.Sprint(result.Updated)},
			{"Unchanged", fmt.Sprint(result.Unchanged)},
		}))
		if result.BackupCreated != "" {
			fmt.Printf("Backup: %s\n", result.BackupCreated)
		}
		for _, e := range result.Errors {
			fmt.Println(ui.Warn(e))
		}

		if !publish || dryRun {
			return
		}
		report, err := l.orch.FullSync(ctx)
		if err != nil {
			fatalf("sync failed: %v", err)
		}
		fmt.Println(ui.Pass(formatReport(report)))
	},
}

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "ledger",
	Short:   "Export the local ledger as JSON Lines",
	Long: `Write every local transaction as one JSON object per line, with
categories and members by name.

Examples:
  ledgersync export > ledger.jsonl
  ledgersync export -o backup/ledger.jsonl`,
	Run: func(cmd *cobra.Command, args []string) {
		out, _ := cmd.Flags().GetString("output")

		l := mustOpenLedger()
		defer l.Close()

		ctx := context.Background()
		if out == "" {
			if _, err := migrate.Export(ctx, l.db, os.Stdout); err != nil {
				fatalf("export failed: %v", err)
			}
			return
		}

		n, err := migrate.ExportFile(ctx, l.db, out)
		if err != nil {
			fatalf("export failed: %v", err)
		}
		fmt.Println(ui.Pass(fmt.Sprintf("Exported %d transactions to %s", n, out)))
	},
}

func init() {
	importCmd.Flags().Bool("dry-run", false, "show what would change without writing")
	importCmd.Flags().Bool("backup", false, "export the current ledger next to the input first")
	importCmd.Flags().Bool("sync", false, "run a full sync after importing")

	exportCmd.Flags().StringP("output", "o", "", "write to file instead of stdout")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
}
