package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/pocketledger/ledgersync/internal/ledger/replica"
	"github.com/pocketledger/ledgersync/internal/ui"
)

// conflictEntry is one partition with the copies the provider left behind.
type conflictEntry struct {
	Partition string            `yaml:"partition"`
	Versions  []replica.Version `yaml:"versions"`
}

// mergeChoice is the picker value that merges every copy instead of keeping one.
const mergeChoice = "\x00merge"

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	GroupID: "sync",
	Short:   "List partitions with alternate copies",
	Long: `List partitions for which the sync provider left alternate copies
(e.g. "transactions_2024-05 2.csv") next to the canonical file.

A full sync merges these copies record by record. Copies that are still
placeholders are left alone until they have been downloaded.`,
	Run: func(cmd *cobra.Command, args []string) {
		asYAML, _ := cmd.Flags().GetBool("yaml")

		l := mustOpenLedger()
		defer l.Close()

		entries, err := listConflicts(context.Background(), l.folder)
		if err != nil {
			fatalf("failed to list conflicts: %v", err)
		}

		if asYAML {
			if err := writeConflictsYAML(os.Stdout, entries); err != nil {
				fatalf("%v", err)
			}
			return
		}

		if len(entries) == 0 {
			fmt.Println(ui.Pass("No alternate copies"))
			return
		}
		for _, e := range entries {
			fmt.Printf("\n%s %s\n", ui.RenderWarn(ui.IconWarn), ui.RenderAccent(e.Partition))
			fmt.Print(formatVersions(e.Versions))
		}
		fmt.Println()
	},
}

// listConflicts collects every conflicted partition with its versions.
func listConflicts(ctx context.Context, backend replica.Backend) ([]conflictEntry, error) {
	names, err := backend.ConflictedPartitions(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]conflictEntry, 0, len(names))
	for _, name := range names {
		versions, err := backend.UnresolvedVersions(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to list versions of %s: %w", name, err)
		}
		entries = append(entries, conflictEntry{Partition: name, Versions: versions})
	}
	return entries, nil
}

func writeConflictsYAML(w io.Writer, entries []conflictEntry) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("failed to encode conflicts: %w", err)
	}
	return enc.Close()
}

func formatVersions(versions []replica.Version) string {
	pairs := make([][2]string, 0, len(versions))
	for _, v := range versions {
		label := v.Name
		if v.Canonical {
			label += " (canonical)"
		}
		pairs = append(pairs, [2]string{
			"   " + label,
			ui.RenderMuted(strconv.FormatInt(v.Size, 10) + " bytes, " + v.ModTime.Format("2006-01-02 15:04")),
		})
	}
	return ui.KeyValues(pairs)
}

var resolveCmd = &cobra.Command{
	Use:     "resolve <partition>",
	GroupID: "sync",
	Short:   "Collapse the alternate copies of one partition",
	Long: `Collapse the alternate copies of a partition.

  --keep <file>   keep one copy as the partition and delete the others
  --merge         merge all copies record by record (runs a full sync)

On a terminal, without either flag, a picker lists the copies.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		keep, _ := cmd.Flags().GetString("keep")
		mergeAll, _ := cmd.Flags().GetBool("merge")

		l := mustOpenLedger()
		defer l.Close()

		ctx := context.Background()
		versions, err := l.folder.UnresolvedVersions(ctx, name)
		if err != nil {
			fatalf("failed to list versions of %s: %v", name, err)
		}
		if len(versions) < 2 {
			fmt.Println(ui.Pass(fmt.Sprintf("%s has no alternate copies", name)))
			return
		}

		if keep == "" && !mergeAll {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				fatalf("use --keep <file> or --merge when not on a terminal")
			}
			choice, err := pickVersion(name, versions)
			if err != nil {
				fatalf("%v", err)
			}
			if choice == mergeChoice {
				mergeAll = true
			} else {
				keep = choice
			}
		}

		if mergeAll {
			report, err := l.orch.FullSync(ctx)
			if err != nil {
				fatalf("sync failed: %v", err)
			}
			fmt.Println(ui.Pass(fmt.Sprintf("Merged %d alternate cop(ies)", report.SiblingsResolved)))
			return
		}

		v, err := findVersion(versions, keep)
		if err != nil {
			fatalf("%v", err)
		}
		if err := l.folder.Resolve(ctx, name, v); err != nil {
			fatalf("failed to resolve %s: %v", name, err)
		}
		fmt.Println(ui.Pass(fmt.Sprintf("Kept %s as %s", v.Name, name)))
	},
}

// findVersion returns the version named keep.
func findVersion(versions []replica.Version, keep string) (*replica.Version, error) {
	for i := range versions {
		if versions[i].Name == keep {
			return &versions[i], nil
		}
	}
	return nil, fmt.Errorf("no copy named %q", keep)
}

// pickVersion asks which copy to keep.
func pickVersion(name string, versions []replica.Version) (string, error) {
	options := make([]huh.Option[string], 0, len(versions)+1)
	options = append(options, huh.NewOption("Merge all copies record by record", mergeChoice))
	for _, v := range versions {
		label := fmt.Sprintf("Keep %s (%d bytes, %s)", v.Name, v.Size, v.ModTime.Format("2006-01-02 15:04"))
		options = append(options, huh.NewOption(label, v.Name))
	}

	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(fmt.Sprintf("%s has %d copies", name, len(versions))).
			Options(options...).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("selection cancelled: %w", err)
	}
	return choice, nil
}

func init() {
	conflictsCmd.Flags().Bool("yaml", false, "print as YAML")
	resolveCmd.Flags().String("keep", "", "file name of the copy to keep")
	resolveCmd.Flags().Bool("merge", false, "merge all copies record by record")

	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(resolveCmd)
}
