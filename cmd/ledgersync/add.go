package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/pocketledger/ledgersync/internal/ledger/schema"
	ledgersync "github.com/pocketledger/ledgersync/internal/ledger/sync"
	"github.com/pocketledger/ledgersync/internal/ui"
)

// addInput is what the user typed for a new transaction.
type addInput struct {
	Amount       string
	Type         string
	Date         string
	Currency     string
	Category     string
	Payer        string
	Participants []string
	Note         string
	Merchant     string
}

var addCmd = &cobra.Command{
	Use:     "add",
	GroupID: "ledger",
	Short:   "Record a transaction and publish it to the shared folder",
	Long: `Record a transaction in the local ledger and append it to its monthly
partition in the shared folder, without rewriting the file.

--date accepts YYYY-MM-DD or natural language such as "yesterday" or
"last friday".

Examples:
  ledgersync add --amount 12.50 --category Food --payer Alice
  ledgersync add --amount 1200 --type income --date "last monday" --note Salary`,
	Run: func(cmd *cobra.Command, args []string) {
		var in addInput
		in.Amount, _ = cmd.Flags().GetString("amount")
		in.Type, _ = cmd.Flags().GetString("type")
		in.Date, _ = cmd.Flags().GetString("date")
		in.Currency, _ = cmd.Flags().GetString("currency")
		in.Category, _ = cmd.Flags().GetString("category")
		in.Payer, _ = cmd.Flags().GetString("payer")
		in.Participants, _ = cmd.Flags().GetStringSlice("participants")
		in.Note, _ = cmd.Flags().GetString("note")
		in.Merchant, _ = cmd.Flags().GetString("merchant")
		localOnly, _ := cmd.Flags().GetBool("local-only")

		l := mustOpenLedger()
		defer l.Close()

		if in.Currency == "" {
			in.Currency = l.cfg.Ledger.Currency
		}

		ctx := context.Background()
		tx, err := newTransaction(ctx, l.db, in, time.Now())
		if err != nil {
			fatalf("%v", err)
		}
		if err := l.db.Insert(ctx, tx); err != nil {
			fatalf("failed to save transaction: %v", err)
		}

		fmt.Println(ui.Pass(fmt.Sprintf("Recorded %s %s %s on %s",
			tx.Type, tx.Amount.String(), tx.Currency, schema.FormatDate(tx.Date))))
		fmt.Printf("   ID: %s\n", tx.ID)

		if localOnly {
			return
		}
		if err := l.orch.WriteIncremental(ctx, tx); err != nil {
			fmt.Println(ui.Warn(fmt.Sprintf("Not published yet (%v); the next sync will publish it", err)))
			return
		}
		fmt.Printf("   Partition: %s\n", tx.PartitionName())
	},
}

// newTransaction builds a validated transaction, creating categories and
// members by name as needed.
func newTransaction(ctx context.Context, names ledgersync.NameResolver, in addInput, now time.Time) (*schema.Transaction, error) {
	if in.Amount == "" {
		return nil, fmt.Errorf("--amount is required")
	}
	amount, err := decimal.NewFromString(in.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", in.Amount, err)
	}

	date := schema.Day(now)
	if in.Date != "" {
		date, err = parseDate(in.Date, now)
		if err != nil {
			return nil, err
		}
	}

	tx := &schema.Transaction{
		Date:     date,
		Amount:   amount,
		Type:     schema.Kind(strings.ToLower(in.Type)),
		Currency: strings.ToUpper(in.Currency),
		Note:     in.Note,
		Merchant: in.Merchant,
		Source:   schema.SourceManual,
	}

	if tx.CategoryID, err = names.FindOrCreateCategory(ctx, strings.TrimSpace(in.Category)); err != nil {
		return nil, fmt.Errorf("failed to resolve category: %w", err)
	}
	if tx.PayerID, err = names.FindOrCreateMember(ctx, strings.TrimSpace(in.Payer)); err != nil {
		return nil, fmt.Errorf("failed to resolve payer: %w", err)
	}
	for _, p := range in.Participants {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := names.FindOrCreateMember(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve participant %q: %w", p, err)
		}
		tx.ParticipantIDs = append(tx.ParticipantIDs, id)
	}

	tx.CreatedAt = now.UTC()
	tx.SetDefaults()
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return tx, nil
}

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDate accepts YYYY-MM-DD or a natural-language date relative to now.
func parseDate(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	r, err := dateParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return schema.Day(r.Time), nil
}

func init() {
	addCmd.Flags().String("amount", "", "amount, e.g. 12.50 (required)")
	addCmd.Flags().String("type", string(schema.KindExpense), "expense or income")
	addCmd.Flags().String("date", "", "date (YYYY-MM-DD or e.g. \"yesterday\"; default today)")
	addCmd.Flags().String("currency", "", "currency code (default ledger.currency)")
	addCmd.Flags().StringP("category", "c", "", "category name")
	addCmd.Flags().String("payer", "", "member who paid")
	addCmd.Flags().StringSlice("participants", nil, "members sharing the cost")
	addCmd.Flags().StringP("note", "n", "", "free-text note")
	addCmd.Flags().String("merchant", "", "merchant")
	addCmd.Flags().Bool("local-only", false, "do not append to the shared folder")

	rootCmd.AddCommand(addCmd)
}
