package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/pocketledger/ledgersync/internal/ledger/merge"
	"github.com/pocketledger/ledgersync/internal/ledger/replica"
	"github.com/pocketledger/ledgersync/internal/ledger/schema"
	"github.com/pocketledger/ledgersync/internal/ledger/store"
	ledgersync "github.com/pocketledger/ledgersync/internal/ledger/sync"
	"github.com/pocketledger/ledgersync/internal/ui"
)

func openStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

func TestParseDate(t *testing.T) {
	now := time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"2024-05-03", time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC), false},
		{"yesterday", time.Date(2024, 5, 9, 0, 0, 0, 0, time.UTC), false},
		{"today", time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), false},
		{"not a date", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDate(tt.in, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("parseDate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewTransaction(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 10, 15, 30, 0, 0, time.UTC)

	tx, err := newTransaction(ctx, db, addInput{
		Amount:       "12.50",
		Type:         "Expense",
		Date:         "2024-05-03",
		Currency:     "eur",
		Category:     "Food",
		Payer:        "Alice",
		Participants: []string{"Alice", " Bob ", ""},
		Note:         "lunch",
	}, now)
	if err != nil {
		t.Fatalf("newTransaction() failed: %v", err)
	}

	if !tx.Amount.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("Amount = %s, want 12.5", tx.Amount)
	}
	if tx.Type != schema.KindExpense {
		t.Errorf("Type = %s, want expense", tx.Type)
	}
	if tx.Currency != "EUR" {
		t.Errorf("Currency = %s, want EUR", tx.Currency)
	}
	if tx.PartitionName() != "transactions_2024-05.csv" {
		t.Errorf("PartitionName() = %s", tx.PartitionName())
	}
	if len(tx.ParticipantIDs) != 2 || tx.ParticipantIDs[0] != tx.PayerID {
		t.Errorf("ParticipantIDs = %v, want Alice (payer) and Bob", tx.ParticipantIDs)
	}
	if tx.ID == "" || !tx.CreatedAt.Equal(now) || !tx.ModifiedAt.Equal(now) {
		t.Errorf("defaults not applied: id=%q created=%v modified=%v", tx.ID, tx.CreatedAt, tx.ModifiedAt)
	}

	name, err := db.CategoryName(ctx, tx.CategoryID)
	if err != nil || name != "Food" {
		t.Errorf("CategoryName() = %q, %v; want Food", name, err)
	}
}

func TestNewTransaction_Invalid(t *testing.T) {
	db := openStore(t)
	now := time.Now()

	tests := []struct {
		name string
		in   addInput
	}{
		{"missing amount", addInput{Type: "expense", Currency: "USD"}},
		{"bad amount", addInput{Amount: "twelve", Type: "expense", Currency: "USD"}},
		{"bad type", addInput{Amount: "1", Type: "refund", Currency: "USD"}},
		{"bad date", addInput{Amount: "1", Type: "expense", Date: "someday maybe", Currency: "USD"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := newTransaction(context.Background(), db, tt.in, now); err == nil {
				t.Error("newTransaction() succeeded, want error")
			}
		})
	}
}

func newConflictedFolder(t *testing.T) *replica.Folder {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string]string{
		"transactions_2024-05.csv":   "a",
		"transactions_2024-05 2.csv": "bb",
		"transactions_2024-06.csv":   "c",
	}
	for name, content := range files {
		if err := afero.WriteFile(fs, filepath.Join("/shared", name), []byte(content), 0644); err != nil {
			t.Fatalf("WriteFile() failed: %v", err)
		}
	}

	folder, err := replica.NewFolder(fs, "/shared", &replica.Config{
		Download: replica.DownloadPolicy{Attempts: 1, Interval: time.Millisecond},
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewFolder() failed: %v", err)
	}
	return folder
}

func TestListConflicts(t *testing.T) {
	folder := newConflictedFolder(t)

	entries, err := listConflicts(context.Background(), folder)
	if err != nil {
		t.Fatalf("listConflicts() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("listConflicts() = %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Partition != "transactions_2024-05.csv" || len(e.Versions) != 2 {
		t.Fatalf("entry = %+v, want 2024-05 with 2 versions", e)
	}
	if !e.Versions[0].Canonical {
		t.Error("first version is not the canonical copy")
	}

	var buf bytes.Buffer
	if err := writeConflictsYAML(&buf, entries); err != nil {
		t.Fatalf("writeConflictsYAML() failed: %v", err)
	}
	var decoded []conflictEntry
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("yaml.Unmarshal() failed: %v\n%s", err, buf.String())
	}
	if len(decoded) != 1 || decoded[0].Versions[1].Name != "transactions_2024-05 2.csv" {
		t.Errorf("decoded YAML = %+v", decoded)
	}
}

func TestFindVersion(t *testing.T) {
	folder := newConflictedFolder(t)
	versions, err := folder.UnresolvedVersions(context.Background(), "transactions_2024-05.csv")
	if err != nil {
		t.Fatalf("UnresolvedVersions() failed: %v", err)
	}

	v, err := findVersion(versions, "transactions_2024-05 2.csv")
	if err != nil {
		t.Fatalf("findVersion() failed: %v", err)
	}
	if v.Canonical || v.Size != 2 {
		t.Errorf("findVersion() = %+v, want the 2-byte sibling", v)
	}

	if _, err := findVersion(versions, "transactions_2024-05 3.csv"); err == nil {
		t.Error("findVersion() of unknown copy succeeded, want error")
	}
}

func TestFormatReport(t *testing.T) {
	ui.DisableColor()

	out := formatReport(&ledgersync.Report{
		Partitions: 3,
		Added:      2,
		Conflicts:  []merge.Conflict{{Kind: merge.ConflictBothModified}},
	})
	for _, want := range []string{"Partitions", "3", "Added", "Conflicts"} {
		if !strings.Contains(out, want) {
			t.Errorf("formatReport() missing %q:\n%s", want, out)
		}
	}
}
