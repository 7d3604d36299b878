package schema

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func validTransaction() *Transaction {
	now := time.Date(2024, 5, 3, 10, 0, 0, 0, time.UTC)
	return &Transaction{
		ID:         "tx-1",
		Date:       Day(now),
		Amount:     decimal.RequireFromString("12.50"),
		Type:       KindExpense,
		Currency:   "EUR",
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

func TestTransaction_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Transaction)
		wantErr bool
	}{
		{"valid", func(*Transaction) {}, false},
		{"missing id", func(tx *Transaction) { tx.ID = "" }, true},
		{"missing date", func(tx *Transaction) { tx.Date = time.Time{} }, true},
		{"bad type", func(tx *Transaction) { tx.Type = "transfer" }, true},
		{"missing currency", func(tx *Transaction) { tx.Currency = "" }, true},
		{"missing created_at", func(tx *Transaction) { tx.CreatedAt = time.Time{} }, true},
		{"missing modified_at", func(tx *Transaction) { tx.ModifiedAt = time.Time{} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := validTransaction()
			tt.mutate(tx)
			err := tx.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTransaction_SetDefaults(t *testing.T) {
	tx := &Transaction{}
	tx.SetDefaults()

	if tx.ID == "" {
		t.Error("SetDefaults() should assign an id")
	}
	if tx.Type != KindExpense {
		t.Errorf("Type = %q, want %q", tx.Type, KindExpense)
	}
	if tx.Currency != DefaultCurrency {
		t.Errorf("Currency = %q, want %q", tx.Currency, DefaultCurrency)
	}
	if tx.Source != SourceManual {
		t.Errorf("Source = %q, want %q", tx.Source, SourceManual)
	}
	if !tx.ModifiedAt.Equal(tx.CreatedAt) {
		t.Errorf("ModifiedAt = %v, want CreatedAt %v", tx.ModifiedAt, tx.CreatedAt)
	}
	if err := tx.Validate(); err != nil {
		t.Errorf("defaulted transaction should validate: %v", err)
	}
}

func TestTransaction_Touch(t *testing.T) {
	tx := validTransaction()
	before := tx.ModifiedAt
	tx.Touch()
	if !tx.ModifiedAt.After(before) {
		t.Errorf("Touch() did not advance ModifiedAt: %v -> %v", before, tx.ModifiedAt)
	}
}

func TestPartitionName(t *testing.T) {
	got := PartitionName(time.Date(2024, 3, 31, 23, 0, 0, 0, time.UTC))
	if got != "transactions_2024-03.csv" {
		t.Errorf("PartitionName() = %q", got)
	}
}

func TestParsePartitionName(t *testing.T) {
	tests := []struct {
		name       string
		wantOK     bool
		wantKey    PartitionKey
		wantSuffix string
	}{
		{"transactions_2024-05.csv", true, PartitionKey{2024, time.May}, ""},
		{"transactions_2024-05 2.csv", true, PartitionKey{2024, time.May}, " 2"},
		{"transactions_2024-05 (conflicted copy).csv", true, PartitionKey{2024, time.May}, " (conflicted copy)"},
		{"transactions_2024-05.sync-conflict-20240501-101010-ABC.csv", true, PartitionKey{2024, time.May}, ".sync-conflict-20240501-101010-ABC"},
		{"transactions_2024-13.csv", false, PartitionKey{}, ""},
		{".transactions_2024-05.csv.icloud", false, PartitionKey{}, ""},
		{"notes.txt", false, PartitionKey{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, suffix, ok := ParsePartitionName(tt.name)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if key != tt.wantKey {
				t.Errorf("key = %+v, want %+v", key, tt.wantKey)
			}
			if suffix != tt.wantSuffix {
				t.Errorf("suffix = %q, want %q", suffix, tt.wantSuffix)
			}
		})
	}
}

func TestPartitionKey_Name(t *testing.T) {
	key := PartitionKey{Year: 2023, Month: time.December}
	if got := key.Name(); got != "transactions_2023-12.csv" {
		t.Errorf("Name() = %q", got)
	}
	if !IsCanonicalPartition(key.Name()) {
		t.Error("Name() should be canonical")
	}
}

func TestJoinParticipants(t *testing.T) {
	got := JoinParticipants([]string{"Zoe", "amy", "", "Bob", "Zoe"})
	if got != "Bob;Zoe;amy" {
		t.Errorf("JoinParticipants() = %q", got)
	}

	r := Record{Participants: got}
	names := r.ParticipantNames()
	if len(names) != 3 || names[0] != "Bob" {
		t.Errorf("ParticipantNames() = %v", names)
	}

	if (Record{}).ParticipantNames() != nil {
		t.Error("empty participants should yield nil")
	}
}

func TestRecord_BusinessEqual(t *testing.T) {
	a := Record{ID: "1", Date: "2024-05-01", Amount: "10", ModifiedAt: "2024-05-01T10:00:00Z"}
	b := a
	b.ID = "2"
	b.ModifiedAt = "garbage"
	b.CreatedAt = "2020-01-01T00:00:00Z"
	if !a.BusinessEqual(b) {
		t.Error("ID and timestamps must not affect BusinessEqual")
	}

	b.Merchant = "cafe"
	if a.BusinessEqual(b) {
		t.Error("different merchant should not be equal")
	}

	c := a
	c.Note = "Lunch"
	d := a
	d.Note = "lunch"
	if c.BusinessEqual(d) {
		t.Error("comparison must be case-sensitive")
	}
}

func TestRecord_Modified(t *testing.T) {
	r := Record{ModifiedAt: "2024-05-01T10:00:00.5Z"}
	if _, ok := r.Modified(); !ok {
		t.Error("fractional RFC 3339 timestamp should parse")
	}
	r.ModifiedAt = "yesterday"
	if _, ok := r.Modified(); ok {
		t.Error("non-timestamp should not parse")
	}
}
