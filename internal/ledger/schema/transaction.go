package schema

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind is the direction of a transaction.
type Kind string

const (
	KindExpense Kind = "expense"
	KindIncome  Kind = "income"
)

// IsValid reports whether k is one of the known kinds.
func (k Kind) IsValid() bool {
	return k == KindExpense || k == KindIncome
}

// DefaultCurrency is used by SetDefaults when no currency was given.
const DefaultCurrency = "USD"

// SourceManual tags records typed in by hand.
const SourceManual = "manual"

// Transaction is the canonical ledger entry as held by the local store.
// Date carries a calendar day; only its year, month and day are meaningful.
type Transaction struct {
	// ===== Core Identification =====
	ID string

	// ===== Business Fields =====
	Date     time.Time
	Amount   decimal.Decimal
	Type     Kind
	Currency string

	// ===== References (local identifiers) =====
	CategoryID     string
	PayerID        string
	ParticipantIDs []string

	// ===== Free Text =====
	Note     string
	Merchant string
	Source   string // provenance tag: manual, receipt, chat, import...

	// ===== Timestamps (conflict resolution) =====
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Validate checks if the Transaction has valid field values.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	if !t.Type.IsValid() {
		return fmt.Errorf("type must be %q or %q (got %q)", KindExpense, KindIncome, t.Type)
	}
	if t.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	if t.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if t.ModifiedAt.IsZero() {
		return fmt.Errorf("modified_at is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (t *Transaction) SetDefaults() {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Type == "" {
		t.Type = KindExpense
	}
	if t.Currency == "" {
		t.Currency = DefaultCurrency
	}
	if t.Source == "" {
		t.Source = SourceManual
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.ModifiedAt.IsZero() {
		t.ModifiedAt = t.CreatedAt
	}
	if t.Date.IsZero() {
		t.Date = Day(now)
	}
}

// Touch sets ModifiedAt to the current time.
// Call it on every edit of amount, category, date or merchant.
func (t *Transaction) Touch() {
	t.ModifiedAt = time.Now().UTC()
}

// PartitionName returns the replica partition this transaction belongs to.
func (t *Transaction) PartitionName() string {
	return PartitionName(t.Date)
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
