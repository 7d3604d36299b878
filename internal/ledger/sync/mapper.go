package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/pocketledger/ledgersync/internal/ledger/schema"
	"github.com/shopspring/decimal"
)

// mapper converts between local transactions and wire records, caching name
// lookups for the duration of one sync.
type mapper struct {
	names NameResolver

	categoryNames map[string]string
	memberNames   map[string]string
	categoryIDs   map[string]string
	memberIDs     map[string]string
}

func newMapper(names NameResolver) *mapper {
	return &mapper{
		names:         names,
		categoryNames: make(map[string]string),
		memberNames:   make(map[string]string),
		categoryIDs:   make(map[string]string),
		memberIDs:     make(map[string]string),
	}
}

// Mapper converts between transactions and wire records outside of a sync,
// for import and export. Name lookups are cached, so a Mapper must not be
// shared between goroutines.
type Mapper struct {
	m *mapper
}

// NewMapper returns a Mapper resolving references through names.
func NewMapper(names NameResolver) *Mapper {
	return &Mapper{m: newMapper(names)}
}

// ToRecord renders tx in wire form.
func (m *Mapper) ToRecord(ctx context.Context, tx *schema.Transaction) (schema.Record, error) {
	return m.m.toRecord(ctx, tx)
}

// FromRecord maps r to a validated transaction, creating unknown categories
// and members.
func (m *Mapper) FromRecord(ctx context.Context, r schema.Record) (*schema.Transaction, error) {
	return m.m.fromRecord(ctx, r)
}

// toRecord renders a transaction in wire form.
func (m *mapper) toRecord(ctx context.Context, tx *schema.Transaction) (schema.Record, error) {
	category, err := m.categoryName(ctx, tx.CategoryID)
	if err != nil {
		return schema.Record{}, err
	}
	payer, err := m.memberName(ctx, tx.PayerID)
	if err != nil {
		return schema.Record{}, err
	}

	participants := make([]string, 0, len(tx.ParticipantIDs))
	for _, id := range tx.ParticipantIDs {
		name, err := m.memberName(ctx, id)
		if err != nil {
			return schema.Record{}, err
		}
		participants = append(participants, name)
	}

	return schema.Record{
		ID:           tx.ID,
		Date:         schema.FormatDate(tx.Date),
		Amount:       tx.Amount.String(),
		Type:         string(tx.Type),
		Category:     category,
		Payer:        payer,
		Participants: schema.JoinParticipants(participants),
		Note:         tx.Note,
		Merchant:     tx.Merchant,
		Source:       tx.Source,
		CreatedAt:    schema.FormatTimestamp(tx.CreatedAt),
		ModifiedAt:   schema.FormatTimestamp(tx.ModifiedAt),
		Currency:     tx.Currency,
	}, nil
}

// fromRecord maps a wire record back to a transaction, creating categories
// and members that this device has not seen yet.
func (m *mapper) fromRecord(ctx context.Context, r schema.Record) (*schema.Transaction, error) {
	date, err := time.Parse(schema.DateLayout, r.Date)
	if err != nil {
		return nil, fmt.Errorf("failed to parse date %q: %w", r.Date, err)
	}
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount %q: %w", r.Amount, err)
	}

	categoryID, err := m.categoryID(ctx, r.Category)
	if err != nil {
		return nil, err
	}
	payerID, err := m.memberID(ctx, r.Payer)
	if err != nil {
		return nil, err
	}

	var participantIDs []string
	for _, name := range r.ParticipantNames() {
		id, err := m.memberID(ctx, name)
		if err != nil {
			return nil, err
		}
		if id != "" {
			participantIDs = append(participantIDs, id)
		}
	}

	// An unparsable timestamp is the earliest possible one, as in merging.
	modified, ok := r.Modified()
	if !ok {
		modified = time.Unix(0, 0).UTC()
	}
	created, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		created = modified
	}

	tx := &schema.Transaction{
		ID:             r.ID,
		Date:           date,
		Amount:         amount,
		Type:           schema.Kind(r.Type),
		Currency:       r.Currency,
		CategoryID:     categoryID,
		PayerID:        payerID,
		ParticipantIDs: participantIDs,
		Note:           r.Note,
		Merchant:       r.Merchant,
		Source:         r.Source,
		CreatedAt:      created.UTC(),
		ModifiedAt:     modified.UTC(),
	}
	if tx.Currency == "" {
		tx.Currency = schema.DefaultCurrency
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid record %s: %w", r.ID, err)
	}
	return tx, nil
}

func (m *mapper) categoryName(ctx context.Context, id string) (string, error) {
	if name, ok := m.categoryNames[id]; ok {
		return name, nil
	}
	name, err := m.names.CategoryName(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to resolve category %s: %w", id, err)
	}
	m.categoryNames[id] = name
	return name, nil
}

func (m *mapper) memberName(ctx context.Context, id string) (string, error) {
	if name, ok := m.memberNames[id]; ok {
		return name, nil
	}
	name, err := m.names.MemberName(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to resolve member %s: %w", id, err)
	}
	m.memberNames[id] = name
	return name, nil
}

func (m *mapper) categoryID(ctx context.Context, name string) (string, error) {
	if id, ok := m.categoryIDs[name]; ok {
		return id, nil
	}
	id, err := m.names.FindOrCreateCategory(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to find or create category %q: %w", name, err)
	}
	m.categoryIDs[name] = id
	m.categoryNames[id] = name
	return id, nil
}

func (m *mapper) memberID(ctx context.Context, name string) (string, error) {
	if id, ok := m.memberIDs[name]; ok {
		return id, nil
	}
	id, err := m.names.FindOrCreateMember(ctx, name)
	if err != nil {
		return "", fmt.Errorf("failed to find or create member %q: %w", name, err)
	}
	m.memberIDs[name] = id
	m.memberNames[id] = name
	return id, nil
}
