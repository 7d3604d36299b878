package sync

import (
	"context"

	"github.com/pocketledger/ledgersync/internal/ledger/schema"
)

// LocalStore is the device-local source of truth the orchestrator imports
// into and rewrites the replica from.
//
// *store.DB satisfies it.
type LocalStore interface {
	// FetchByID returns one transaction, or an error wrapping a not-found
	// sentinel when it does not exist.
	FetchByID(ctx context.Context, id string) (*schema.Transaction, error)

	// FetchAll returns every transaction.
	FetchAll(ctx context.Context) ([]*schema.Transaction, error)

	// Insert adds a transaction that does not exist yet.
	Insert(ctx context.Context, tx *schema.Transaction) error

	// Save replaces an existing transaction.
	Save(ctx context.Context, tx *schema.Transaction) error
}

// NameResolver maps local category and member identifiers to the display
// names written to the replica, and back.
//
// Identifiers are device-local: two devices name the same category
// identically but may store it under different IDs. Empty names and IDs mean
// "no reference" and map to each other.
type NameResolver interface {
	// FindOrCreateCategory returns the ID for name, creating the category on
	// first sight.
	FindOrCreateCategory(ctx context.Context, name string) (string, error)

	// FindOrCreateMember returns the ID for name, creating the member on
	// first sight.
	FindOrCreateMember(ctx context.Context, name string) (string, error)

	// CategoryName returns the display name of a category.
	CategoryName(ctx context.Context, id string) (string, error)

	// MemberName returns the display name of a member.
	MemberName(ctx context.Context, id string) (string, error)
}
