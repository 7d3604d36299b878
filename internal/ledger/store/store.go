// Package store is the device-local SQLite store for ledger transactions.
//
// The store is the source of truth for one device. The sync orchestrator
// imports remote records into it and rewrites the shared replica from it.
//
// Architecture:
//   - Database file: <data dir>/ledger.db
//   - WAL mode: concurrent readers during writes
//   - Schema: transactions, categories, members tables
//   - References: categories and members are stored by local ID and resolved
//     to display names only at the replica boundary
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/pocketledger/ledgersync/internal/ledger/schema"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a transaction, category or member does not exist.
var ErrNotFound = errors.New("not found")

// timestampLayout keeps sub-second precision locally; the wire drops it.
const timestampLayout = time.RFC3339Nano

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened with WAL for concurrent reads. The caller MUST call
// Close() when done.
//
// Example:
//
//	db, err := store.Open("ledger.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	pragmas := []struct {
		stmt string
		desc string
	}{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
		{"PRAGMA foreign_keys=ON", "enable foreign keys"},
	}
	for _, p := range pragmas {
		if _, err := db.conn.Exec(p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.desc, err)
		}
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// Safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,         -- YYYY-MM-DD
		amount TEXT NOT NULL,       -- canonical decimal string
		type TEXT NOT NULL,
		currency TEXT NOT NULL,
		category_id TEXT REFERENCES categories(id),
		payer_id TEXT REFERENCES members(id),
		participant_ids TEXT NOT NULL DEFAULT '[]',  -- JSON array
		note TEXT NOT NULL DEFAULT '',
		merchant TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		modified_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(date);
	CREATE INDEX IF NOT EXISTS idx_transactions_modified ON transactions(modified_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

const selectColumns = `
	SELECT id, date, amount, type, currency, category_id, payer_id,
	       participant_ids, note, merchant, source, created_at, modified_at
	FROM transactions
`

// Insert adds a new transaction. It fails if the ID already exists.
func (db *DB) Insert(ctx context.Context, tx *schema.Transaction) error {
	args, err := transactionArgs(tx)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO transactions (
		id, date, amount, type, currency, category_id, payer_id,
		participant_ids, note, merchant, source, created_at, modified_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert transaction %s: %w", tx.ID, err)
	}
	return nil
}

// Save inserts or replaces a transaction.
func (db *DB) Save(ctx context.Context, tx *schema.Transaction) error {
	args, err := transactionArgs(tx)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO transactions (
		id, date, amount, type, currency, category_id, payer_id,
		participant_ids, note, merchant, source, created_at, modified_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		date = excluded.date,
		amount = excluded.amount,
		type = excluded.type,
		currency = excluded.currency,
		category_id = excluded.category_id,
		payer_id = excluded.payer_id,
		participant_ids = excluded.participant_ids,
		note = excluded.note,
		merchant = excluded.merchant,
		source = excluded.source,
		created_at = excluded.created_at,
		modified_at = excluded.modified_at
	`

	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to save transaction %s: %w", tx.ID, err)
	}
	return nil
}

func transactionArgs(tx *schema.Transaction) ([]interface{}, error) {
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}

	participants := tx.ParticipantIDs
	if participants == nil {
		participants = []string{}
	}
	participantsJSON, err := json.Marshal(participants)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal participants: %w", err)
	}

	return []interface{}{
		tx.ID,
		schema.FormatDate(tx.Date),
		tx.Amount.String(),
		string(tx.Type),
		tx.Currency,
		toNullString(tx.CategoryID),
		toNullString(tx.PayerID),
		string(participantsJSON),
		tx.Note,
		tx.Merchant,
		tx.Source,
		tx.CreatedAt.UTC().Format(timestampLayout),
		tx.ModifiedAt.UTC().Format(timestampLayout),
	}, nil
}

// Delete removes a transaction. Returns nil if it doesn't exist (idempotent).
func (db *DB) Delete(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete transaction %s: %w", id, err)
	}
	return nil
}

// FetchByID retrieves a single transaction.
// Returns ErrNotFound if it does not exist.
func (db *DB) FetchByID(ctx context.Context, id string) (*schema.Transaction, error) {
	rows, err := db.conn.QueryContext(ctx, selectColumns+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction %s: %w", id, err)
	}
	defer rows.Close()

	txs, err := scanTransactions(rows)
	if err != nil {
		return nil, err
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	return txs[0], nil
}

// FetchAll returns every transaction, newest business date first.
func (db *DB) FetchAll(ctx context.Context) ([]*schema.Transaction, error) {
	rows, err := db.conn.QueryContext(ctx, selectColumns+` ORDER BY date DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// Count returns the number of transactions.
func (db *DB) Count() (int, error) {
	return db.CountContext(context.Background())
}

// CountContext returns the number of transactions with context support.
func (db *DB) CountContext(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get transaction count: %w", err)
	}
	return count, nil
}

// scanTransactions scans multiple transactions from query results.
func scanTransactions(rows *sql.Rows) ([]*schema.Transaction, error) {
	var txs []*schema.Transaction

	for rows.Next() {
		var tx schema.Transaction
		var date, amount, typ, participantsJSON, createdAt, modifiedAt string
		var categoryID, payerID sql.NullString

		err := rows.Scan(
			&tx.ID,
			&date,
			&amount,
			&typ,
			&tx.Currency,
			&categoryID,
			&payerID,
			&participantsJSON,
			&tx.Note,
			&tx.Merchant,
			&tx.Source,
			&createdAt,
			&modifiedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}

		tx.Type = schema.Kind(typ)
		tx.CategoryID = categoryID.String
		tx.PayerID = payerID.String

		if tx.Date, err = time.Parse(schema.DateLayout, date); err != nil {
			return nil, fmt.Errorf("failed to parse date of %s: %w", tx.ID, err)
		}
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse amount of %s: %w", tx.ID, err)
		}
		if t, err := time.Parse(timestampLayout, createdAt); err == nil {
			tx.CreatedAt = t
		}
		if t, err := time.Parse(timestampLayout, modifiedAt); err == nil {
			tx.ModifiedAt = t
		}

		if participantsJSON != "" && participantsJSON != "null" {
			if err := json.Unmarshal([]byte(participantsJSON), &tx.ParticipantIDs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal participants: %w", err)
			}
		}
		if len(tx.ParticipantIDs) == 0 {
			tx.ParticipantIDs = nil
		}

		txs = append(txs, &tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return txs, nil
}

// toNullString stores empty references as NULL.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
