package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Named is a category or member.
type Named struct {
	ID   string
	Name string
}

// FindOrCreateCategory returns the ID of the category with the given display
// name, creating it on first sight. An empty name means no category.
func (db *DB) FindOrCreateCategory(ctx context.Context, name string) (string, error) {
	return db.findOrCreate(ctx, "categories", name)
}

// FindOrCreateMember returns the ID of the member with the given display
// name, creating it on first sight. An empty name means no member.
func (db *DB) FindOrCreateMember(ctx context.Context, name string) (string, error) {
	return db.findOrCreate(ctx, "members", name)
}

// CategoryName resolves a category ID to its display name.
func (db *DB) CategoryName(ctx context.Context, id string) (string, error) {
	return db.nameOf(ctx, "categories", id)
}

// MemberName resolves a member ID to its display name.
func (db *DB) MemberName(ctx context.Context, id string) (string, error) {
	return db.nameOf(ctx, "members", id)
}

// ListCategories returns all categories ordered by name.
func (db *DB) ListCategories(ctx context.Context) ([]Named, error) {
	return db.list(ctx, "categories")
}

// ListMembers returns all members ordered by name.
func (db *DB) ListMembers(ctx context.Context) ([]Named, error) {
	return db.list(ctx, "members")
}

// table is always one of the two constants above, never user input.
func (db *DB) findOrCreate(ctx context.Context, table, name string) (string, error) {
	if name == "" {
		return "", nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM `+table+` WHERE name = ?`, name).Scan(&id)
	switch {
	case err == nil:
		return id, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("failed to look up %s %q: %w", table, name, err)
	}

	id = uuid.NewString()
	if _, err := tx.ExecContext(ctx, `INSERT INTO `+table+` (id, name) VALUES (?, ?)`, id, name); err != nil {
		return "", fmt.Errorf("failed to create %s %q: %w", table, name, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return id, nil
}

func (db *DB) nameOf(ctx context.Context, table, id string) (string, error) {
	if id == "" {
		return "", nil
	}

	var name string
	err := db.conn.QueryRowContext(ctx, `SELECT name FROM `+table+` WHERE id = ?`, id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up %s %s: %w", table, id, err)
	}
	return name, nil
}

func (db *DB) list(ctx context.Context, table string) ([]Named, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, name FROM `+table+` ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	var out []Named
	for rows.Next() {
		var n Named
		if err := rows.Scan(&n.ID, &n.Name); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", table, err)
	}
	return out, nil
}
