// Package migrate moves a ledger in and out of a JSON Lines file.
//
// One transaction per line, with categories and members by name, so an
// export from one device can be imported on another or kept as a backup.
package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pocketledger/ledgersync/internal/ledger/schema"
	"github.com/pocketledger/ledgersync/internal/ledger/store"
	ledgersync "github.com/pocketledger/ledgersync/internal/ledger/sync"
)

// TransactionLine is the JSONL form of one transaction.
type TransactionLine struct {
	ID           string   `json:"id"`
	Date         string   `json:"date"`
	Amount       string   `json:"amount"`
	Type         string   `json:"type"`
	Currency     string   `json:"currency,omitempty"`
	Category     string   `json:"category,omitempty"`
	Payer        string   `json:"payer,omitempty"`
	Participants []string `json:"participants,omitempty"`
	Note         string   `json:"note,omitempty"`
	Merchant     string   `json:"merchant,omitempty"`
	Source       string   `json:"source,omitempty"`
	CreatedAt    string   `json:"created_at"`
	ModifiedAt   string   `json:"modified_at"`
}

// Record converts the line to wire form.
func (l TransactionLine) Record() schema.Record {
	return schema.Record{
		ID:           l.ID,
		Date:         l.Date,
		Amount:       l.Amount,
		Type:         l.Type,
		Category:     l.Category,
		Payer:        l.Payer,
		Participants: schema.JoinParticipants(l.Participants),
		Note:         l.Note,
		Merchant:     l.Merchant,
		Source:       l.Source,
		CreatedAt:    l.CreatedAt,
		ModifiedAt:   l.ModifiedAt,
		Currency:     l.Currency,
	}
}

// LineFromRecord converts a wire record to its JSONL form.
func LineFromRecord(r schema.Record) TransactionLine {
	return TransactionLine{
		ID:           r.ID,
		Date:         r.Date,
		Amount:       r.Amount,
		Type:         r.Type,
		Currency:     r.Currency,
		Category:     r.Category,
		Payer:        r.Payer,
		Participants: r.ParticipantNames(),
		Note:         r.Note,
		Merchant:     r.Merchant,
		Source:       r.Source,
		CreatedAt:    r.CreatedAt,
		ModifiedAt:   r.ModifiedAt,
	}
}

// Store is the part of the local store an import needs.
type Store interface {
	ledgersync.LocalStore
	ledgersync.NameResolver
}

// ImportOptions contains configuration for an import
type ImportOptions struct {
	DryRun bool // Preview without writing

	// Backup exports the current ledger next to the input before importing.
	Backup bool
}

// ImportResult contains statistics about an import
type ImportResult struct {
	Imported      int // new transactions
	Updated       int // existing transactions replaced by a newer line
	Unchanged     int // existing transactions at least as new as the line
	BackupCreated string
	Errors        []string
}

// ReadJSONL parses transaction lines from r.
func ReadJSONL(r io.Reader) ([]TransactionLine, error) {
	var lines []TransactionLine
	decoder := json.NewDecoder(r)

	for n := 1; ; n++ {
		var line TransactionLine
		if err := decoder.Decode(&line); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at line %d: %w", n, err)
		}
		lines = append(lines, line)
	}

	return lines, nil
}

// Import reads path and merges its transactions into st. An existing
// transaction is replaced only by a line modified later, as in a sync.
func Import(ctx context.Context, st Store, path string, opts ImportOptions) (*ImportResult, error) {
	result := &ImportResult{}

	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer file.Close()

	lines, err := ReadJSONL(file)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSONL: %w", err)
	}

	if opts.Backup && !opts.DryRun {
		backupPath := strings.TrimSuffix(path, filepath.Ext(path)) +
			".backup." + time.Now().Format("20060102-150405") + ".jsonl"
		if _, err := ExportFile(ctx, st, backupPath); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = backupPath
	}

	var names ledgersync.NameResolver = st
	if opts.DryRun {
		names = previewNames{st}
	}
	mapper := ledgersync.NewMapper(names)
	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		tx, err := mapper.FromRecord(ctx, line.Record())
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("line %s: %v", line.ID, err))
			continue
		}

		existing, err := st.FetchByID(ctx, tx.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if !opts.DryRun {
				if err := st.Insert(ctx, tx); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("failed to insert %s: %v", tx.ID, err))
					continue
				}
			}
			result.Imported++
		case err != nil:
			return result, fmt.Errorf("failed to fetch %s: %w", tx.ID, err)
		case tx.ModifiedAt.After(existing.ModifiedAt):
			if !opts.DryRun {
				if err := st.Save(ctx, tx); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("failed to save %s: %v", tx.ID, err))
					continue
				}
			}
			result.Updated++
		default:
			result.Unchanged++
		}
	}

	return result, nil
}

// previewNames resolves names without creating anything.
type previewNames struct {
	ledgersync.NameResolver
}

func (p previewNames) FindOrCreateCategory(ctx context.Context, name string) (string, error) {
	return previewID(name), nil
}

func (p previewNames) FindOrCreateMember(ctx context.Context, name string) (string, error) {
	return previewID(name), nil
}

func previewID(name string) string {
	if name == "" {
		return ""
	}
	return "preview:" + name
}

// Export writes every transaction in st to w, one JSON object per line,
// and returns how many were written.
func Export(ctx context.Context, st Store, w io.Writer) (int, error) {
	txs, err := st.FetchAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch transactions: %w", err)
	}

	mapper := ledgersync.NewMapper(st)
	encoder := json.NewEncoder(w)
	for i, tx := range txs {
		r, err := mapper.ToRecord(ctx, tx)
		if err != nil {
			return i, err
		}
		if err := encoder.Encode(LineFromRecord(r)); err != nil {
			return i, fmt.Errorf("failed to encode %s: %w", tx.ID, err)
		}
	}
	return len(txs), nil
}

// ExportFile writes the export to path atomically.
func ExportFile(ctx context.Context, st Store, path string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create export directory: %w", err)
	}

	// Write atomically via temp file
	tmpPath := path + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	n, err := Export(ctx, st, file)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return n, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return n, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return n, nil
}
