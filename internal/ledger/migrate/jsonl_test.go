package migrate

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pocketledger/ledgersync/internal/ledger/store"
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

const sampleJSONL = `{"id":"t1","date":"2024-05-03","amount":"12.50","type":"expense","currency":"EUR","category":"Food","payer":"Alice","participants":["Alice","Bob"],"note":"lunch","created_at":"2024-05-03T10:00:00Z","modified_at":"2024-05-03T10:00:00Z"}
{"id":"t2","date":"2024-06-01","amount":"2000","type":"income","payer":"Bob","created_at":"2024-06-01T09:00:00Z","modified_at":"2024-06-01T09:00:00Z"}
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	return path
}

func TestReadJSONL(t *testing.T) {
	lines, err := ReadJSONL(strings.NewReader(sampleJSONL))
	if err != nil {
		t.Fatalf("ReadJSONL() failed: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("ReadJSONL() returned %d lines, want 2", len(lines))
	}
	if got := lines[0].Participants; len(got) != 2 || got[1] != "Bob" {
		t.Errorf("Participants = %v, want [Alice Bob]", got)
	}

	if _, err := ReadJSONL(strings.NewReader("{\"id\":\"t1\"}\nnot json\n")); err == nil {
		t.Error("ReadJSONL() with bad line succeeded, want error")
	}
}

func TestImport(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	path := writeFile(t, sampleJSONL)

	result, err := Import(ctx, db, path, ImportOptions{})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.Imported != 2 || len(result.Errors) != 0 {
		t.Fatalf("Import() = %+v, want 2 imported", result)
	}

	tx, err := db.FetchByID(ctx, "t1")
	if err != nil {
		t.Fatalf("FetchByID() failed: %v", err)
	}
	if tx.Amount.String() != "12.5" || tx.Currency != "EUR" || len(tx.ParticipantIDs) != 2 {
		t.Errorf("imported t1 = %+v", tx)
	}
	category, err := db.CategoryName(ctx, tx.CategoryID)
	if err != nil || category != "Food" {
		t.Errorf("CategoryName() = %q, %v, want Food", category, err)
	}

	// Same file again leaves everything alone.
	result, err = Import(ctx, db, path, ImportOptions{})
	if err != nil {
		t.Fatalf("second Import() failed: %v", err)
	}
	if result.Imported != 0 || result.Unchanged != 2 {
		t.Errorf("second Import() = %+v, want 2 unchanged", result)
	}
}

func TestImport_NewerLineUpdates(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	if _, err := Import(ctx, db, writeFile(t, sampleJSONL), ImportOptions{}); err != nil {
		t.Fatalf("Import() failed: %v", err)
	}

	newer := `{"id":"t1","date":"2024-05-03","amount":"15","type":"expense","created_at":"2024-05-03T10:00:00Z","modified_at":"2024-05-04T08:00:00Z"}
{"id":"t2","date":"2024-06-01","amount":"1","type":"income","created_at":"2024-06-01T09:00:00Z","modified_at":"2024-05-01T09:00:00Z"}
`
	result, err := Import(ctx, db, writeFile(t, newer), ImportOptions{})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.Updated != 1 || result.Unchanged != 1 {
		t.Errorf("Import() = %+v, want 1 updated, 1 unchanged", result)
	}

	tx, err := db.FetchByID(ctx, "t1")
	if err != nil {
		t.Fatalf("FetchByID() failed: %v", err)
	}
	if tx.Amount.String() != "15" {
		t.Errorf("t1 amount = %s, want 15", tx.Amount)
	}
	tx, err = db.FetchByID(ctx, "t2")
	if err != nil {
		t.Fatalf("FetchByID() failed: %v", err)
	}
	if tx.Amount.String() != "2000" {
		t.Errorf("t2 amount = %s, want 2000 (older line ignored)", tx.Amount)
	}
}

func TestImport_DryRun(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	result, err := Import(ctx, db, writeFile(t, sampleJSONL), ImportOptions{DryRun: true, Backup: true})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.Imported != 2 || result.BackupCreated != "" {
		t.Errorf("Import() = %+v, want 2 counted and no backup", result)
	}
	count, err := db.Count()
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("dry run wrote %d transactions", count)
	}
	members, err := db.ListMembers(context.Background())
	if err != nil {
		t.Fatalf("ListMembers() failed: %v", err)
	}
	if len(members) != 0 {
		t.Errorf("dry run created members %v", members)
	}
}

func TestImport_InvalidLine(t *testing.T) {
	db := openStore(t)
	content := sampleJSONL + `{"id":"t3","date":"someday","amount":"1","type":"expense","created_at":"","modified_at":""}` + "\n"

	result, err := Import(context.Background(), db, writeFile(t, content), ImportOptions{})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.Imported != 2 || len(result.Errors) != 1 {
		t.Errorf("Import() = %+v, want 2 imported and 1 error", result)
	}
}

func TestImport_Backup(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	if _, err := Import(ctx, db, writeFile(t, sampleJSONL), ImportOptions{}); err != nil {
		t.Fatalf("Import() failed: %v", err)
	}

	result, err := Import(ctx, db, writeFile(t, sampleJSONL), ImportOptions{Backup: true})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.BackupCreated == "" {
		t.Fatal("BackupCreated is empty")
	}

	data, err := os.ReadFile(result.BackupCreated)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	lines, err := ReadJSONL(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadJSONL() failed: %v", err)
	}
	if len(lines) != 2 {
		t.Errorf("backup holds %d lines, want 2", len(lines))
	}
}

func TestExport_RoundTrip(t *testing.T) {
	src := openStore(t)
	ctx := context.Background()
	if _, err := Import(ctx, src, writeFile(t, sampleJSONL), ImportOptions{}); err != nil {
		t.Fatalf("Import() failed: %v", err)
	}

	out := filepath.Join(t.TempDir(), "out", "export.jsonl")
	n, err := ExportFile(ctx, src, out)
	if err != nil {
		t.Fatalf("ExportFile() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("ExportFile() wrote %d, want 2", n)
	}
	if _, err := os.Stat(out + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}

	dst := openStore(t)
	result, err := Import(ctx, dst, out, ImportOptions{})
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if result.Imported != 2 {
		t.Errorf("Import() = %+v, want 2 imported", result)
	}

	var a, b bytes.Buffer
	if _, err := Export(ctx, src, &a); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if _, err := Export(ctx, dst, &b); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if a.String() != b.String() {
		t.Errorf("exports differ:\n%s\n---\n%s", a.String(), b.String())
	}
}
