package daemon

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pocketledger/ledgersync/internal/ledger/replica"
	ledgersync "github.com/pocketledger/ledgersync/internal/ledger/sync"
)

// fakeSyncer counts FullSync calls.
type fakeSyncer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSyncer) FullSync(ctx context.Context) (*ledgersync.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ledgersync.Report{}, nil
}

func (f *fakeSyncer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testConfig() *Config {
	return &Config{
		DebounceInterval: 50 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestNew(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		syncer  Syncer
		dir     string
		wantErr bool
	}{
		{"valid", &fakeSyncer{}, dir, false},
		{"nil syncer", nil, dir, true},
		{"empty dir", &fakeSyncer{}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.syncer, tt.dir)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if d != nil {
				d.Stop()
			}
		})
	}
}

func TestDaemon_InitialSync(t *testing.T) {
	syncer := &fakeSyncer{}
	d, err := NewWithConfig(syncer, t.TempDir(), testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	if !waitFor(t, time.Second, func() bool { return syncer.count() == 1 }) {
		t.Errorf("sync count = %d, want 1 after start", syncer.count())
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Start() returned %v", err)
	}
}

func TestDaemon_InitialSyncFatal(t *testing.T) {
	syncer := &fakeSyncer{err: replica.ErrReplicaUnavailable}
	d, err := NewWithConfig(syncer, t.TempDir(), testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}

	if err := d.Start(context.Background()); err == nil {
		t.Error("Start() succeeded with unavailable replica, want error")
	}
}

func TestDaemon_SyncsOnChange(t *testing.T) {
	dir := t.TempDir()
	syncer := &fakeSyncer{}
	var mu sync.Mutex
	var reports int
	config := testConfig()
	config.OnSync = func(*ledgersync.Report, error) {
		mu.Lock()
		reports++
		mu.Unlock()
	}

	d, err := NewWithConfig(syncer, dir, config)
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Start(ctx)

	if !waitFor(t, time.Second, func() bool { return syncer.count() == 1 }) {
		t.Fatalf("initial sync did not run")
	}
	// Give the watcher time to register.
	time.Sleep(50 * time.Millisecond)

	// A burst of writes collapses into one sync.
	for i := 0; i < 5; i++ {
		path := filepath.Join(dir, "transactions_2024-05.csv")
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("WriteFile() failed: %v", err)
		}
	}

	if !waitFor(t, 2*time.Second, func() bool { return syncer.count() >= 2 }) {
		t.Fatalf("sync count = %d, want a sync after change", syncer.count())
	}
	time.Sleep(200 * time.Millisecond)
	if got := syncer.count(); got != 2 {
		t.Errorf("sync count = %d, want 2 (debounced)", got)
	}

	mu.Lock()
	if reports != syncer.count() {
		t.Errorf("OnSync called %d times, want %d", reports, syncer.count())
	}
	mu.Unlock()

	if d.SyncCount() != syncer.count() {
		t.Errorf("SyncCount() = %d, want %d", d.SyncCount(), syncer.count())
	}
}

func TestDaemon_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	syncer := &fakeSyncer{}

	d, err := NewWithConfig(syncer, dir, testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Start(ctx)

	if !waitFor(t, time.Second, func() bool { return syncer.count() == 1 }) {
		t.Fatalf("initial sync did not run")
	}
	time.Sleep(50 * time.Millisecond)

	for _, name := range []string{"notes.txt", ".transactions_2024-05.csv.tmp-123"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("WriteFile() failed: %v", err)
		}
	}

	time.Sleep(300 * time.Millisecond)
	if got := syncer.count(); got != 1 {
		t.Errorf("sync count = %d, want 1 (non-partition files ignored)", got)
	}
}

func TestDaemon_PeriodicSync(t *testing.T) {
	syncer := &fakeSyncer{}
	config := testConfig()
	config.SyncInterval = 30 * time.Millisecond

	d, err := NewWithConfig(syncer, t.TempDir(), config)
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Start(ctx)

	if !waitFor(t, 2*time.Second, func() bool { return syncer.count() >= 3 }) {
		t.Errorf("sync count = %d, want periodic syncs", syncer.count())
	}
}

func TestDaemon_RetryableRequeues(t *testing.T) {
	d, err := NewWithConfig(&fakeSyncer{err: ledgersync.ErrSyncInProgress}, t.TempDir(), testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	defer d.Stop()

	_ = d.runSync()

	d.pendingMu.Lock()
	pending := d.pending
	d.pendingMu.Unlock()
	if !pending {
		t.Error("pending = false after retryable error, want true")
	}
}

func TestTakePending_Debounce(t *testing.T) {
	d, err := NewWithConfig(&fakeSyncer{}, t.TempDir(), testConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	defer d.Stop()

	if d.takePending() {
		t.Error("takePending() = true with nothing queued")
	}

	d.queueChange()
	if d.takePending() {
		t.Error("takePending() = true inside debounce window")
	}

	time.Sleep(60 * time.Millisecond)
	if !d.takePending() {
		t.Error("takePending() = false after debounce window")
	}
	if d.takePending() {
		t.Error("takePending() = true twice for one change")
	}
}

func TestConvertEvent(t *testing.T) {
	tests := []struct {
		name     string
		event    fsnotify.Event
		wantOK   bool
		wantPart string
		wantKind FileKind
		wantOp   EventOp
	}{
		{
			name:     "canonical write",
			event:    fsnotify.Event{Name: "/r/transactions_2024-05.csv", Op: fsnotify.Write},
			wantOK:   true,
			wantPart: "transactions_2024-05.csv",
			wantKind: KindCanonical,
			wantOp:   OpModify,
		},
		{
			name:     "sibling create",
			event:    fsnotify.Event{Name: "/r/transactions_2024-05 2.csv", Op: fsnotify.Create},
			wantOK:   true,
			wantPart: "transactions_2024-05 2.csv",
			wantKind: KindSibling,
			wantOp:   OpCreate,
		},
		{
			name:     "placeholder removed",
			event:    fsnotify.Event{Name: "/r/.transactions_2024-05.csv.icloud", Op: fsnotify.Remove},
			wantOK:   true,
			wantPart: "transactions_2024-05.csv",
			wantKind: KindPlaceholder,
			wantOp:   OpDelete,
		},
		{
			name:   "temp file",
			event:  fsnotify.Event{Name: "/r/.transactions_2024-05.csv.tmp-1", Op: fsnotify.Create},
			wantOK: false,
		},
		{
			name:   "chmod",
			event:  fsnotify.Event{Name: "/r/transactions_2024-05.csv", Op: fsnotify.Chmod},
			wantOK: false,
		},
		{
			name:   "other file",
			event:  fsnotify.Event{Name: "/r/budget.xlsx", Op: fsnotify.Write},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := convertEvent(tt.event)
			if ok != tt.wantOK {
				t.Fatalf("convertEvent() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.Partition != tt.wantPart || got.Kind != tt.wantKind || got.Op != tt.wantOp {
				t.Errorf("convertEvent() = %+v, want partition=%s kind=%s op=%s",
					got, tt.wantPart, tt.wantKind, tt.wantOp)
			}
		})
	}
}
