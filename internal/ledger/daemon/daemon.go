// Package daemon keeps a device in sync with the shared replica folder.
//
// The daemon:
// 1. Runs a full sync on start
// 2. Watches the replica folder for partition changes made by other devices
// 3. Debounces bursts of changes into a single full sync
// 4. Runs a periodic full sync as a safety net for missed events
// 5. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	ledgersync "github.com/pocketledger/ledgersync/internal/ledger/sync"
)

// Syncer runs a full sync. *sync.Orchestrator satisfies it.
type Syncer interface {
	FullSync(ctx context.Context) (*ledgersync.Report, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long the folder must be quiet before a sync
	// starts. Providers download a file in several writes; this batches them.
	DebounceInterval time.Duration

	// SyncInterval is how often to run a full sync without any file event
	// (0 disables periodic syncs).
	SyncInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger

	// OnSync, when set, is called after every sync attempt.
	OnSync func(report *ledgersync.Report, err error)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 2 * time.Second,
		SyncInterval:     5 * time.Minute,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon watches the replica folder and triggers full syncs.
type Daemon struct {
	syncer Syncer
	dir    string
	config *Config

	watcher *FileWatcher

	pendingMu  sync.Mutex
	pending    bool
	lastChange time.Time

	syncMu sync.Mutex
	syncs  int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon for the replica folder dir.
//
// Use Start() to begin watching and syncing.
func New(syncer Syncer, dir string) (*Daemon, error) {
	return NewWithConfig(syncer, dir, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(syncer Syncer, dir string, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if dir == "" {
		return nil, fmt.Errorf("dir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	watcher, err := NewFileWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		syncer:  syncer,
		dir:     dir,
		config:  config,
		watcher: watcher,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The initial sync fails Start only when the replica is unusable; other
// errors are logged and retried on the next change.
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := d.runSync(); err != nil && ledgersync.IsFatal(err) {
		_ = d.watcher.Stop()
		return fmt.Errorf("initial sync failed: %w", err)
	}

	if err := d.watcher.Start(d.dir); err != nil {
		return err
	}
	d.config.Logger.Printf("Watching: %s", d.dir)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChanges()

	if d.config.SyncInterval > 0 {
		d.wg.Add(1)
		go d.periodicSync()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. A sync in progress completes
// its current partition before returning.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Stop(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// SyncCount returns the number of sync attempts so far.
func (d *Daemon) SyncCount() int {
	d.syncMu.Lock()
	defer d.syncMu.Unlock()
	return d.syncs
}

// runSync performs one full sync and reports it.
func (d *Daemon) runSync() error {
	d.syncMu.Lock()
	d.syncs++
	d.syncMu.Unlock()

	report, err := d.syncer.FullSync(d.ctx)
	if d.config.OnSync != nil {
		d.config.OnSync(report, err)
	}

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
	case ledgersync.IsRetryable(err):
		// Someone else is syncing; make sure we look again afterwards.
		d.config.Logger.Printf("Sync deferred: %v", err)
		d.queueChange()
	default:
		d.config.Logger.Printf("Sync failed: %v", err)
	}
	return err
}

// watchFileEvents monitors partition events and queues a sync.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.config.Logger.Printf("File event: %s %s (%s)", event.Op, event.Partition, event.Kind)
			d.queueChange()

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange marks the replica dirty and restarts the debounce window.
func (d *Daemon) queueChange() {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	d.pending = true
	d.lastChange = time.Now()
}

// processChanges runs a sync once the folder has been quiet for the
// debounce interval.
func (d *Daemon) processChanges() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if d.takePending() {
				_ = d.runSync()
			}
		}
	}
}

// takePending clears and returns the dirty flag if the debounce window has
// passed.
func (d *Daemon) takePending() bool {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()

	if !d.pending || time.Since(d.lastChange) < d.config.DebounceInterval {
		return false
	}
	d.pending = false
	return true
}

// periodicSync runs a full sync on a fixed interval.
func (d *Daemon) periodicSync() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			_ = d.runSync()
		}
	}
}
