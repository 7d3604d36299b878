package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/pocketledger/ledgersync/internal/ledger/codec"
	"github.com/pocketledger/ledgersync/internal/ledger/merge"
	"github.com/pocketledger/ledgersync/internal/ledger/replica"
	"github.com/pocketledger/ledgersync/internal/ledger/schema"
	"golang.org/x/sync/errgroup"
)

// Config holds configuration for an Orchestrator.
type Config struct {
	// Strategy resolves genuine conflicts (default: keep-newest).
	Strategy merge.Strategy

	// Tolerance is the modification-time window for conflict detection
	// (default: 1s).
	Tolerance time.Duration

	// ReadConcurrency bounds concurrent partition reads (default: 4).
	ReadConcurrency int

	// LockPath, when set, is an OS file lock held for the duration of a full
	// sync so that two processes on one device never sync the same ledger.
	LockPath string

	// Logger for sync activity
	Logger *log.Logger

	// Metrics, when set, is updated after every full sync.
	Metrics *Metrics

	// Now is the clock (default: time.Now).
	Now func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Strategy:        merge.DefaultStrategy,
		Tolerance:       merge.DefaultTolerance,
		ReadConcurrency: 4,
		Logger:          log.New(os.Stderr, "[sync] ", log.LstdFlags),
		Now:             time.Now,
	}
}

// Orchestrator runs full and incremental syncs between a local store and a
// replica backend.
type Orchestrator struct {
	store   LocalStore
	names   NameResolver
	backend replica.Backend
	config  *Config

	// running rejects a second FullSync; writeMu serializes every replica
	// mutation, including incremental appends.
	running atomic.Bool
	writeMu stdsync.Mutex

	statusMu       stdsync.RWMutex
	status         Status
	subscribers    map[int]chan Status
	nextSubscriber int
}

// New creates a new Orchestrator.
//
// If config is nil, DefaultConfig() is used. Zero fields are filled from the
// defaults.
//
// Example:
//
//	database, err := store.Open("ledger.db")
//	if err != nil {
//	    return err
//	}
//	folder, err := replica.NewFolder(afero.NewOsFs(), sharedDir, nil)
//	if err != nil {
//	    return err
//	}
//	o := sync.New(database, database, folder, nil)
//	report, err := o.FullSync(ctx)
func New(store LocalStore, names NameResolver, backend replica.Backend, config *Config) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if !config.Strategy.IsValid() {
		config.Strategy = defaults.Strategy
	}
	if config.Tolerance <= 0 {
		config.Tolerance = defaults.Tolerance
	}
	if config.ReadConcurrency <= 0 {
		config.ReadConcurrency = defaults.ReadConcurrency
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}

	return &Orchestrator{
		store:       store,
		names:       names,
		backend:     backend,
		config:      config,
		status:      Status{State: StateIdle},
		subscribers: make(map[int]chan Status),
	}
}

// Strategy returns the configured conflict strategy.
func (o *Orchestrator) Strategy() merge.Strategy {
	return o.config.Strategy
}

func (o *Orchestrator) mergeOptions() merge.Options {
	return merge.Options{Tolerance: o.config.Tolerance, Now: o.config.Now}
}

// FullSync collapses provider conflict copies, imports every remote record
// into the local store and rewrites the replica from the store.
//
// A second call while one is running returns ErrSyncInProgress. Cancelling
// ctx stops the sync between partitions; a partition write that has started
// always completes. Running it twice without local changes leaves the
// replica byte-identical.
func (o *Orchestrator) FullSync(ctx context.Context) (*Report, error) {
	if !o.running.CompareAndSwap(false, true) {
		o.config.Metrics.rejected()
		return nil, ErrSyncInProgress
	}
	defer o.running.Store(false)

	if o.config.LockPath != "" {
		lock := flock.New(o.config.LockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
		}
		if !locked {
			o.config.Metrics.rejected()
			return nil, ErrLocked
		}
		defer func() { _ = lock.Unlock() }()
	}

	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	start := o.config.Now()
	o.setStatus(func(s *Status) {
		s.State = StateSyncing
		s.Reason = ""
	})
	o.config.Logger.Printf("Starting full sync (strategy=%s)", o.config.Strategy)

	report := &Report{}
	err := o.fullSync(ctx, report)
	report.Duration = o.config.Now().Sub(start)
	o.config.Metrics.observe(report, err)

	if err != nil {
		o.config.Logger.Printf("Full sync failed: %v", err)
		o.setStatus(func(s *Status) {
			s.State = StateError
			s.Reason = err.Error()
		})
		return report, err
	}

	o.config.Logger.Printf("Full sync complete: partitions=%d siblings=%d added=%d updated=%d skipped=%d written=%d conflicts=%d (%v)",
		report.Partitions, report.SiblingsResolved, report.Added, report.Updated,
		report.Skipped, report.Written, len(report.Conflicts), report.Duration)

	o.setStatus(func(s *Status) {
		s.State = StateSynced
		s.LastSync = start
		s.LastReport = report
	})
	o.setStatus(func(s *Status) { s.State = StateIdle })
	return report, nil
}

func (o *Orchestrator) fullSync(ctx context.Context, report *Report) error {
	m := newMapper(o.names)

	if err := o.resolveSiblings(ctx, report); err != nil {
		return fmt.Errorf("failed to resolve conflicting copies: %w", err)
	}

	parts, err := o.readPartitions(ctx, report)
	if err != nil {
		return fmt.Errorf("failed to read replica: %w", err)
	}

	kept, err := o.importRecords(ctx, m, parts, report)
	if err != nil {
		return fmt.Errorf("failed to import records: %w", err)
	}

	if err := o.rewrite(ctx, m, parts, kept, report); err != nil {
		return fmt.Errorf("failed to rewrite replica: %w", err)
	}

	return nil
}

// resolveSiblings merges every provider conflict copy into its canonical
// partition and removes the copies. The canonical copy is the local side of
// each pairwise merge.
func (o *Orchestrator) resolveSiblings(ctx context.Context, report *Report) error {
	conflicted, err := o.backend.ConflictedPartitions(ctx)
	if err != nil {
		return err
	}

	for _, name := range conflicted {
		if err := ctx.Err(); err != nil {
			return err
		}

		versions, err := o.backend.UnresolvedVersions(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to list versions of %s: %w", name, err)
		}

		merged, siblings, ok, err := o.mergeVersions(ctx, name, versions, report)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		if err := o.backend.Write(ctx, name, codec.EncodePartition(merged)); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		if err := o.backend.Resolve(ctx, name, nil); err != nil {
			return fmt.Errorf("failed to resolve %s: %w", name, err)
		}

		report.SiblingsResolved += siblings
		o.config.Logger.Printf("Merged %d conflicting copies into %s", siblings, name)
	}

	return nil
}

// mergeVersions folds all versions of a partition into one record set.
// ok is false when the partition must be left for a later sync.
func (o *Orchestrator) mergeVersions(ctx context.Context, name string, versions []replica.Version, report *Report) (merged []schema.Record, siblings int, ok bool, err error) {
	have := false
	skipped := 0

	for _, v := range versions {
		data, err := o.backend.ReadVersion(ctx, v)
		if err != nil {
			return nil, 0, false, fmt.Errorf("failed to read %s: %w", v.Name, err)
		}

		// A copy still downloading must not be merged as empty and deleted.
		current, err := o.backend.IsCurrent(ctx, v.Name)
		if err != nil {
			return nil, 0, false, err
		}
		if !current {
			o.config.Logger.Printf("Warning: %s is not downloaded yet, leaving %s unresolved", v.Name, name)
			return nil, 0, false, nil
		}

		decoded, err := codec.DecodePartition(data)
		if errors.Is(err, codec.ErrNotNativeFormat) {
			o.config.Logger.Printf("Warning: %s is not a ledger file, leaving %s unresolved", v.Name, name)
			return nil, 0, false, nil
		}
		if err != nil {
			return nil, 0, false, fmt.Errorf("failed to decode %s: %w", v.Name, err)
		}
		skipped += len(decoded.Skipped)

		if !v.Canonical {
			siblings++
		}
		if !have {
			merged = decoded.Records
			have = true
			continue
		}

		res := merge.MergeWithOptions(merged, decoded.Records, o.config.Strategy, o.mergeOptions())
		merged = res.Merged
		report.Conflicts = append(report.Conflicts, res.Conflicts...)
	}

	if !have {
		return nil, 0, false, nil
	}
	report.Skipped += skipped
	merge.SortRecords(merged)
	return merged, siblings, true, nil
}

// partition is one canonical partition as read during a sync.
type partition struct {
	name    string
	data    []byte
	records []schema.Record

	// writable is false for stale or foreign files that must not be
	// overwritten.
	writable bool
}

// readPartitions reads and decodes all canonical partitions concurrently.
func (o *Orchestrator) readPartitions(ctx context.Context, report *Report) ([]*partition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	names, err := o.backend.ListPartitions(ctx)
	if err != nil {
		return nil, err
	}
	report.Partitions = len(names)

	parts := make([]*partition, len(names))
	skipped := make([]int, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.ReadConcurrency)

	for i, name := range names {
		g.Go(func() error {
			snap, err := o.backend.Read(gctx, name)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", name, err)
			}

			p := &partition{name: name, data: snap.Data, writable: snap.Current}
			parts[i] = p
			if !snap.Current {
				o.config.Logger.Printf("Warning: %s is stale, importing what is available", name)
			}

			decoded, err := codec.DecodePartition(snap.Data)
			if errors.Is(err, codec.ErrNotNativeFormat) {
				o.config.Logger.Printf("Skipping %s: not a native ledger file", name)
				p.writable = false
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to decode %s: %w", name, err)
			}

			for _, rowErr := range decoded.Skipped {
				o.config.Logger.Printf("Warning: %s %v (skipped)", name, rowErr)
			}
			skipped[i] = len(decoded.Skipped)
			p.records = decoded.Records
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, n := range skipped {
		report.Skipped += n
	}
	return parts, nil
}

// importRecords merges the union of remote records against the local store
// and applies the outcome locally. It returns the remote-only records that
// decoded but could not be mapped to a local transaction; rewrite carries
// them over so they stay in the replica.
func (o *Orchestrator) importRecords(ctx context.Context, m *mapper, parts []*partition, report *Report) ([]schema.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var remote []schema.Record
	for _, p := range parts {
		remote = append(remote, p.records...)
	}

	txs, err := o.store.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load local transactions: %w", err)
	}

	local := make([]schema.Record, 0, len(txs))
	localByID := make(map[string]schema.Record, len(txs))
	for _, tx := range txs {
		r, err := m.toRecord(ctx, tx)
		if err != nil {
			return nil, err
		}
		local = append(local, r)
		localByID[r.ID] = r
	}

	res := merge.MergeWithOptions(local, remote, o.config.Strategy, o.mergeOptions())
	report.Conflicts = append(report.Conflicts, res.Conflicts...)

	var kept []schema.Record
	for _, r := range res.Merged {
		l, exists := localByID[r.ID]
		if exists && l == r {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tx, err := m.fromRecord(ctx, r)
		if err != nil {
			report.Skipped++
			if exists {
				// The local copy stays and is written back in its place.
				o.config.Logger.Printf("Warning: keeping local %s, remote copy is not importable: %v", r.ID, err)
				continue
			}
			o.config.Logger.Printf("Warning: not importing %s, keeping it in the replica: %v", r.ID, err)
			kept = append(kept, r)
			continue
		}

		if exists {
			if err := o.store.Save(ctx, tx); err != nil {
				return nil, fmt.Errorf("failed to save %s: %w", r.ID, err)
			}
			report.Updated++
			continue
		}

		if err := o.store.Insert(ctx, tx); err != nil {
			return nil, fmt.Errorf("failed to insert %s: %w", r.ID, err)
		}
		report.Added++
	}

	return kept, nil
}

// rewrite re-encodes the local store grouped by month, plus the records in
// kept, and overwrites every partition whose content changed.
func (o *Orchestrator) rewrite(ctx context.Context, m *mapper, parts []*partition, kept []schema.Record, report *Report) error {
	existing := make(map[string]*partition, len(parts))
	for _, p := range parts {
		existing[p.name] = p
	}

	txs, err := o.store.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load local transactions: %w", err)
	}

	groups := make(map[string][]schema.Record)
	for _, tx := range txs {
		r, err := m.toRecord(ctx, tx)
		if err != nil {
			return err
		}
		name := tx.PartitionName()
		groups[name] = append(groups[name], r)
	}
	for _, r := range kept {
		name := r.PartitionName()
		groups[name] = append(groups[name], r)
	}

	// A partition whose records all moved to other months is emptied.
	for _, p := range parts {
		if _, ok := groups[p.name]; !ok && p.writable && len(p.records) > 0 {
			groups[p.name] = nil
		}
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}

		p, ok := existing[name]
		if ok && !p.writable {
			o.config.Logger.Printf("Not rewriting %s: stale or not a native ledger file", name)
			continue
		}

		records := groups[name]
		merge.SortRecords(records)
		data := codec.EncodePartition(records)
		if ok && string(p.data) == string(data) {
			continue
		}

		if err := o.backend.Write(ctx, name, data); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
		report.Written++
	}

	return nil
}

// WriteIncremental appends one transaction to its partition without
// rewriting the file. A later full sync collapses any older copy of the same
// record that the partition already holds.
func (o *Orchestrator) WriteIncremental(ctx context.Context, tx *schema.Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("invalid transaction: %w", err)
	}

	r, err := newMapper(o.names).toRecord(ctx, tx)
	if err != nil {
		return err
	}

	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	name := tx.PartitionName()
	if err := o.backend.Append(ctx, name, []byte(codec.HeaderV1+"\n"), codec.EncodeLine(r)); err != nil {
		return fmt.Errorf("failed to append %s to %s: %w", tx.ID, name, err)
	}

	o.config.Logger.Printf("Appended %s to %s", tx.ID, name)
	return nil
}
