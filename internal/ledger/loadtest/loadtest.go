// Package loadtest simulates several devices sharing one replica folder.
//
// Each simulated device has its own SQLite store and orchestrator. Devices
// record and edit transactions concurrently, publishing them with incremental
// appends and full syncs, exactly as independent phones would. Once the
// burst is over, sequential sync rounds must bring every device to the same
// ledger.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/afero"

	"github.com/pocketledger/ledgersync/internal/ledger/codec"
	"github.com/pocketledger/ledgersync/internal/ledger/merge"
	"github.com/pocketledger/ledgersync/internal/ledger/replica"
	"github.com/pocketledger/ledgersync/internal/ledger/schema"
	"github.com/pocketledger/ledgersync/internal/ledger/store"
	ledgersync "github.com/pocketledger/ledgersync/internal/ledger/sync"
)

// Options shapes a simulation.
type Options struct {
	Devices               int
	TransactionsPerDevice int

	// EditPct is the share of its own transactions a device edits after
	// recording them (0..1).
	EditPct float64

	// SyncEvery runs a full sync after this many writes (0: never during the
	// burst).
	SyncEvery int

	// Months spreads business dates over this many months, i.e. partitions.
	Months int

	Strategy merge.Strategy
	Seed     int64
	Logger   *log.Logger
}

// DefaultOptions returns a small, fast simulation.
func DefaultOptions() Options {
	return Options{
		Devices:               3,
		TransactionsPerDevice: 20,
		EditPct:               0.3,
		SyncEvery:             5,
		Months:                3,
		Strategy:              merge.DefaultStrategy,
		Seed:                  42,
	}
}

// Device is one simulated phone.
type Device struct {
	Name string
	DB   *store.DB
	Sync *ledgersync.Orchestrator

	// own lists the IDs this device recorded.
	own []string
}

// Fleet is a set of devices sharing one folder.
type Fleet struct {
	Devices []*Device
	opts    Options
	fs      afero.Fs
	root    string
}

// LatencyStats captures full sync durations.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration // Median
	P95        time.Duration
	P99        time.Duration
	TotalSyncs int
	Errors     int
}

// Result summarizes a simulation.
type Result struct {
	Recorded int
	Edited   int
	Appends  int

	// Rounds is the number of sequential sync rounds needed to converge.
	Rounds int

	Syncs *LatencyStats
}

// NewFleet creates opts.Devices devices with stores under dir, sharing the
// folder root on fs.
func NewFleet(dir string, fs afero.Fs, root string, opts Options) (*Fleet, error) {
	if opts.Devices < 1 {
		return nil, fmt.Errorf("need at least one device")
	}
	if opts.Months < 1 {
		opts.Months = 1
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create shared folder: %w", err)
	}

	f := &Fleet{opts: opts, fs: fs, root: root}
	for i := 0; i < opts.Devices; i++ {
		d, err := f.newDevice(dir, fmt.Sprintf("device-%d", i+1))
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		f.Devices = append(f.Devices, d)
	}
	return f, nil
}

func (f *Fleet) newDevice(dir, name string) (*Device, error) {
	db, err := store.Open(filepath.Join(dir, name+".db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", name, err)
	}
	if err := db.InitSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize %s store: %w", name, err)
	}

	logger := log.New(f.opts.Logger.Writer(), "["+name+"] ", f.opts.Logger.Flags())
	folder, err := replica.NewFolder(f.fs, f.root, &replica.Config{
		Download: replica.DownloadPolicy{Attempts: 1, Interval: time.Millisecond},
		Logger:   logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Device{
		Name: name,
		DB:   db,
		Sync: ledgersync.New(db, db, folder, &ledgersync.Config{
			Strategy: f.opts.Strategy,
			Logger:   logger,
		}),
	}, nil
}

// Close closes every device store.
func (f *Fleet) Close() error {
	var first error
	for _, d := range f.Devices {
		if err := d.DB.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Run performs the concurrent burst, then converges the fleet.
func (f *Fleet) Run(ctx context.Context) (*Result, error) {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		durations []time.Duration
		result    = &Result{}
		errs      = make(chan error, len(f.Devices))
	)

	for i, d := range f.Devices {
		wg.Add(1)
		go func(d *Device, seed int64) {
			defer wg.Done()

			stats, err := f.burst(ctx, d, rand.New(rand.NewSource(seed)))

			mu.Lock()
			defer mu.Unlock()
			durations = append(durations, stats.syncs...)
			result.Recorded += stats.recorded
			result.Edited += stats.edited
			result.Appends += stats.appends
			if err != nil {
				errs <- fmt.Errorf("%s: %w", d.Name, err)
			}
		}(d, f.opts.Seed+int64(i))
	}
	wg.Wait()
	close(errs)

	if err, ok := <-errs; ok {
		return nil, err
	}

	rounds, more, err := f.Converge(ctx, 2*len(f.Devices)+2)
	if err != nil {
		return nil, err
	}
	result.Rounds = rounds
	durations = append(durations, more...)
	result.Syncs = computeLatencyStats(durations)
	return result, nil
}

type burstStats struct {
	recorded int
	edited   int
	appends  int
	syncs    []time.Duration
}

// burst records and edits transactions on one device.
func (f *Fleet) burst(ctx context.Context, d *Device, rng *rand.Rand) (burstStats, error) {
	var st burstStats
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	categories := []string{"Food", "Rent", "Travel", "Utilities"}
	members := []string{"Alice", "Bob", "Carol"}

	writes := 0
	maybeSync := func() error {
		writes++
		if f.opts.SyncEvery <= 0 || writes%f.opts.SyncEvery != 0 {
			return nil
		}
		start := time.Now()
		_, err := d.Sync.FullSync(ctx)
		st.syncs = append(st.syncs, time.Since(start))
		return err
	}

	for i := 0; i < f.opts.TransactionsPerDevice; i++ {
		if err := ctx.Err(); err != nil {
			return st, err
		}

		payer, err := d.DB.FindOrCreateMember(ctx, members[rng.Intn(len(members))])
		if err != nil {
			return st, err
		}
		category, err := d.DB.FindOrCreateCategory(ctx, categories[rng.Intn(len(categories))])
		if err != nil {
			return st, err
		}

		tx := &schema.Transaction{
			Date:       base.AddDate(0, rng.Intn(f.opts.Months), rng.Intn(28)),
			Amount:     decimal.New(int64(rng.Intn(100000)+1), -2),
			CategoryID: category,
			PayerID:    payer,
			Note:       fmt.Sprintf("%s #%d", d.Name, i),
		}
		tx.SetDefaults()

		if err := d.DB.Insert(ctx, tx); err != nil {
			return st, err
		}
		st.recorded++
		d.own = append(d.own, tx.ID)

		if err := d.Sync.WriteIncremental(ctx, tx); err != nil {
			return st, err
		}
		st.appends++

		if err := maybeSync(); err != nil {
			return st, err
		}
	}

	for _, id := range d.own {
		if rng.Float64() >= f.opts.EditPct {
			continue
		}
		tx, err := d.DB.FetchByID(ctx, id)
		if err != nil {
			return st, err
		}
		tx.Amount = tx.Amount.Add(decimal.New(1, 0))
		tx.Note += " (edited)"
		// Edits land well outside the conflict tolerance; two copies
		// modified within the same second are a genuine conflict.
		tx.ModifiedAt = tx.ModifiedAt.Add(time.Duration(2+rng.Intn(3600)) * time.Second)
		if err := d.DB.Save(ctx, tx); err != nil {
			return st, err
		}
		st.edited++
		if err := maybeSync(); err != nil {
			return st, err
		}
	}
	return st, nil
}

// Converge runs sequential full syncs on every device until a whole round
// changes nothing, or maxRounds is reached.
func (f *Fleet) Converge(ctx context.Context, maxRounds int) (int, []time.Duration, error) {
	var durations []time.Duration
	for round := 1; round <= maxRounds; round++ {
		changed := false
		for _, d := range f.Devices {
			start := time.Now()
			report, err := d.Sync.FullSync(ctx)
			durations = append(durations, time.Since(start))
			if err != nil {
				return round, durations, fmt.Errorf("%s: %w", d.Name, err)
			}
			if report.Added+report.Updated+report.Written+report.SiblingsResolved > 0 {
				changed = true
			}
		}
		if !changed {
			return round, durations, nil
		}
	}
	return maxRounds, durations, fmt.Errorf("fleet did not converge in %d rounds", maxRounds)
}

// Verify checks that every device holds the same ledger, in wire form.
func (f *Fleet) Verify(ctx context.Context) error {
	var want []string
	for i, d := range f.Devices {
		got, err := fingerprint(ctx, d)
		if err != nil {
			return fmt.Errorf("%s: %w", d.Name, err)
		}
		if i == 0 {
			want = got
			continue
		}
		if len(got) != len(want) {
			return fmt.Errorf("%s holds %d records, %s holds %d",
				d.Name, len(got), f.Devices[0].Name, len(want))
		}
		for j := range got {
			if got[j] != want[j] {
				return fmt.Errorf("%s differs from %s:\n  %s\n  %s",
					d.Name, f.Devices[0].Name, got[j], want[j])
			}
		}
	}
	return nil
}

// fingerprint renders a device's ledger as sorted wire lines.
func fingerprint(ctx context.Context, d *Device) ([]string, error) {
	txs, err := d.DB.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	m := ledgersync.NewMapper(d.DB)
	lines := make([]string, 0, len(txs))
	for _, tx := range txs {
		r, err := m.ToRecord(ctx, tx)
		if err != nil {
			return nil, err
		}
		lines = append(lines, codec.EncodeRecord(r))
	}
	sort.Strings(lines)
	return lines, nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(sorted)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		TotalSyncs: len(sorted),
	}
}

// String formats the statistics for display.
func (s *LatencyStats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Full sync latency:\n")
	fmt.Fprintf(&b, "  Total Syncs:   %d\n", s.TotalSyncs)
	fmt.Fprintf(&b, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(&b, "  Min:           %v\n", s.Min)
	fmt.Fprintf(&b, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(&b, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(&b, "  P95:           %v\n", s.P95)
	fmt.Fprintf(&b, "  P99:           %v\n", s.P99)
	fmt.Fprintf(&b, "  Max:           %v\n", s.Max)
	return b.String()
}
