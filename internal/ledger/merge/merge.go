// Package merge reconciles two sets of ledger records.
//
// Merge is a pure function: it performs no I/O and holds no shared state, so
// it can be called concurrently on independent inputs. Records are compared
// in their wire form (schema.Record) so that copies read from different
// devices compare by display names rather than local identifiers.
//
// Resolution rules for an identifier present on both sides:
//
//   - same business content: keep the local copy
//   - modification times further apart than the tolerance: the later copy
//     wins silently (last writer wins)
//   - otherwise the copies conflict and the Strategy decides
//
// Deletions are not tracked, so Result.Deleted is always zero and a record
// deleted on one device reappears after merging with a copy that still has it.
package merge

import (
	"sort"
	"time"

	"github.com/pocketledger/ledgersync/internal/ledger/schema"
)

// DefaultTolerance is the window inside which two modification times are
// treated as simultaneous.
const DefaultTolerance = time.Second

// ConflictKind classifies a record-level conflict.
type ConflictKind string

const (
	ConflictBothModified    ConflictKind = "both-modified"
	ConflictDeletedModified ConflictKind = "deleted-modified"
	ConflictDuplicateAdd    ConflictKind = "duplicate-add"
)

// Conflict describes two divergent copies of one record.
type Conflict struct {
	Kind       ConflictKind
	Local      schema.Record
	Remote     *schema.Record
	DetectedAt time.Time
}

// Result is the outcome of a merge.
type Result struct {
	Merged    []schema.Record
	Conflicts []Conflict

	Added   int // records only present remotely
	Updated int // records where the remote copy replaced the local one
	Deleted int // always 0: deletions are not tracked
}

// Options tunes a merge.
type Options struct {
	// Tolerance is the modification-time window for conflict detection.
	Tolerance time.Duration

	// Now stamps Conflict.DetectedAt.
	Now func() time.Time
}

// DefaultOptions returns a one-second tolerance and the wall clock.
func DefaultOptions() Options {
	return Options{
		Tolerance: DefaultTolerance,
		Now:       time.Now,
	}
}

// Merge reconciles local and remote using the default options.
func Merge(local, remote []schema.Record, strategy Strategy) Result {
	return MergeWithOptions(local, remote, strategy, DefaultOptions())
}

// MergeWithOptions reconciles local and remote.
//
// Records present on one side only are kept; remote-only records count as
// Added. The merged set is sorted by business date, newest first.
func MergeWithOptions(local, remote []schema.Record, strategy Strategy, opts Options) Result {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if !strategy.IsValid() {
		strategy = DefaultStrategy
	}

	localIdx, localOrder := index(local)
	remoteIdx, remoteOrder := index(remote)

	var res Result
	res.Merged = make([]schema.Record, 0, len(localOrder)+len(remoteOrder))

	for _, id := range localOrder {
		l := localIdx[id]
		r, ok := remoteIdx[id]
		if !ok {
			res.Merged = append(res.Merged, l)
			continue
		}

		winner, remoteWon, conflict := resolve(l, r, strategy, opts)
		res.Merged = append(res.Merged, winner)
		if remoteWon {
			res.Updated++
		}
		if conflict != nil {
			res.Conflicts = append(res.Conflicts, *conflict)
		}
	}

	for _, id := range remoteOrder {
		if _, ok := localIdx[id]; ok {
			continue
		}
		res.Merged = append(res.Merged, remoteIdx[id])
		res.Added++
	}

	SortRecords(res.Merged)
	return res
}

// resolve picks the surviving copy of a record present on both sides.
// remoteWon is true when the merged content comes from the remote copy.
// conflict is non-nil only when the strategy asks for it to be reported.
func resolve(l, r schema.Record, strategy Strategy, opts Options) (winner schema.Record, remoteWon bool, conflict *Conflict) {
	if l.BusinessEqual(r) {
		return l, false, nil
	}

	lt, rt := modified(l), modified(r)
	if outsideTolerance(lt, rt, opts.Tolerance) {
		if rt.After(lt) {
			return r, true, nil
		}
		return l, false, nil
	}

	switch strategy {
	case StrategyKeepLocal:
		return l, false, nil
	case StrategyKeepRemote:
		return r, true, nil
	case StrategyKeepBoth:
		remote := r
		return l, false, &Conflict{
			Kind:       ConflictBothModified,
			Local:      l,
			Remote:     &remote,
			DetectedAt: opts.Now(),
		}
	default: // StrategyKeepNewest
		if rt.After(lt) {
			return r, true, nil
		}
		return l, false, nil
	}
}

// modified parses ModifiedAt; unparsable values sort before everything else.
func modified(r schema.Record) time.Time {
	t, ok := r.Modified()
	if !ok {
		return time.Time{}
	}
	return t
}

func outsideTolerance(a, b time.Time, tolerance time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d > tolerance
}

// index maps records by ID and returns the IDs in first-seen order.
// When one side holds the same ID twice (an edited record appended after its
// earlier line) the later modification wins; ties keep the later line.
func index(records []schema.Record) (map[string]schema.Record, []string) {
	idx := make(map[string]schema.Record, len(records))
	order := make([]string, 0, len(records))
	for _, r := range records {
		prev, seen := idx[r.ID]
		if !seen {
			idx[r.ID] = r
			order = append(order, r.ID)
			continue
		}
		if !modified(prev).After(modified(r)) {
			idx[r.ID] = r
		}
	}
	return idx, order
}

// SortRecords orders records by business date, newest first. Records on the
// same day are ordered by ID so the output is deterministic.
func SortRecords(records []schema.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Date != records[j].Date {
			return records[i].Date > records[j].Date
		}
		return records[i].ID < records[j].ID
	})
}
