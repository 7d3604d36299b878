package sync

import (
	"time"

	"github.com/pocketledger/ledgersync/internal/ledger/merge"
)

// State is the phase of the orchestrator.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateSynced  State = "synced"
	StateError   State = "error"
)

// Status is a snapshot of the orchestrator for observers.
type Status struct {
	State State `json:"state"`

	// Reason holds the error message when State is StateError. A failed sync
	// stays in StateError until the next FullSync starts.
	Reason string `json:"reason,omitempty"`

	LastSync   time.Time `json:"last_sync,omitempty"`
	LastReport *Report   `json:"last_report,omitempty"`
}

// Report summarizes one full sync.
type Report struct {
	// Partitions is the number of canonical partitions read.
	Partitions int `json:"partitions"`

	// SiblingsResolved counts provider conflict copies merged and removed.
	SiblingsResolved int `json:"siblings_resolved"`

	// Added and Updated count records imported into the local store.
	Added   int `json:"added"`
	Updated int `json:"updated"`

	// Skipped counts undecodable rows and records that could not be imported.
	Skipped int `json:"skipped"`

	// Written counts partitions rewritten on the replica.
	Written int `json:"written"`

	// Conflicts surfaced by the strategy (only keep-both surfaces them).
	Conflicts []merge.Conflict `json:"conflicts,omitempty"`

	Duration time.Duration `json:"duration"`
}

// subscriberBuffer bounds how far a slow observer can fall behind before
// updates to it are dropped.
const subscriberBuffer = 16

// Status returns the current status.
func (o *Orchestrator) Status() Status {
	o.statusMu.RLock()
	defer o.statusMu.RUnlock()
	return o.status
}

// Subscribe returns a channel receiving every status change and a function
// that cancels the subscription and closes the channel. Updates are dropped
// for subscribers that do not keep up.
func (o *Orchestrator) Subscribe() (<-chan Status, func()) {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()

	id := o.nextSubscriber
	o.nextSubscriber++
	ch := make(chan Status, subscriberBuffer)
	o.subscribers[id] = ch

	cancel := func() {
		o.statusMu.Lock()
		defer o.statusMu.Unlock()
		if c, ok := o.subscribers[id]; ok {
			delete(o.subscribers, id)
			close(c)
		}
	}
	return ch, cancel
}

// setStatus applies fn to the status and notifies subscribers.
func (o *Orchestrator) setStatus(fn func(*Status)) {
	o.statusMu.Lock()
	defer o.statusMu.Unlock()

	fn(&o.status)
	for _, ch := range o.subscribers {
		select {
		case ch <- o.status:
		default:
		}
	}
}
