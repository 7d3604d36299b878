package dashboard

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pocketledger/ledgersync/internal/ledger/merge"
	ledgersync "github.com/pocketledger/ledgersync/internal/ledger/sync"
)

// StatusData is the orchestrator state as shown to clients
type StatusData struct {
	State    ledgersync.State `json:"state"`
	Reason   string           `json:"reason,omitempty"`
	LastSync *time.Time       `json:"last_sync,omitempty"`
}

// SyncCompleteData summarizes a finished full sync
type SyncCompleteData struct {
	Partitions       int           `json:"partitions"`
	SiblingsResolved int           `json:"siblings_resolved"`
	Added            int           `json:"added"`
	Updated          int           `json:"updated"`
	Skipped          int           `json:"skipped"`
	Written          int           `json:"written"`
	Conflicts        int           `json:"conflicts"`
	Duration         time.Duration `json:"duration"`
}

// ConflictData describes one record-level conflict
type ConflictData struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Date        string `json:"date"`
	LocalAmount string `json:"local_amount"`
	// RemoteAmount is empty when there is no remote copy
	RemoteAmount string `json:"remote_amount,omitempty"`
}

// ConflictsData lists everything waiting for a human decision
type ConflictsData struct {
	// Partitions still holding provider conflict copies
	Partitions []string       `json:"partitions,omitempty"`
	Records    []ConflictData `json:"records,omitempty"`
}

// Handler turns orchestrator status updates into dashboard messages.
type Handler struct {
	server *Server
	logger *log.Logger

	mu     sync.RWMutex
	status StatusData
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		server: server,
		logger: logger,
		status: StatusData{State: ledgersync.StateIdle},
	}
}

// Run forwards updates until ctx is done or the channel is closed.
func (h *Handler) Run(ctx context.Context, updates <-chan ledgersync.Status) {
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			h.OnStatus(st)
			if st.State == ledgersync.StateSynced && st.LastReport != nil {
				h.OnSyncComplete(st.LastReport)
			}
		}
	}
}

// OnStatus handles an orchestrator state change
func (h *Handler) OnStatus(st ledgersync.Status) {
	data := StatusData{State: st.State, Reason: st.Reason}
	if !st.LastSync.IsZero() {
		last := st.LastSync
		data.LastSync = &last
	}

	h.mu.Lock()
	h.status = data
	h.mu.Unlock()

	h.send(MessageTypeStatus, data)
}

// OnSyncComplete handles a finished full sync
func (h *Handler) OnSyncComplete(report *ledgersync.Report) {
	h.logger.Printf("Sync complete: %d added, %d updated, %d written in %v",
		report.Added, report.Updated, report.Written, report.Duration)

	h.send(MessageTypeSyncComplete, SyncCompleteData{
		Partitions:       report.Partitions,
		SiblingsResolved: report.SiblingsResolved,
		Added:            report.Added,
		Updated:          report.Updated,
		Skipped:          report.Skipped,
		Written:          report.Written,
		Conflicts:        len(report.Conflicts),
		Duration:         report.Duration,
	})

	if len(report.Conflicts) > 0 {
		h.OnConflicts(nil, report.Conflicts)
	}
}

// OnConflicts announces unresolved partitions and record conflicts
func (h *Handler) OnConflicts(partitions []string, conflicts []merge.Conflict) {
	data := ConflictsData{Partitions: partitions}
	for _, c := range conflicts {
		cd := ConflictData{
			ID:          c.Local.ID,
			Kind:        string(c.Kind),
			Date:        c.Local.Date,
			LocalAmount: c.Local.Amount,
		}
		if c.Remote != nil {
			cd.RemoteAmount = c.Remote.Amount
		}
		data.Records = append(data.Records, cd)
	}

	h.logger.Printf("Conflicts: %d partitions, %d records", len(data.Partitions), len(data.Records))
	h.send(MessageTypeConflicts, data)
}

// Snapshot returns the latest status; use it as Config.Snapshot.
func (h *Handler) Snapshot() interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

func (h *Handler) send(typ MessageType, data interface{}) {
	msg, err := newMessage(typ, data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(msg)
}
