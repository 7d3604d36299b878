package sync

import (
	"context"
	"errors"

	"github.com/pocketledger/ledgersync/internal/ledger/replica"
)

// Errors returned by the orchestrator.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, sync.ErrSyncInProgress) {
//	    // another full sync is running; try again later
//	}
var (
	// ErrSyncInProgress is returned when FullSync is called while another
	// full sync on the same orchestrator is still running.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrLocked is returned when another process on this device holds the
	// ledger's sync lock.
	ErrLocked = errors.New("ledger is locked by another process")
)

// IsRetryable returns true if the same call is likely to succeed later
// without any user action.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Someone else is syncing; it will finish
	if errors.Is(err, ErrSyncInProgress) || errors.Is(err, ErrLocked) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return false
}

// IsFatal returns true if syncing cannot work until the user fixes their
// setup (for example signs in to the cloud provider).
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return replica.IsFatal(err)
}
