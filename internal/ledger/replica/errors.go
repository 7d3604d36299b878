package replica

import "errors"

// Errors returned by replica operations.
//
// Check them with errors.Is:
//
//	if errors.Is(err, replica.ErrReplicaUnavailable) {
//	    // no provisioned folder: surface to the user, do not retry
//	}
var (
	// ErrReplicaUnavailable is returned when the shared folder cannot be
	// reached: no folder is configured, the account is signed out, or the
	// container has not been provisioned. It is never retried automatically.
	ErrReplicaUnavailable = errors.New("replica unavailable")

	// ErrNotFound is returned when a partition or version does not exist.
	ErrNotFound = errors.New("partition not found")

	// ErrInvalidPartition is returned for names that do not follow the
	// transactions_YYYY-MM.csv convention.
	ErrInvalidPartition = errors.New("invalid partition name")

	// ErrNoCanonicalCopy is returned by Resolve when only sibling copies exist
	// and no version to keep was chosen.
	ErrNoCanonicalCopy = errors.New("no canonical copy to keep")
)

// IsFatal returns true if the error means the replica cannot be used at all
// until the user fixes their setup.
func IsFatal(err error) bool {
	return errors.Is(err, ErrReplicaUnavailable)
}
