// Package replica provides file-level access to a ledger's shared folder.
//
// The shared folder is mirrored between devices by a cloud-file provider. It
// may be lazily downloaded (files exist as placeholders until opened) and the
// provider may leave alternate copies of a file it could not merge. Backend
// exposes both concerns so the orchestrator can read fresh data and collapse
// those copies without knowing which provider is in use.
package replica

import (
	"context"
	"time"
)

// Backend is the storage contract the sync orchestrator works against.
//
// Implementations must make Write atomic (a reader never observes a partially
// written partition) and serialize operations on the same partition.
type Backend interface {
	// ListPartitions returns the canonical partition names, sorted.
	ListPartitions(ctx context.Context) ([]string, error)

	// Read returns the content of a partition, downloading it first if the
	// local mirror only holds a placeholder. If the download does not finish
	// within the configured policy the bytes currently on disk are returned
	// with Snapshot.Current set to false.
	Read(ctx context.Context, name string) (*Snapshot, error)

	// IsCurrent reports whether the partition is fully materialized locally.
	IsCurrent(ctx context.Context, name string) (bool, error)

	// Write atomically replaces the content of a partition.
	Write(ctx context.Context, name string, data []byte) error

	// Append adds one encoded line to a partition without rewriting it.
	// header is written first when the partition does not exist yet.
	Append(ctx context.Context, name string, header, line []byte) error

	// ConflictingSiblings lists alternate copies of a partition left by the
	// sync provider.
	ConflictingSiblings(ctx context.Context, name string) ([]string, error)

	// ConflictedPartitions lists canonical names that have siblings.
	ConflictedPartitions(ctx context.Context) ([]string, error)

	// UnresolvedVersions lists the canonical copy (if any) and all siblings.
	UnresolvedVersions(ctx context.Context, name string) ([]Version, error)

	// ReadVersion returns the content of one version.
	ReadVersion(ctx context.Context, v Version) ([]byte, error)

	// Resolve collapses the versions of a partition. When keep names a
	// sibling its content replaces the canonical copy; every sibling is
	// then removed. A nil keep keeps the canonical copy as is.
	Resolve(ctx context.Context, name string, keep *Version) error
}

// Snapshot is the content of a partition at read time.
type Snapshot struct {
	Name string
	Data []byte

	// Current is false when the download did not complete in time and Data
	// may be stale or partial.
	Current bool
}

// Version is one on-disk copy of a partition.
type Version struct {
	// Name is the file name inside the shared folder.
	Name string `json:"name" yaml:"name"`

	// Canonical is true for the transactions_YYYY-MM.csv copy.
	Canonical bool `json:"canonical" yaml:"canonical"`

	Size    int64     `json:"size" yaml:"size"`
	ModTime time.Time `json:"mod_time" yaml:"mod_time"`
}
