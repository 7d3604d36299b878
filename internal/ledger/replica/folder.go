package replica

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pocketledger/ledgersync/internal/ledger/schema"
	"github.com/spf13/afero"
)

// Config holds configuration for a Folder.
type Config struct {
	// Download bounds the wait for lazily downloaded files.
	Download DownloadPolicy

	// Materializer detects and triggers downloads (default: placeholders).
	Materializer Materializer

	// Logger for replica activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Download:     DefaultDownloadPolicy(),
		Materializer: PlaceholderMaterializer{},
		Logger:       log.New(os.Stderr, "[replica] ", log.LstdFlags),
	}
}

// Folder is a Backend over a directory mirrored by a cloud-file provider.
type Folder struct {
	fs     afero.Fs
	root   string
	config *Config
	onDisk bool

	locks keyedMutex
}

var _ Backend = (*Folder)(nil)

// NewFolder opens the shared folder at root.
//
// ErrReplicaUnavailable is returned when root is empty (no folder
// provisioned) or does not exist as a directory.
func NewFolder(fs afero.Fs, root string, config *Config) (*Folder, error) {
	if fs == nil {
		return nil, fmt.Errorf("fs cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.Materializer == nil {
		config.Materializer = defaults.Materializer
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Download.Attempts <= 0 {
		config.Download.Attempts = defaults.Download.Attempts
	}
	if config.Download.Interval <= 0 {
		config.Download.Interval = defaults.Download.Interval
	}

	_, onDisk := fs.(*afero.OsFs)
	f := &Folder{
		fs:     fs,
		root:   root,
		config: config,
		onDisk: onDisk,
		locks:  keyedMutex{locks: make(map[string]*sync.Mutex)},
	}

	if err := f.available(); err != nil {
		return nil, err
	}
	return f, nil
}

// Root returns the shared folder path.
func (f *Folder) Root() string {
	return f.root
}

// available fails fast when the folder is not reachable.
func (f *Folder) available() error {
	if f.root == "" {
		return fmt.Errorf("%w: no shared folder configured", ErrReplicaUnavailable)
	}
	info, err := f.fs.Stat(f.root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReplicaUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrReplicaUnavailable, f.root)
	}
	return nil
}

func (f *Folder) path(name string) string {
	return filepath.Join(f.root, name)
}

func checkCanonical(name string) error {
	if !schema.IsCanonicalPartition(name) {
		return fmt.Errorf("%w: %q", ErrInvalidPartition, name)
	}
	return nil
}

// entries lists partition files in the folder, mapping placeholders to the
// names they stand in for.
func (f *Folder) entries() ([]string, error) {
	infos, err := afero.ReadDir(f.fs, f.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read replica folder: %w", err)
	}

	namer, _ := f.config.Materializer.(placeholderNamer)
	seen := make(map[string]bool)
	var names []string
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		name := info.Name()
		if namer != nil {
			if real, ok := namer.RealName(name); ok {
				name = real
			}
		}
		if _, _, ok := schema.ParsePartitionName(name); !ok || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ListPartitions implements Backend.
func (f *Folder) ListPartitions(ctx context.Context) ([]string, error) {
	if err := f.available(); err != nil {
		return nil, err
	}
	all, err := f.entries()
	if err != nil {
		return nil, err
	}

	var out []string
	for _, name := range all {
		if schema.IsCanonicalPartition(name) {
			out = append(out, name)
		}
	}
	return out, nil
}

// Read implements Backend.
func (f *Folder) Read(ctx context.Context, name string) (*Snapshot, error) {
	if err := checkCanonical(name); err != nil {
		return nil, err
	}
	data, current, err := f.readFile(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Name: name, Data: data, Current: current}, nil
}

// readFile reads any file in the folder under its per-name lock.
func (f *Folder) readFile(ctx context.Context, name string) ([]byte, bool, error) {
	if err := f.available(); err != nil {
		return nil, false, err
	}

	unlock := f.locks.lock(name)
	defer unlock()

	path := f.path(name)
	current, err := f.ensureMaterialized(ctx, path)
	if err != nil {
		return nil, false, err
	}

	data, err := afero.ReadFile(f.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			if !current {
				// Still a placeholder: nothing on disk yet, best effort is empty.
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, false, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, current, nil
}

// IsCurrent implements Backend.
func (f *Folder) IsCurrent(ctx context.Context, name string) (bool, error) {
	if err := f.available(); err != nil {
		return false, err
	}
	return f.config.Materializer.Materialized(f.fs, f.path(name))
}

// Write implements Backend.
func (f *Folder) Write(ctx context.Context, name string, data []byte) error {
	if err := checkCanonical(name); err != nil {
		return err
	}
	if err := f.available(); err != nil {
		return err
	}

	unlock := f.locks.lock(name)
	defer unlock()

	return f.writeAtomic(name, data)
}

// writeAtomic writes to a hidden temp file in the same folder and renames it
// over the target, so readers see either the old or the new content.
func (f *Folder) writeAtomic(name string, data []byte) error {
	tmp, err := afero.TempFile(f.fs, f.root, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = f.fs.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = f.fs.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := f.fs.Rename(tmpName, f.path(name)); err != nil {
		_ = f.fs.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

// Append implements Backend.
func (f *Folder) Append(ctx context.Context, name string, header, line []byte) error {
	if err := checkCanonical(name); err != nil {
		return err
	}
	if err := f.available(); err != nil {
		return err
	}

	unlock := f.locks.lock(name)
	defer unlock()

	path := f.path(name)
	// Appending to a placeholder would create a second copy of the file.
	current, err := f.ensureMaterialized(ctx, path)
	if err != nil {
		return err
	}
	if !current {
		f.config.Logger.Printf("Warning: appending to %s before it finished downloading", name)
	}

	info, err := f.fs.Stat(path)
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		var buf bytes.Buffer
		buf.Write(header)
		if len(header) > 0 && header[len(header)-1] != '\n' {
			buf.WriteByte('\n')
		}
		buf.Write(line)
		return f.writeAtomic(name, buf.Bytes())
	}
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", name, err)
	}

	file, err := f.fs.OpenFile(path, os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer file.Close()

	// Keep one record per line even if the last writer left no newline.
	last := make([]byte, 1)
	if _, err := file.ReadAt(last, info.Size()-1); err != nil && err != io.EOF {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if last[0] != '\n' {
		line = append([]byte{'\n'}, line...)
	}

	if _, err := file.Write(line); err != nil {
		return fmt.Errorf("failed to append to %s: %w", name, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	return nil
}

// ConflictingSiblings implements Backend.
func (f *Folder) ConflictingSiblings(ctx context.Context, name string) ([]string, error) {
	if err := checkCanonical(name); err != nil {
		return nil, err
	}
	if err := f.available(); err != nil {
		return nil, err
	}
	all, err := f.entries()
	if err != nil {
		return nil, err
	}

	key, _, _ := schema.ParsePartitionName(name)
	var siblings []string
	for _, entry := range all {
		k, suffix, _ := schema.ParsePartitionName(entry)
		if k == key && suffix != "" {
			siblings = append(siblings, entry)
		}
	}
	return siblings, nil
}

// ConflictedPartitions implements Backend.
func (f *Folder) ConflictedPartitions(ctx context.Context) ([]string, error) {
	if err := f.available(); err != nil {
		return nil, err
	}
	all, err := f.entries()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []string
	for _, entry := range all {
		k, suffix, _ := schema.ParsePartitionName(entry)
		if suffix == "" || seen[k.Name()] {
			continue
		}
		seen[k.Name()] = true
		out = append(out, k.Name())
	}
	sort.Strings(out)
	return out, nil
}

// UnresolvedVersions implements Backend.
func (f *Folder) UnresolvedVersions(ctx context.Context, name string) ([]Version, error) {
	siblings, err := f.ConflictingSiblings(ctx, name)
	if err != nil {
		return nil, err
	}

	var versions []Version
	if v, ok := f.version(name, true); ok {
		versions = append(versions, v)
	}
	for _, s := range siblings {
		if v, ok := f.version(s, false); ok {
			versions = append(versions, v)
		}
	}
	return versions, nil
}

// version describes one file, falling back to its placeholder when the file
// is not downloaded.
func (f *Folder) version(name string, canonical bool) (Version, bool) {
	info, err := f.fs.Stat(f.path(name))
	if err != nil {
		info, err = f.fs.Stat(PlaceholderPath(f.path(name)))
		if err != nil {
			return Version{}, false
		}
	}
	return Version{
		Name:      name,
		Canonical: canonical,
		Size:      info.Size(),
		ModTime:   info.ModTime(),
	}, true
}

// ReadVersion implements Backend.
func (f *Folder) ReadVersion(ctx context.Context, v Version) ([]byte, error) {
	if _, _, ok := schema.ParsePartitionName(v.Name); !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPartition, v.Name)
	}
	data, _, err := f.readFile(ctx, v.Name)
	return data, err
}

// Resolve implements Backend.
func (f *Folder) Resolve(ctx context.Context, name string, keep *Version) error {
	siblings, err := f.ConflictingSiblings(ctx, name)
	if err != nil {
		return err
	}

	if keep != nil && keep.Name != name {
		data, err := f.ReadVersion(ctx, *keep)
		if err != nil {
			return fmt.Errorf("failed to read version %s: %w", keep.Name, err)
		}
		unlock := f.locks.lock(name)
		err = f.writeAtomic(name, data)
		unlock()
		if err != nil {
			return err
		}
	} else if _, ok := f.version(name, true); !ok {
		return fmt.Errorf("%w: %s", ErrNoCanonicalCopy, name)
	}

	for _, s := range siblings {
		unlock := f.locks.lock(s)
		err := f.removeFile(s)
		unlock()
		if err != nil {
			return err
		}
	}

	f.config.Logger.Printf("Resolved %s (%d sibling(s) removed)", name, len(siblings))
	return nil
}

// removeFile deletes a file and its placeholder.
func (f *Folder) removeFile(name string) error {
	path := f.path(name)
	if err := f.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	if err := f.fs.Remove(PlaceholderPath(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove placeholder for %s: %w", name, err)
	}
	return nil
}

// keyedMutex serializes access per file name.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
