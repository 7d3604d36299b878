package daemon

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pocketledger/ledgersync/internal/ledger/replica"
	"github.com/pocketledger/ledgersync/internal/ledger/schema"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FileKind tells canonical partitions from the copies around them.
type FileKind int

const (
	// KindCanonical is a transactions_YYYY-MM.csv file.
	KindCanonical FileKind = iota
	// KindSibling is a conflict copy left by the sync provider.
	KindSibling
	// KindPlaceholder stands in for a file that is not downloaded yet.
	KindPlaceholder
)

// String returns a human-readable representation of the kind.
func (k FileKind) String() string {
	switch k {
	case KindCanonical:
		return "canonical"
	case KindSibling:
		return "sibling"
	case KindPlaceholder:
		return "placeholder"
	default:
		return "unknown"
	}
}

// FileEvent is a change to a partition file in the replica folder.
type FileEvent struct {
	// Path is the path of the file that changed.
	Path string
	// Partition is the partition file name the change concerns. For
	// placeholders it is the name of the file they stand in for.
	Partition string
	Kind      FileKind
	Op        EventOp
}

// FileWatcher watches the replica folder for partition changes.
// Temporary files and anything that is not a partition are ignored.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	dir     string
}

// NewFileWatcher creates a new FileWatcher instance.
// The watcher must be started with Start() before it will emit events.
func NewFileWatcher() (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher: watcher,
		events:  make(chan FileEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching dir.
func (fw *FileWatcher) Start(dir string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	if err := fw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	fw.dir = dir
	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// Stop stops watching and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return fw.watcher.Close()
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)

	// Closing the watcher unblocks the event loop
	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)

	return nil
}

// Events returns the channel that emits FileEvent notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			if fileEvent, ok := convertEvent(event); ok {
				select {
				case fw.events <- fileEvent:
				case <-fw.done:
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

// convertEvent maps an fsnotify event to a FileEvent.
// Returns false for events that should be ignored.
func convertEvent(event fsnotify.Event) (FileEvent, bool) {
	base := filepath.Base(event.Name)

	kind := KindCanonical
	name := base
	if real, ok := (replica.PlaceholderMaterializer{}).RealName(base); ok {
		kind = KindPlaceholder
		name = real
	}

	_, suffix, ok := schema.ParsePartitionName(name)
	if !ok {
		return FileEvent{}, false
	}
	if suffix != "" && kind == KindCanonical {
		kind = KindSibling
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		// Ignore chmod
		return FileEvent{}, false
	}

	return FileEvent{
		Path:      event.Name,
		Partition: name,
		Kind:      kind,
		Op:        op,
	}, true
}
