package replica

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// DownloadPolicy bounds how long Read waits for a lazily downloaded file.
type DownloadPolicy struct {
	// Attempts is the number of checks before giving up (default 30).
	Attempts int

	// Interval is the delay between checks (default 1s).
	Interval time.Duration
}

// DefaultDownloadPolicy waits up to thirty seconds, checking once a second.
func DefaultDownloadPolicy() DownloadPolicy {
	return DownloadPolicy{
		Attempts: 30,
		Interval: time.Second,
	}
}

// Timeout is the longest the policy will wait.
func (p DownloadPolicy) Timeout() time.Duration {
	return time.Duration(p.Attempts) * p.Interval
}

// Materializer knows whether a file in the shared folder is fully present on
// this device and how to ask the provider to fetch it.
type Materializer interface {
	// Materialized reports whether path is fully downloaded. A path that does
	// not exist at all is reported as materialized: there is nothing to wait for.
	Materialized(fs afero.Fs, path string) (bool, error)

	// StartDownload asks the provider to fetch path. It must not block on the
	// download and the download must survive cancellation of ctx.
	StartDownload(ctx context.Context, path string) error
}

// placeholderNamer is implemented by materializers whose placeholders live
// under a different file name than the real file.
type placeholderNamer interface {
	// RealName maps a directory entry to the file it stands in for.
	RealName(entry string) (string, bool)
}

// AlwaysMaterialized is for plain folders that are never lazily downloaded.
type AlwaysMaterialized struct{}

func (AlwaysMaterialized) Materialized(afero.Fs, string) (bool, error)  { return true, nil }
func (AlwaysMaterialized) StartDownload(context.Context, string) error { return nil }

// PlaceholderMaterializer handles providers that keep a hidden placeholder
// ".<name>.icloud" next to files that are not downloaded yet.
type PlaceholderMaterializer struct {
	// DownloadCommand, when set, is run with the file path appended to start
	// a download, e.g. []string{"brctl", "download"}.
	DownloadCommand []string
}

const placeholderSuffix = ".icloud"

// PlaceholderPath returns the placeholder that stands in for path.
func PlaceholderPath(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+placeholderSuffix)
}

// RealName implements placeholderNamer.
func (PlaceholderMaterializer) RealName(entry string) (string, bool) {
	if !strings.HasPrefix(entry, ".") || !strings.HasSuffix(entry, placeholderSuffix) {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(entry, "."), placeholderSuffix), true
}

// Materialized implements Materializer.
func (PlaceholderMaterializer) Materialized(fs afero.Fs, path string) (bool, error) {
	if _, err := fs.Stat(path); err == nil {
		return true, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if _, err := fs.Stat(PlaceholderPath(path)); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat placeholder for %s: %w", path, err)
	}

	return true, nil
}

// StartDownload implements Materializer.
func (m PlaceholderMaterializer) StartDownload(_ context.Context, path string) error {
	if len(m.DownloadCommand) == 0 {
		return nil
	}

	args := append(append([]string{}, m.DownloadCommand[1:]...), path)
	// Not bound to the caller's context: abandoning the wait must not kill
	// the download.
	cmd := exec.Command(m.DownloadCommand[0], args...) // #nosec G204 - command comes from config
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start download of %s: %w", path, err)
	}
	go func() { _ = cmd.Wait() }()

	return nil
}

// ensureMaterialized makes sure path is downloaded, waiting under the
// configured policy. It returns false without error when the wait timed out;
// the caller then proceeds with whatever is on disk. Cancelling ctx abandons
// the wait and returns ctx.Err().
func (f *Folder) ensureMaterialized(ctx context.Context, path string) (bool, error) {
	ok, err := f.config.Materializer.Materialized(f.fs, path)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	f.config.Logger.Printf("Downloading %s", filepath.Base(path))
	if err := f.config.Materializer.StartDownload(ctx, path); err != nil {
		f.config.Logger.Printf("Warning: %v", err)
	}

	return f.waitForDownload(ctx, path)
}

// waitForDownload polls Materialized at the policy interval. On the OS
// filesystem an fsnotify watch on the folder wakes it early.
func (f *Folder) waitForDownload(ctx context.Context, path string) (bool, error) {
	policy := f.config.Download

	var events chan fsnotify.Event
	if f.onDisk {
		if w, err := fsnotify.NewWatcher(); err == nil {
			defer w.Close()
			if err := w.Add(filepath.Dir(path)); err == nil {
				events = w.Events
			}
		}
	}

	ticker := time.NewTicker(policy.Interval)
	defer ticker.Stop()

	for attempt := 0; attempt < policy.Attempts; {
		select {
		case <-ctx.Done():
			return false, ctx.Err()

		case <-ticker.C:
			attempt++

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) != filepath.Base(path) {
				continue
			}
		}

		done, err := f.config.Materializer.Materialized(f.fs, path)
		if err != nil {
			return false, err
		}
		if done {
			return true, nil
		}
	}

	f.config.Logger.Printf("Warning: %s not downloaded after %v, reading best-effort", filepath.Base(path), policy.Timeout())
	return false, nil
}
