package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/pocketledger/ledgersync/internal/ledger/merge"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	return path
}

func TestDefault_Valid(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if c.Strategy() != merge.StrategyKeepNewest {
		t.Errorf("Strategy() = %s, want keep-newest", c.Strategy())
	}
	if c.DownloadPolicy().Timeout() != 30*time.Second {
		t.Errorf("download timeout = %v, want 30s", c.DownloadPolicy().Timeout())
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
[ledger]
replica = "/shared/ledger"

[sync]
strategy = "keep-both"
tolerance = "5s"

[download]
attempts = 3
interval = "250ms"
`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if c.Ledger.Replica != "/shared/ledger" {
		t.Errorf("Ledger.Replica = %q", c.Ledger.Replica)
	}
	if c.Strategy() != merge.StrategyKeepBoth {
		t.Errorf("Strategy() = %s, want keep-both", c.Strategy())
	}
	if c.Sync.Tolerance != 5*time.Second {
		t.Errorf("Sync.Tolerance = %v, want 5s", c.Sync.Tolerance)
	}
	if got := c.DownloadPolicy().Timeout(); got != 750*time.Millisecond {
		t.Errorf("download timeout = %v, want 750ms", got)
	}
	// Unset keys keep their defaults.
	if c.Dashboard.Port != 8080 {
		t.Errorf("Dashboard.Port = %d, want default 8080", c.Dashboard.Port)
	}
	if c.Path() != path {
		t.Errorf("Path() = %q, want %q", c.Path(), path)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, "[sync]\nstrategy = \"keep-local\"\n")
	t.Setenv("LEDGERSYNC_SYNC_STRATEGY", "keep-remote")
	t.Setenv("LEDGERSYNC_DASHBOARD_PORT", "9090")

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if c.Strategy() != merge.StrategyKeepRemote {
		t.Errorf("Strategy() = %s, want keep-remote from env", c.Strategy())
	}
	if c.Dashboard.Port != 9090 {
		t.Errorf("Dashboard.Port = %d, want 9090 from env", c.Dashboard.Port)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("Load() of missing explicit file succeeded, want error")
	}
}

func TestLoad_InvalidStrategy(t *testing.T) {
	path := writeConfig(t, "[sync]\nstrategy = \"coin-flip\"\n")
	if _, err := Load(path); err == nil {
		t.Error("Load() with unknown strategy succeeded, want error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative tolerance", func(c *Config) { c.Sync.Tolerance = -time.Second }},
		{"no attempts", func(c *Config) { c.Download.Attempts = 0 }},
		{"zero interval", func(c *Config) { c.Download.Interval = 0 }},
		{"port out of range", func(c *Config) { c.Dashboard.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("Validate() succeeded, want error")
			}
		})
	}
}

func TestLockPath(t *testing.T) {
	c := Default()
	c.Ledger.Database = "/data/ledger.db"
	if got := c.LockPath(); got != "/data/ledger.db.lock" {
		t.Errorf("LockPath() = %q", got)
	}
	c.Sync.Lock = false
	if got := c.LockPath(); got != "" {
		t.Errorf("LockPath() with locking off = %q, want empty", got)
	}
}

func TestWriteFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)

	want := Default()
	want.Ledger.Replica = "/shared"
	want.Sync.Strategy = string(merge.StrategyKeepLocal)
	want.Daemon.Debounce = 3 * time.Second

	if err := want.WriteFile(path, false); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if err := want.WriteFile(path, false); err == nil {
		t.Error("WriteFile() over existing file succeeded without force")
	}
	if err := want.WriteFile(path, true); err != nil {
		t.Errorf("WriteFile(force) failed: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreUnexported(Config{})); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestEncode(t *testing.T) {
	var buf bytes.Buffer
	if err := Default().Encode(&buf); err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"[sync]", `strategy = "keep-newest"`, `debounce = "2s"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Encode() output missing %q:\n%s", want, out)
		}
	}
}
