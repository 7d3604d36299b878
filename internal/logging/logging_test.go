package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ledgersync.log")
	logs := Open(Options{File: path, MaxSizeMB: 1})

	logs.Logger("sync").Println("full sync complete")
	logs.Logger("daemon").Println("watching")

	if err := logs.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	out := string(data)
	for _, want := range []string{"[sync] ", "full sync complete", "[daemon] "} {
		if !strings.Contains(out, want) {
			t.Errorf("log file missing %q:\n%s", want, out)
		}
	}
}

func TestOpen_Stderr(t *testing.T) {
	logs := Open(Options{})
	if logs.Writer() != os.Stderr {
		t.Error("Writer() is not stderr without a file")
	}
	if err := logs.Close(); err != nil {
		t.Errorf("Close() failed: %v", err)
	}
}

func TestLogger_Prefix(t *testing.T) {
	if got := Discard().Logger("replica").Prefix(); got != "[replica] " {
		t.Errorf("Prefix() = %q, want %q", got, "[replica] ")
	}
}
