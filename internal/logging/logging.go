// Package logging builds the per-component loggers used across ledgersync.
//
// Every component logs through a *log.Logger with a "[component] " prefix.
// Output goes to stderr, or to a size-rotated file when one is configured.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects where logs go.
type Options struct {
	// File, when set, receives logs and is rotated by size.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Verbose also copies file output to stderr.
	Verbose bool
}

// Logs hands out component loggers sharing one output.
type Logs struct {
	out    io.Writer
	closer io.Closer
}

// Open returns Logs writing as opts describe.
func Open(opts Options) *Logs {
	if opts.File == "" {
		return &Logs{out: os.Stderr}
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	var out io.Writer = rotator
	if opts.Verbose {
		out = io.MultiWriter(os.Stderr, rotator)
	}
	return &Logs{out: out, closer: rotator}
}

// Discard returns Logs that drop everything.
func Discard() *Logs {
	return &Logs{out: io.Discard}
}

// Logger returns a logger prefixed with "[component] ".
func (l *Logs) Logger(component string) *log.Logger {
	return log.New(l.out, "["+component+"] ", log.LstdFlags)
}

// Writer returns the shared output.
func (l *Logs) Writer() io.Writer {
	return l.out
}

// Close flushes and closes the log file, if any.
func (l *Logs) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
