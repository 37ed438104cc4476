// Package runlog records the outcome of every acquisition target of a run to
// a per-run log file and the console.
package runlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

// Outcome classifies an entry.
type Outcome string

// Outcomes. The value is the message written to the log.
const (
	Fetched      Outcome = "fetched"
	Skipped      Outcome = "already exists"
	Failed       Outcome = "failed"
	RegionFailed Outcome = "region failed"
	NoScenes     Outcome = "no scenes"
	Planned      Outcome = "planned"
)

// Ref identifies what an entry is about. Date and Scene are empty for
// region-level entries.
type Ref struct {
	Region string
	Date   string
	Scene  string
}

// Entry is one recorded event.
type Entry struct {
	Time    time.Time
	Outcome Outcome
	Ref
	Files int
	Err   error
}

// Log is the run log. All methods are safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	logger  *slog.Logger
	entries []Entry
	counts  map[Outcome]int
	closed  bool
	now     func() time.Time
}

// FileName returns the log file name for a run started at start.
func FileName(start time.Time) string {
	return "run-" + start.UTC().Format("20060102T150405Z") + ".log"
}

// Open creates the run log file in dir and mirrors every entry to console.
// console may be nil to log to the file only.
func Open(dir string, start time.Time, console io.Writer) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run log directory: %w", err)
	}

	path := filepath.Join(dir, FileName(start))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	handlers := []slog.Handler{slog.NewTextHandler(f, opts)}
	if console != nil {
		handlers = append(handlers, slog.NewTextHandler(console, opts))
	}

	return &Log{
		path:   path,
		file:   f,
		logger: slog.New(slogmulti.Fanout(handlers...)),
		counts: make(map[Outcome]int),
		now:    time.Now,
	}, nil
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.path
}

// Fetched records a materialized target.
func (l *Log) Fetched(ref Ref, files int, d time.Duration) {
	l.record(Entry{Outcome: Fetched, Ref: ref, Files: files}, slog.Duration("duration", d))
}

// Skipped records a target already complete on disk.
func (l *Log) Skipped(ref Ref) {
	l.record(Entry{Outcome: Skipped, Ref: ref})
}

// Planned records a target a dry run would fetch.
func (l *Log) Planned(ref Ref) {
	l.record(Entry{Outcome: Planned, Ref: ref})
}

// Failed records a target whose fetch or packaging failed.
func (l *Log) Failed(ref Ref, err error) {
	l.record(Entry{Outcome: Failed, Ref: ref, Err: err})
}

// RegionFailed records a region that could not be loaded, normalized, or searched.
func (l *Log) RegionFailed(region string, err error) {
	l.record(Entry{Outcome: RegionFailed, Ref: Ref{Region: region}, Err: err})
}

// NoScenes records a region without matching scenes.
func (l *Log) NoScenes(region string) {
	l.record(Entry{Outcome: NoScenes, Ref: Ref{Region: region}})
}

func (l *Log) record(e Entry, extra ...slog.Attr) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.Time = l.now().UTC()
	l.entries = append(l.entries, e)
	l.counts[e.Outcome]++

	if l.closed {
		return
	}

	attrs := []slog.Attr{slog.String("region", e.Region)}
	if e.Date != "" {
		attrs = append(attrs, slog.String("date", e.Date))
	}
	if e.Scene != "" {
		attrs = append(attrs, slog.String("scene", e.Scene))
	}
	if e.Files > 0 {
		attrs = append(attrs, slog.Int("files", e.Files))
	}
	attrs = append(attrs, extra...)

	level := slog.LevelInfo
	if e.Err != nil {
		level = slog.LevelError
		attrs = append(attrs, slog.String("error", e.Err.Error()))
	}
	l.logger.LogAttrs(context.Background(), level, string(e.Outcome), attrs...)
}

// Entries returns a copy of all entries in recording order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Count returns the number of entries with outcome o.
func (l *Log) Count(o Outcome) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[o]
}

// Counts returns a copy of the per-outcome counters.
func (l *Log) Counts() map[Outcome]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[Outcome]int, len(l.counts))
	for k, v := range l.counts {
		out[k] = v
	}
	return out
}

// Close flushes and closes the log file. It is safe to call more than once;
// entries recorded after Close are kept in memory only.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return fmt.Errorf("failed to flush run log: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close run log: %w", err)
	}
	return nil
}
