package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"metricsdash/config"
	"metricsdash/internal/ratelimit"
)

const (
	stampLayout          = "2006/01/02 15:04:05"
	journalPrefix        = "metricsdash-"
	journalSuffix        = ".log"
	journalDayLayout     = "2006-01-02"
	maxPendingLogBytes   = 16 * 1024
	journalErrorInterval = time.Minute
	defaultKeepDays      = 7
)

// logRouter is the log.Logger output. Every line reaches the console (stdout
// or the active surface's system pane) and the day journal when file logging
// is on. Journalf lines reach the journal only: the per-record detail of
// unchanged polls and the fetch failures the poller keeps off the console.
type logRouter struct {
	mu      sync.Mutex
	pending []byte
	console io.Writer
	stamp   bool
	journal *dayJournal
	clock   func() time.Time
}

// Purpose: Build the log router from config.
// Key aspects: Always returns a usable router; a journal that cannot be
// opened is reported and logging continues on the console alone.
// Upstream: main startup.
// Downstream: openDayJournal.
func setupLogging(cfg config.LoggingConfig, console io.Writer) (*logRouter, error) {
	r := &logRouter{console: console, stamp: true, clock: time.Now}
	if !cfg.Enabled {
		return r, nil
	}
	journal, err := openDayJournal(cfg.Dir, cfg.RetentionDays, r.clock())
	if err != nil {
		return r, err
	}
	r.journal = journal
	return r, nil
}

// SetConsole redirects console lines, e.g. into a dashboard pane. A nil
// writer keeps lines in the journal only.
func (r *logRouter) SetConsole(w io.Writer, stamp bool) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.console = w
	r.stamp = stamp
	r.mu.Unlock()
}

func (r *logRouter) Write(p []byte) (int, error) {
	if r == nil {
		return len(p), nil
	}
	r.mu.Lock()
	r.pending = append(r.pending, p...)
	lines := r.takeLinesLocked()
	console, stamp := r.console, r.stamp
	r.mu.Unlock()

	if len(lines) == 0 {
		return len(p), nil
	}
	now := r.clock().UTC()
	if console != nil {
		var out strings.Builder
		for _, line := range lines {
			if stamp {
				out.WriteString(now.Format(stampLayout))
				out.WriteByte(' ')
			}
			out.WriteString(line)
			out.WriteByte('\n')
		}
		_, _ = io.WriteString(console, out.String())
	}
	r.journal.append(lines, now)
	return len(p), nil
}

// takeLinesLocked pops complete lines off the pending buffer. A partial line
// that outgrows maxPendingLogBytes is emitted as-is.
func (r *logRouter) takeLinesLocked() []string {
	var lines []string
	rest := r.pending
	for {
		idx := bytes.IndexByte(rest, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimRight(rest[:idx], "\r")))
		rest = rest[idx+1:]
	}
	if len(rest) > maxPendingLogBytes {
		lines = append(lines, string(rest))
		rest = nil
	}
	r.pending = append(r.pending[:0], rest...)
	return lines
}

// Journalf records a line in the day journal without touching the console.
// It is a no-op when file logging is off.
func (r *logRouter) Journalf(format string, args ...any) {
	if r == nil || r.journal == nil {
		return
	}
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	r.journal.append(strings.Split(line, "\n"), r.clock().UTC())
}

func (r *logRouter) Close() error {
	if r == nil {
		return nil
	}
	return r.journal.close()
}

// dayJournal appends to metricsdash-YYYY-MM-DD.log under dir, switching files
// at UTC midnight. Each switch prunes journals past the retention window.
type dayJournal struct {
	mu       sync.Mutex
	dir      string
	keepDays int
	day      string
	file     *os.File
	errs     *ratelimit.Counter
	stderr   io.Writer
}

func openDayJournal(dir string, keepDays int, now time.Time) (*dayJournal, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("log directory is empty")
	}
	if keepDays <= 0 {
		keepDays = defaultKeepDays
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory %q: %w", dir, err)
	}
	j := &dayJournal{
		dir:      dir,
		keepDays: keepDays,
		errs:     ratelimit.NewCounter(journalErrorInterval),
		stderr:   os.Stderr,
	}
	if err := pruneJournals(dir, now, keepDays); err != nil {
		j.fail(fmt.Errorf("prune: %w", err))
	}
	return j, nil
}

// Purpose: Append timestamped lines to the journal of now's day.
// Key aspects: Write failures are reported to stderr at most once a minute
// and never reach the console sink, so a broken disk cannot loop through log.
// Upstream: logRouter.Write and logRouter.Journalf.
// Downstream: switchDay and os.File.WriteString.
func (j *dayJournal) append(lines []string, now time.Time) {
	if j == nil || len(lines) == 0 {
		return
	}
	stamp := now.Format(stampLayout)
	var out strings.Builder
	for _, line := range lines {
		out.WriteString(stamp)
		out.WriteByte(' ')
		out.WriteString(line)
		out.WriteByte('\n')
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if day := now.Format(journalDayLayout); j.file == nil || j.day != day {
		if err := j.switchDay(day, now); err != nil {
			j.fail(err)
			return
		}
	}
	if _, err := j.file.WriteString(out.String()); err != nil {
		j.fail(fmt.Errorf("write %s: %w", j.file.Name(), err))
		return
	}
	j.errs.Reset()
}

func (j *dayJournal) switchDay(day string, now time.Time) error {
	if j.file != nil {
		_ = j.file.Close()
		j.file = nil
	}
	path := filepath.Join(j.dir, journalName(now))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	j.file = file
	j.day = day
	if err := pruneJournals(j.dir, now, j.keepDays); err != nil {
		j.fail(fmt.Errorf("prune: %w", err))
	}
	return nil
}

func (j *dayJournal) fail(err error) {
	if n, ok := j.errs.Inc(); ok {
		fmt.Fprintf(j.stderr, "Logging: %v (%d in a row)\n", err, n)
	}
}

func (j *dayJournal) close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	j.day = ""
	return err
}

func journalName(now time.Time) string {
	return journalPrefix + now.UTC().Format(journalDayLayout) + journalSuffix
}

// journalDate extracts the day from a journal file name.
func journalDate(name string) (time.Time, bool) {
	day, ok := strings.CutPrefix(name, journalPrefix)
	if !ok {
		return time.Time{}, false
	}
	day, ok = strings.CutSuffix(day, journalSuffix)
	if !ok {
		return time.Time{}, false
	}
	parsed, err := time.ParseInLocation(journalDayLayout, day, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// pruneJournals removes journals older than keepDays, counting today as day
// one. Files that are not journals are left alone.
func pruneJournals(dir string, now time.Time, keepDays int) error {
	if keepDays <= 0 {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, journalPrefix+"*"+journalSuffix))
	if err != nil {
		return err
	}
	y, m, d := now.UTC().Date()
	cutoff := time.Date(y, m, d-(keepDays-1), 0, 0, 0, 0, time.UTC)
	var firstErr error
	for _, path := range matches {
		day, ok := journalDate(filepath.Base(path))
		if !ok || !day.Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
