package main

import (
	"io"
	"log"
	"sync"

	"metricsdash/board"

	"github.com/dustin/go-humanize"
)

// headlessSurface renders the board as log lines, for non-TTY runs and
// ui.mode=headless. Each completed cycle logs one outcome line. Visible
// records follow on the log when the payload changed; unchanged polls send
// them to the journal only. The transient loading phase is not logged.
type headlessSurface struct {
	mu       sync.Mutex
	lastSeq  uint64
	logf     func(string, ...any)
	journalf func(string, ...any)
}

func newHeadlessSurface(logf, journalf func(string, ...any)) *headlessSurface {
	if logf == nil {
		logf = log.Printf
	}
	if journalf == nil {
		journalf = func(string, ...any) {}
	}
	return &headlessSurface{logf: logf, journalf: journalf}
}

func (h *headlessSurface) WaitReady()            {}
func (h *headlessSurface) Stop()                 {}
func (h *headlessSurface) Done() <-chan struct{} { return nil }

// SystemWriter is nil: logs keep going to the process console.
func (h *headlessSurface) SystemWriter() io.Writer { return nil }

func (h *headlessSurface) Render(view board.View) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if view.Seq <= h.lastSeq {
		return
	}
	h.lastSeq = view.Seq

	switch view.Phase {
	case board.PhaseError:
		h.logf("Board: %s", view.ErrorText)
	case board.PhasePopulated:
		changed := "unchanged"
		if view.Changed {
			changed = "changed"
		}
		h.logf("Board: %s (%s, %s in %s)", view.StatusLine(), changed, humanize.Bytes(uint64(view.Bytes)), view.Latency)
		recordf := h.journalf
		if view.Changed {
			recordf = h.logf
		}
		for _, rec := range view.VisibleRecords() {
			recordf("Metric: %s = %s", rec.Name, rec.Value.String())
		}
		if view.Suggestion != "" {
			h.logf("Board: no metric matches %q; did you mean %q?", view.Filter, view.Suggestion)
		}
	}
}
