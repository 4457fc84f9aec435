package main

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"metricsdash/board"
	"metricsdash/config"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

const (
	ansiSystemLines  = 3
	ansiDefaultWidth = 80
	ansiMinRefresh   = 16 * time.Millisecond
)

// ansiConsole is a lightweight console renderer that redraws the board with
// ANSI escape codes. It is selected via ui.mode=ansi.
type ansiConsole struct {
	mu        sync.Mutex
	view      board.View
	hasView   bool
	dirty     bool
	system    ringPane
	snapSys   []string
	endpoint  string
	refresh   time.Duration
	quit      chan struct{}
	writer    *ansiWriter
	out       io.Writer
	width     func() int
	color     bool
	clear     bool
	renderBuf bytes.Buffer
	stopOnce  sync.Once
}

type ringPane struct {
	lines []string
	idx   int
	count int
}

// Purpose: Construct the ANSI console renderer.
// Key aspects: Clamps the refresh interval; a zero interval disables the
// render loop so callers can drive render directly.
// Upstream: main surface selection.
// Downstream: refreshLoop goroutine.
func newANSIConsole(uiCfg config.UIConfig, endpoint string, out io.Writer) *ansiConsole {
	refresh := time.Duration(uiCfg.RefreshMS) * time.Millisecond
	if refresh < 0 {
		refresh = 0
	}
	if refresh > 0 && refresh < ansiMinRefresh {
		log.Printf("UI: clamping refresh interval to %dms (requested %dms too low)", ansiMinRefresh/time.Millisecond, refresh/time.Millisecond)
		refresh = ansiMinRefresh
	}
	if out == nil {
		out = os.Stdout
	}

	c := &ansiConsole{
		system:   ringPane{lines: make([]string, ansiSystemLines)},
		snapSys:  make([]string, ansiSystemLines),
		endpoint: endpoint,
		refresh:  refresh,
		quit:     make(chan struct{}),
		out:      out,
		width:    stdoutWidth,
		color:    uiCfg.Color == nil || *uiCfg.Color,
		clear:    uiCfg.ClearScreen == nil || *uiCfg.ClearScreen,
	}
	c.writer = &ansiWriter{append: c.AppendSystem}

	if c.refresh > 0 {
		go c.refreshLoop()
	}
	return c
}

func stdoutWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return ansiDefaultWidth
	}
	return w
}

func (c *ansiConsole) WaitReady() {}

func (c *ansiConsole) Stop() {
	if c == nil {
		return
	}
	c.stopOnce.Do(func() {
		close(c.quit)
	})
}

// Done is nil: the ANSI console has no input and never stops on its own.
func (c *ansiConsole) Done() <-chan struct{} { return nil }

// Render records the view for the next frame. Older views are discarded.
func (c *ansiConsole) Render(view board.View) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if !c.hasView || view.Seq >= c.view.Seq {
		c.view = view
		c.hasView = true
		c.dirty = true
	}
	c.mu.Unlock()
}

func (c *ansiConsole) AppendSystem(line string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	pane := &c.system
	pane.lines[pane.idx] = line
	pane.idx = (pane.idx + 1) % len(pane.lines)
	if pane.count < len(pane.lines) {
		pane.count++
	}
	c.dirty = true
	c.mu.Unlock()
}

func (c *ansiConsole) SystemWriter() io.Writer {
	if c == nil {
		return nil
	}
	return c.writer
}

// Purpose: Periodic render loop for ANSI console output.
// Key aspects: Recovers panics, ticks at refresh interval, exits on quit.
// Upstream: goroutine started in newANSIConsole.
// Downstream: c.render.
func (c *ansiConsole) refreshLoop() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "ANSI console panic: %v\n", r)
		}
	}()
	ticker := time.NewTicker(c.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.render()
		case <-c.quit:
			return
		}
	}
}

// render writes one frame when anything changed since the last one.
func (c *ansiConsole) render() {
	if c == nil {
		return
	}
	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return
	}
	c.dirty = false
	view := c.view
	system := snapshotPane(&c.system, c.snapSys)
	system = append([]string(nil), system...)
	c.mu.Unlock()

	width := c.width()
	c.renderBuf.Reset()
	if c.clear {
		c.renderBuf.WriteString("\x1b[2J\x1b[H")
	}
	c.writeLine(width, "METRICS "+c.endpoint, ansiMagenta)
	c.writeLine(width, c.statusText(view), "")
	if view.Filter != "" {
		c.writeLine(width, "Filter: "+view.Filter, "")
	}
	c.renderBuf.WriteByte('\n')

	switch view.Phase {
	case board.PhaseLoading:
		c.writeLine(width, "Loading...", ansiYellow)
	case board.PhaseError:
		c.writeLine(width, view.ErrorText, ansiRed)
	case board.PhasePopulated:
		for _, rec := range view.VisibleRecords() {
			c.writeLine(width, rec.Name, ansiBold)
			c.writeLine(width, "  Value: "+rec.Value.String(), "")
		}
		if view.Suggestion != "" {
			c.writeLine(width, "Did you mean "+view.Suggestion+"?", ansiYellow)
		}
	default:
		c.writeLine(width, "Waiting for first poll", "")
	}

	c.renderBuf.WriteByte('\n')
	c.writeLine(width, "---- System ----", "")
	for _, line := range system {
		c.renderBuf.WriteString(applyANSIMarkup(clipRunes(stripControls(line), width), c.color))
		c.renderBuf.WriteByte('\n')
	}
	_, _ = c.renderBuf.WriteTo(c.out)
}

func (c *ansiConsole) statusText(v board.View) string {
	parts := []string{v.StatusLine()}
	if v.Phase == board.PhaseError {
		parts = parts[:0]
	}
	if !v.UpdatedAt.IsZero() {
		parts = append(parts, "updated "+humanize.Time(v.UpdatedAt))
	}
	if v.HasSummary {
		parts = append(parts, fmt.Sprintf("avg %s", humanize.FtoaWithDigits(v.Summary.Average, 2)))
	}
	parts = append(parts, fmt.Sprintf("polls %s failed %s", humanize.Comma(int64(v.Cycles)), humanize.Comma(int64(v.Failures))))
	return strings.Join(parts, "  ")
}

const (
	ansiBold    = "\x1b[1m"
	ansiRed     = "\x1b[31m"
	ansiYellow  = "\x1b[33m"
	ansiMagenta = "\x1b[35m"
)

func (c *ansiConsole) paint(code, text string) string {
	if !c.color || code == "" || text == "" {
		return text
	}
	return code + text + resetANSI
}

// writeLine clips plain text to width and emits it with an optional style.
func (c *ansiConsole) writeLine(width int, text, code string) {
	c.renderBuf.WriteString(c.paint(code, clipRunes(stripControls(text), width)))
	c.renderBuf.WriteByte('\n')
}

// stripControls drops control characters, ESC included, so fetched names
// cannot inject terminal sequences.
func stripControls(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

func clipRunes(s string, width int) string {
	if width <= 0 || utf8.RuneCountInString(s) <= width {
		return s
	}
	runes := []rune(s)
	return string(runes[:width])
}

// Purpose: Snapshot a ring pane into a caller-provided buffer.
// Key aspects: Respects current count and ring order.
// Upstream: render.
// Downstream: None.
func snapshotPane(p *ringPane, buf []string) []string {
	if p == nil || len(p.lines) == 0 || p.count == 0 || len(buf) == 0 {
		return buf[:0]
	}
	start := p.idx - p.count
	if start < 0 {
		start += len(p.lines)
	}
	limit := p.count
	if limit > len(buf) {
		limit = len(buf)
	}
	for i := 0; i < limit; i++ {
		buf[i] = p.lines[(start+i)%len(p.lines)]
	}
	return buf[:limit]
}

type ansiWriter struct {
	append func(string)
	buf    []byte
	mu     sync.Mutex
}

// Purpose: Implement io.Writer for logs routed to the ANSI console.
// Key aspects: Buffers until newline and bounds buffer growth.
// Upstream: log output when ANSI UI is active.
// Downstream: w.append.
func (w *ansiWriter) Write(p []byte) (int, error) {
	if w == nil || w.append == nil {
		return len(p), nil
	}
	const maxWriterBufferSize = 16 * 1024

	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx == -1 {
			break
		}
		w.append(strings.TrimRight(string(w.buf[:idx]), "\r"))
		w.buf = w.buf[idx+1:]
	}
	if len(w.buf) > maxWriterBufferSize {
		if trimmed := strings.TrimRight(string(w.buf), "\r"); trimmed != "" {
			w.append(trimmed)
		}
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

// applyANSIMarkup converts tview-style color tags in log lines to ANSI codes,
// or strips them when color is off.
func applyANSIMarkup(line string, enableColor bool) string {
	if line == "" {
		return line
	}
	if !enableColor {
		return ansiStripReplacer.Replace(line)
	}
	replaced := ansiColorReplacer.Replace(line)
	if replaced != line {
		replaced += resetANSI
	}
	return replaced
}

const resetANSI = "\x1b[0m"

var ansiColorReplacer = strings.NewReplacer(
	"[red]", "\x1b[31m",
	"[green]", "\x1b[32m",
	"[yellow]", "\x1b[33m",
	"[blue]", "\x1b[34m",
	"[magenta]", "\x1b[35m",
	"[cyan]", "\x1b[36m",
	"[white]", "\x1b[37m",
	"[-]", resetANSI,
)

var ansiStripReplacer = strings.NewReplacer(
	"[red]", "",
	"[green]", "",
	"[yellow]", "",
	"[blue]", "",
	"[magenta]", "",
	"[cyan]", "",
	"[white]", "",
	"[-]", "",
)
