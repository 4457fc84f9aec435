package ui

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"metricsdash/board"
	"metricsdash/config"
	"metricsdash/metrics"

	"github.com/gdamore/tcell/v2"
)

type recordingFilters struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingFilters) SetFilter(text string) {
	r.mu.Lock()
	r.texts = append(r.texts, text)
	r.mu.Unlock()
}

func (r *recordingFilters) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.texts) == 0 {
		return ""
	}
	return r.texts[len(r.texts)-1]
}

type countingRefresher struct{ n int }

func (c *countingRefresher) Refresh() { c.n++ }

func newTestDashboard(t *testing.T) (*Dashboard, *board.Board, *countingRefresher) {
	t.Helper()
	b := board.New()
	ref := &countingRefresher{}
	d := newDashboard(config.UIConfig{TargetFPS: 30}, "http://localhost:8000/api/v1/metrics/", b, ref, NewMetrics())
	d.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	b.OnChange(d.Render)
	return d, b, ref
}

func runeKey(r rune) *tcell.EventKey {
	return tcell.NewEventKey(tcell.KeyRune, r, tcell.ModNone)
}

func TestDashboardRendersPopulatedBoard(t *testing.T) {
	d, b, _ := newTestDashboard(t)
	b.Loading()
	d.scheduler.flush()
	if got := d.list.laidOut(); len(got) != 1 || got[0] != "Loading..." {
		t.Fatalf("expected loading placeholder, got %q", got)
	}

	b.Populate(board.Fetched{Records: []metrics.Record{
		{Name: "cpu", Value: metrics.Number("42")},
		{Name: "mem", Value: metrics.Number("87")},
	}, Bytes: 2048})
	d.scheduler.flush()

	want := []string{"cpu", "  Value: 42", "mem", "  Value: 87"}
	got := d.list.laidOut()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected list lines: %q", got)
	}
	footer := d.footer.GetText(true)
	if !strings.Contains(footer, "Showing 2 of 2") {
		t.Fatalf("expected count in footer, got %q", footer)
	}
	header := d.header.GetText(true)
	if !strings.Contains(header, "populated") || !strings.Contains(header, "2.0 kB") {
		t.Fatalf("unexpected header %q", header)
	}
}

func TestDashboardHeaderShowsLatencies(t *testing.T) {
	d, _, _ := newTestDashboard(t)
	if header := d.headerText(board.View{}); strings.Contains(header, "p50") {
		t.Fatalf("expected no latencies before any samples, got %q", header)
	}
	d.metrics.ObservePoll(120*time.Millisecond, nil)
	d.metrics.ObserveRender(2 * time.Millisecond)
	d.metrics.ObserveFilter(40 * time.Microsecond)
	header := d.headerText(board.View{})
	for _, want := range []string{"fetch p50 120ms", "draw p50 2ms", "filter p50 40µs"} {
		if !strings.Contains(header, want) {
			t.Fatalf("expected %q in header, got %q", want, header)
		}
	}
}

func TestDashboardFilterInputDrivesBoard(t *testing.T) {
	d, b, _ := newTestDashboard(t)
	b.Populate(board.Fetched{Records: []metrics.Record{
		{Name: "cpu", Value: metrics.Number("42")},
		{Name: "mem", Value: metrics.Number("87")},
	}})

	d.filter.SetText("MEM")
	d.scheduler.flush()

	if b.FilterText() != "MEM" {
		t.Fatalf("expected board filter to follow input, got %q", b.FilterText())
	}
	if got := d.list.laidOut(); len(got) != 2 || got[0] != "mem" {
		t.Fatalf("expected only mem visible, got %q", got)
	}

	d.filter.SetText("mme")
	d.scheduler.flush()
	if footer := d.footer.GetText(true); !strings.Contains(footer, "did you mean mem?") {
		t.Fatalf("expected suggestion in footer, got %q", footer)
	}
}

func TestDashboardDropsStaleViews(t *testing.T) {
	d, _, _ := newTestDashboard(t)
	d.Render(board.View{Seq: 5, Phase: board.PhaseError, ErrorText: "Error fetching metrics: boom"})
	d.Render(board.View{Seq: 4, Phase: board.PhaseLoading})
	d.scheduler.flush()

	if got := d.list.laidOut(); len(got) != 1 || got[0] != "Error fetching metrics: boom" {
		t.Fatalf("stale view replaced newer one: %q", got)
	}
	if d.metrics.StaleViews() != 1 {
		t.Fatalf("expected one stale view, got %d", d.metrics.StaleViews())
	}
}

func TestDashboardKeyBindings(t *testing.T) {
	d, _, ref := newTestDashboard(t)
	filters := &recordingFilters{}
	d.filters = filters

	if ev := d.handleKey(runeKey('r')); ev != nil {
		t.Fatalf("expected refresh key to be consumed")
	}
	if ref.n != 1 {
		t.Fatalf("expected one refresh, got %d", ref.n)
	}

	d.handleKey(runeKey('/'))
	if !d.filterFocused() {
		t.Fatalf("expected '/' to focus the filter input")
	}
	if ev := d.handleKey(runeKey('q')); ev == nil {
		t.Fatalf("keys typed into the filter must reach the input field")
	}
	d.setFocus(d.list)

	d.filter.SetText("cpu")
	d.handleKey(tcell.NewEventKey(tcell.KeyEsc, 0, tcell.ModNone))
	if d.filter.GetText() != "" || filters.last() != "" {
		t.Fatalf("expected Esc to clear the filter, got %q", filters.last())
	}

	d.handleKey(tcell.NewEventKey(tcell.KeyF1, 0, tcell.ModNone))
	if !d.helpShown {
		t.Fatalf("expected F1 to show help")
	}
	d.handleKey(runeKey('?'))
	if d.helpShown {
		t.Fatalf("expected ? to hide help")
	}

	d.handleKey(runeKey('q'))
	select {
	case <-d.Done():
	default:
		t.Fatalf("expected q to stop the dashboard")
	}
	d.Stop()
}

func TestDashboardSystemPaneKeepsNewestLines(t *testing.T) {
	d, _, _ := newTestDashboard(t)
	w := d.SystemWriter()
	for _, line := range []string{"one", "two", "three", "four"} {
		if _, err := w.Write([]byte("Poller: " + line + "\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	d.scheduler.flush()
	got := d.system.GetText(true)
	if strings.Contains(got, "one") || !strings.Contains(got, "Poller: four") {
		t.Fatalf("unexpected system pane %q", got)
	}
}

func TestPaneWriterBounds(t *testing.T) {
	d, _, _ := newTestDashboard(t)
	writer := &paneWriter{dash: d}
	input := bytes.Repeat([]byte("a"), paneWriterMaxBytes*2)
	n, err := writer.Write(input)
	if err != nil {
		t.Fatalf("write error: %v", err)
	}
	if n != len(input) {
		t.Fatalf("expected write %d bytes, got %d", len(input), n)
	}
	if len(writer.buf) != paneWriterMaxBytes {
		t.Fatalf("expected buffer size %d, got %d", paneWriterMaxBytes, len(writer.buf))
	}
	if writer.droppedBytes == 0 {
		t.Fatalf("expected dropped bytes to be tracked")
	}
}
