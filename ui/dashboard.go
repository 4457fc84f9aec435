package ui

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"metricsdash/board"
	"metricsdash/config"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const (
	paneWriterMaxBytes = 64 * 1024
	systemPaneLines    = 3
	clockInterval      = time.Second
)

const (
	accentTag   = "[#ff69b4]"
	accentReset = "[-]"
)

var (
	uiBorderColor = tcell.ColorGray
	uiTitleColor  = tcell.ColorHotPink
)

// FilterSetter receives the filter text after every edit.
type FilterSetter interface {
	SetFilter(text string)
}

// Refresher triggers an immediate poll.
type Refresher interface {
	Refresh()
}

// Dashboard is the interactive tview surface: a header, the filter input, the
// metric list, a short system log pane and a footer.
type Dashboard struct {
	app       *tview.Application
	pages     *tview.Pages
	scheduler *frameScheduler

	header *tview.TextView
	filter *tview.InputField
	list   *MetricList
	system *tview.TextView
	footer *tview.TextView

	filters   FilterSetter
	refresher Refresher
	endpoint  string
	metrics   *Metrics
	now       func() time.Time

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	stopOnce  sync.Once

	viewMu  sync.Mutex
	view    board.View
	hasView bool

	sysMu    sync.Mutex
	sysLines []string

	focused   tview.Primitive
	helpShown bool
}

// NewDashboard builds the dashboard and starts the tview event loop in the
// background. Call WaitReady before routing logs to SystemWriter.
func NewDashboard(cfg config.UIConfig, endpoint string, filters FilterSetter, refresher Refresher, metrics *Metrics) *Dashboard {
	d := newDashboard(cfg, endpoint, filters, refresher, metrics)

	app := tview.NewApplication().EnableMouse(cfg.EnableMouse)
	d.app = app
	app.SetBeforeDrawFunc(func(screen tcell.Screen) bool {
		d.markReady()
		return false
	})
	d.scheduler = newFrameScheduler(func(fn func()) { app.QueueUpdateDraw(fn) }, cfg.TargetFPS, 100*time.Millisecond, d.metrics.ObserveRender)
	d.scheduler.Start()

	app.SetInputCapture(d.handleKey)
	app.SetRoot(d.pages, true)
	d.setFocus(d.list)

	go func() {
		if err := app.Run(); err != nil {
			log.Printf("UI: tview error: %v", err)
		}
		d.Stop()
	}()
	go d.clockLoop()
	return d
}

// newDashboard wires the widgets without an application; draws run inline.
func newDashboard(cfg config.UIConfig, endpoint string, filters FilterSetter, refresher Refresher, metrics *Metrics) *Dashboard {
	if metrics == nil {
		metrics = NewMetrics()
	}
	d := &Dashboard{
		pages:     tview.NewPages(),
		header:    tview.NewTextView().SetDynamicColors(true).SetWrap(false),
		filter:    tview.NewInputField().SetLabel("Filter: ").SetFieldWidth(30),
		list:      NewMetricList(),
		system:    tview.NewTextView().SetDynamicColors(true).SetWrap(false),
		footer:    tview.NewTextView().SetDynamicColors(true).SetWrap(false),
		filters:   filters,
		refresher: refresher,
		endpoint:  endpoint,
		metrics:   metrics,
		now:       time.Now,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		scheduler: newFrameScheduler(nil, cfg.TargetFPS, 100*time.Millisecond, metrics.ObserveRender),
	}

	d.filter.SetText(cfg.Filter)
	d.filter.SetChangedFunc(d.applyFilter)
	d.filter.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEscape {
			d.filter.SetText("")
		}
		d.setFocus(d.list)
	})

	d.list.SetBorder(true).SetTitle(accentText("Metrics")).SetTitleAlign(tview.AlignLeft)
	d.list.SetBorderColor(uiBorderColor)
	d.list.SetTitleColor(uiTitleColor)
	d.system.SetTextColor(tcell.ColorGray)

	headerRow := tview.NewFlex().SetDirection(tview.FlexColumn).
		AddItem(d.header, 0, 3, false).
		AddItem(d.filter, 0, 1, false)
	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(headerRow, 1, 0, false).
		AddItem(d.list, 0, 1, true).
		AddItem(d.system, systemPaneLines, 0, false).
		AddItem(d.footer, 1, 0, false)

	d.pages.AddPage("main", root, true, true)
	d.pages.AddPage("help", buildHelpOverlay(), true, false)

	d.header.SetText(d.headerText(board.View{}))
	d.footer.SetText(footerText(board.View{}))
	d.list.SetView(board.View{})
	return d
}

func (d *Dashboard) WaitReady() {
	if d == nil || d.ready == nil {
		return
	}
	<-d.ready
}

func (d *Dashboard) markReady() {
	d.readyOnce.Do(func() { close(d.ready) })
}

// Stop tears down the event loop. Safe to call from key handlers and more
// than once.
func (d *Dashboard) Stop() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.scheduler.Stop()
		if d.app != nil {
			d.app.Stop()
		}
		d.markReady()
		close(d.done)
	})
}

// Done is closed once the dashboard has stopped, including when the user quits.
func (d *Dashboard) Done() <-chan struct{} {
	if d == nil {
		return nil
	}
	return d.done
}

// Render schedules a redraw for view. Views older than the last one received
// are dropped.
func (d *Dashboard) Render(view board.View) {
	if d == nil {
		return
	}
	d.viewMu.Lock()
	if d.hasView && view.Seq < d.view.Seq {
		d.viewMu.Unlock()
		d.metrics.StaleView()
		return
	}
	d.view = view
	d.hasView = true
	d.viewMu.Unlock()
	d.scheduler.Schedule("board", d.drawBoard)
}

func (d *Dashboard) currentView() board.View {
	d.viewMu.Lock()
	defer d.viewMu.Unlock()
	return d.view
}

func (d *Dashboard) drawBoard() {
	v := d.currentView()
	d.list.SetView(v)
	d.header.SetText(d.headerText(v))
	d.footer.SetText(footerText(v))
}

// clockLoop keeps the "updated ... ago" age in the header current.
func (d *Dashboard) clockLoop() {
	ticker := time.NewTicker(clockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.scheduler.Schedule("clock", func() {
				d.header.SetText(d.headerText(d.currentView()))
			})
		}
	}
}

func (d *Dashboard) applyFilter(text string) {
	if d.filters == nil {
		return
	}
	start := time.Now()
	d.filters.SetFilter(text)
	d.metrics.ObserveFilter(time.Since(start))
}

func (d *Dashboard) headerText(v board.View) string {
	var b strings.Builder
	b.WriteString(accentText("METRICS"))
	if d.endpoint != "" {
		b.WriteString(" " + tview.Escape(d.endpoint))
	}
	fmt.Fprintf(&b, "  %s%s[-]", phaseTag(v.Phase), v.Phase)
	if !v.UpdatedAt.IsZero() {
		b.WriteString("  updated " + humanize.RelTime(v.UpdatedAt, d.now(), "ago", "from now"))
	}
	if v.Phase == board.PhasePopulated {
		b.WriteString("  " + humanize.Bytes(uint64(v.Bytes)))
		if v.Changed {
			b.WriteString(" [yellow]changed[-]")
		} else {
			b.WriteString(" unchanged")
		}
	}
	if snap := d.metrics.PollSnapshot(); snap.N > 0 {
		fmt.Fprintf(&b, "  fetch p50 %s", snap.P50.Round(time.Millisecond))
	}
	if snap := d.metrics.RenderSnapshot(); snap.N > 0 {
		fmt.Fprintf(&b, "  draw p50 %s", snap.P50.Round(time.Microsecond))
	}
	if snap := d.metrics.FilterSnapshot(); snap.N > 0 {
		fmt.Fprintf(&b, "  filter p50 %s", snap.P50.Round(time.Microsecond))
	}
	return b.String()
}

func phaseTag(p board.Phase) string {
	switch p {
	case board.PhaseLoading:
		return "[yellow]"
	case board.PhaseError:
		return "[red]"
	case board.PhasePopulated:
		return "[green]"
	default:
		return "[gray]"
	}
}

func footerText(v board.View) string {
	var parts []string
	if v.Phase == board.PhasePopulated {
		parts = append(parts, fmt.Sprintf("Showing %s of %s",
			humanize.Comma(int64(v.VisibleCount)), humanize.Comma(int64(len(v.Rows)))))
	}
	if v.HasSummary {
		parts = append(parts, fmt.Sprintf("avg %s min %s max %s",
			humanize.FtoaWithDigits(v.Summary.Average, 2),
			humanize.FtoaWithDigits(v.Summary.Min, 2),
			humanize.FtoaWithDigits(v.Summary.Max, 2)))
	}
	if v.Suggestion != "" {
		parts = append(parts, "did you mean [yellow]"+tview.Escape(v.Suggestion)+"[-]?")
	}
	if v.Cycles > 0 {
		parts = append(parts, fmt.Sprintf("polls %s failed %s",
			humanize.Comma(int64(v.Cycles)), humanize.Comma(int64(v.Failures))))
	}
	parts = append(parts, accentText("/")+"Filter "+accentText("r")+"Refresh "+accentText("F1")+"Help "+accentText("q")+"Quit")
	return strings.Join(parts, "  ")
}

func (d *Dashboard) setFocus(p tview.Primitive) {
	d.focused = p
	if d.app != nil {
		d.app.SetFocus(p)
	}
}

func (d *Dashboard) filterFocused() bool {
	if d.app != nil {
		return d.app.GetFocus() == d.filter
	}
	return d.focused == d.filter
}

func (d *Dashboard) handleKey(event *tcell.EventKey) *tcell.EventKey {
	if event == nil {
		return nil
	}
	if event.Key() == tcell.KeyCtrlC {
		d.Stop()
		return nil
	}
	if d.helpShown {
		switch {
		case event.Key() == tcell.KeyEsc, event.Key() == tcell.KeyF1, event.Rune() == 'h', event.Rune() == '?':
			d.toggleHelp(false)
		case event.Rune() == 'q', event.Rune() == 'Q':
			d.Stop()
		}
		return nil
	}
	if d.filterFocused() {
		return event
	}

	switch event.Key() {
	case tcell.KeyF1:
		d.toggleHelp(true)
		return nil
	case tcell.KeyUp:
		d.list.ScrollUp(1)
		return nil
	case tcell.KeyDown:
		d.list.ScrollDown(1)
		return nil
	case tcell.KeyPgUp:
		d.list.ScrollUp(d.list.PageSize())
		return nil
	case tcell.KeyPgDn:
		d.list.ScrollDown(d.list.PageSize())
		return nil
	case tcell.KeyHome:
		d.list.ScrollToStart()
		return nil
	case tcell.KeyEnd:
		d.list.ScrollToEnd()
		return nil
	case tcell.KeyEsc:
		d.filter.SetText("")
		return nil
	}

	switch event.Rune() {
	case '/':
		d.setFocus(d.filter)
		return nil
	case 'r', 'R':
		if d.refresher != nil {
			d.refresher.Refresh()
		}
		return nil
	case 'k':
		d.list.ScrollUp(1)
		return nil
	case 'j':
		d.list.ScrollDown(1)
		return nil
	case 'h', '?':
		d.toggleHelp(true)
		return nil
	case 'q', 'Q':
		d.Stop()
		return nil
	}
	return event
}

func (d *Dashboard) toggleHelp(show bool) {
	d.helpShown = show
	if show {
		d.pages.ShowPage("help")
		d.pages.SendToFront("help")
		return
	}
	d.pages.HidePage("help")
	d.setFocus(d.list)
}

// AppendSystem adds a line to the system pane, keeping only the newest few.
func (d *Dashboard) AppendSystem(line string) {
	if d == nil {
		return
	}
	d.sysMu.Lock()
	d.sysLines = append(d.sysLines, tview.Escape(line))
	if excess := len(d.sysLines) - systemPaneLines; excess > 0 {
		d.sysLines = append(d.sysLines[:0], d.sysLines[excess:]...)
	}
	text := strings.Join(d.sysLines, "\n")
	d.sysMu.Unlock()
	d.scheduler.Schedule("system", func() {
		d.system.SetText(text)
	})
}

func (d *Dashboard) SystemWriter() io.Writer {
	if d == nil {
		return nil
	}
	return &paneWriter{dash: d}
}

// paneWriter splits log output into lines for the system pane.
type paneWriter struct {
	dash *Dashboard
	// buf holds any partial line; bounded so a writer that never emits a
	// newline cannot grow it without limit.
	buf          []byte
	mu           sync.Mutex
	droppedBytes uint64
}

func (w *paneWriter) Write(p []byte) (int, error) {
	if w == nil || w.dash == nil {
		return len(p), nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	if excess := len(w.buf) - paneWriterMaxBytes; excess > 0 {
		w.buf = w.buf[excess:]
		w.droppedBytes += uint64(excess)
	}
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx == -1 {
			break
		}
		line := string(bytes.TrimRight(w.buf[:idx], "\r"))
		w.buf = w.buf[idx+1:]
		w.dash.AppendSystem(line)
	}
	return len(p), nil
}

func buildHelpOverlay() tview.Primitive {
	help := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	help.SetText(strings.TrimSpace(fmt.Sprintf(`
KEYBOARD HELP

  %s/%s       Edit filter (Enter/Tab to leave, Esc to clear)
  Esc     Clear filter
  %sr%s       Refresh now
  ↑/↓ or k/j  Scroll   PageUp/Down  Page   Home/End  Top/Bottom
  %sF1%s / ?  Toggle help
  q / Ctrl+C  Quit
`, accentTag, accentReset, accentTag, accentReset, accentTag, accentReset)))
	help.SetBorder(true).SetTitle("Help")
	help.SetBorderColor(uiBorderColor)
	help.SetTitleColor(uiTitleColor)
	return tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(help, 11, 1, true).
			AddItem(nil, 0, 1, false),
			64, 1, true).
		AddItem(nil, 0, 1, false)
}

func accentText(text string) string {
	if text == "" {
		return ""
	}
	return accentTag + text + accentReset
}
