// Package board owns the render container model: the last fetched record
// sequence, the current filter text and the poll phase. Surfaces render
// immutable views of it; the poller drives its phase transitions.
package board

import (
	"strconv"
	"sync"
	"time"

	"metricsdash/metrics"
)

// Phase is the state of the render container.
type Phase uint8

const (
	PhaseEmpty Phase = iota
	PhaseLoading
	PhasePopulated
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhasePopulated:
		return "populated"
	case PhaseError:
		return "error"
	default:
		return "empty"
	}
}

const errorPrefix = "Error fetching metrics: "

// Fetched is one successful poll result handed to Populate.
type Fetched struct {
	Records     []metrics.Record
	Fingerprint uint64
	Bytes       int
	Latency     time.Duration
}

// Row is one rendered metric record.
type Row struct {
	Record  metrics.Record
	Visible bool
}

// View is an immutable snapshot of the board. Seq increases with every
// mutation so a surface can discard a view older than one already drawn.
type View struct {
	Seq          uint64
	Phase        Phase
	Rows         []Row
	VisibleCount int
	ErrorText    string
	Filter       string
	Suggestion   string
	Summary      metrics.Summary
	HasSummary   bool
	Fingerprint  uint64
	Changed      bool
	Bytes        int
	Latency      time.Duration
	UpdatedAt    time.Time
	Cycles       uint64
	Failures     uint64
}

// Board is safe for concurrent use. Listeners run outside the lock, in the
// goroutine that caused the change.
type Board struct {
	mu        sync.Mutex
	phase     Phase
	records   []metrics.Record
	visible   []bool
	shown     int
	filter    Filter
	errText   string
	fetched   Fetched
	hasPrint  bool
	changed   bool
	updatedAt time.Time
	cycles    uint64
	failures  uint64
	seq       uint64

	now       func() time.Time
	listeners []func(View)
}

func New() *Board {
	return &Board{now: time.Now}
}

// OnChange registers fn to receive the view after every mutation.
func (b *Board) OnChange(fn func(View)) {
	if b == nil || fn == nil {
		return
	}
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// Loading clears the container and shows the transient placeholder.
func (b *Board) Loading() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.phase = PhaseLoading
	b.records = nil
	b.visible = nil
	b.shown = 0
	b.errText = ""
	b.cycles++
	b.seq++
	b.mu.Unlock()
	b.notify()
}

// Populate replaces the container with one row per record, in order.
func (b *Board) Populate(f Fetched) {
	if b == nil {
		return
	}
	records := make([]metrics.Record, len(f.Records))
	copy(records, f.Records)

	b.mu.Lock()
	b.phase = PhasePopulated
	b.records = records
	b.errText = ""
	b.changed = !b.hasPrint || b.fetched.Fingerprint != f.Fingerprint
	b.hasPrint = true
	b.fetched = f
	b.fetched.Records = nil
	b.updatedAt = b.now()
	b.applyFilterLocked()
	b.seq++
	b.mu.Unlock()
	b.notify()
}

// Fail replaces the container contents with a single error message.
func (b *Board) Fail(err error) {
	if b == nil {
		return
	}
	desc := "unknown error"
	if err != nil {
		desc = err.Error()
	}
	b.mu.Lock()
	b.phase = PhaseError
	b.records = nil
	b.visible = nil
	b.shown = 0
	b.errText = errorPrefix + desc
	b.failures++
	b.updatedAt = b.now()
	b.seq++
	b.mu.Unlock()
	b.notify()
}

// SetFilter stores the filter text and recomputes row visibility from the
// current record sequence.
func (b *Board) SetFilter(text string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.filter = NewFilter(text)
	b.applyFilterLocked()
	b.seq++
	b.mu.Unlock()
	b.notify()
}

// FilterText returns the filter text as entered.
func (b *Board) FilterText() string {
	if b == nil {
		return ""
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.filter.Text()
}

// View returns a snapshot of the current state.
func (b *Board) View() View {
	if b == nil {
		return View{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.viewLocked()
}

func (b *Board) applyFilterLocked() {
	if cap(b.visible) >= len(b.records) {
		b.visible = b.visible[:len(b.records)]
	} else {
		b.visible = make([]bool, len(b.records))
	}
	b.shown = 0
	for i, rec := range b.records {
		ok := b.filter.Match(rec)
		b.visible[i] = ok
		if ok {
			b.shown++
		}
	}
}

func (b *Board) viewLocked() View {
	v := View{
		Seq:          b.seq,
		Phase:        b.phase,
		VisibleCount: b.shown,
		ErrorText:    b.errText,
		Filter:       b.filter.Text(),
		UpdatedAt:    b.updatedAt,
		Cycles:       b.cycles,
		Failures:     b.failures,
	}
	if b.phase != PhasePopulated {
		return v
	}
	v.Rows = make([]Row, len(b.records))
	for i, rec := range b.records {
		v.Rows[i] = Row{Record: rec, Visible: b.visible[i]}
	}
	v.Summary, v.HasSummary = metrics.Summarize(b.records)
	v.Fingerprint = b.fetched.Fingerprint
	v.Changed = b.changed
	v.Bytes = b.fetched.Bytes
	v.Latency = b.fetched.Latency
	if b.shown == 0 && len(b.records) > 0 && !b.filter.Empty() {
		names := make([]string, len(b.records))
		for i, rec := range b.records {
			names[i] = rec.Name
		}
		v.Suggestion, _ = metrics.Closest(names, b.filter.Text())
	}
	return v
}

func (b *Board) notify() {
	b.mu.Lock()
	if len(b.listeners) == 0 {
		b.mu.Unlock()
		return
	}
	view := b.viewLocked()
	listeners := append([]func(View){}, b.listeners...)
	b.mu.Unlock()
	for _, fn := range listeners {
		fn(view)
	}
}

// VisibleRecords returns the records currently shown, in order.
func (v View) VisibleRecords() []metrics.Record {
	out := make([]metrics.Record, 0, v.VisibleCount)
	for _, row := range v.Rows {
		if row.Visible {
			out = append(out, row.Record)
		}
	}
	return out
}

// StatusLine summarizes the phase in one line of plain text.
func (v View) StatusLine() string {
	switch v.Phase {
	case PhaseLoading:
		return "Loading..."
	case PhaseError:
		return v.ErrorText
	case PhasePopulated:
		return "Showing " + strconv.Itoa(v.VisibleCount) + " of " + strconv.Itoa(len(v.Rows))
	default:
		return "Waiting for first poll"
	}
}
