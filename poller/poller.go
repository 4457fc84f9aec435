// Package poller drives the periodic fetch-and-render cycle of the metrics
// board: one cycle immediately on start, then one per interval.
package poller

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"metricsdash/board"
	"metricsdash/internal/ratelimit"
)

const (
	defaultInterval = 5 * time.Second
	stopTimeout     = 2 * time.Second
	failLogInterval = 30 * time.Second
)

// Source fetches one metrics snapshot.
type Source interface {
	Fetch(ctx context.Context) (board.Fetched, error)
}

// Sink receives the phase transitions of each cycle. *board.Board is the
// production sink.
type Sink interface {
	Loading()
	Populate(board.Fetched)
	Fail(error)
}

// Poller owns the refresh loop. All cycles run on the loop goroutine, so at
// most one fetch-and-render cycle is in progress at any time.
type Poller struct {
	source   Source
	sink     Sink
	interval time.Duration
	timeout  time.Duration
	logf     func(string, ...any)
	journalf func(string, ...any)
	observe  func(time.Duration, error)
	failures *ratelimit.Counter

	refresh  chan struct{}
	inFlight atomic.Bool
	cycles   atomic.Uint64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// New builds a poller. A non-positive interval falls back to 5s; a
// non-positive timeout leaves requests bounded only by Stop.
func New(source Source, sink Sink, interval, timeout time.Duration) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Poller{
		source:   source,
		sink:     sink,
		interval: interval,
		timeout:  timeout,
		logf:     log.Printf,
		journalf: func(string, ...any) {},
		failures: ratelimit.NewCounter(failLogInterval),
		refresh:  make(chan struct{}, 1),
	}
}

// SetLogger replaces the log function (nil silences the poller).
func (p *Poller) SetLogger(logf func(string, ...any)) {
	if p == nil {
		return
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	p.logf = logf
}

// SetJournal sets where failures kept off the log by throttling are still
// recorded. Must be called before Start.
func (p *Poller) SetJournal(journalf func(string, ...any)) {
	if p == nil || journalf == nil {
		return
	}
	p.journalf = journalf
}

// SetObserver registers a callback with the duration and outcome of every
// completed cycle. Must be called before Start.
func (p *Poller) SetObserver(fn func(time.Duration, error)) {
	if p == nil {
		return
	}
	p.observe = fn
}

// Start launches the loop. It returns immediately; a second call, or a call
// after Stop, is a no-op.
func (p *Poller) Start(ctx context.Context) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil || p.stopped {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(loopCtx, p.done)
}

// Stop cancels any in-flight request and waits for the loop to exit.
func (p *Poller) Stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.stopped = true
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		p.logf("Poller: stop timeout, loop still running")
	}
}

// Done is closed when the loop exits. Nil before Start.
func (p *Poller) Done() <-chan struct{} {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Refresh asks for an immediate cycle. Requests made while a cycle is running
// or already pending collapse into one.
func (p *Poller) Refresh() {
	if p == nil {
		return
	}
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// busy reports whether a cycle is currently running.
func (p *Poller) busy() bool {
	if p == nil {
		return false
	}
	return p.inFlight.Load()
}

// Cycles is the number of cycles started so far.
func (p *Poller) Cycles() uint64 {
	if p == nil {
		return 0
	}
	return p.cycles.Load()
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	p.cycle(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cycle(ctx)
		case <-p.refresh:
			p.cycle(ctx)
		}
	}
}

// cycle runs one fetch-render-or-error sequence. The sink sees Loading before
// the request is issued and exactly one of Populate or Fail afterwards,
// unless the poller is stopped mid-request.
func (p *Poller) cycle(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		return false
	}
	defer p.inFlight.Store(false)
	p.cycles.Add(1)

	p.sink.Loading()

	reqCtx := ctx
	cancel := func() {}
	if p.timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, p.timeout)
	}
	start := time.Now()
	res, err := p.source.Fetch(reqCtx)
	cancel()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return false
	}
	if p.observe != nil {
		p.observe(elapsed, err)
	}
	if err != nil {
		if n, ok := p.failures.Inc(); ok {
			p.logf("Poller: fetch failed (%d in a row): %v", n, err)
		} else {
			p.journalf("Poller: fetch failed (%d in a row): %v", n, err)
		}
		p.sink.Fail(err)
		return true
	}
	if n := p.failures.Reset(); n > 0 {
		p.logf("Poller: fetch recovered after %d failures", n)
	}
	p.sink.Populate(res)
	return true
}
