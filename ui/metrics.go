package ui

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// LatencyTracker keeps a bounded ring of durations for percentile estimates.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []time.Duration
	count   int
	next    int
}

func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = 256
	}
	return &LatencyTracker{samples: make([]time.Duration, size)}
}

func (t *LatencyTracker) Observe(d time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.samples[t.next] = d
	t.next = (t.next + 1) % len(t.samples)
	if t.count < len(t.samples) {
		t.count++
	}
	t.mu.Unlock()
}

// LatencySnapshot summarizes the samples currently held by a tracker.
type LatencySnapshot struct {
	P50 time.Duration
	P99 time.Duration
	N   int
}

func (t *LatencyTracker) Snapshot() LatencySnapshot {
	if t == nil {
		return LatencySnapshot{}
	}
	t.mu.Lock()
	values := make([]time.Duration, t.count)
	copy(values, t.samples[:t.count])
	t.mu.Unlock()
	if len(values) == 0 {
		return LatencySnapshot{}
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	n := len(values)
	return LatencySnapshot{
		P50: values[n/2],
		P99: values[int(float64(n-1)*0.99)],
		N:   n,
	}
}

// Metrics tracks how the dashboard itself is doing: frame delay, filter
// latency and the fetch round trips reported by the poller.
type Metrics struct {
	render     *LatencyTracker
	filter     *LatencyTracker
	poll       *LatencyTracker
	pollErrors atomic.Uint64
	dropped    atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{
		render: NewLatencyTracker(512),
		filter: NewLatencyTracker(512),
		poll:   NewLatencyTracker(128),
	}
}

func (m *Metrics) ObserveRender(d time.Duration) {
	if m == nil {
		return
	}
	m.render.Observe(d)
}

func (m *Metrics) ObserveFilter(d time.Duration) {
	if m == nil {
		return
	}
	m.filter.Observe(d)
}

// ObservePoll matches the poller's observer signature.
func (m *Metrics) ObservePoll(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.poll.Observe(d)
	if err != nil {
		m.pollErrors.Add(1)
	}
}

// StaleView counts board views discarded because a newer one was already shown.
func (m *Metrics) StaleView() {
	if m == nil {
		return
	}
	m.dropped.Add(1)
}

func (m *Metrics) RenderSnapshot() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{}
	}
	return m.render.Snapshot()
}

func (m *Metrics) FilterSnapshot() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{}
	}
	return m.filter.Snapshot()
}

func (m *Metrics) PollSnapshot() LatencySnapshot {
	if m == nil {
		return LatencySnapshot{}
	}
	return m.poll.Snapshot()
}

func (m *Metrics) PollErrors() uint64 {
	if m == nil {
		return 0
	}
	return m.pollErrors.Load()
}

func (m *Metrics) StaleViews() uint64 {
	if m == nil {
		return 0
	}
	return m.dropped.Load()
}
