package poller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"metricsdash/board"
	"metricsdash/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []string
	errs   []error
	ch     chan string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{ch: make(chan string, 64)}
}

func (s *recordingSink) add(ev string) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	select {
	case s.ch <- ev:
	default:
	}
}

func (s *recordingSink) Loading()                 { s.add("loading") }
func (s *recordingSink) Populate(_ board.Fetched) { s.add("populate") }
func (s *recordingSink) Fail(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
	s.add("fail")
}

func (s *recordingSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *recordingSink) waitFor(t *testing.T, want string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.ch:
			if ev == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q; events=%v", want, s.snapshot())
		}
	}
}

type funcSource func(ctx context.Context) (board.Fetched, error)

func (f funcSource) Fetch(ctx context.Context) (board.Fetched, error) { return f(ctx) }

func quiet(p *Poller) *Poller {
	p.SetLogger(nil)
	return p
}

func TestPollerRunsImmediatelyAndOrdersPhases(t *testing.T) {
	srv := newMetricsServer(t, http.StatusOK, `[{"name":"cpu","value":42}]`)
	sink := newRecordingSink()
	p := quiet(New(NewFetcher(srv.URL, "", 0, srv.Client()), sink, time.Hour, time.Second))
	p.Start(context.Background())
	defer p.Stop()

	sink.waitFor(t, "populate")
	assert.Equal(t, []string{"loading", "populate"}, sink.snapshot())
	assert.Equal(t, uint64(1), p.Cycles())
}

func TestPollerRendersHTTPErrorOnBoard(t *testing.T) {
	srv := newMetricsServer(t, http.StatusInternalServerError, "")
	b := board.New()
	done := make(chan struct{})
	var once sync.Once
	b.OnChange(func(v board.View) {
		if v.Phase == board.PhaseError {
			once.Do(func() { close(done) })
		}
	})
	p := quiet(New(NewFetcher(srv.URL, "", 0, srv.Client()), b, time.Hour, time.Second))
	p.Start(context.Background())
	defer p.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for error phase")
	}
	v := b.View()
	assert.Equal(t, "Error fetching metrics: HTTP error! status: 500", v.ErrorText)
	assert.Empty(t, v.Rows)
}

func TestPollerScenarioPopulatesBoard(t *testing.T) {
	srv := newMetricsServer(t, http.StatusOK, `[{"name":"cpu","value":42},{"name":"mem","value":87}]`)
	b := board.New()
	populated := make(chan struct{})
	var once sync.Once
	b.OnChange(func(v board.View) {
		if v.Phase == board.PhasePopulated {
			once.Do(func() { close(populated) })
		}
	})
	p := quiet(New(NewFetcher(srv.URL, "", 0, srv.Client()), b, time.Hour, time.Second))
	p.Start(context.Background())
	defer p.Stop()

	select {
	case <-populated:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for populated phase")
	}
	b.SetFilter("mem")
	v := b.View()
	require.Len(t, v.Rows, 2)
	assert.False(t, v.Rows[0].Visible)
	assert.True(t, v.Rows[1].Visible)
	assert.Equal(t, "87", v.Rows[1].Record.Value.String())
}

func TestPollerNeverOverlapsCycles(t *testing.T) {
	var active, maxActive atomic.Int32
	var calls atomic.Int32
	src := funcSource(func(ctx context.Context) (board.Fetched, error) {
		n := active.Add(1)
		for {
			cur := maxActive.Load()
			if n <= cur || maxActive.CompareAndSwap(cur, n) {
				break
			}
		}
		calls.Add(1)
		select {
		case <-time.After(30 * time.Millisecond):
		case <-ctx.Done():
		}
		active.Add(-1)
		return board.Fetched{Records: []metrics.Record{}}, nil
	})
	sink := newRecordingSink()
	p := quiet(New(src, sink, 5*time.Millisecond, time.Second))
	p.Start(context.Background())
	for i := 0; i < 10; i++ {
		p.Refresh()
		time.Sleep(5 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()

	assert.Equal(t, int32(1), maxActive.Load())
	events := sink.snapshot()
	for i := 1; i < len(events); i++ {
		if events[i] == "loading" {
			assert.NotEqual(t, "loading", events[i-1], "cycle started before previous finished: %v", events)
		}
	}
}

func TestPollerKeepsPollingAfterFailures(t *testing.T) {
	var calls atomic.Int32
	src := funcSource(func(ctx context.Context) (board.Fetched, error) {
		calls.Add(1)
		return board.Fetched{}, errors.New("connection refused")
	})
	sink := newRecordingSink()
	p := quiet(New(src, sink, 10*time.Millisecond, time.Second))
	p.Start(context.Background())
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	p.Stop()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotEmpty(t, sink.errs)
	assert.Equal(t, "connection refused", sink.errs[0].Error())
}

func TestPollerRefreshTriggersCycle(t *testing.T) {
	var calls atomic.Int32
	src := funcSource(func(ctx context.Context) (board.Fetched, error) {
		calls.Add(1)
		return board.Fetched{}, nil
	})
	sink := newRecordingSink()
	p := quiet(New(src, sink, time.Hour, 0))
	p.Start(context.Background())
	defer p.Stop()

	sink.waitFor(t, "populate")
	p.Refresh()
	sink.waitFor(t, "populate")
	assert.Equal(t, int32(2), calls.Load())
}

func TestPollerStopCancelsInFlightRequest(t *testing.T) {
	entered := make(chan struct{})
	src := funcSource(func(ctx context.Context) (board.Fetched, error) {
		close(entered)
		<-ctx.Done()
		return board.Fetched{}, ctx.Err()
	})
	sink := newRecordingSink()
	p := quiet(New(src, sink, time.Hour, 0))
	p.Start(context.Background())

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("fetch never started")
	}
	assert.True(t, p.busy())

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("Stop did not return")
	}
	<-p.Done()
	assert.Equal(t, []string{"loading"}, sink.snapshot())
	assert.False(t, p.busy())

	p.Stop()
	p.Start(context.Background())
	assert.Equal(t, uint64(1), p.Cycles())
}

func TestPollerRequestTimeout(t *testing.T) {
	src := funcSource(func(ctx context.Context) (board.Fetched, error) {
		<-ctx.Done()
		return board.Fetched{}, ctx.Err()
	})
	sink := newRecordingSink()
	var observed atomic.Int32
	p := quiet(New(src, sink, time.Hour, 20*time.Millisecond))
	p.SetObserver(func(d time.Duration, err error) {
		if errors.Is(err, context.DeadlineExceeded) {
			observed.Add(1)
		}
	})
	p.Start(context.Background())
	defer p.Stop()

	sink.waitFor(t, "fail")
	assert.Equal(t, int32(1), observed.Load())
}

func TestPollerThrottlesFailureLogs(t *testing.T) {
	var calls atomic.Int32
	src := funcSource(func(ctx context.Context) (board.Fetched, error) {
		if calls.Add(1) <= 3 {
			return board.Fetched{}, errors.New("connection refused")
		}
		return board.Fetched{}, nil
	})
	var mu sync.Mutex
	var lines, journal []string
	sink := newRecordingSink()
	p := New(src, sink, time.Hour, 0)
	p.SetLogger(func(format string, args ...any) {
		mu.Lock()
		lines = append(lines, fmt.Sprintf(format, args...))
		mu.Unlock()
	})
	p.SetJournal(func(format string, args ...any) {
		mu.Lock()
		journal = append(journal, fmt.Sprintf(format, args...))
		mu.Unlock()
	})
	p.Start(context.Background())
	defer p.Stop()

	sink.waitFor(t, "fail")
	p.Refresh()
	sink.waitFor(t, "fail")
	p.Refresh()
	sink.waitFor(t, "fail")
	p.Refresh()
	sink.waitFor(t, "populate")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"Poller: fetch failed (1 in a row): connection refused",
		"Poller: fetch recovered after 3 failures",
	}, lines)
	assert.Equal(t, []string{
		"Poller: fetch failed (2 in a row): connection refused",
		"Poller: fetch failed (3 in a row): connection refused",
	}, journal)
}
