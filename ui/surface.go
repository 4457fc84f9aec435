package ui

import (
	"io"

	"metricsdash/board"
)

// Surface abstracts the metrics display so the tview dashboard, the ANSI
// console and headless logging can be swapped. Render may be called from any
// goroutine, including concurrently.
type Surface interface {
	WaitReady()
	Stop()
	Render(view board.View)
	SystemWriter() io.Writer
	// Done is closed when the surface stops on its own (e.g. the user quit).
	// A nil channel means the surface never stops on its own.
	Done() <-chan struct{}
}

var _ Surface = (*Dashboard)(nil)
