package ui

import (
	"strings"
	"unicode/utf8"

	"metricsdash/board"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const valueIndent = "  "

var (
	nameStyle    = tcell.StyleDefault.Foreground(tcell.ColorHotPink).Bold(true)
	valueStyle   = tcell.StyleDefault
	loadingStyle = tcell.StyleDefault.Foreground(tcell.ColorYellow)
	errorStyle   = tcell.StyleDefault.Foreground(tcell.ColorRed)
	idleStyle    = tcell.StyleDefault.Foreground(tcell.ColorGray)
)

type listLine struct {
	text  string
	style tcell.Style
}

// MetricList draws the visible records of a board view, two lines per
// record (name, then value). Only the rows that fit on screen are drawn.
type MetricList struct {
	*tview.Box
	lines        []listLine
	visibleRows  int
	scrollOffset int
}

func NewMetricList() *MetricList {
	return &MetricList{Box: tview.NewBox()}
}

// SetView rebuilds the line set from a board view. Hidden records produce no
// lines; the scroll offset is clamped to the new length.
func (v *MetricList) SetView(view board.View) {
	v.lines = buildLines(view)
	v.clampOffset()
}

func buildLines(view board.View) []listLine {
	switch view.Phase {
	case board.PhaseLoading:
		return []listLine{{text: "Loading...", style: loadingStyle}}
	case board.PhaseError:
		return []listLine{{text: view.ErrorText, style: errorStyle}}
	case board.PhaseEmpty:
		return []listLine{{text: "Waiting for first poll", style: idleStyle}}
	}
	lines := make([]listLine, 0, view.VisibleCount*2)
	for _, row := range view.Rows {
		if !row.Visible {
			continue
		}
		lines = append(lines,
			listLine{text: row.Record.Name, style: nameStyle},
			listLine{text: valueIndent + "Value: " + row.Record.Value.String(), style: valueStyle},
		)
	}
	return lines
}

// laidOut returns the plain text currently laid out, top to bottom.
func (v *MetricList) laidOut() []string {
	out := make([]string, len(v.lines))
	for i, l := range v.lines {
		out[i] = l.text
	}
	return out
}

func (v *MetricList) Draw(screen tcell.Screen) {
	v.Box.DrawForSubclass(screen, v)
	x, y, width, height := v.GetInnerRect()
	v.visibleRows = height
	if width <= 0 || height <= 0 {
		return
	}
	v.clampOffset()
	for i := 0; i < height; i++ {
		idx := v.scrollOffset + i
		if idx >= len(v.lines) {
			break
		}
		line := v.lines[idx]
		drawText(screen, x, y+i, width, truncateRunes(line.text, width), line.style)
	}
}

func (v *MetricList) maxOffset() int {
	return maxInt(0, len(v.lines)-v.visibleRows)
}

func (v *MetricList) clampOffset() {
	if limit := v.maxOffset(); v.scrollOffset > limit {
		v.scrollOffset = limit
	}
	if v.scrollOffset < 0 {
		v.scrollOffset = 0
	}
}

func (v *MetricList) ScrollUp(n int) {
	if n <= 0 {
		return
	}
	v.scrollOffset -= n
	v.clampOffset()
}

func (v *MetricList) ScrollDown(n int) {
	if n <= 0 {
		return
	}
	v.scrollOffset += n
	v.clampOffset()
}

func (v *MetricList) ScrollToStart() {
	v.scrollOffset = 0
}

func (v *MetricList) ScrollToEnd() {
	v.scrollOffset = v.maxOffset()
}

// PageSize is the number of lines a PgUp/PgDn moves.
func (v *MetricList) PageSize() int {
	if v.visibleRows > 1 {
		return v.visibleRows - 1
	}
	return 10
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	count := 0
	for _, r := range s {
		if count >= max {
			break
		}
		b.WriteRune(r)
		count++
	}
	return b.String()
}

func drawText(screen tcell.Screen, x, y, width int, text string, style tcell.Style) {
	if width <= 0 {
		return
	}
	runes := []rune(text)
	for i := 0; i < width; i++ {
		ch := ' '
		if i < len(runes) {
			ch = runes[i]
		}
		screen.SetContent(x+i, y, ch, nil, style)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
