package main

import (
	"bytes"
	"strings"
	"testing"

	"metricsdash/board"
	"metricsdash/config"
	"metricsdash/metrics"
)

func newTestANSIConsole(color bool) (*ansiConsole, *bytes.Buffer) {
	var out bytes.Buffer
	c := newANSIConsole(config.UIConfig{Color: &color, ClearScreen: boolRef(false)}, "http://localhost:8000/api/v1/metrics/", &out)
	c.width = func() int { return 40 }
	return c, &out
}

func boolRef(v bool) *bool { return &v }

func TestANSIConsoleRendersVisibleRecords(t *testing.T) {
	c, out := newTestANSIConsole(false)
	b := board.New()
	b.OnChange(c.Render)
	b.Populate(board.Fetched{Records: []metrics.Record{
		{Name: "cpu", Value: metrics.Number("42")},
		{Name: "mem", Value: metrics.Number("87")},
	}})
	b.SetFilter("mem")

	c.render()
	got := out.String()
	if strings.Contains(got, "cpu") {
		t.Fatalf("hidden record rendered:\n%s", got)
	}
	if !strings.Contains(got, "mem\n  Value: 87\n") {
		t.Fatalf("expected visible record, got:\n%s", got)
	}
	if !strings.Contains(got, "Showing 1 of 2") {
		t.Fatalf("expected status line, got:\n%s", got)
	}
	if strings.Contains(got, "\x1b[") {
		t.Fatalf("expected no escape codes with color off:\n%q", got)
	}
}

func TestANSIConsoleRendersErrorOnce(t *testing.T) {
	c, out := newTestANSIConsole(false)
	c.Render(board.View{Seq: 2, Phase: board.PhaseError, ErrorText: "Error fetching metrics: HTTP error! status: 500"})
	c.render()
	if n := strings.Count(out.String(), "Error fetching metrics"); n != 1 {
		t.Fatalf("expected exactly one error line, got %d:\n%s", n, out.String())
	}

	out.Reset()
	c.render()
	if out.Len() != 0 {
		t.Fatalf("expected no frame when nothing changed, got %q", out.String())
	}

	c.Render(board.View{Seq: 1, Phase: board.PhaseLoading})
	c.render()
	if out.Len() != 0 {
		t.Fatalf("stale view should not trigger a frame, got %q", out.String())
	}
}

func TestANSIConsoleStripsControlSequencesFromNames(t *testing.T) {
	c, out := newTestANSIConsole(true)
	c.Render(board.View{
		Seq:          1,
		Phase:        board.PhasePopulated,
		Rows:         []board.Row{{Record: metrics.Record{Name: "evil\x1b[2Jname", Value: metrics.String("1")}, Visible: true}},
		VisibleCount: 1,
	})
	c.render()
	if strings.Contains(out.String(), "\x1b[2J") {
		t.Fatalf("escape sequence from name leaked into output: %q", out.String())
	}
	if !strings.Contains(out.String(), "evil[2Jname") {
		t.Fatalf("expected sanitized name, got %q", out.String())
	}
}

func TestStripControlsRemovesC1Controls(t *testing.T) {
	cases := map[string]string{
		"csi\u009b2Jname": "csi2Jname",
		"osc\u009d0;x":    "osc0;x",
		"nel\u0085ok":     "nelok",
		"tab\tbell\a":     "tabbell",
		"ünïcode µs":      "ünïcode µs",
	}
	for in, want := range cases {
		if got := stripControls(in); got != want {
			t.Fatalf("stripControls(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestANSIConsoleSystemPane(t *testing.T) {
	c, out := newTestANSIConsole(true)
	w := c.SystemWriter()
	for _, line := range []string{"one", "two", "three", "[red]four[-]"} {
		_, _ = w.Write([]byte(line + "\n"))
	}
	c.render()
	got := out.String()
	if strings.Contains(got, "one\n") {
		t.Fatalf("expected oldest system line to roll off:\n%q", got)
	}
	if !strings.Contains(got, "\x1b[31mfour\x1b[0m") {
		t.Fatalf("expected markup converted to ANSI, got %q", got)
	}
}

func TestApplyANSIMarkup(t *testing.T) {
	if got := applyANSIMarkup("[red]X[-]", false); got != "X" {
		t.Fatalf("strip mismatch: %q", got)
	}
	if got := applyANSIMarkup("plain", true); got != "plain" {
		t.Fatalf("plain text should be untouched, got %q", got)
	}
	if got := applyANSIMarkup("[red]X", true); got != "\x1b[31mX\x1b[0m" {
		t.Fatalf("markup mismatch: %q", got)
	}
}

func TestClipRunes(t *testing.T) {
	if got := clipRunes("héllo", 3); got != "hél" {
		t.Fatalf("unexpected clip %q", got)
	}
	if got := clipRunes("abc", 0); got != "abc" {
		t.Fatalf("zero width should not clip, got %q", got)
	}
}
