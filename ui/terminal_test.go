package ui

import (
	"fmt"
	"log"
	"strings"
	"testing"

	"github.com/gdamore/tcell/v2"

	"alertcore/config"
	"alertcore/display"
)

func screenRow(screen tcell.SimulationScreen, y, width int) string {
	var b strings.Builder
	for x := 0; x < width; x++ {
		ch, _, _, _ := screen.GetContent(x, y)
		b.WriteRune(ch)
	}
	return strings.TrimRight(b.String(), " ")
}

func TestElementPanelDrawsResolvedValues(t *testing.T) {
	screen := tcell.NewSimulationScreen("UTF-8")
	if err := screen.Init(); err != nil {
		t.Fatalf("init screen: %v", err)
	}
	defer screen.Fini()
	screen.SetSize(40, 10)

	panel := NewElementPanel("Alert")
	panel.SetRect(0, 0, 40, 10)
	panel.Apply([]display.Change{
		{Kind: display.ElementBand, Value: "K"},
		{Kind: display.ElementFrequency, Value: "24.150"},
		{Kind: display.ElementSignal, Value: "3"},
		{Kind: display.ElementDirection, Value: "FR"},
		{Kind: display.ElementMute, Value: "LOCKOUT #2"},
	})
	panel.Draw(screen)

	want := map[int]string{
		1: "BAND   K  24.150 GHz",
		2: "SIGNAL ▮▮▮▯▯▯▯▯",
		3: "DIR    ▲ ▼",
		5: "MUTE   LOCKOUT #2",
	}
	for y, line := range want {
		got := screenRow(screen, y, 39)
		if !strings.HasPrefix(got, "│"+line) {
			t.Fatalf("row %d: expected %q, got %q", y, line, got)
		}
	}
}

func TestElementPanelClearsEmptyValues(t *testing.T) {
	panel := NewElementPanel("")
	panel.Apply([]display.Change{{Kind: display.ElementMute, Value: "MUTED"}})
	panel.Apply([]display.Change{{Kind: display.ElementMute, Value: "", Previous: "MUTED"}})
	if v := panel.Value(display.ElementMute); v != "" {
		t.Fatalf("expected mute cleared, got %q", v)
	}
	for _, row := range panel.rows() {
		if row.label == "MUTE" && row.text != "-" {
			t.Fatalf("expected dash for empty mute, got %q", row.text)
		}
	}
}

func TestBarGlyphsClamp(t *testing.T) {
	cases := map[string]string{
		"0":  "▯▯▯▯▯▯▯▯",
		"8":  "▮▮▮▮▮▮▮▮",
		"12": "▮▮▮▮▮▮▮▮",
		"":   "-",
		"x":  "-",
	}
	for in, want := range cases {
		if got := barGlyphs(in); got != want {
			t.Fatalf("barGlyphs(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTerminalRenderWithoutApplication(t *testing.T) {
	term := newTerminal(nil, config.UIConfig{RefreshMS: 50})
	term.Render(7, []display.Change{{Kind: display.ElementBand, Value: "KA"}})
	term.SetStats([]string{"Frames: 10", "Alerts: 1"})
	term.scheduler.flush()

	if term.Frame() != 7 {
		t.Fatalf("expected frame 7, got %d", term.Frame())
	}
	if v := term.panel.Value(display.ElementBand); v != "KA" {
		t.Fatalf("expected band KA, got %q", v)
	}
	if got := term.panel.GetTitle(); !strings.Contains(got, "#7") {
		t.Fatalf("expected frame in title, got %q", got)
	}
	if got := strings.TrimRight(term.stats.GetText(true), "\n"); got != "Frames: 10\nAlerts: 1" {
		t.Fatalf("unexpected stats text %q", got)
	}
}

func TestTerminalSystemWriterKeepsTail(t *testing.T) {
	term := newTerminal(nil, config.UIConfig{})
	logger := log.New(term.SystemWriter(), "", 0)
	for i := 0; i < maxLogLines+5; i++ {
		logger.Printf("line %d", i)
	}
	term.scheduler.flush()

	text := term.logs.GetText(true)
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) != maxLogLines {
		t.Fatalf("expected %d lines, got %d", maxLogLines, len(lines))
	}
	if lines[0] != "line 5" {
		t.Fatalf("expected oldest kept line to be line 5, got %q", lines[0])
	}
	if last := lines[len(lines)-1]; last != fmt.Sprintf("line %d", maxLogLines+4) {
		t.Fatalf("unexpected last line %q", last)
	}
}

func TestTerminalQuitInvokesCallback(t *testing.T) {
	term := newTerminal(nil, config.UIConfig{})
	called := false
	term.SetQuitFunc(func() { called = true })
	term.quit()
	if !called {
		t.Fatalf("expected quit callback")
	}
	term.Stop()
	term.Stop()
}
