package ui

import (
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"alertcore/config"
	"alertcore/display"
)

const (
	accentTag   = "[#ff69b4]"
	resetTag    = "[-]"
	maxLogLines = 500
)

// Terminal is the full-screen dashboard. It is a display.Sink: resolved
// element changes land in the element panel and repaint on the next
// scheduler tick.
type Terminal struct {
	app       *tview.Application
	panel     *ElementPanel
	stats     *tview.TextView
	logs      *tview.TextView
	scheduler *frameScheduler

	ready     chan struct{}
	readyOnce sync.Once
	stopOnce  sync.Once
	frame     atomic.Uint64

	logMu    sync.Mutex
	logLines []string

	quitMu sync.Mutex
	onQuit func()
}

// NewTerminal builds the dashboard without starting it.
func NewTerminal(cfg config.UIConfig) *Terminal {
	return newTerminal(tview.NewApplication(), cfg)
}

func newTerminal(app *tview.Application, cfg config.UIConfig) *Terminal {
	t := &Terminal{
		app:   app,
		panel: NewElementPanel("Alert"),
		stats: newBoxedTextView("Stats"),
		logs:  newBoxedTextView("Log"),
		ready: make(chan struct{}),
	}
	t.logs.SetMaxLines(maxLogLines)
	t.scheduler = newFrameScheduler(app, time.Duration(cfg.RefreshMS)*time.Millisecond, 100*time.Millisecond)
	if app != nil {
		top := tview.NewFlex().
			AddItem(t.panel, 36, 0, false).
			AddItem(t.stats, 0, 1, false)
		root := tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(top, 9, 0, false).
			AddItem(t.logs, 0, 1, false).
			AddItem(buildFooter(), 1, 0, false)
		app.SetRoot(root, true)
		app.SetBeforeDrawFunc(func(tcell.Screen) bool {
			t.readyOnce.Do(func() { close(t.ready) })
			return false
		})
		app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
			if event.Key() == tcell.KeyCtrlC || event.Rune() == 'q' {
				t.quit()
				return nil
			}
			return event
		})
	}
	return t
}

// Start runs the application loop in the background.
func (t *Terminal) Start() {
	t.scheduler.Start()
	if t.app == nil {
		return
	}
	go func() {
		if err := t.app.Run(); err != nil {
			log.Printf("UI: terminal error: %v", err)
		}
	}()
}

// WaitReady blocks until the first draw or the timeout.
func (t *Terminal) WaitReady(timeout time.Duration) bool {
	select {
	case <-t.ready:
		return true
	case <-time.After(timeout):
		return false
	}
}

// SetQuitFunc registers what runs when the operator presses q.
func (t *Terminal) SetQuitFunc(fn func()) {
	t.quitMu.Lock()
	t.onQuit = fn
	t.quitMu.Unlock()
}

func (t *Terminal) quit() {
	t.quitMu.Lock()
	fn := t.onQuit
	t.quitMu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *Terminal) Render(frame uint64, changes []display.Change) {
	t.panel.Apply(changes)
	t.frame.Store(frame)
	t.scheduler.Schedule(paneElements, func() {
		t.panel.SetTitle(" Alert #" + strconv.FormatUint(frame, 10) + " ")
	})
}

// Frame returns the last frame number rendered.
func (t *Terminal) Frame() uint64 {
	return t.frame.Load()
}

// SetStats replaces the stats pane text.
func (t *Terminal) SetStats(lines []string) {
	text := strings.Join(lines, "\n")
	t.scheduler.Schedule(paneStats, func() {
		t.stats.SetText(text)
	})
}

// SystemWriter returns an io.Writer that feeds the log pane. Pair it with
// the log package so log lines show up on the dashboard.
func (t *Terminal) SystemWriter() io.Writer {
	return terminalLogWriter{t: t}
}

func (t *Terminal) appendLog(line string) {
	t.logMu.Lock()
	t.logLines = append(t.logLines, line)
	if over := len(t.logLines) - maxLogLines; over > 0 {
		t.logLines = append(t.logLines[:0], t.logLines[over:]...)
	}
	text := strings.Join(t.logLines, "\n")
	t.logMu.Unlock()
	t.scheduler.Schedule(paneLog, func() {
		t.logs.SetText(text)
		t.logs.ScrollToEnd()
	})
}

// Stop drains pending repaints and shuts the application down.
func (t *Terminal) Stop() {
	t.stopOnce.Do(func() {
		t.scheduler.Stop()
		if t.app != nil {
			t.app.Stop()
		}
	})
}

type terminalLogWriter struct {
	t *Terminal
}

func (w terminalLogWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}
		w.t.appendLog(tview.Escape(line))
	}
	return len(p), nil
}

func newBoxedTextView(title string) *tview.TextView {
	tv := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	tv.SetBorder(true)
	if title != "" {
		tv.SetTitle(" " + accentTag + title + resetTag + " ").SetTitleAlign(tview.AlignLeft)
	}
	tv.SetBorderColor(uiBorderColor)
	tv.SetTitleColor(uiTitleColor)
	return tv
}

func buildFooter() *tview.TextView {
	footer := tview.NewTextView().SetDynamicColors(true)
	footer.SetText(accentTag + "q" + resetTag + " quit")
	return footer
}
