package ui

import (
	"sync"
	"time"

	"github.com/rivo/tview"
)

// paneID keys a pending repaint. Later updates for the same pane replace
// earlier ones so a burst of frames costs a single draw.
type paneID uint8

const (
	paneElements paneID = iota
	paneStats
	paneLog
)

// frameScheduler coalesces pane updates and caps the draw rate.
type frameScheduler struct {
	app          *tview.Application
	mu           sync.Mutex
	pending      map[paneID]func()
	order        []paneID
	quit         chan struct{}
	done         chan struct{}
	stopOnce     sync.Once
	frameTime    time.Duration
	drainTimeout time.Duration
}

func newFrameScheduler(app *tview.Application, refresh, drainTimeout time.Duration) *frameScheduler {
	if refresh <= 0 {
		refresh = 250 * time.Millisecond
	}
	if drainTimeout <= 0 {
		drainTimeout = 100 * time.Millisecond
	}
	return &frameScheduler{
		app:          app,
		pending:      make(map[paneID]func()),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		frameTime:    refresh,
		drainTimeout: drainTimeout,
	}
}

func (f *frameScheduler) Start() {
	go f.run()
}

// Stop flushes what is pending, bounded by the drain timeout. Safe to call
// more than once.
func (f *frameScheduler) Stop() {
	f.stopOnce.Do(func() {
		close(f.quit)
		select {
		case <-f.done:
		case <-time.After(f.drainTimeout):
		}
	})
}

func (f *frameScheduler) Schedule(id paneID, fn func()) {
	if f == nil {
		return
	}
	f.mu.Lock()
	if _, ok := f.pending[id]; !ok {
		f.order = append(f.order, id)
	}
	f.pending[id] = fn
	f.mu.Unlock()
}

func (f *frameScheduler) run() {
	defer close(f.done)

	ticker := time.NewTicker(f.frameTime)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.flush()
		case <-f.quit:
			f.flush()
			return
		}
	}
}

// flush hands the pending batch to the application in first-scheduled order.
// Without an application (tests, log mode) callbacks run inline.
func (f *frameScheduler) flush() {
	f.mu.Lock()
	if len(f.order) == 0 {
		f.mu.Unlock()
		return
	}
	batch := make([]func(), 0, len(f.order))
	for _, id := range f.order {
		batch = append(batch, f.pending[id])
		delete(f.pending, id)
	}
	f.order = f.order[:0]
	f.mu.Unlock()

	apply := func() {
		for _, fn := range batch {
			fn()
		}
	}
	if f.app == nil {
		apply()
		return
	}
	f.app.QueueUpdateDraw(apply)
}
