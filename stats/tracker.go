// Package stats tracks pipeline counters for the dashboard and the periodic
// console summary.
package stats

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Tracker holds cumulative counters. All methods are safe for concurrent use:
// producers bump frame counters while the consumer bumps decision counters.
type Tracker struct {
	// keyed counters live in sync.Map + atomic.Uint64 so per-frame increments don't fight over a mutex
	parseErrors sync.Map // kind -> *atomic.Uint64
	bandCounts  sync.Map // band -> *atomic.Uint64
	start       atomic.Int64

	frames      atomic.Uint64
	alerts      atomic.Uint64
	muted       atomic.Uint64
	promotions  atomic.Uint64
	rejected    atomic.Uint64
	evictions   atomic.Uint64
	overflows   atomic.Uint64
	violations  atomic.Uint64
	stateEvents atomic.Uint64
}

// NewTracker creates a new stats tracker
func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

// IncrementFrames counts a frame handed in by the transport, valid or not.
func (t *Tracker) IncrementFrames() {
	t.frames.Add(1)
}

// IncrementParseError counts a dropped frame by error kind.
func (t *Tracker) IncrementParseError(kind string) {
	incrementCounter(&t.parseErrors, kind)
}

// IncrementAlert counts a processed alert by band.
func (t *Tracker) IncrementAlert(band string) {
	t.alerts.Add(1)
	incrementCounter(&t.bandCounts, band)
}

// IncrementMuted counts an alert suppressed by a lockout.
func (t *Tracker) IncrementMuted() {
	t.muted.Add(1)
}

// IncrementPromotions counts clusters promoted to an auto lockout.
func (t *Tracker) IncrementPromotions() {
	t.promotions.Add(1)
}

// IncrementRejectedPromotions counts promotions the lockout store refused.
func (t *Tracker) IncrementRejectedPromotions() {
	t.rejected.Add(1)
}

// AddEvictions counts clusters evicted by the inactivity sweep.
func (t *Tracker) AddEvictions(n int) {
	if n > 0 {
		t.evictions.Add(uint64(n))
	}
}

// AddOverflows counts events discarded by the ring.
func (t *Tracker) AddOverflows(n uint64) {
	t.overflows.Add(n)
}

// AddViolations counts rejected display claims.
func (t *Tracker) AddViolations(n uint64) {
	t.violations.Add(n)
}

// IncrementStateEvents counts link/display state changes consumed.
func (t *Tracker) IncrementStateEvents() {
	t.stateEvents.Add(1)
}

func (t *Tracker) Frames() uint64      { return t.frames.Load() }
func (t *Tracker) Alerts() uint64      { return t.alerts.Load() }
func (t *Tracker) Muted() uint64       { return t.muted.Load() }
func (t *Tracker) Promotions() uint64  { return t.promotions.Load() }
func (t *Tracker) Rejected() uint64    { return t.rejected.Load() }
func (t *Tracker) Evictions() uint64   { return t.evictions.Load() }
func (t *Tracker) Overflows() uint64   { return t.overflows.Load() }
func (t *Tracker) Violations() uint64  { return t.violations.Load() }
func (t *Tracker) StateEvents() uint64 { return t.stateEvents.Load() }

// ParseErrors returns a copy of the per-kind parse error counts.
func (t *Tracker) ParseErrors() map[string]uint64 {
	return snapshot(&t.parseErrors)
}

// BandCounts returns a copy of the per-band alert counts.
func (t *Tracker) BandCounts() map[string]uint64 {
	return snapshot(&t.bandCounts)
}

// ParseErrorTotal returns the number of dropped frames across all kinds.
func (t *Tracker) ParseErrorTotal() uint64 {
	var total uint64
	t.parseErrors.Range(func(_, value any) bool {
		total += value.(*atomic.Uint64).Load()
		return true
	})
	return total
}

// GetUptime returns how long the tracker has been running
func (t *Tracker) GetUptime() time.Duration {
	start := t.start.Load()
	return time.Since(time.Unix(0, start))
}

// Reset resets all counters
func (t *Tracker) Reset() {
	clearMap(&t.parseErrors)
	clearMap(&t.bandCounts)
	for _, c := range []*atomic.Uint64{&t.frames, &t.alerts, &t.muted, &t.promotions, &t.rejected,
		&t.evictions, &t.overflows, &t.violations, &t.stateEvents} {
		c.Store(0)
	}
	t.start.Store(time.Now().UnixNano())
}

// SnapshotLines returns human-readable stats ready for console display.
func (t *Tracker) SnapshotLines() []string {
	var b strings.Builder
	b.WriteString("Frames: ")
	b.WriteString(humanize.Comma(int64(t.Frames())))
	b.WriteString(" | Alerts: ")
	b.WriteString(humanize.Comma(int64(t.Alerts())))
	b.WriteString(" | Muted: ")
	b.WriteString(humanize.Comma(int64(t.Muted())))
	b.WriteString(" | Dropped: ")
	b.WriteString(humanize.Comma(int64(t.ParseErrorTotal())))
	b.WriteString(" | Overflow: ")
	b.WriteString(humanize.Comma(int64(t.Overflows())))
	first := b.String()

	b.Reset()
	b.WriteString("Learning: promoted ")
	b.WriteString(humanize.Comma(int64(t.Promotions())))
	b.WriteString(" / rejected ")
	b.WriteString(humanize.Comma(int64(t.Rejected())))
	b.WriteString(" / evicted ")
	b.WriteString(humanize.Comma(int64(t.Evictions())))
	b.WriteString(" | Violations: ")
	b.WriteString(humanize.Comma(int64(t.Violations())))

	return []string{
		first,
		b.String(),
		formatMapCounts("Alerts by band", &t.bandCounts),
		formatMapCounts("Parse errors", &t.parseErrors),
	}
}

func formatMapCounts(label string, counts *sync.Map) string {
	snap := snapshot(counts)
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var builder strings.Builder
	builder.WriteString(label)
	builder.WriteString(": ")
	if len(keys) == 0 {
		builder.WriteString("(none)")
		return builder.String()
	}
	for i, k := range keys {
		if i > 0 {
			builder.WriteString(", ")
		}
		builder.WriteString(k)
		builder.WriteByte('=')
		builder.WriteString(humanize.Comma(int64(snap[k])))
	}
	return builder.String()
}

func snapshot(m *sync.Map) map[string]uint64 {
	counts := make(map[string]uint64)
	m.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

func clearMap(m *sync.Map) {
	m.Range(func(key, _ any) bool {
		m.Delete(key)
		return true
	})
}

func incrementCounter(m *sync.Map, key string) {
	if strings.TrimSpace(key) == "" {
		return
	}
	if value, ok := m.Load(key); ok {
		value.(*atomic.Uint64).Add(1)
		return
	}
	counter := &atomic.Uint64{}
	actual, loaded := m.LoadOrStore(key, counter)
	if loaded {
		actual.(*atomic.Uint64).Add(1)
		return
	}
	counter.Add(1)
}
