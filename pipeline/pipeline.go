// Package pipeline connects the producer side of the link (frames, state
// changes, location fixes) to the consumer cycle that runs clustering,
// lockout and display arbitration once per tick.
package pipeline

import (
	"errors"
	"log"
	"sync/atomic"
	"time"

	"alertcore/buffer"
	"alertcore/cluster"
	"alertcore/display"
	"alertcore/geo"
	"alertcore/lockout"
	"alertcore/packet"
	"alertcore/stats"
)

// Display element owners. Each element is claimed by exactly one of these.
const (
	OwnerAlerts    = "alerts"
	OwnerLockout   = "lockout"
	OwnerAutoLearn = "autolearn"
	OwnerLink      = "link"
)

// State change sources.
const (
	SourceLink     = "link"
	SourceDetector = "detector"
)

const (
	DefaultAlertHold = 3 * time.Second
	DefaultFixMaxAge = 10 * time.Second
)

// Recorder receives every processed alert, typically the decision archive.
type Recorder interface {
	Record(o Outcome)
}

// Options wires the collaborators. Ring, Engine, Store and Arbiter are
// required; the rest default sensibly.
type Options struct {
	Ring     *buffer.EventRing
	Engine   *cluster.Engine
	Store    *lockout.Store
	Arbiter  *display.Arbiter
	Sink     display.Sink
	Stats    *stats.Tracker
	Recorder Recorder

	// Location decides where calendar days start.
	Location *time.Location
	// AlertHold keeps the last alert on screen after it stops being reported.
	AlertHold time.Duration
	// FixMaxAge discards location fixes older than this relative to the alert.
	FixMaxAge time.Duration
	Now       func() time.Time
}

// Pipeline is safe for one producer goroutine calling Deliver/DeliverState/
// ReportDropped, any goroutine calling SetFix, and one consumer calling Tick.
type Pipeline struct {
	ring    *buffer.EventRing
	engine  *cluster.Engine
	store   *lockout.Store
	arbiter *display.Arbiter
	sink    display.Sink
	stats   *stats.Tracker
	rec     Recorder
	loc     *time.Location
	hold    time.Duration
	fixAge  time.Duration
	now     func() time.Time

	fix atomic.Pointer[geo.Fix]

	// consumer-only state
	screen         screenState
	lastOverflows  uint64
	lastViolations uint64
}

// New validates opts and returns a pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Ring == nil || opts.Engine == nil || opts.Store == nil || opts.Arbiter == nil {
		return nil, errors.New("pipeline: ring, engine, store and arbiter are required")
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.AlertHold <= 0 {
		opts.AlertHold = DefaultAlertHold
	}
	if opts.FixMaxAge <= 0 {
		opts.FixMaxAge = DefaultFixMaxAge
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Stats == nil {
		opts.Stats = stats.NewTracker()
	}
	return &Pipeline{
		ring:    opts.Ring,
		engine:  opts.Engine,
		store:   opts.Store,
		arbiter: opts.Arbiter,
		sink:    opts.Sink,
		stats:   opts.Stats,
		rec:     opts.Recorder,
		loc:     opts.Location,
		hold:    opts.AlertHold,
		fixAge:  opts.FixMaxAge,
		now:     opts.Now,
	}, nil
}

// Stats returns the tracker the pipeline reports into.
func (p *Pipeline) Stats() *stats.Tracker {
	return p.stats
}

// Ring exposes the event ring for diagnostics.
func (p *Pipeline) Ring() *buffer.EventRing {
	return p.ring
}

// Deliver decodes one frame from the transport and queues the result. Bad
// frames are counted by kind and dropped; the error is returned for callers
// that want to log it.
func (p *Pipeline) Deliver(frame []byte) error {
	p.stats.IncrementFrames()
	pkt, err := packet.Decode(frame, p.now())
	if err != nil {
		var pe *packet.ParseError
		if errors.As(err, &pe) {
			p.stats.IncrementParseError(pe.Kind.String())
		}
		return err
	}
	switch pkt.ID {
	case packet.IDAlertData:
		p.ring.Push(buffer.Event{Kind: buffer.AlertEvent, Alert: pkt.Alert})
	case packet.IDDisplayData:
		p.ring.Push(buffer.Event{
			Kind:  buffer.StateChangeEvent,
			State: buffer.StateChange{Source: SourceDetector, State: "display", Display: pkt.Display},
		})
	}
	return nil
}

// DeliverState queues a link or detector state transition.
func (p *Pipeline) DeliverState(source, state string) {
	p.ring.Push(buffer.Event{Kind: buffer.StateChangeEvent, State: buffer.StateChange{Source: source, State: state}})
}

// ReportDropped records frames lost upstream of the ring, as reported by the
// transport.
func (p *Pipeline) ReportDropped(n uint64) {
	if n == 0 {
		return
	}
	p.ring.Push(buffer.Event{Kind: buffer.OverflowEvent, Dropped: n})
}

// SetFix publishes the latest location sample. Invalid fixes are ignored.
func (p *Pipeline) SetFix(f geo.Fix) bool {
	if !f.Valid() {
		return false
	}
	f.Heading = geo.NormalizeHeading(f.Heading)
	p.fix.Store(&f)
	return true
}

// Fix returns the latest published fix.
func (p *Pipeline) Fix() (geo.Fix, bool) {
	f := p.fix.Load()
	if f == nil {
		return geo.Fix{}, false
	}
	return *f, true
}

func (p *Pipeline) fixFor(a packet.Alert) (geo.Fix, bool) {
	f, ok := p.Fix()
	if !ok {
		return geo.Fix{}, false
	}
	if !f.Time.IsZero() && !a.Timestamp.IsZero() {
		age := a.Timestamp.Sub(f.Time)
		if age < 0 {
			age = -age
		}
		if age > p.fixAge {
			return geo.Fix{}, false
		}
	}
	return f, true
}

// Outcome is the consumer's verdict on one alert.
type Outcome struct {
	Alert    packet.Alert
	Fix      geo.Fix
	HasFix   bool
	Day      geo.Day
	Decision cluster.Decision
	Mute     lockout.MuteDecision
}

// Muted reports whether a lockout suppressed the alert.
func (o Outcome) Muted() bool {
	return o.Mute.Muted
}

// Report summarises one Tick.
type Report struct {
	Frame     uint64
	Outcomes  []Outcome
	Removed   []cluster.Removal
	Changes   []display.Change
	States    int
	Dropped   uint64 // upstream losses reported this tick
	Overflows uint64 // ring overwrites since the previous tick
	ClaimErrs []error
}

// Tick drains the ring and runs one processing cycle: clustering, lockout,
// eviction sweep and a display frame.
func (p *Pipeline) Tick() Report {
	now := p.now()
	var rep Report
	for {
		ev, ok := p.ring.Pop()
		if !ok {
			break
		}
		switch ev.Kind {
		case buffer.AlertEvent:
			o := p.process(ev.Alert, now)
			rep.Outcomes = append(rep.Outcomes, o)
		case buffer.StateChangeEvent:
			rep.States++
			p.stats.IncrementStateEvents()
			p.applyState(ev.State)
		case buffer.OverflowEvent:
			rep.Dropped += ev.Dropped
		}
	}
	if rep.Dropped > 0 {
		p.stats.AddOverflows(rep.Dropped)
		log.Printf("Pipeline: transport reported %d dropped frames", rep.Dropped)
	}
	if ov := p.ring.Overflows(); ov != p.lastOverflows {
		rep.Overflows = ov - p.lastOverflows
		p.lastOverflows = ov
		p.stats.AddOverflows(rep.Overflows)
		log.Printf("Pipeline: event ring overwrote %d events", rep.Overflows)
	}

	rep.Removed = p.engine.Sweep(now)
	if len(rep.Removed) > 0 {
		p.stats.AddEvictions(len(rep.Removed))
		for _, r := range rep.Removed {
			if r.LockoutID != 0 {
				log.Printf("Pipeline: evicted cluster #%d and auto lockout #%d", r.ClusterID, r.LockoutID)
			}
		}
	}

	rep.Frame = p.arbiter.BeginFrame()
	p.screen.update(rep.Outcomes, now, p.hold)
	rep.ClaimErrs = p.screen.claim(p.arbiter)
	for _, err := range rep.ClaimErrs {
		log.Printf("Pipeline: display claim refused: %v", err)
	}
	rep.Changes = p.arbiter.ResolveFrame()
	if v := p.arbiter.Violations(); v != p.lastViolations {
		p.stats.AddViolations(v - p.lastViolations)
		p.lastViolations = v
	}
	if p.sink != nil && len(rep.Changes) > 0 {
		p.sink.Render(rep.Frame, rep.Changes)
	}
	return rep
}

func (p *Pipeline) process(a packet.Alert, now time.Time) Outcome {
	if a.Timestamp.IsZero() {
		a.Timestamp = now
	}
	o := Outcome{Alert: a, Day: geo.DayOf(a.Timestamp, p.loc)}
	p.stats.IncrementAlert(a.Band.String())

	o.Fix, o.HasFix = p.fixFor(a)
	if o.HasFix {
		o.Decision = p.engine.Observe(a, o.Fix.Point, o.Fix.Heading, o.Day)
		switch {
		case o.Decision.Err != nil:
			p.stats.IncrementRejectedPromotions()
		case o.Decision.Kind == cluster.Promoted:
			p.stats.IncrementPromotions()
		}
		o.Mute = p.store.Apply(a, o.Fix.Point)
		if o.Mute.Muted {
			p.stats.IncrementMuted()
		}
	}
	if p.rec != nil {
		p.rec.Record(o)
	}
	return o
}

func (p *Pipeline) applyState(sc buffer.StateChange) {
	switch sc.Source {
	case SourceDetector:
		d := sc.Display
		p.screen.detector = &d
	default:
		if p.screen.link != sc.State {
			log.Printf("Pipeline: %s state %q", sc.Source, sc.State)
		}
		p.screen.link = sc.State
	}
}
