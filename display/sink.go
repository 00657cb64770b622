package display

import (
	"log"
	"strings"
)

// Sink receives the dirty elements of each resolved frame.
type Sink interface {
	Render(frame uint64, changes []Change)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(frame uint64, changes []Change)

func (f SinkFunc) Render(frame uint64, changes []Change) {
	f(frame, changes)
}

// LogSink writes one line per frame with changes. It is the fallback when no
// terminal is attached.
type LogSink struct {
	Logger *log.Logger
}

func (s LogSink) Render(frame uint64, changes []Change) {
	if len(changes) == 0 {
		return
	}
	var b strings.Builder
	for i, c := range changes {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(c.Kind.String())
		b.WriteByte('=')
		if c.Value == "" {
			b.WriteString("-")
		} else {
			b.WriteString(c.Value)
		}
	}
	if s.Logger != nil {
		s.Logger.Printf("Display: frame %d %s", frame, b.String())
		return
	}
	log.Printf("Display: frame %d %s", frame, b.String())
}

// MultiSink fans a frame out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Render(frame uint64, changes []Change) {
	for _, s := range m {
		if s != nil {
			s.Render(frame, changes)
		}
	}
}
