// Package display arbitrates writes to the dashboard. Every element has at
// most one writer per frame; the arbiter diffs resolved values against what
// was last rendered so sinks only repaint what changed.
package display

import "fmt"

// ElementKind names one screen region.
type ElementKind uint8

const (
	ElementBand ElementKind = iota
	ElementFrequency
	ElementSignal
	ElementDirection
	ElementMute
	ElementLearn
	ElementLink
	ElementAlertCount
	elementKinds
)

var elementNames = [elementKinds]string{
	ElementBand:       "band",
	ElementFrequency:  "frequency",
	ElementSignal:     "signal",
	ElementDirection:  "direction",
	ElementMute:       "mute",
	ElementLearn:      "learn",
	ElementLink:       "link",
	ElementAlertCount: "count",
}

func (k ElementKind) String() string {
	if k < elementKinds {
		return elementNames[k]
	}
	return fmt.Sprintf("element(%d)", uint8(k))
}

// Valid reports whether k names a known element.
func (k ElementKind) Valid() bool {
	return k < elementKinds
}

// Kinds returns every element kind in screen order.
func Kinds() []ElementKind {
	out := make([]ElementKind, 0, elementKinds)
	for k := ElementKind(0); k < elementKinds; k++ {
		out = append(out, k)
	}
	return out
}

// Element is the rendered state of one screen region. Elements are reset,
// never destroyed.
type Element struct {
	Kind  ElementKind
	Value string
	Owner string
	Dirty bool
}

// Change is one dirty element handed to a Sink.
type Change struct {
	Kind     ElementKind
	Value    string
	Previous string
	Owner    string
}
