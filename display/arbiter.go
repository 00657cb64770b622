package display

import (
	"fmt"
	"log"
	"sync/atomic"
)

// Options tunes arbiter behaviour.
type Options struct {
	// Strict panics on an ownership violation instead of logging it.
	Strict bool
}

type claim struct {
	value string
	owner string
	set   bool
}

// Arbiter runs one frame transaction per processing cycle. It is driven from
// the consumer only; Violations may be read from any goroutine.
type Arbiter struct {
	opts       Options
	frame      uint64
	open       bool
	claims     [elementKinds]claim
	cache      [elementKinds]Element
	violations atomic.Uint64
}

// NewArbiter returns an arbiter with every element blank and clean.
func NewArbiter(opts Options) *Arbiter {
	a := &Arbiter{opts: opts}
	for k := range a.cache {
		a.cache[k] = Element{Kind: ElementKind(k)}
	}
	return a
}

// BeginFrame opens a new claim window and returns its sequence number. An
// unresolved previous frame is discarded.
func (a *Arbiter) BeginFrame() uint64 {
	if a.open {
		a.resetClaims()
	}
	a.frame++
	a.open = true
	return a.frame
}

// Claim records owner's value for kind in the open frame. The first claim
// wins; any later claim on the same kind returns an *OwnershipViolation.
func (a *Arbiter) Claim(kind ElementKind, value, owner string) error {
	if !a.open {
		return ErrNoFrame
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownElement, uint8(kind))
	}
	c := &a.claims[kind]
	if c.set {
		v := &OwnershipViolation{Frame: a.frame, Kind: kind, Owner: c.owner, Intruder: owner}
		a.violations.Add(1)
		if a.opts.Strict {
			panic(v)
		}
		log.Printf("Display: %v", v)
		return v
	}
	c.value = value
	c.owner = owner
	c.set = true
	return nil
}

// ResolveFrame closes the frame and returns the elements whose value changed,
// in screen order. Unclaimed elements keep their value and are not dirty.
func (a *Arbiter) ResolveFrame() []Change {
	if !a.open {
		return nil
	}
	var changes []Change
	for k := range a.cache {
		el := &a.cache[k]
		el.Dirty = false
		c := a.claims[k]
		if !c.set {
			continue
		}
		if c.value != el.Value {
			changes = append(changes, Change{Kind: el.Kind, Value: c.value, Previous: el.Value, Owner: c.owner})
			el.Value = c.value
			el.Dirty = true
		}
		el.Owner = c.owner
	}
	a.resetClaims()
	a.open = false
	return changes
}

func (a *Arbiter) resetClaims() {
	for k := range a.claims {
		a.claims[k] = claim{}
	}
}

// Frame returns the sequence number of the most recent frame.
func (a *Arbiter) Frame() uint64 {
	return a.frame
}

// Element returns the cached state of one element.
func (a *Arbiter) Element(kind ElementKind) (Element, bool) {
	if !kind.Valid() {
		return Element{}, false
	}
	return a.cache[kind], true
}

// Elements returns every element in screen order.
func (a *Arbiter) Elements() []Element {
	out := make([]Element, len(a.cache))
	copy(out, a.cache[:])
	return out
}

// Violations returns the number of rejected second writes.
func (a *Arbiter) Violations() uint64 {
	return a.violations.Load()
}

// Reset blanks every element. The next frame that claims a non-empty value
// reports it as dirty.
func (a *Arbiter) Reset() {
	for k := range a.cache {
		a.cache[k] = Element{Kind: ElementKind(k)}
	}
	a.resetClaims()
	a.open = false
}
