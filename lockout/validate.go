package lockout

import (
	"fmt"
	"math"

	"alertcore/packet"
)

// ValidationKind classifies a rejected insert.
type ValidationKind uint8

const (
	OutOfBounds ValidationKind = iota + 1
	InvertedRange
	Duplicate
)

func (k ValidationKind) String() string {
	switch k {
	case OutOfBounds:
		return "out_of_bounds"
	case InvertedRange:
		return "inverted_range"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// ValidationError explains why a record was refused. The store is unchanged
// whenever one is returned.
type ValidationError struct {
	Kind   ValidationKind
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("lockout: %s: %s", e.Kind, e.Field)
	}
	return fmt.Sprintf("lockout: %s: %s: %s", e.Kind, e.Field, e.Detail)
}

// Is matches any ValidationError of the same kind.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Kind == e.Kind
}

var (
	ErrOutOfBounds   = &ValidationError{Kind: OutOfBounds}
	ErrInvertedRange = &ValidationError{Kind: InvertedRange}
	ErrDuplicate     = &ValidationError{Kind: Duplicate}
)

// DefaultMaxRadiusM caps geofence radius when no limit is configured.
const DefaultMaxRadiusM = 2000

// Validate checks a record against band limits, radius and coordinate bounds.
// Duplicate detection needs the store and happens in Store.Insert.
func Validate(rec Record, maxRadiusM float64) error {
	if maxRadiusM <= 0 {
		maxRadiusM = DefaultMaxRadiusM
	}
	low, high, ok := packet.Limits(rec.Band)
	if !ok {
		return &ValidationError{Kind: OutOfBounds, Field: "band", Detail: fmt.Sprintf("%s cannot be locked out", rec.Band)}
	}
	if !finite(rec.LowMHz) || !finite(rec.HighMHz) {
		return &ValidationError{Kind: OutOfBounds, Field: "frequency", Detail: "not finite"}
	}
	if rec.LowMHz > rec.HighMHz {
		return &ValidationError{Kind: InvertedRange, Field: "frequency", Detail: fmt.Sprintf("%.3f > %.3f", rec.LowMHz, rec.HighMHz)}
	}
	if rec.LowMHz < low || rec.HighMHz > high {
		return &ValidationError{Kind: OutOfBounds, Field: "frequency",
			Detail: fmt.Sprintf("%.3f-%.3f outside %s %.0f-%.0f", rec.LowMHz, rec.HighMHz, rec.Band, low, high)}
	}
	if !finite(rec.RadiusM) || rec.RadiusM <= 0 || rec.RadiusM > maxRadiusM {
		return &ValidationError{Kind: OutOfBounds, Field: "radius", Detail: fmt.Sprintf("%.1fm not in (0, %.0f]", rec.RadiusM, maxRadiusM)}
	}
	if !rec.Location.Valid() {
		return &ValidationError{Kind: OutOfBounds, Field: "location", Detail: fmt.Sprintf("%v,%v", rec.Location.Lat, rec.Location.Lon)}
	}
	if rec.Source != SourceManual && rec.Source != SourceAutoPromoted {
		return &ValidationError{Kind: OutOfBounds, Field: "source"}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
