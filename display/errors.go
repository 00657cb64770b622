package display

import (
	"errors"
	"fmt"
)

// ErrOwnership matches any *OwnershipViolation via errors.Is.
var ErrOwnership = &OwnershipViolation{}

// ErrNoFrame is returned when Claim is called outside BeginFrame/ResolveFrame.
var ErrNoFrame = errors.New("display: claim outside frame")

// ErrUnknownElement is returned for claims on an element kind the arbiter does not track.
var ErrUnknownElement = errors.New("display: unknown element")

// OwnershipViolation reports a second writer for an element within one frame.
// The first writer's value is kept.
type OwnershipViolation struct {
	Frame    uint64
	Kind     ElementKind
	Owner    string
	Intruder string
}

func (v *OwnershipViolation) Error() string {
	return fmt.Sprintf("display: frame %d: %s owned by %q, rejected write from %q", v.Frame, v.Kind, v.Owner, v.Intruder)
}

func (v *OwnershipViolation) Is(target error) bool {
	_, ok := target.(*OwnershipViolation)
	return ok
}
