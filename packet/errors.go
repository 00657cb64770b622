package packet

// ErrorKind classifies why a frame was rejected.
type ErrorKind uint8

const (
	Truncated ErrorKind = iota + 1
	BadHeader
	BadLength
	BadChecksum
	Unsupported
)

func (k ErrorKind) String() string {
	switch k {
	case Truncated:
		return "truncated"
	case BadHeader:
		return "bad_header"
	case BadLength:
		return "bad_length"
	case BadChecksum:
		return "bad_checksum"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// ParseError reports a rejected frame. The package-level sentinels are shared
// values so the decode hot path does not allocate on failure.
type ParseError struct {
	Kind ErrorKind
}

func (e *ParseError) Error() string {
	return "packet: " + e.Kind.String()
}

// Is matches any ParseError of the same kind.
func (e *ParseError) Is(target error) bool {
	t, ok := target.(*ParseError)
	return ok && t.Kind == e.Kind
}

var (
	ErrTruncated   = &ParseError{Kind: Truncated}
	ErrBadHeader   = &ParseError{Kind: BadHeader}
	ErrBadLength   = &ParseError{Kind: BadLength}
	ErrBadChecksum = &ParseError{Kind: BadChecksum}
	ErrUnsupported = &ParseError{Kind: Unsupported}
)
