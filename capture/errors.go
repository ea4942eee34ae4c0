package capture

import (
	"fmt"
)

// ErrorKind classifies a capture that cannot be read.
type ErrorKind int

// The capture failure kinds. All of them abort the run before integration.
const (
	UnrecognizedLayout ErrorKind = iota
	MissingFile
	PoseCountMismatch
	Malformed
)

func (k ErrorKind) String() string {
	switch k {
	case UnrecognizedLayout:
		return "unrecognized layout"
	case MissingFile:
		return "missing file"
	case PoseCountMismatch:
		return "pose count mismatch"
	case Malformed:
		return "malformed"
	default:
		return fmt.Sprintf("capture error %d", int(k))
	}
}

// FormatError reports a capture whose layout or metadata is unusable.
type FormatError struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *FormatError) Unwrap() error {
	return e.Err
}

func newFormatError(kind ErrorKind, path string, err error) error {
	return &FormatError{Kind: kind, Path: path, Err: err}
}
