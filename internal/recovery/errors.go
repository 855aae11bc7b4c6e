package recovery

import (
	"errors"
	"fmt"
)

// ErrUnterminatedQuote is returned by SplitRecord when a quoted field is not
// closed before the end of the line.
var ErrUnterminatedQuote = errors.New("unterminated quoted field")

// IOError reports a file that could not be opened, read or written.
type IOError struct {
	Op   string // "open", "read", "write", "rename"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// EncodingError reports input or output that cannot be represented in the
// configured encoding. Single-byte decoders never produce it.
type EncodingError struct {
	Encoding string
	Line     int // 1-based; 0 when unknown
	Err      error
}

func (e *EncodingError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("encoding error (%s) on line %d: %v", e.Encoding, e.Line, e.Err)
	}
	return fmt.Sprintf("encoding error (%s): %v", e.Encoding, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// EmptyResultError reports a run that produced nothing worth writing.
type EmptyResultError struct {
	Reason string
}

func (e *EmptyResultError) Error() string {
	return "empty result: " + e.Reason
}

// StageError wraps a fatal error with the last stage the run completed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("recovery failed after stage %q: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func failAfter(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}
