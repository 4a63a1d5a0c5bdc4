package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies pipeline failures.
type Kind int

const (
	// KindResourceUnavailable: a codec, file or container could not be acquired.
	KindResourceUnavailable Kind = iota + 1
	// KindFormat: no usable track, unsupported mime or malformed stream.
	KindFormat
	// KindIO: reading or writing media failed mid-stream.
	KindIO
	// KindProtocolViolation: a buffer-exchange call was made out of order.
	KindProtocolViolation
	// KindAborted: the run was cancelled.
	KindAborted
)

func (k Kind) String() string {
	switch k {
	case KindResourceUnavailable:
		return "resource unavailable"
	case KindFormat:
		return "format error"
	case KindIO:
		return "i/o error"
	case KindProtocolViolation:
		return "protocol violation"
	case KindAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrResourceUnavailable = &Error{Kind: KindResourceUnavailable}
	ErrFormat              = &Error{Kind: KindFormat}
	ErrIO                  = &Error{Kind: KindIO}
	ErrProtocolViolation   = &Error{Kind: KindProtocolViolation}
	ErrAborted             = &Error{Kind: KindAborted}
)

// Error is a classified pipeline error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// E builds an *Error of the given kind.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error of the given kind with a formatted cause.
func Errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
// Context cancellation is reported as KindAborted.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindAborted
	}
	return 0
}

// Classify wraps err with kind unless it already carries a kind.
func Classify(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return E(KindAborted, op, err)
	}
	return E(kind, op, err)
}

// Aborted converts a context error into a KindAborted error.
func Aborted(op string, err error) error {
	if err == nil {
		return nil
	}
	return E(KindAborted, op, err)
}
