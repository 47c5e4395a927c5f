package converter

import (
	"errors"
	"fmt"
)

// Kind classifies a conversion failure.
type Kind int

const (
	// KindIO covers open, create and write failures.
	KindIO Kind = iota + 1
	// KindParse covers a malformed record stream.
	KindParse
	// KindWorkerFault is an unexpected worker termination.
	KindWorkerFault
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindParse:
		return "parse"
	case KindWorkerFault:
		return "worker_fault"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is against an *Error.
var (
	ErrIO          = errors.New("io error")
	ErrParse       = errors.New("parse error")
	ErrWorkerFault = errors.New("worker fault")
)

// Error is a file-scoped conversion failure.
type Error struct {
	Kind Kind
	File string // file identifier
	Op   string // "open" | "parse" | "encode" | "prepare" | "write" | "worker"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.File, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrIO:
		return e.Kind == KindIO
	case ErrParse:
		return e.Kind == KindParse
	case ErrWorkerFault:
		return e.Kind == KindWorkerFault
	}
	return false
}

// KindOf returns the kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}

func ioError(file, op string, err error) *Error {
	return &Error{Kind: KindIO, File: file, Op: op, Err: err}
}

func parseError(file, op string, err error) *Error {
	return &Error{Kind: KindParse, File: file, Op: op, Err: err}
}
