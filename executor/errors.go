package executor

import (
	"errors"
	"fmt"
)

var (
	ErrFunctionNotFound = errors.New("function not found")
	ErrSessionClosed    = errors.New("session closed")
	ErrExecutorClosed   = errors.New("executor closed")
	ErrNoInstance       = errors.New("no interpreter instance")
)

// Kind classifies an Error by the operation that produced it.
type Kind string

const (
	KindLoad Kind = "load"
	KindCall Kind = "call"
	KindEval Kind = "eval"
)

// Phase records where in the operation the failure happened.
type Phase string

const (
	PhaseInit    Phase = "init"
	PhaseCompile Phase = "compile"
	PhaseRuntime Phase = "runtime"
)

// Error is returned by session and evaluation operations.
type Error struct {
	Kind  Kind
	Phase Phase
	Lang  string
	// Name is the script, chunk or function the operation targeted.
	Name string
	Err  error
}

func (e *Error) Error() string {
	var prefix string
	switch e.Phase {
	case PhaseInit:
		prefix = fmt.Sprintf("%s error: create %s instance", e.Kind, e.Lang)
	case PhaseCompile:
		prefix = fmt.Sprintf("%s error: compile %s", e.Kind, e.Name)
	default:
		prefix = fmt.Sprintf("%s error: %s", e.Kind, e.Name)
	}
	if e.Err == nil {
		return prefix
	}
	return prefix + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func newError(kind Kind, phase Phase, lang Language, name string, err error) *Error {
	e := &Error{Kind: kind, Phase: phase, Name: name, Err: err}
	if lang != nil {
		e.Lang = lang.Name()
	}
	return e
}
