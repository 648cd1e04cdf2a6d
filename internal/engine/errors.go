package engine

import (
	"errors"
	"fmt"

	"github.com/robbie-med/rhenal/internal/oracle"
)

// Kind classifies engine errors. No kind is fatal to the engine.
type Kind string

const (
	KindOracle     Kind = "oracle"
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindStale      Kind = "stale"
	KindNoSession  Kind = "no_session"
	KindClosed     Kind = "closed"
)

// Error is the engine's error type.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Msg == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err != nil && e.Msg == "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrOracle     = &Error{Kind: KindOracle}
	ErrValidation = &Error{Kind: KindValidation}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrStale      = &Error{Kind: KindStale}
	ErrNoSession  = &Error{Kind: KindNoSession}
	ErrClosed     = &Error{Kind: KindClosed}
)

func validationf(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func notFoundf(op, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func oracleErr(op string, err error) *Error {
	return &Error{Kind: KindOracle, Op: op, Err: err}
}

func staleErr(op string, epoch uint64) *Error {
	return &Error{Kind: KindStale, Op: op, Msg: fmt.Sprintf("result from epoch %d discarded", epoch)}
}

func noSession(op string) *Error {
	return &Error{Kind: KindNoSession, Op: op, Msg: "no patient session, initialize first"}
}

// KindOf returns the kind of an engine error, or "" for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if oracle.IsFailure(err) {
		return KindOracle
	}
	return ""
}
