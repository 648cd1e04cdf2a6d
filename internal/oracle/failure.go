package oracle

import (
	"context"
	"errors"
	"fmt"
)

// Reason says why an oracle call failed. Callers treat every reason alike.
type Reason string

const (
	ReasonTransport Reason = "transport"
	ReasonTimeout   Reason = "timeout"
	ReasonMalformed Reason = "malformed"
	ReasonSchema    Reason = "schema"
)

// Failure is the single error type returned by the client.
type Failure struct {
	Schema Schema
	Reason Reason
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("oracle %s: %s: %v", f.Schema, f.Reason, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// IsFailure reports whether err is (or wraps) an oracle Failure.
func IsFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}

// classify wraps a provider error, separating deadline expiry from transport errors.
func classify(schema Schema, err error) *Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Schema: schema, Reason: ReasonTimeout, Err: err}
	}
	return &Failure{Schema: schema, Reason: ReasonTransport, Err: err}
}

func malformed(schema Schema, err error) *Failure {
	return &Failure{Schema: schema, Reason: ReasonMalformed, Err: err}
}

func mismatch(schema Schema, format string, args ...any) *Failure {
	return &Failure{Schema: schema, Reason: ReasonSchema, Err: fmt.Errorf(format, args...)}
}
