package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/clipmill/clipmill-agent/internal/httpx"
	"github.com/clipmill/clipmill-agent/internal/retry"
)

type Kind string

const (
	KindTransient           Kind = "transient"
	KindSchemaViolation     Kind = "schema_violation"
	KindPolicyRejected      Kind = "policy_rejected"
	KindResourceUnavailable Kind = "resource_unavailable"
	KindFatal               Kind = "fatal"
)

// Error is a classified stage failure.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error) *Error {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &Error{Kind: kind, Err: err}
}

func Transient(err error) error { return newError(KindTransient, err) }
func Fatal(err error) error { return newError(KindFatal, err) }
func SchemaViolation(err error) error { return newError(KindSchemaViolation, err) }
func PolicyRejected(err error) error { return newError(KindPolicyRejected, err) }
func ResourceUnavailable(err error) error { return newError(KindResourceUnavailable, err) }

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, format string, args ...any) error {
	return newError(kind, fmt.Errorf(format, args...))
}

// WithStage tags err with the stage it came from, keeping its kind.
func WithStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	if pe, ok := err.(*Error); ok {
		if pe.Stage == "" {
			return &Error{Kind: pe.Kind, Stage: stage, Err: pe.Err}
		}
		return err
	}
	return &Error{Kind: KindOf(err), Stage: stage, Err: err}
}

// KindOf classifies err. Errors that carry no kind are judged by their HTTP
// status or network shape.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var timeout *retry.AttemptTimeoutError
	if errors.As(err, &timeout) {
		return KindTransient
	}
	if errors.Is(err, context.Canceled) {
		return KindFatal
	}
	var sc httpx.HTTPStatusCoder
	if errors.As(err, &sc) {
		if httpx.IsRetryableHTTPStatus(sc.HTTPStatusCode()) {
			return KindTransient
		}
		return KindFatal
	}
	if httpx.IsRetryableError(err) {
		return KindTransient
	}
	return KindFatal
}

// Classify is the retry classifier for stage calls: only transient errors are retried.
func Classify(err error) retry.Decision {
	if KindOf(err) == KindTransient {
		return retry.Retryable
	}
	return retry.Fatal
}
