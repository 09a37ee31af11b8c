package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/clipmill/clipmill-agent/internal/httpx"
	"github.com/clipmill/clipmill-agent/internal/retry"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"explicit schema", SchemaViolation(errors.New("bad json")), KindSchemaViolation},
		{"wrapped policy", fmt.Errorf("stage: %w", PolicyRejected(nil)), KindPolicyRejected},
		{"503", &httpx.StatusError{Service: "pexels", StatusCode: 503}, KindTransient},
		{"429", &httpx.StatusError{Service: "llm", StatusCode: 429}, KindTransient},
		{"401", &httpx.StatusError{Service: "tts", StatusCode: 401}, KindFatal},
		{"404", &httpx.StatusError{Service: "reddit", StatusCode: 404}, KindFatal},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"canceled", context.Canceled, KindFatal},
		{"eof", io.ErrUnexpectedEOF, KindTransient},
		{"attempt timeout", &retry.AttemptTimeoutError{Err: context.DeadlineExceeded}, KindTransient},
		{"plain", errors.New("boom"), KindFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	if Classify(Transient(errors.New("x"))) != retry.Retryable {
		t.Error("transient should be retryable")
	}
	for _, err := range []error{Fatal(nil), SchemaViolation(nil), PolicyRejected(nil), ResourceUnavailable(nil)} {
		if Classify(err) != retry.Fatal {
			t.Errorf("Classify(%v) should be fatal", err)
		}
	}
}

func TestWithStage(t *testing.T) {
	err := WithStage("narrate", ResourceUnavailable(errors.New("no voice")))
	var pe *Error
	if !errors.As(err, &pe) || pe.Stage != "narrate" || pe.Kind != KindResourceUnavailable {
		t.Fatalf("WithStage = %#v", err)
	}
	if err.Error() != "narrate: resource_unavailable: no voice" {
		t.Errorf("Error() = %q", err.Error())
	}

	plain := WithStage("upload", &httpx.StatusError{Service: "youtube", StatusCode: 403})
	if KindOf(plain) != KindFatal {
		t.Errorf("KindOf(403) = %q", KindOf(plain))
	}
	if WithStage("x", nil) != nil {
		t.Error("WithStage(nil) should be nil")
	}
}
