package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{401, false},
		{403, false},
		{404, false},
		{408, true},
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{599, true},
	}
	for _, tt := range tests {
		if got := IsRetryableHTTPStatus(tt.code); got != tt.want {
			t.Errorf("IsRetryableHTTPStatus(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"status 503", &StatusError{StatusCode: 503}, true},
		{"status 400", &StatusError{StatusCode: 400}, false},
		{"wrapped 429", fmt.Errorf("x: %w", &StatusError{StatusCode: 429}), true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableError(tt.err); got != tt.want {
				t.Errorf("IsRetryableError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusError_IsAuthFailure(t *testing.T) {
	if !(&StatusError{StatusCode: 401}).IsAuthFailure() {
		t.Error("401 should be an auth failure")
	}
	if !(&StatusError{StatusCode: 403}).IsAuthFailure() {
		t.Error("403 should be an auth failure")
	}
	if (&StatusError{StatusCode: 500}).IsAuthFailure() {
		t.Error("500 should not be an auth failure")
	}
}

func TestNewStatusError_ReadsBodyAndRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(strings.Repeat("x", 10000)))
	}))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	se := NewStatusError("pexels", resp)
	if se.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d", se.StatusCode)
	}
	if len(se.Body) != maxErrorBody {
		t.Errorf("body length = %d, want %d", len(se.Body), maxErrorBody)
	}
	if se.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", se.RetryAfter)
	}
	if !strings.HasPrefix(se.Error(), "pexels: HTTP 429") {
		t.Errorf("Error() = %q", se.Error()[:40])
	}
}

func TestJitter_Bounds(t *testing.T) {
	base := 3 * time.Second
	for i := 0; i < 200; i++ {
		got := Jitter(base, 0.2)
		if got < 2400*time.Millisecond || got > 3600*time.Millisecond {
			t.Fatalf("Jitter(3s, 0.2) = %v, outside bounds", got)
		}
	}
	if got := Jitter(base, 0); got != base {
		t.Errorf("Jitter with zero fraction = %v, want %v", got, base)
	}
}
