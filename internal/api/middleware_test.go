package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clipmill/clipmill-agent/internal/logging"
)

type fakeTokenStore struct {
	token string
	err   error
}

func (f fakeTokenStore) GetConfig(ctx context.Context, key string) (string, error) {
	if key != AuthTokenKey {
		return "", nil
	}
	return f.token, f.err
}

func TestAuthMiddleware(t *testing.T) {
	secret := fakeTokenStore{token: "secret"}
	tests := []struct {
		name     string
		store    fakeTokenStore
		method   string
		target   string
		header   string
		wantCode int
	}{
		{"valid token", secret, http.MethodGet, "/status", "Bearer secret", http.StatusOK},
		{"missing header", secret, http.MethodGet, "/status", "", http.StatusUnauthorized},
		{"basic auth", secret, http.MethodGet, "/status", "Basic c2VjcmV0", http.StatusUnauthorized},
		{"empty bearer", secret, http.MethodGet, "/status", "Bearer ", http.StatusUnauthorized},
		{"wrong token", secret, http.MethodGet, "/status", "Bearer guess", http.StatusUnauthorized},
		{"query token on GET", secret, http.MethodGet, "/jobs/j1/artifacts/video.mp4?access_token=secret", "", http.StatusOK},
		{"query token on HEAD", secret, http.MethodHead, "/jobs/j1/artifacts/video.mp4?access_token=secret", "", http.StatusOK},
		{"query token on POST", secret, http.MethodPost, "/jobs?access_token=secret", "", http.StatusUnauthorized},
		{"wrong query token", secret, http.MethodGet, "/status?access_token=guess", "", http.StatusUnauthorized},
		{"no token configured", fakeTokenStore{}, http.MethodGet, "/status", "Bearer secret", http.StatusInternalServerError},
		{"store error", fakeTokenStore{err: errors.New("database is locked")}, http.MethodGet, "/status", "Bearer secret", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			AuthMiddleware(tt.store, logging.Discard())(next).ServeHTTP(rr, req)

			if rr.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", rr.Code, tt.wantCode)
			}
			if called != (tt.wantCode == http.StatusOK) {
				t.Errorf("next called = %v", called)
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(logging.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status code = %d, want 500", rr.Code)
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated", "", false},
		{"caller supplied", "trace-42.a_b", true},
		{"malformed", "bad id with spaces", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = requestID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set("X-Request-ID", tt.incoming)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if tt.keep && seen != tt.incoming {
				t.Errorf("request id = %q, want %q", seen, tt.incoming)
			}
			if !tt.keep && len(seen) != 8 {
				t.Errorf("request id = %q, want 8 generated chars", seen)
			}
			if got := rr.Header().Get("X-Request-ID"); got != seen {
				t.Errorf("X-Request-ID = %q, want %q", got, seen)
			}
		})
	}
}

func TestLoggingMiddleware_RecordsStatusAndBytes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/pot", nil))

	if rr.Code != http.StatusTeapot {
		t.Errorf("status code = %d", rr.Code)
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line: %v (%s)", err, buf.String())
	}
	if entry["status"] != float64(http.StatusTeapot) || entry["bytes"] != float64(15) || entry["path"] != "/pot" {
		t.Errorf("log entry = %v", entry)
	}
}
