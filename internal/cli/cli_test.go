package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clipmill/clipmill-agent/internal/config"
	"github.com/clipmill/clipmill-agent/internal/dedup"
	"github.com/clipmill/clipmill-agent/internal/job"
	"github.com/clipmill/clipmill-agent/internal/orchestrator"
)

// setupCLI points the configuration at a fresh data dir and captures stdout.
func setupCLI(t *testing.T) *bytes.Buffer {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(config.EnvDataDir, dir)
	t.Setenv(config.EnvEnvFile, filepath.Join(dir, "missing.env"))
	t.Setenv(config.EnvConfigFile, "")
	t.Setenv(config.EnvPort, "")

	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

func TestRun_UnknownCommand(t *testing.T) {
	out := setupCLI(t)

	err := Run([]string{"explode"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("err = %v, want unknown command", err)
	}
	if ExitCode(err) != 1 {
		t.Errorf("ExitCode = %d, want 1", ExitCode(err))
	}
	if !strings.Contains(out.String(), "Commands:") {
		t.Error("usage not printed")
	}
}

func TestRun_Version(t *testing.T) {
	out := setupCLI(t)

	if err := Run([]string{"version"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), config.Version) {
		t.Errorf("output = %q, want version %s", out.String(), config.Version)
	}
}

func TestJobs_Empty(t *testing.T) {
	out := setupCLI(t)

	if err := Run([]string{"jobs"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "no jobs") {
		t.Errorf("output = %q", out.String())
	}
}

func TestJobs_RejectsUnknownStatus(t *testing.T) {
	setupCLI(t)

	if err := Run([]string{"jobs", "--status", "exploded"}); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestSubmitThenShow(t *testing.T) {
	out := setupCLI(t)

	if err := Run([]string{"submit", "--source", "reddit:t3_abc123", "--json"}); err != nil {
		t.Fatal(err)
	}
	var submitted job.Job
	if err := json.Unmarshal(out.Bytes(), &submitted); err != nil {
		t.Fatalf("decode submit output: %v\n%s", err, out.String())
	}
	if submitted.SourceRef != "reddit:abc123" || submitted.Status != job.StatusPending {
		t.Fatalf("submitted = %+v", submitted)
	}

	out.Reset()
	if err := Run([]string{"show", "--json", submitted.ID}); err != nil {
		t.Fatal(err)
	}
	var shown job.Job
	if err := json.Unmarshal(out.Bytes(), &shown); err != nil {
		t.Fatal(err)
	}
	if shown.ID != submitted.ID || len(shown.Stages) != len(job.StageOrder) {
		t.Errorf("shown = %+v", shown)
	}

	out.Reset()
	if err := Run([]string{"submit", "--source", "reddit:abc123"}); err != nil {
		t.Fatalf("duplicate submit should exit 0: %v", err)
	}
	if !strings.Contains(out.String(), "skipped duplicate") {
		t.Errorf("output = %q", out.String())
	}

	out.Reset()
	if err := Run([]string{"jobs"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), shortID(submitted.ID)) {
		t.Errorf("jobs output missing %s:\n%s", shortID(submitted.ID), out.String())
	}
}

func TestSubmit_QueueRequiresURL(t *testing.T) {
	setupCLI(t)
	t.Setenv("AMQP_URL", "")

	if err := Run([]string{"submit", "--source", "reddit:abc123", "--queue"}); err == nil {
		t.Error("expected error without a queue URL")
	}
}

func TestResume_RequiresID(t *testing.T) {
	setupCLI(t)

	if err := Run([]string{"resume"}); err == nil {
		t.Error("expected usage error")
	}
}

func TestDedupStats_JSON(t *testing.T) {
	out := setupCLI(t)

	if err := Run([]string{"dedup", "stats", "--json"}); err != nil {
		t.Fatal(err)
	}
	var stats dedup.Stats
	if err := json.Unmarshal(out.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v\n%s", err, out.String())
	}
	if stats.Total != 0 {
		t.Errorf("Total = %d, want 0", stats.Total)
	}

	if err := Run([]string{"dedup", "vacuum"}); err == nil {
		t.Error("expected error for unknown dedup command")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("boom"), 1},
		{"exit", &ExitError{Code: 2, Err: errors.New("blocked")}, 2},
		{"wrapped", fmt.Errorf("run: %w", &ExitError{Code: 2, Err: errors.New("blocked")}), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPrintResult(t *testing.T) {
	out := setupCLI(t)

	blocked := &orchestrator.Result{
		Outcome:     orchestrator.OutcomeBlocked,
		JobID:       "job-1",
		FailedStage: "policy-check",
		ErrorKind:   "policy_blocked",
		Cause:       "rejected twice",
	}
	err := printResult(blocked, false)
	if ExitCode(err) != 2 {
		t.Fatalf("ExitCode = %d, want 2", ExitCode(err))
	}
	if !strings.Contains(out.String(), "agent resume job-1") {
		t.Errorf("output = %q", out.String())
	}

	out.Reset()
	done := &orchestrator.Result{
		Outcome:   orchestrator.OutcomeCompleted,
		JobID:     "job-2",
		Artifacts: map[string]string{"assemble": "final.mp4"},
	}
	if err := printResult(done, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "final.mp4") {
		t.Errorf("output = %q", out.String())
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{3 * time.Hour, "3h ago"},
		{72 * time.Hour, "3d ago"},
	}
	for _, tt := range tests {
		if got := formatAge(now.Add(-tt.ago), now); got != tt.want {
			t.Errorf("formatAge(%s) = %q, want %q", tt.ago, got, tt.want)
		}
	}
}
