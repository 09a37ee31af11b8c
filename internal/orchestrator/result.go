package orchestrator

import (
	"github.com/clipmill/clipmill-agent/internal/dedup"
	"github.com/clipmill/clipmill-agent/internal/pipeline"
)

type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeSkippedDuplicate Outcome = "skipped_duplicate"
	OutcomeBlocked          Outcome = "blocked"
)

// Result is the terminal report of one run.
type Result struct {
	Outcome     Outcome           `json:"outcome"`
	JobID       string            `json:"job_id,omitempty"`
	SourceRef   string            `json:"source_reference"`
	FailedStage string            `json:"failed_stage,omitempty"`
	ErrorKind   pipeline.Kind     `json:"error_kind,omitempty"`
	Cause       string            `json:"cause,omitempty"`
	Artifacts   map[string]string `json:"artifacts,omitempty"`
	Duplicate   *dedup.Record     `json:"duplicate_of,omitempty"`
	Err         error             `json:"-"`
}

// ExitCode maps the outcome to a process exit status.
func (r *Result) ExitCode() int {
	if r == nil {
		return 1
	}
	switch r.Outcome {
	case OutcomeCompleted, OutcomeSkippedDuplicate:
		return 0
	case OutcomeBlocked:
		return 2
	default:
		return 1
	}
}
