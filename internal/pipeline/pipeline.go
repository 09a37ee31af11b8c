// Package pipeline defines the contract every stage implements and the error
// kinds stages report to the orchestrator.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/clipmill/clipmill-agent/internal/artifacts"
	"github.com/clipmill/clipmill-agent/internal/job"
)

// Stage is one step of the fixed job order.
type Stage interface {
	// Name is one of the job.Stage* constants.
	Name() string

	// Requires lists the earlier stages whose artifacts must exist before Run.
	Requires() []string

	// Run performs the step. It may be called again after a failed attempt, so
	// it must overwrite rather than append to its outputs.
	Run(ctx context.Context, in *Input) (Output, error)
}

// Input is what a stage sees of the job.
type Input struct {
	Job       *job.Job
	Workspace *artifacts.Workspace
	Logger    *slog.Logger
}

// SafeMode reports whether the job is running on the safe fallback input
// after a policy rejection.
func (in *Input) SafeMode() bool {
	return in.Job != nil && in.Job.SafeMode
}

// Artifact returns the artifact reference recorded by an earlier stage.
func (in *Input) Artifact(stage string) string {
	if st := in.Job.Stage(stage); st != nil && st.Completed {
		return st.Artifact
	}
	return ""
}

// Meta returns a metadata value recorded by an earlier stage.
func (in *Input) Meta(stage, key string) string {
	if st := in.Job.Stage(stage); st != nil && st.Completed {
		return st.Meta[key]
	}
	return ""
}

// Output is the primary artifact plus auxiliary values such as a measured duration.
type Output struct {
	Artifact string
	Meta     map[string]string
}

type StageFunc struct {
	StageName string
	Needs     []string
	Fn        func(ctx context.Context, in *Input) (Output, error)
}

func (s StageFunc) Name() string { return s.StageName }
func (s StageFunc) Requires() []string { return s.Needs }
func (s StageFunc) Run(ctx context.Context, in *Input) (Output, error) {
	return s.Fn(ctx, in)
}
