package api

import (
	"time"

	"github.com/clipmill/clipmill-agent/internal/dedup"
	"github.com/clipmill/clipmill-agent/internal/job"
	"github.com/clipmill/clipmill-agent/internal/worker"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State      string              `json:"state"`
	LastError  string              `json:"last_error,omitempty"`
	Jobs       map[string]int      `json:"jobs"`
	Runner     *worker.Status      `json:"runner,omitempty"`
	MediaTools *MediaToolsResponse `json:"media_tools,omitempty"`
}

type MediaToolsResponse struct {
	CanAssemble    bool   `json:"can_assemble"`
	FFmpegVersion  string `json:"ffmpeg_version,omitempty"`
	FFprobeVersion string `json:"ffprobe_version,omitempty"`
	LastProbeAt    string `json:"last_probe_at,omitempty"`
}

type SubmitRequest struct {
	SourceRef string `json:"source_ref"`
}

type SubmitResponse struct {
	Outcome     string        `json:"outcome"`
	Job         *JobResponse  `json:"job,omitempty"`
	DuplicateOf *dedup.Record `json:"duplicate_of,omitempty"`
}

type StageResponse struct {
	Name        string            `json:"name"`
	Completed   bool              `json:"completed"`
	Artifact    string            `json:"artifact,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
	CompletedAt string            `json:"completed_at,omitempty"`
}

type JobResponse struct {
	ID               string          `json:"id"`
	SourceRef        string          `json:"source_ref"`
	Status           string          `json:"status"`
	NextStage        string          `json:"next_stage,omitempty"`
	Progress         int             `json:"progress"`
	SafeMode         bool            `json:"safe_mode"`
	PolicyRejections int             `json:"policy_rejections"`
	FailedStage      string          `json:"failed_stage,omitempty"`
	ErrorKind        string          `json:"error_kind,omitempty"`
	Error            string          `json:"error,omitempty"`
	Stages           []StageResponse `json:"stages,omitempty"`
	CreatedAt        string          `json:"created_at"`
	UpdatedAt        string          `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// JobToResponse renders j. Stage detail is only included when withStages is set.
func JobToResponse(j *job.Job, withStages bool) JobResponse {
	resp := JobResponse{
		ID:               j.ID,
		SourceRef:        j.SourceRef,
		Status:           string(j.Status),
		Progress:         j.CompletedCount() * 100 / len(job.StageOrder),
		SafeMode:         j.SafeMode,
		PolicyRejections: j.PolicyRejections,
		FailedStage:      j.FailedStage,
		ErrorKind:        j.ErrorKind,
		Error:            j.Error,
		CreatedAt:        j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        j.UpdatedAt.Format(time.RFC3339),
	}
	if next, ok := j.NextStage(); ok {
		resp.NextStage = next
	}
	if !withStages {
		return resp
	}
	resp.Stages = make([]StageResponse, len(j.Stages))
	for i, s := range j.Stages {
		sr := StageResponse{
			Name:      s.Name,
			Completed: s.Completed,
			Artifact:  s.Artifact,
			Meta:      s.Meta,
		}
		if s.CompletedAt != nil {
			sr.CompletedAt = s.CompletedAt.Format(time.RFC3339)
		}
		resp.Stages[i] = sr
	}
	return resp
}
