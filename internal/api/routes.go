package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clipmill/clipmill-agent/internal/artifacts"
	"github.com/clipmill/clipmill-agent/internal/job"
	"github.com/clipmill/clipmill-agent/internal/orchestrator"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Jobs, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Post("/jobs", submitHandler(cfg))
		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))
		r.Post("/jobs/{id}/resume", resumeJobHandler(cfg))
		r.Get("/jobs/{id}/artifacts/{name}", artifactHandler(cfg))
		r.Head("/jobs/{id}/artifacts/{name}", artifactHandler(cfg))
		r.Get("/dedup/stats", dedupStatsHandler(cfg))
		r.Post("/runner/pause", pauseRunnerHandler(cfg))
		r.Post("/runner/resume", resumeRunnerHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := cfg.Jobs.CountByStatus(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to count jobs", "INTERNAL_ERROR")
			return
		}

		resp := StatusResponse{State: "idle", Jobs: make(map[string]int, len(counts))}
		for status, n := range counts {
			resp.Jobs[string(status)] = n
		}

		if cfg.Runner != nil {
			st := cfg.Runner.Status()
			resp.Runner = &st
			resp.LastError = st.LastError
			switch {
			case st.Paused:
				resp.State = "paused"
			case st.CurrentJob != "":
				resp.State = "processing"
			}
		}
		if resp.State == "idle" && counts[job.StatusBlocked] > 0 {
			resp.State = "attention"
		}

		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				tools := &MediaToolsResponse{
					CanAssemble:    caps.CanAssemble(),
					FFmpegVersion:  caps.FFmpeg.Version,
					FFprobeVersion: caps.FFprobe.Version,
				}
				if !caps.ProbedAt.IsZero() {
					tools.LastProbeAt = caps.ProbedAt.Format(time.RFC3339)
				}
				resp.MediaTools = tools
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func submitHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if strings.TrimSpace(req.SourceRef) == "" {
			WriteError(w, http.StatusBadRequest, "source_ref is required", "BAD_REQUEST")
			return
		}

		j, skipped, err := cfg.Submitter.Submit(r.Context(), req.SourceRef)
		if err != nil {
			cfg.Logger.Error("submit failed", "source_ref", req.SourceRef, "error", err)
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if skipped != nil {
			WriteJSON(w, http.StatusOK, SubmitResponse{
				Outcome:     string(orchestrator.OutcomeSkippedDuplicate),
				DuplicateOf: skipped.Duplicate,
			})
			return
		}

		resp := JobToResponse(j, false)
		WriteJSON(w, http.StatusAccepted, SubmitResponse{Outcome: "queued", Job: &resp})
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = min(n, 500)
		}

		var (
			jobs []*job.Job
			err  error
		)
		if status := job.Status(r.URL.Query().Get("status")); status != "" {
			if !job.IsKnownStatus(status) {
				WriteError(w, http.StatusBadRequest, "unknown status", "BAD_REQUEST")
				return
			}
			jobs, err = cfg.Jobs.ListByStatus(r.Context(), status, limit)
		} else {
			jobs, err = cfg.Jobs.List(r.Context(), limit)
		}
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j, false)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, ok := loadJob(cfg, w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, JobToResponse(j, true))
	}
}

func resumeJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		j, err := cfg.Submitter.Requeue(r.Context(), id)
		switch {
		case errors.Is(err, job.ErrNotFound):
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		case err != nil:
			WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
			return
		}
		WriteJSON(w, http.StatusAccepted, JobToResponse(j, false))
	}
}

func artifactHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, ok := loadJob(cfg, w, r)
		if !ok {
			return
		}

		name := chi.URLParam(r, "name")
		if name == artifacts.ClipsDir {
			WriteError(w, http.StatusBadRequest, "not a file artifact", "BAD_REQUEST")
			return
		}
		ws, err := artifacts.Open(j.Dir)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "workspace unavailable", "INTERNAL_ERROR")
			return
		}
		path, err := ws.Path(name)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		if err := serveArtifact(w, r, path); err != nil {
			cfg.Logger.Error("artifact download failed", "job_id", j.ID, "name", name, "error", err)
		}
	}
}

func dedupStatsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := cfg.Dedup.Stats(r.Context(), cfg.Clock())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to read dedup stats", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, stats)
	}
}

func pauseRunnerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "worker is disabled", "UNAVAILABLE")
			return
		}
		cfg.Runner.Pause()
		WriteJSON(w, http.StatusOK, cfg.Runner.Status())
	}
}

func resumeRunnerHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "worker is disabled", "UNAVAILABLE")
			return
		}
		cfg.Runner.Resume()
		WriteJSON(w, http.StatusOK, cfg.Runner.Status())
	}
}

func loadJob(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
		return nil, false
	}

	j, err := cfg.Jobs.Get(r.Context(), id)
	if errors.Is(err, job.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
		return nil, false
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
		return nil, false
	}
	return j, true
}
