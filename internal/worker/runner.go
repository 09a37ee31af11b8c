// Package worker runs queued jobs in the background, one at a time.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clipmill/clipmill-agent/internal/ffmpeg"
	"github.com/clipmill/clipmill-agent/internal/job"
	"github.com/clipmill/clipmill-agent/internal/logging"
	"github.com/clipmill/clipmill-agent/internal/orchestrator"
)

const (
	DefaultPollInterval = 30 * time.Second
	DefaultBatchSize    = 5
)

type Executor interface {
	Execute(ctx context.Context, j *job.Job) (*orchestrator.Result, error)
}

type Lister interface {
	ListByStatus(ctx context.Context, status job.Status, limit int) ([]*job.Job, error)
	Get(ctx context.Context, id string) (*job.Job, error)
}

// CapabilityChecker reports whether the media tools are usable. A nil checker
// skips the check.
type CapabilityChecker interface {
	Get(ctx context.Context) (*ffmpeg.Capabilities, error)
}

type Options struct {
	PollInterval time.Duration
	BatchSize    int
}

type Runner struct {
	exec         Executor
	jobs         Lister
	doctor       CapabilityChecker
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int

	running   atomic.Bool
	paused    atomic.Bool
	processed atomic.Int64
	blocked   atomic.Int64

	mu      sync.Mutex
	current string
	lastErr string
}

func NewRunner(exec Executor, jobs Lister, doctor CapabilityChecker, opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Runner{
		exec:         exec,
		jobs:         jobs,
		doctor:       doctor,
		logger:       logging.WithComponent(logger, "worker"),
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
	}
}

// Start polls until ctx is cancelled. Calling it while already running is a no-op.
func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}
	defer r.running.Store(false)

	r.logger.Info("job runner started", "poll_interval", r.pollInterval.String())

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		if !r.paused.Load() {
			r.RunOnce(ctx)
		}
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping")
			return
		case <-ticker.C:
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("job runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("job runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// Status is a snapshot for the status endpoint.
type Status struct {
	Running    bool   `json:"running"`
	Paused     bool   `json:"paused"`
	Processed  int64  `json:"processed"`
	Blocked    int64  `json:"blocked"`
	CurrentJob string `json:"current_job,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		Running:    r.running.Load(),
		Paused:     r.paused.Load(),
		Processed:  r.processed.Load(),
		Blocked:    r.blocked.Load(),
		CurrentJob: r.current,
		LastError:  r.lastErr,
	}
}

// RunOnce executes the jobs that are due: interrupted ones first, then
// pending ones in creation order. Each job is re-read before it runs so one
// finished elsewhere meanwhile is skipped. It stops early when paused or
// cancelled and returns how many jobs it executed.
func (r *Runner) RunOnce(ctx context.Context) int {
	if r.doctor != nil {
		caps, err := r.doctor.Get(ctx)
		if err != nil || !caps.CanAssemble() {
			r.logger.Warn("media tools unavailable, skipping poll", "error", err)
			return 0
		}
	}

	var due []*job.Job
	for _, status := range []job.Status{job.StatusStageFailed, job.StatusPending} {
		jobs, err := r.jobs.ListByStatus(ctx, status, r.batchSize)
		if err != nil {
			r.logger.Error("failed to list jobs", "status", status, "error", err)
			return 0
		}
		due = append(due, jobs...)
	}

	n := 0
	for _, j := range due {
		if ctx.Err() != nil || r.paused.Load() || n >= r.batchSize {
			break
		}
		current, err := r.jobs.Get(ctx, j.ID)
		if err != nil {
			r.logger.Error("failed to reload job", "job_id", j.ID, "error", err)
			continue
		}
		if current.Status != job.StatusPending && current.Status != job.StatusStageFailed {
			r.logger.Info("job no longer due", "job_id", j.ID, "status", current.Status)
			continue
		}
		r.execute(ctx, current)
		n++
	}
	return n
}

func (r *Runner) execute(ctx context.Context, j *job.Job) {
	log := logging.WithJobID(r.logger, j.ID)
	r.setCurrent(j.ID)
	defer r.setCurrent("")

	log.Info("processing job", "source_ref", j.SourceRef, "status", j.Status)
	res, err := r.exec.Execute(ctx, j)
	if err != nil {
		log.Error("job run interrupted", "error", err)
		r.setLastError(err.Error())
		return
	}
	r.processed.Add(1)
	if res.Outcome == orchestrator.OutcomeBlocked {
		r.blocked.Add(1)
		r.setLastError(res.FailedStage + ": " + res.Cause)
		log.Warn("job blocked", "stage", res.FailedStage, "error_kind", res.ErrorKind)
	}
}

func (r *Runner) setCurrent(id string) {
	r.mu.Lock()
	r.current = id
	r.mu.Unlock()
}

func (r *Runner) setLastError(msg string) {
	r.mu.Lock()
	r.lastErr = msg
	r.mu.Unlock()
}
