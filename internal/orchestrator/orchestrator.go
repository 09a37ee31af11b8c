// Package orchestrator runs a job's stages in their fixed order, persisting the
// job after every stage so a crash or a block can be resumed without repeating
// finished work.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clipmill/clipmill-agent/internal/artifacts"
	"github.com/clipmill/clipmill-agent/internal/dedup"
	"github.com/clipmill/clipmill-agent/internal/job"
	"github.com/clipmill/clipmill-agent/internal/logging"
	"github.com/clipmill/clipmill-agent/internal/pipeline"
	"github.com/clipmill/clipmill-agent/internal/retry"
)

// MaxPolicySubstitutions is how many safe-fallback reruns a policy rejection may trigger.
const MaxPolicySubstitutions = 1

type Config struct {
	Repo     job.Repository
	Dedup    dedup.Store
	Root     *artifacts.Root
	Stages   []pipeline.Stage
	Policies map[string]retry.Policy // per stage; missing stages use Default
	Default  retry.Policy
	Caller   *retry.Caller
	Clock    func() time.Time
	Logger   *slog.Logger
}

type Orchestrator struct {
	repo     job.Repository
	dedup    dedup.Store
	root     *artifacts.Root
	stages   map[string]pipeline.Stage
	policies map[string]retry.Policy
	fallback retry.Policy
	caller   *retry.Caller
	now      func() time.Time
	logger   *slog.Logger
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Repo == nil || cfg.Dedup == nil || cfg.Root == nil {
		return nil, errors.New("orchestrator requires a repository, dedup store and artifacts root")
	}
	stages := make(map[string]pipeline.Stage, len(cfg.Stages))
	for _, s := range cfg.Stages {
		if job.StageIndex(s.Name()) < 0 {
			return nil, fmt.Errorf("unknown stage %q", s.Name())
		}
		for _, req := range s.Requires() {
			if job.StageIndex(req) < 0 || job.StageIndex(req) >= job.StageIndex(s.Name()) {
				return nil, fmt.Errorf("stage %q cannot require %q", s.Name(), req)
			}
		}
		stages[s.Name()] = s
	}
	var missing []string
	for _, name := range job.StageOrder {
		if _, ok := stages[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing stages: %s", strings.Join(missing, ", "))
	}

	o := &Orchestrator{
		repo:     cfg.Repo,
		dedup:    cfg.Dedup,
		root:     cfg.Root,
		stages:   stages,
		policies: cfg.Policies,
		fallback: cfg.Default,
		caller:   cfg.Caller,
		now:      cfg.Clock,
		logger:   cfg.Logger,
	}
	if o.fallback.MaxAttempts == 0 {
		o.fallback = retry.DefaultPolicy()
	}
	if o.caller == nil {
		o.caller = retry.New()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = logging.Discard()
	}
	o.logger = logging.WithComponent(o.logger, "orchestrator")
	return o, nil
}

func (o *Orchestrator) policyFor(stage string) retry.Policy {
	if p, ok := o.policies[stage]; ok && p.MaxAttempts > 0 {
		return p
	}
	return o.fallback
}

// Submit creates a pending job for ref unless ref was processed within the
// dedup window, in which case the skipped_duplicate result is returned and no
// job is created.
func (o *Orchestrator) Submit(ctx context.Context, ref string) (*job.Job, *Result, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil, errors.New("source reference is required")
	}
	now := o.now()
	j := job.New(ref, "", now)
	j.Dir = o.root.JobDir(j.ID)

	claimed, existing, err := o.dedup.Claim(ctx, ref, j.ID, now)
	if err != nil {
		return nil, nil, fmt.Errorf("dedup check: %w", err)
	}
	if !claimed {
		o.logger.Info("skipping duplicate source", "source_ref", ref, "previous_job_id", existingJobID(existing))
		return nil, &Result{Outcome: OutcomeSkippedDuplicate, SourceRef: ref, Duplicate: existing}, nil
	}

	ws, err := artifacts.Open(j.Dir)
	if err == nil {
		err = o.repo.Create(ctx, j)
	}
	if err == nil {
		err = ws.WriteJob(j)
	}
	if err != nil {
		if rerr := o.dedup.Release(context.WithoutCancel(ctx), ref); rerr != nil {
			o.logger.Warn("failed to release dedup claim", "source_ref", ref, "error", rerr)
		}
		return nil, nil, fmt.Errorf("create job: %w", err)
	}

	logging.WithJobID(o.logger, j.ID).Info("job created", "source_ref", ref)
	return j, nil, nil
}

// Run submits ref and executes the new job to a terminal result.
func (o *Orchestrator) Run(ctx context.Context, ref string) (*Result, error) {
	j, skipped, err := o.Submit(ctx, ref)
	if err != nil {
		return nil, err
	}
	if skipped != nil {
		return skipped, nil
	}
	return o.Execute(ctx, j)
}

// Resume loads a persisted job and continues from its first incomplete stage.
func (o *Orchestrator) Resume(ctx context.Context, id string) (*Result, error) {
	j, err := o.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return o.Execute(ctx, j)
}

// Requeue moves a blocked or failed job back to pending for the worker. It
// fails with artifacts.ErrLocked while a run holds the job's workspace.
func (o *Orchestrator) Requeue(ctx context.Context, id string) (*job.Job, error) {
	j, err := o.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status == job.StatusPending {
		return j, nil
	}
	ws, err := artifacts.Open(j.Dir)
	if err != nil {
		return nil, err
	}
	lock, err := ws.Lock()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			o.logger.Warn("failed to release workspace lock", "job_id", id, "error", err)
		}
	}()
	if j, err = o.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	if j.Status == job.StatusPending {
		return j, nil
	}
	if err := j.Transition(job.StatusPending); err != nil {
		return nil, err
	}
	j.ClearFailure()
	if err := o.persist(ctx, j, ws); err != nil {
		return nil, err
	}
	return j, nil
}

// Execute drives j through its remaining stages. A returned error means the
// run was interrupted before reaching a terminal result; the job is left in
// stage_failed so it can be picked up again.
//
// j may be a stale snapshot. Once the workspace lock is held the stored job
// replaces it, and a job another run already settled is returned as is.
func (o *Orchestrator) Execute(ctx context.Context, j *job.Job) (*Result, error) {
	log := logging.WithJobID(o.logger, j.ID)

	if j.Status == job.StatusCompleted {
		return o.result(j), nil
	}

	ws, err := artifacts.Open(j.Dir)
	if err != nil {
		return nil, err
	}
	lock, err := ws.Lock()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn("failed to release workspace lock", "error", err)
		}
	}()

	stored, err := o.repo.Get(ctx, j.ID)
	if err != nil {
		return nil, fmt.Errorf("reload job %s: %w", j.ID, err)
	}
	settled := stored.Status == job.StatusCompleted ||
		(stored.Status == job.StatusBlocked && j.Status != job.StatusBlocked)
	*j = *stored
	if settled {
		log.Info("job already settled by another run", "status", j.Status)
		return o.result(j), nil
	}
	if !j.CompletedPrefix() {
		return nil, fmt.Errorf("job %s: completed stages are not a prefix of the stage order", j.ID)
	}

	if j.Status != job.StatusRunning {
		if err := j.Transition(job.StatusRunning); err != nil {
			return nil, err
		}
	}
	j.ClearFailure()
	if err := o.persist(ctx, j, ws); err != nil {
		return nil, err
	}
	if next, ok := j.NextStage(); ok && j.CompletedCount() > 0 {
		log.Info("resuming job", "stage", next, "completed_stages", j.CompletedCount())
	}

	for {
		name, ok := j.NextStage()
		if !ok {
			break
		}
		stage := o.stages[name]

		if err := o.checkRequires(j, stage); err != nil {
			return o.block(ctx, j, ws, name, err)
		}

		out, err := o.runStage(ctx, j, ws, stage)
		if err != nil {
			if ctx.Err() != nil {
				return nil, o.interrupt(j, ws, name, err)
			}
			if pipeline.KindOf(err) == pipeline.KindPolicyRejected && j.PolicyRejections < MaxPolicySubstitutions {
				if err := o.substitute(ctx, j, ws, err); err != nil {
					return nil, err
				}
				continue
			}
			if pipeline.KindOf(err) == pipeline.KindPolicyRejected {
				j.PolicyRejections++
			}
			return o.block(ctx, j, ws, name, err)
		}

		if err := o.checkArtifact(ws, out.Artifact); err != nil {
			return o.block(ctx, j, ws, name, err)
		}
		if err := j.Complete(name, out.Artifact, out.Meta, o.now()); err != nil {
			return o.block(ctx, j, ws, name, pipeline.Fatal(err))
		}
		if err := o.persist(ctx, j, ws); err != nil {
			return nil, err
		}
	}

	if err := j.Transition(job.StatusCompleted); err != nil {
		return nil, err
	}
	if err := o.persist(ctx, j, ws); err != nil {
		return nil, err
	}
	log.Info("job completed", "duration_ms", o.now().Sub(j.CreatedAt).Milliseconds())
	return o.result(j), nil
}

func (o *Orchestrator) runStage(ctx context.Context, j *job.Job, ws *artifacts.Workspace, stage pipeline.Stage) (pipeline.Output, error) {
	name := stage.Name()
	log := logging.WithStage(logging.WithJobID(o.logger, j.ID), name)
	in := &pipeline.Input{Job: j, Workspace: ws, Logger: log}

	caller := o.caller.With(retry.WithRetryHook(func(attempt int, err error, delay time.Duration) {
		log.Warn("stage attempt failed, retrying",
			"attempt", attempt,
			"error_kind", pipeline.KindOf(err),
			"error", err,
			"retry_in_ms", delay.Milliseconds(),
		)
		if terr := j.Transition(job.StatusStageFailed); terr != nil {
			return
		}
		j.FailedStage = name
		j.ErrorKind = string(pipeline.KindOf(err))
		j.Error = err.Error()
		if perr := o.persist(ctx, j, ws); perr != nil {
			log.Warn("failed to persist stage failure", "error", perr)
		}
	}))

	attempt := 0
	start := o.now()
	out, err := retry.Call(ctx, caller, o.policyFor(name), pipeline.Classify, func(ctx context.Context) (pipeline.Output, error) {
		attempt++
		if j.Status == job.StatusStageFailed {
			if terr := j.Transition(job.StatusRunning); terr == nil {
				j.ClearFailure()
				if perr := o.persist(ctx, j, ws); perr != nil {
					log.Warn("failed to persist retry", "error", perr)
				}
			}
		}
		log.Info("stage started", "attempt", attempt)
		return stage.Run(ctx, in)
	})
	elapsed := o.now().Sub(start)
	if err != nil {
		log.Error("stage failed",
			"attempts", attempt,
			"duration_ms", elapsed.Milliseconds(),
			"error_kind", pipeline.KindOf(err),
			"error", err,
		)
		return out, pipeline.WithStage(name, err)
	}
	log.Info("stage completed", "attempts", attempt, "duration_ms", elapsed.Milliseconds(), "artifact", out.Artifact)
	return out, nil
}

func (o *Orchestrator) checkRequires(j *job.Job, stage pipeline.Stage) error {
	for _, req := range stage.Requires() {
		st := j.Stage(req)
		if st == nil || !st.Completed || st.Artifact == "" {
			return pipeline.Errorf(pipeline.KindFatal, "precondition: %s requires %s", stage.Name(), req)
		}
	}
	return nil
}

func (o *Orchestrator) checkArtifact(ws *artifacts.Workspace, ref string) error {
	if strings.TrimSpace(ref) == "" {
		return pipeline.Errorf(pipeline.KindFatal, "stage produced no artifact")
	}
	if strings.Contains(ref, "://") {
		return nil
	}
	if !ws.Exists(ref) {
		return pipeline.Errorf(pipeline.KindFatal, "artifact %s missing from workspace", ref)
	}
	return nil
}

// substitute switches the job to the safe fallback input and rewinds to
// script generation.
func (o *Orchestrator) substitute(ctx context.Context, j *job.Job, ws *artifacts.Workspace, cause error) error {
	j.PolicyRejections++
	j.SafeMode = true
	if err := j.Rewind(job.StageScript); err != nil {
		return err
	}
	if j.Status == job.StatusStageFailed {
		if err := j.Transition(job.StatusRunning); err != nil {
			return err
		}
	}
	logging.WithJobID(o.logger, j.ID).Warn("policy rejected script, retrying with safe input",
		"rejections", j.PolicyRejections,
		"cause", cause,
	)
	return o.persist(ctx, j, ws)
}

func (o *Orchestrator) block(ctx context.Context, j *job.Job, ws *artifacts.Workspace, stage string, cause error) (*Result, error) {
	kind := pipeline.KindOf(cause)
	j.FailedStage = stage
	j.ErrorKind = string(kind)
	j.Error = cause.Error()
	if err := j.Transition(job.StatusBlocked); err != nil {
		return nil, err
	}
	if err := o.persist(ctx, j, ws); err != nil {
		return nil, err
	}
	logging.WithJobID(o.logger, j.ID).Error("job blocked",
		"stage", stage,
		"error_kind", kind,
		"error", cause,
	)
	res := o.result(j)
	res.Err = cause
	return res, nil
}

func (o *Orchestrator) interrupt(j *job.Job, ws *artifacts.Workspace, stage string, cause error) error {
	if j.Status == job.StatusRunning {
		_ = j.Transition(job.StatusStageFailed)
	}
	j.FailedStage = stage
	j.ErrorKind = string(pipeline.KindTransient)
	j.Error = "interrupted: " + cause.Error()
	if err := o.persist(context.Background(), j, ws); err != nil {
		o.logger.Warn("failed to persist interrupted job", "job_id", j.ID, "error", err)
	}
	return fmt.Errorf("job %s interrupted at %s: %w", j.ID, stage, cause)
}

// persist writes j to the repository and mirrors it to job.json. It ignores
// ctx cancellation so a state change is never lost to shutdown.
func (o *Orchestrator) persist(ctx context.Context, j *job.Job, ws *artifacts.Workspace) error {
	ctx = context.WithoutCancel(ctx)
	j.UpdatedAt = o.now().UTC()
	if err := o.repo.Save(ctx, j); err != nil {
		return fmt.Errorf("persist job %s: %w", j.ID, err)
	}
	if ws == nil {
		var err error
		if ws, err = artifacts.Open(j.Dir); err != nil {
			return err
		}
	}
	if err := ws.WriteJob(j); err != nil {
		return fmt.Errorf("write job.json: %w", err)
	}
	return nil
}

func (o *Orchestrator) result(j *job.Job) *Result {
	res := &Result{
		JobID:     j.ID,
		SourceRef: j.SourceRef,
		Artifacts: j.Artifacts(),
	}
	switch j.Status {
	case job.StatusCompleted:
		res.Outcome = OutcomeCompleted
	default:
		res.Outcome = OutcomeBlocked
		res.FailedStage = j.FailedStage
		res.ErrorKind = pipeline.Kind(j.ErrorKind)
		res.Cause = j.Error
	}
	return res
}

func existingJobID(r *dedup.Record) string {
	if r == nil {
		return ""
	}
	return r.JobID
}
