package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/clipmill/clipmill-agent/internal/db"
	"github.com/clipmill/clipmill-agent/internal/ffmpeg"
	"github.com/clipmill/clipmill-agent/internal/job"
	"github.com/clipmill/clipmill-agent/internal/orchestrator"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type fakeExecutor struct {
	mu      sync.Mutex
	ids     []string
	outcome orchestrator.Outcome
	err     error
	onRun   func()
}

func (f *fakeExecutor) Execute(ctx context.Context, j *job.Job) (*orchestrator.Result, error) {
	f.mu.Lock()
	f.ids = append(f.ids, j.ID)
	f.mu.Unlock()
	if f.onRun != nil {
		f.onRun()
	}
	if f.err != nil {
		return nil, f.err
	}
	outcome := f.outcome
	if outcome == "" {
		outcome = orchestrator.OutcomeCompleted
	}
	return &orchestrator.Result{Outcome: outcome, JobID: j.ID, FailedStage: "assemble", Cause: "boom"}, nil
}

func (f *fakeExecutor) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

type fakeDoctor struct {
	caps *ffmpeg.Capabilities
	err  error
}

func (d *fakeDoctor) Get(ctx context.Context) (*ffmpeg.Capabilities, error) {
	return d.caps, d.err
}

var readyTools = &ffmpeg.Capabilities{
	FFmpeg:   ffmpeg.Binary{Available: true},
	FFprobe:  ffmpeg.Binary{Available: true},
	Encoders: map[string]bool{"libx264": true, "aac": true},
}

func setupRepo(t *testing.T) *job.SQLiteRepository {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return job.NewRepository(database.Conn())
}

func addJob(t *testing.T, repo *job.SQLiteRepository, ref string, status job.Status, at time.Time) *job.Job {
	t.Helper()
	j := job.New(ref, t.TempDir(), at)
	j.Status = status
	if err := repo.Create(context.Background(), j); err != nil {
		t.Fatal(err)
	}
	return j
}

func TestRunOnce_InterruptedFirstThenPendingOldestFirst(t *testing.T) {
	repo := setupRepo(t)
	newer := addJob(t, repo, "reddit:b", job.StatusPending, t0.Add(time.Minute))
	older := addJob(t, repo, "reddit:a", job.StatusPending, t0)
	interrupted := addJob(t, repo, "reddit:c", job.StatusStageFailed, t0.Add(2*time.Minute))
	addJob(t, repo, "reddit:d", job.StatusBlocked, t0)

	exec := &fakeExecutor{}
	r := NewRunner(exec, repo, &fakeDoctor{caps: readyTools}, Options{}, nil)

	if n := r.RunOnce(context.Background()); n != 3 {
		t.Fatalf("RunOnce = %d, want 3", n)
	}
	got := exec.calls()
	want := []string{interrupted.ID, older.ID, newer.ID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("execution order = %v, want %v", got, want)
		}
	}
	if st := r.Status(); st.Processed != 3 || st.CurrentJob != "" {
		t.Errorf("status = %+v", st)
	}
}

func TestRunOnce_SkipsJobFinishedElsewhere(t *testing.T) {
	repo := setupRepo(t)
	first := addJob(t, repo, "reddit:a", job.StatusPending, t0)
	second := addJob(t, repo, "reddit:b", job.StatusPending, t0.Add(time.Minute))

	exec := &fakeExecutor{}
	exec.onRun = func() {
		done, err := repo.Get(context.Background(), second.ID)
		if err != nil {
			t.Error(err)
			return
		}
		if done.Status == job.StatusCompleted {
			return
		}
		done.Status = job.StatusCompleted
		if err := repo.Save(context.Background(), done); err != nil {
			t.Error(err)
		}
	}
	r := NewRunner(exec, repo, nil, Options{}, nil)

	if n := r.RunOnce(context.Background()); n != 1 {
		t.Fatalf("RunOnce = %d, want 1", n)
	}
	if got := exec.calls(); len(got) != 1 || got[0] != first.ID {
		t.Errorf("executed = %v, want only %s", got, first.ID)
	}
}

func TestRunOnce_BatchSize(t *testing.T) {
	repo := setupRepo(t)
	for i := 0; i < 4; i++ {
		addJob(t, repo, "reddit:x", job.StatusPending, t0.Add(time.Duration(i)*time.Second))
	}
	exec := &fakeExecutor{}
	r := NewRunner(exec, repo, nil, Options{BatchSize: 2}, nil)
	if n := r.RunOnce(context.Background()); n != 2 {
		t.Errorf("RunOnce = %d, want 2", n)
	}
}

func TestRunOnce_SkipsWithoutMediaTools(t *testing.T) {
	repo := setupRepo(t)
	addJob(t, repo, "reddit:a", job.StatusPending, t0)

	tests := []struct {
		name   string
		doctor *fakeDoctor
	}{
		{"probe failed", &fakeDoctor{err: errors.New("ffmpeg not found")}},
		{"missing encoder", &fakeDoctor{caps: &ffmpeg.Capabilities{
			FFmpeg:   ffmpeg.Binary{Available: true},
			FFprobe:  ffmpeg.Binary{Available: true},
			Encoders: map[string]bool{"aac": true},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExecutor{}
			r := NewRunner(exec, repo, tt.doctor, Options{}, nil)
			if n := r.RunOnce(context.Background()); n != 0 || len(exec.calls()) != 0 {
				t.Errorf("RunOnce = %d, calls = %d", n, len(exec.calls()))
			}
		})
	}
}

func TestRunOnce_PauseStopsBatch(t *testing.T) {
	repo := setupRepo(t)
	addJob(t, repo, "reddit:a", job.StatusPending, t0)
	addJob(t, repo, "reddit:b", job.StatusPending, t0.Add(time.Second))

	exec := &fakeExecutor{}
	r := NewRunner(exec, repo, nil, Options{}, nil)
	exec.onRun = r.Pause

	if n := r.RunOnce(context.Background()); n != 1 {
		t.Errorf("RunOnce = %d, want 1 after pausing mid-batch", n)
	}
	if !r.IsPaused() {
		t.Error("runner should be paused")
	}
	r.Resume()
	if r.IsPaused() {
		t.Error("runner should be resumed")
	}
}

func TestRunOnce_TracksBlockedAndErrors(t *testing.T) {
	repo := setupRepo(t)
	addJob(t, repo, "reddit:a", job.StatusPending, t0)

	r := NewRunner(&fakeExecutor{outcome: orchestrator.OutcomeBlocked}, repo, nil, Options{}, nil)
	r.RunOnce(context.Background())
	if st := r.Status(); st.Blocked != 1 || st.LastError != "assemble: boom" {
		t.Errorf("status = %+v", st)
	}

	r = NewRunner(&fakeExecutor{err: errors.New("workspace locked")}, repo, nil, Options{}, nil)
	r.RunOnce(context.Background())
	if st := r.Status(); st.Processed != 0 || st.LastError != "workspace locked" {
		t.Errorf("status = %+v", st)
	}
}

func TestStart_StopsOnCancel(t *testing.T) {
	repo := setupRepo(t)
	r := NewRunner(&fakeExecutor{}, repo, nil, Options{PollInterval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for !r.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !r.IsRunning() {
		t.Fatal("runner did not start")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
	if r.IsRunning() {
		t.Error("IsRunning should be false after stop")
	}
}
