package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clipmill/clipmill-agent/internal/artifacts"
	"github.com/clipmill/clipmill-agent/internal/db"
	"github.com/clipmill/clipmill-agent/internal/dedup"
	"github.com/clipmill/clipmill-agent/internal/ffmpeg"
	"github.com/clipmill/clipmill-agent/internal/job"
	"github.com/clipmill/clipmill-agent/internal/logging"
	"github.com/clipmill/clipmill-agent/internal/orchestrator"
	"github.com/clipmill/clipmill-agent/internal/worker"
)

const testToken = "test-token"

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type fakeSubmitter struct {
	jobs job.Repository
	dup  *dedup.Record
}

func (f *fakeSubmitter) Submit(ctx context.Context, ref string) (*job.Job, *orchestrator.Result, error) {
	if f.dup != nil {
		return nil, &orchestrator.Result{Outcome: orchestrator.OutcomeSkippedDuplicate, SourceRef: ref, Duplicate: f.dup}, nil
	}
	j := job.New(ref, "", t0)
	if err := f.jobs.Create(ctx, j); err != nil {
		return nil, nil, err
	}
	return j, nil, nil
}

func (f *fakeSubmitter) Requeue(ctx context.Context, id string) (*job.Job, error) {
	j, err := f.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := j.Transition(job.StatusPending); err != nil {
		return nil, err
	}
	return j, f.jobs.Save(ctx, j)
}

type fakeRunner struct {
	paused  bool
	current string
}

func (f *fakeRunner) Pause()  { f.paused = true }
func (f *fakeRunner) Resume() { f.paused = false }
func (f *fakeRunner) Status() worker.Status {
	return worker.Status{Running: true, Paused: f.paused, CurrentJob: f.current}
}

type fakeDoctor struct{ caps *ffmpeg.Capabilities }

func (d fakeDoctor) Peek() *ffmpeg.Capabilities { return d.caps }

type testEnv struct {
	router http.Handler
	jobs   *job.SQLiteRepository
	dedup  *dedup.SQLiteStore
	sub    *fakeSubmitter
	runner *fakeRunner
}

func setupEnv(t *testing.T, doctor CapabilityCache) *testEnv {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := job.NewRepository(database.Conn())
	if err := repo.SetConfig(context.Background(), AuthTokenKey, testToken); err != nil {
		t.Fatal(err)
	}
	env := &testEnv{
		jobs:   repo,
		dedup:  dedup.NewSQLiteStore(database.Conn(), dedup.DefaultWindow),
		sub:    &fakeSubmitter{jobs: repo},
		runner: &fakeRunner{},
	}
	env.router = NewRouter(ServerConfig{
		Jobs:      repo,
		Submitter: env.sub,
		Dedup:     env.dedup,
		Runner:    env.runner,
		Doctor:    doctor,
		Logger:    logging.Discard(),
		StartTime: time.Now().Add(-10 * time.Second),
		Version:   "test",
		Clock:     func() time.Time { return t0 },
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) addJob(t *testing.T, ref string, status job.Status) *job.Job {
	t.Helper()
	j := job.New(ref, t.TempDir(), t0)
	j.Status = status
	if err := e.jobs.Create(context.Background(), j); err != nil {
		t.Fatal(err)
	}
	return j
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v (%s)", err, rr.Body.String())
	}
	return body
}

func TestHealth_NoAuth(t *testing.T) {
	env := setupEnv(t, nil)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rr.Code)
	}
	body := decodeJSONBody(t, rr)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := setupEnv(t, nil)
	for _, path := range []string{"/status", "/jobs", "/dedup/stats"} {
		rr := httptest.NewRecorder()
		env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without token = %d, want 401", path, rr.Code)
		}
	}
}

func TestStatus(t *testing.T) {
	doctor := fakeDoctor{caps: &ffmpeg.Capabilities{
		FFmpeg:   ffmpeg.Binary{Available: true, Version: "6.1"},
		FFprobe:  ffmpeg.Binary{Available: true, Version: "6.1"},
		Encoders: map[string]bool{"libx264": true, "aac": true},
	}}
	env := setupEnv(t, doctor)
	env.addJob(t, "reddit:a", job.StatusPending)
	env.addJob(t, "reddit:b", job.StatusBlocked)

	rr := env.do(t, http.MethodGet, "/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d", rr.Code)
	}
	var resp StatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.State != "attention" {
		t.Errorf("state = %q, want attention with a blocked job", resp.State)
	}
	if resp.Jobs["pending"] != 1 || resp.Jobs["blocked"] != 1 {
		t.Errorf("jobs = %v", resp.Jobs)
	}
	if resp.MediaTools == nil || !resp.MediaTools.CanAssemble || resp.MediaTools.FFmpegVersion != "6.1" {
		t.Fatalf("media_tools = %+v", resp.MediaTools)
	}
	if resp.MediaTools.LastProbeAt != "" {
		t.Error("last_probe_at should be omitted when the probe time is zero")
	}
}

func TestStatus_EmptyDoctorCache(t *testing.T) {
	env := setupEnv(t, fakeDoctor{})
	env.runner.current = "job-1"

	body := decodeJSONBody(t, env.do(t, http.MethodGet, "/status", ""))
	if _, ok := body["media_tools"]; ok {
		t.Error("media_tools should be omitted before the first probe")
	}
	if body["state"] != "processing" {
		t.Errorf("state = %v, want processing", body["state"])
	}
}

func TestSubmit(t *testing.T) {
	env := setupEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/jobs", `{"source_ref":"reddit:abc123"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status code = %d, want 202 (%s)", rr.Code, rr.Body.String())
	}
	var resp SubmitResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Outcome != "queued" || resp.Job == nil || resp.Job.Status != "pending" {
		t.Errorf("resp = %+v", resp)
	}

	env.sub.dup = &dedup.Record{SourceRef: "reddit:abc123", JobID: resp.Job.ID, ProcessedAt: t0}
	rr = env.do(t, http.MethodPost, "/jobs", `{"source_ref":"reddit:abc123"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("duplicate status code = %d, want 200", rr.Code)
	}
	resp = SubmitResponse{}
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Outcome != "skipped_duplicate" || resp.DuplicateOf == nil || resp.Job != nil {
		t.Errorf("duplicate resp = %+v", resp)
	}
}

func TestSubmit_BadRequest(t *testing.T) {
	env := setupEnv(t, nil)
	for _, body := range []string{`{`, `{"source_ref":"  "}`} {
		if rr := env.do(t, http.MethodPost, "/jobs", body); rr.Code != http.StatusBadRequest {
			t.Errorf("POST /jobs %s = %d, want 400", body, rr.Code)
		}
	}
}

func TestListJobs(t *testing.T) {
	env := setupEnv(t, nil)
	env.addJob(t, "reddit:a", job.StatusPending)
	env.addJob(t, "reddit:b", job.StatusBlocked)

	tests := []struct {
		path     string
		wantCode int
		wantJobs int
	}{
		{"/jobs", http.StatusOK, 2},
		{"/jobs?status=blocked", http.StatusOK, 1},
		{"/jobs?limit=1", http.StatusOK, 1},
		{"/jobs?limit=0", http.StatusBadRequest, 0},
		{"/jobs?status=exploded", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := env.do(t, http.MethodGet, tt.path, "")
			if rr.Code != tt.wantCode {
				t.Fatalf("status code = %d, want %d", rr.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var resp JobsResponse
			json.Unmarshal(rr.Body.Bytes(), &resp)
			if len(resp.Jobs) != tt.wantJobs {
				t.Errorf("got %d jobs, want %d", len(resp.Jobs), tt.wantJobs)
			}
		})
	}
}

func TestGetJob(t *testing.T) {
	env := setupEnv(t, nil)
	j := env.addJob(t, "reddit:a", job.StatusRunning)
	if err := j.Complete(job.StageIngest, artifacts.SourceFile, map[string]string{"post_id": "a"}, t0); err != nil {
		t.Fatal(err)
	}
	if err := env.jobs.Save(context.Background(), j); err != nil {
		t.Fatal(err)
	}

	rr := env.do(t, http.MethodGet, "/jobs/"+j.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d", rr.Code)
	}
	var resp JobResponse
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if len(resp.Stages) != len(job.StageOrder) || !resp.Stages[0].Completed {
		t.Errorf("stages = %+v", resp.Stages)
	}
	if resp.NextStage != job.StageClassify || resp.Progress != 11 {
		t.Errorf("next_stage = %q progress = %d", resp.NextStage, resp.Progress)
	}

	if rr := env.do(t, http.MethodGet, "/jobs/nope", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown job = %d, want 404", rr.Code)
	}
}

func TestResumeJob(t *testing.T) {
	env := setupEnv(t, nil)
	blocked := env.addJob(t, "reddit:a", job.StatusBlocked)
	done := env.addJob(t, "reddit:b", job.StatusCompleted)

	tests := []struct {
		name     string
		id       string
		wantCode int
	}{
		{"blocked requeued", blocked.ID, http.StatusAccepted},
		{"completed conflicts", done.ID, http.StatusConflict},
		{"unknown", "nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := env.do(t, http.MethodPost, "/jobs/"+tt.id+"/resume", ""); rr.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", rr.Code, tt.wantCode)
			}
		})
	}

	got, _ := env.jobs.Get(context.Background(), blocked.ID)
	if got.Status != job.StatusPending {
		t.Errorf("status after resume = %s, want pending", got.Status)
	}
}

func TestArtifactDownload(t *testing.T) {
	env := setupEnv(t, nil)
	j := env.addJob(t, "reddit:a", job.StatusCompleted)
	if err := os.WriteFile(filepath.Join(j.Dir, artifacts.ReceiptFile), []byte(`{"video_id":"abc"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	rr := env.do(t, http.MethodGet, "/jobs/"+j.ID+"/artifacts/receipt.json", "")
	if rr.Code != http.StatusOK || rr.Body.String() != `{"video_id":"abc"}` {
		t.Fatalf("download = %d %q", rr.Code, rr.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+j.ID+"/artifacts/receipt.json", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Range", "bytes=0-0")
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusPartialContent || rr.Body.String() != "{" {
		t.Errorf("range download = %d %q", rr.Code, rr.Body.String())
	}

	if rr := env.do(t, http.MethodGet, "/jobs/"+j.ID+"/artifacts/video.mp4", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing artifact = %d, want 404", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/jobs/"+j.ID+"/artifacts/clips", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("clips dir = %d, want 400", rr.Code)
	}
}

func TestDedupStats(t *testing.T) {
	env := setupEnv(t, nil)
	ctx := context.Background()
	env.dedup.Claim(ctx, "reddit:a", "job-1", t0.Add(-time.Hour))
	env.dedup.Claim(ctx, "reddit:b", "job-2", t0.Add(-30*time.Hour))

	rr := env.do(t, http.MethodGet, "/dedup/stats", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d", rr.Code)
	}
	var stats dedup.Stats
	json.Unmarshal(rr.Body.Bytes(), &stats)
	if stats.Total != 2 || stats.Today != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRunnerPauseResume(t *testing.T) {
	env := setupEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/runner/pause", "")
	if rr.Code != http.StatusOK || !env.runner.paused {
		t.Fatalf("pause = %d, paused = %v", rr.Code, env.runner.paused)
	}
	if body := decodeJSONBody(t, env.do(t, http.MethodGet, "/status", "")); body["state"] != "paused" {
		t.Errorf("state = %v, want paused", body["state"])
	}

	rr = env.do(t, http.MethodPost, "/runner/resume", "")
	if rr.Code != http.StatusOK || env.runner.paused {
		t.Errorf("resume = %d, paused = %v", rr.Code, env.runner.paused)
	}
}

func TestRunnerControl_Disabled(t *testing.T) {
	rr := httptest.NewRecorder()
	pauseRunnerHandler(ServerConfig{}).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/runner/pause", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want 503", rr.Code)
	}
}
