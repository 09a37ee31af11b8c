package stages

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clipmill/clipmill-agent/internal/artifacts"
	"github.com/clipmill/clipmill-agent/internal/classify"
	"github.com/clipmill/clipmill-agent/internal/content"
	"github.com/clipmill/clipmill-agent/internal/db"
	"github.com/clipmill/clipmill-agent/internal/dedup"
	"github.com/clipmill/clipmill-agent/internal/ffmpeg"
	"github.com/clipmill/clipmill-agent/internal/job"
	"github.com/clipmill/clipmill-agent/internal/media"
	"github.com/clipmill/clipmill-agent/internal/orchestrator"
	"github.com/clipmill/clipmill-agent/internal/pipeline"
	"github.com/clipmill/clipmill-agent/internal/policy"
	"github.com/clipmill/clipmill-agent/internal/retry"
	"github.com/clipmill/clipmill-agent/internal/scriptgen"
	"github.com/clipmill/clipmill-agent/internal/thumbnail"
	"github.com/clipmill/clipmill-agent/internal/tts"
	"github.com/clipmill/clipmill-agent/internal/upload"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type fakeLoader struct {
	calls atomic.Int32
}

func (l *fakeLoader) Load(ctx context.Context, ref string) (*content.Post, error) {
	l.calls.Add(1)
	return &content.Post{
		ID:          "abc123",
		Title:       "Why octopuses have three hearts and blue blood",
		Selftext:    "Octopuses have three hearts. Two pump blood to the gills. One pumps it to the rest of the body.",
		Subreddit:   "askscience",
		Score:       4200,
		UpvoteRatio: 0.95,
	}, nil
}

// fakeSelector writes one small file per clip into the requested directory.
type fakeSelector struct {
	calls atomic.Int32
	err   error
}

func (f *fakeSelector) Select(ctx context.Context, req media.Request) (*content.ClipList, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	list := &content.ClipList{Tier: media.TierStrict, TargetSeconds: req.TargetSeconds}
	for _, id := range []string{"1", "2"} {
		p := filepath.Join(req.Dir, "pexels-"+id+".mp4")
		if err := artifacts.WriteBytes(p, []byte("clip")); err != nil {
			return nil, err
		}
		list.Clips = append(list.Clips, content.Clip{ID: id, Provider: "pexels", Keyword: "octopus", Path: p, Duration: 10})
	}
	return list, nil
}

type fakeAssembler struct {
	calls atomic.Int32
	drift float64
	got   ffmpeg.AssembleRequest
}

func (f *fakeAssembler) Assemble(ctx context.Context, req ffmpeg.AssembleRequest) (*ffmpeg.AssembleResult, error) {
	f.calls.Add(1)
	f.got = req
	out := req.AudioDuration + f.drift
	if !ffmpeg.WithinTolerance(out, req.AudioDuration, req.Tolerance) {
		return nil, &ffmpeg.DurationError{Want: req.AudioDuration, Got: out, Tolerance: req.Tolerance}
	}
	if err := artifacts.WriteBytes(req.Output, []byte("mp4")); err != nil {
		return nil, err
	}
	return &ffmpeg.AssembleResult{Duration: out, AudioDuration: req.AudioDuration, ClipsUsed: len(req.Clips)}, nil
}

// flaggingScripts returns a script with a policy flag unless the job is in
// safe mode, or always when stubborn is set.
type flaggingScripts struct {
	inner    *scriptgen.Generator
	stubborn bool
	requests []scriptgen.Request
}

func (f *flaggingScripts) Generate(ctx context.Context, req scriptgen.Request) (*content.Script, scriptgen.Report, error) {
	f.requests = append(f.requests, req)
	s, r, err := f.inner.Generate(ctx, req)
	if err != nil {
		return nil, r, err
	}
	if !req.SafeMode || f.stubborn {
		s.PolicyChecklist.MedicalOrFinancialClaims = true
	}
	return s, r, nil
}

type env struct {
	orch      *orchestrator.Orchestrator
	repo      *job.SQLiteRepository
	deps      Deps
	loader    *fakeLoader
	selector  *fakeSelector
	assembler *fakeAssembler
	published string
}

func newEnv(t *testing.T, modify func(*Deps)) *env {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	root, err := artifacts.NewRoot(filepath.Join(t.TempDir(), "jobs"))
	if err != nil {
		t.Fatal(err)
	}

	renderer, err := thumbnail.New(thumbnail.Options{Width: 320, Height: 180}, nil)
	if err != nil {
		t.Fatal(err)
	}
	e := &env{
		repo:      job.NewRepository(database.Conn()),
		loader:    &fakeLoader{},
		selector:  &fakeSelector{},
		assembler: &fakeAssembler{},
		published: filepath.Join(t.TempDir(), "published"),
	}
	uploader, err := upload.NewLocal(e.published, nil)
	if err != nil {
		t.Fatal(err)
	}
	e.deps = Deps{
		Loader:     e.loader,
		Classifier: classify.New(nil, nil, "", nil),
		Scripts:    scriptgen.New(nil, scriptgen.Options{TargetMinutes: 1}, nil),
		Policy:     policy.NewChecker([]string{"scam"}),
		Speech:     tts.Silent{},
		Media:      e.selector,
		Assembler:  e.assembler,
		Thumbnails: renderer,
		Uploader:   uploader,
		Options: Options{
			Width:     320,
			Height:    180,
			FPS:       24,
			Tolerance: 30 * time.Second,
			Privacy:   "unlisted",
			Language:  "en",
		},
		Clock: func() time.Time { return t0 },
	}
	if modify != nil {
		modify(&e.deps)
	}
	list, err := New(e.deps)
	if err != nil {
		t.Fatal(err)
	}

	caller := retry.New(retry.WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() }))
	e.orch, err = orchestrator.New(orchestrator.Config{
		Repo:    e.repo,
		Dedup:   dedup.NewSQLiteStore(database.Conn(), dedup.DefaultWindow),
		Root:    root,
		Stages:  list,
		Default: retry.DefaultPolicy(),
		Caller:  caller,
		Clock:   func() time.Time { return t0 },
	})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestStages_FullRun(t *testing.T) {
	e := newEnv(t, nil)
	res, err := e.orch.Run(context.Background(), "reddit:abc123")
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if res.Outcome != orchestrator.OutcomeCompleted {
		t.Fatalf("Outcome = %s (%s: %s)", res.Outcome, res.FailedStage, res.Cause)
	}

	j, err := e.repo.Get(context.Background(), res.JobID)
	if err != nil {
		t.Fatal(err)
	}
	ws, err := artifacts.Open(j.Dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{
		artifacts.SourceFile, artifacts.ClassificationFile, artifacts.ScriptFile, artifacts.MetadataFile,
		artifacts.PolicyFile, artifacts.NarrationFile, artifacts.ClipsFile, artifacts.ShotlistFile,
		artifacts.TimelineFile, artifacts.VideoFile, artifacts.ThumbnailFile, artifacts.ReceiptFile,
	} {
		if !ws.Exists(name) {
			t.Errorf("artifact %s missing", name)
		}
	}

	var md content.Metadata
	if err := ws.ReadJSON(artifacts.MetadataFile, &md); err != nil {
		t.Fatal(err)
	}
	if err := md.Validate(); err != nil {
		t.Errorf("metadata invalid: %v", err)
	}
	var shots content.Shotlist
	if err := ws.ReadJSON(artifacts.ShotlistFile, &shots); err != nil {
		t.Fatal(err)
	}
	if len(shots.Beats) != 2 || shots.FPS != 24 {
		t.Errorf("shotlist = %+v", shots)
	}
	var receipt content.Receipt
	if err := ws.ReadJSON(artifacts.ReceiptFile, &receipt); err != nil {
		t.Fatal(err)
	}
	if receipt.Provider != upload.ProviderLocal || receipt.Privacy != "unlisted" || !receipt.ThumbnailSet {
		t.Errorf("receipt = %+v", receipt)
	}
	if _, err := os.Stat(filepath.Join(e.published, j.ID, "video.mp4")); err != nil {
		t.Errorf("video not published: %v", err)
	}

	narrated := j.Stage(job.StageNarrate).Meta[MetaDuration]
	if narrated == "" || e.assembler.got.AudioDuration <= 0 {
		t.Errorf("narration duration not passed on: meta %q, request %+v", narrated, e.assembler.got)
	}
	if e.assembler.got.Tolerance != 30*time.Second || len(e.assembler.got.Clips) != 2 {
		t.Errorf("assemble request = %+v", e.assembler.got)
	}
	if j.Stage(job.StageClassify).Meta[MetaTopic] == "" {
		t.Error("topic not recorded")
	}
}

func TestStages_PolicyRejectionSubstitutesOnce(t *testing.T) {
	var scripts *flaggingScripts
	e := newEnv(t, func(d *Deps) {
		scripts = &flaggingScripts{inner: d.Scripts.(*scriptgen.Generator)}
		d.Scripts = scripts
	})

	res, err := e.orch.Run(context.Background(), "reddit:abc123")
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != orchestrator.OutcomeCompleted {
		t.Fatalf("Outcome = %s (%s: %s)", res.Outcome, res.FailedStage, res.Cause)
	}
	if len(scripts.requests) != 2 || scripts.requests[0].SafeMode || !scripts.requests[1].SafeMode {
		t.Fatalf("script requests = %+v", scripts.requests)
	}
	if scripts.requests[1].Post.Selftext != "" {
		t.Errorf("safe input kept the body: %q", scripts.requests[1].Post.Selftext)
	}
	j, _ := e.repo.Get(context.Background(), res.JobID)
	if !j.SafeMode || j.PolicyRejections != 1 {
		t.Errorf("SafeMode = %v, rejections = %d", j.SafeMode, j.PolicyRejections)
	}
	if e.loader.calls.Load() != 1 {
		t.Errorf("ingest ran %d times, want 1", e.loader.calls.Load())
	}
}

func TestStages_SecondPolicyRejectionBlocks(t *testing.T) {
	e := newEnv(t, func(d *Deps) {
		d.Scripts = &flaggingScripts{inner: d.Scripts.(*scriptgen.Generator), stubborn: true}
	})

	res, err := e.orch.Run(context.Background(), "reddit:abc123")
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != orchestrator.OutcomeBlocked || res.ErrorKind != pipeline.KindPolicyRejected || res.FailedStage != job.StagePolicy {
		t.Fatalf("result = %+v", res)
	}
	if e.selector.calls.Load() != 0 {
		t.Error("media selection ran after a policy block")
	}
}

func TestStages_DurationOutOfToleranceIsFatal(t *testing.T) {
	e := newEnv(t, nil)
	e.assembler.drift = 45

	res, err := e.orch.Run(context.Background(), "reddit:abc123")
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != orchestrator.OutcomeBlocked || res.FailedStage != job.StageAssemble || res.ErrorKind != pipeline.KindFatal {
		t.Fatalf("result = %+v", res)
	}
	if e.assembler.calls.Load() != 1 {
		t.Errorf("assemble calls = %d, want 1 (no retry)", e.assembler.calls.Load())
	}
}

func TestStages_NoFootageBlocksAndResumes(t *testing.T) {
	e := newEnv(t, nil)
	e.selector.err = pipeline.ResourceUnavailable(errors.New("nothing found"))

	res, err := e.orch.Run(context.Background(), "reddit:abc123")
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != orchestrator.OutcomeBlocked || res.ErrorKind != pipeline.KindResourceUnavailable {
		t.Fatalf("result = %+v", res)
	}

	e.selector.err = nil
	res, err = e.orch.Resume(context.Background(), res.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != orchestrator.OutcomeCompleted {
		t.Fatalf("resume outcome = %s (%s)", res.Outcome, res.Cause)
	}
	if e.loader.calls.Load() != 1 {
		t.Errorf("resume re-ran ingest: %d calls", e.loader.calls.Load())
	}
}

func TestNew_RequiresEveryCollaborator(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatal("empty deps should fail")
	}
}
