// Package app builds the agent's object graph from the loaded configuration.
// Every component is constructed here once and handed its collaborators
// explicitly.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/clipmill/clipmill-agent/internal/api"
	"github.com/clipmill/clipmill-agent/internal/artifacts"
	"github.com/clipmill/clipmill-agent/internal/classify"
	"github.com/clipmill/clipmill-agent/internal/config"
	"github.com/clipmill/clipmill-agent/internal/db"
	"github.com/clipmill/clipmill-agent/internal/dedup"
	"github.com/clipmill/clipmill-agent/internal/ffmpeg"
	"github.com/clipmill/clipmill-agent/internal/job"
	"github.com/clipmill/clipmill-agent/internal/llm"
	"github.com/clipmill/clipmill-agent/internal/logging"
	"github.com/clipmill/clipmill-agent/internal/media"
	"github.com/clipmill/clipmill-agent/internal/orchestrator"
	"github.com/clipmill/clipmill-agent/internal/policy"
	"github.com/clipmill/clipmill-agent/internal/reddit"
	"github.com/clipmill/clipmill-agent/internal/retry"
	"github.com/clipmill/clipmill-agent/internal/scriptgen"
	"github.com/clipmill/clipmill-agent/internal/stages"
	"github.com/clipmill/clipmill-agent/internal/thumbnail"
	"github.com/clipmill/clipmill-agent/internal/tts"
	"github.com/clipmill/clipmill-agent/internal/upload"
	"github.com/clipmill/clipmill-agent/internal/worker"
)

const PublishedDirname = "published"

type App struct {
	Config       config.Config
	Settings     *config.Settings
	Logger       *slog.Logger
	DB           *db.DB
	Jobs         *job.SQLiteRepository
	Dedup        dedup.Store
	Root         *artifacts.Root
	Media        *ffmpeg.SubprocessRunner
	Doctor       *ffmpeg.CachedDoctor
	Reddit       *reddit.Client
	Orchestrator *orchestrator.Orchestrator
	Worker       *worker.Runner

	clock func() time.Time
}

// New opens the database and builds every component. Close releases them.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	s := cfg.Settings()
	a := &App{Config: cfg, Settings: s, Logger: logger, clock: time.Now}

	if err := os.MkdirAll(cfg.DataDir(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.DB = database
	a.Jobs = job.NewRepository(database.Conn())

	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	s := a.Settings
	logger := a.Logger

	var err error
	a.Dedup, err = newDedupStore(ctx, s, a.DB)
	if err != nil {
		return err
	}

	a.Root, err = artifacts.NewRoot(a.Config.JobsDir())
	if err != nil {
		return err
	}

	a.Media = ffmpeg.NewRunner(ffmpeg.Config{
		FFmpegPath:     s.Video.FFmpegPath,
		FFprobePath:    s.Video.FFprobePath,
		CommandTimeout: s.Video.CommandTimeout,
		Logger:         logger,
	})
	a.Doctor = ffmpeg.NewCachedDoctor(a.Media, logger)

	a.Reddit = reddit.NewClient(reddit.Options{
		BaseURL:      s.Reddit.BaseURL,
		TokenURL:     s.Reddit.AuthURL,
		ClientID:     s.Reddit.ClientID,
		ClientSecret: s.Reddit.ClientSecret,
		UserAgent:    s.Reddit.UserAgent,
	}, logger)

	caller := retry.New(retry.WithRetryHook(func(attempt int, err error, delay time.Duration) {
		logger.Warn("retrying after transient failure", "attempt", attempt, "delay_ms", delay.Milliseconds(), "error", err)
	}))

	var completer scriptgen.Completer
	if s.Features.EnableLLM {
		client, err := llm.New(llm.Options{
			BaseURL:     s.LLM.BaseURL,
			APIKey:      s.LLM.APIKey,
			Model:       s.LLM.Model,
			Temperature: s.LLM.Temperature,
			TopP:        s.LLM.TopP,
			MaxTokens:   s.LLM.MaxTokens,
			Timeout:     s.LLM.Timeout,
		}, logger)
		if err != nil {
			return err
		}
		completer = client
	}

	speech, err := newSynthesizer(s, a.Media, logger)
	if err != nil {
		return err
	}

	var pool media.Provider
	if s.Media.LocalPool != "" {
		pool = media.NewLocalPool(s.Media.LocalPool)
	}
	var providers []media.Provider
	if s.Media.PexelsKey != "" {
		providers = append(providers, media.NewPexels(s.Media.PexelsURL, s.Media.PexelsKey, nil))
	}
	if s.Media.PixabayKey != "" {
		providers = append(providers, media.NewPixabay(s.Media.PixabayURL, s.Media.PixabayKey, nil))
	}
	selector := media.NewSelector(providers, pool, nil, caller, media.Options{
		ClipsPerMinute:   s.Media.ClipsPerMinute,
		MinClipSeconds:   s.Media.MinClipSeconds,
		MaxClips:         s.Media.MaxClips,
		FallbackKeywords: s.Media.FallbackKeywords,
		Concurrency:      s.Media.Concurrency,
		Policy:           s.RetryPolicy("download"),
	}, logger)

	renderer, err := thumbnail.New(thumbnail.Options{
		Width:    s.Thumbnail.Width,
		Height:   s.Thumbnail.Height,
		Quality:  s.Thumbnail.Quality,
		FontPath: s.Thumbnail.FontPath,
	}, logger)
	if err != nil {
		return err
	}

	uploader, err := a.newUploader(ctx)
	if err != nil {
		return err
	}

	pipelineStages, err := stages.New(stages.Deps{
		Loader:     &reddit.Loader{Client: a.Reddit},
		Classifier: classify.New(nil, nil, "", logger),
		Scripts: scriptgen.New(completer, scriptgen.Options{
			MaxRepairs:    s.LLM.MaxRepairs,
			TargetMinutes: s.Video.TargetMinutes,
			ChannelName:   s.Brand.ChannelName,
			BannedTerms:   s.Policy.BannedTerms,
		}, logger),
		Policy:     policy.NewChecker(s.Policy.BannedTerms),
		Speech:     speech,
		Media:      selector,
		Assembler:  ffmpeg.NewAssembler(a.Media, s.Video.CommandTimeout, logger),
		Thumbnails: renderer,
		Uploader:   uploader,
		Options: stages.Options{
			Width:           s.Video.Width,
			Height:          s.Video.Height,
			FPS:             s.Video.FPS,
			Tolerance:       s.Video.DurationTolerance,
			Privacy:         s.Upload.Privacy,
			CategoryID:      s.Upload.CategoryID,
			Language:        s.Brand.Language,
			ChannelName:     s.Brand.ChannelName,
			BannedTerms:     s.Policy.BannedTerms,
			SensitiveTopics: s.Policy.SensitiveTopics,
		},
	})
	if err != nil {
		return err
	}

	a.Orchestrator, err = orchestrator.New(orchestrator.Config{
		Repo:     a.Jobs,
		Dedup:    a.Dedup,
		Root:     a.Root,
		Stages:   pipelineStages,
		Policies: s.RetryPolicies(job.StageOrder),
		Default:  s.RetryPolicy(""),
		Caller:   caller,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	a.Worker = worker.NewRunner(a.Orchestrator, a.Jobs, a.Doctor, worker.Options{
		PollInterval: s.Worker.PollInterval,
		BatchSize:    s.Worker.BatchSize,
	}, logger)
	return nil
}

func newDedupStore(ctx context.Context, s *config.Settings, database *db.DB) (dedup.Store, error) {
	if s.Dedup.Backend == "redis" {
		return dedup.NewRedisStore(ctx, dedup.RedisOptions{
			Addr:      s.Redis.Addr,
			Password:  s.Redis.Password,
			DB:        s.Redis.DB,
			KeyPrefix: s.Redis.KeyPrefix,
			Window:    s.Dedup.Window,
		})
	}
	return dedup.NewSQLiteStore(database.Conn(), s.Dedup.Window), nil
}

func newSynthesizer(s *config.Settings, runner ffmpeg.Runner, logger *slog.Logger) (tts.Synthesizer, error) {
	if !s.Features.EnableTTS || s.TTS.Provider != tts.ProviderElevenLabs {
		return tts.Silent{}, nil
	}
	return tts.NewElevenLabs(tts.ElevenLabsOptions{
		BaseURL:         s.TTS.BaseURL,
		APIKey:          s.TTS.APIKey,
		VoiceID:         s.TTS.VoiceID,
		Model:           s.TTS.Model,
		Stability:       s.TTS.Stability,
		SimilarityBoost: s.TTS.SimilarityBoost,
		ChunkChars:      s.TTS.ChunkChars,
		Timeout:         s.TTS.Timeout,
		ConvertTimeout:  s.Video.CommandTimeout,
	}, runner, logger)
}

// newUploader publishes to the local directory unless uploads are enabled.
func (a *App) newUploader(ctx context.Context) (upload.Uploader, error) {
	settings := a.Settings.Upload
	if settings.LocalDir == "" {
		settings.LocalDir = filepath.Join(a.Config.DataDir(), PublishedDirname)
	}
	if !a.Settings.Features.EnableUpload {
		settings.Provider = upload.ProviderLocal
	}
	return upload.New(ctx, settings, a.Logger)
}

// Submit normalizes ref and creates a pending job for it.
func (a *App) Submit(ctx context.Context, ref string) (*job.Job, *orchestrator.Result, error) {
	normalized, err := reddit.NormalizeRef(ref)
	if err != nil {
		return nil, nil, err
	}
	return a.Orchestrator.Submit(ctx, normalized)
}

// Requeue moves a blocked or interrupted job back to pending.
func (a *App) Requeue(ctx context.Context, id string) (*job.Job, error) {
	return a.Orchestrator.Requeue(ctx, id)
}

// Run executes ref to a terminal result in the foreground.
func (a *App) Run(ctx context.Context, ref string) (*orchestrator.Result, error) {
	normalized, err := reddit.NormalizeRef(ref)
	if err != nil {
		return nil, err
	}
	return a.Orchestrator.Run(ctx, normalized)
}

// ErrNoCandidates is returned by Discover when every eligible post was
// already processed.
var ErrNoCandidates = errors.New("no unprocessed posts found")

// Discover picks the best unprocessed post from the configured subreddits.
func (a *App) Discover(ctx context.Context) (string, error) {
	r := a.Settings.Reddit
	now := a.clock()
	candidates, err := a.Reddit.Discover(ctx, reddit.Filter{
		Subreddits:        r.Subreddits,
		TimeFilter:        r.TimeFilter,
		Limit:             r.Limit,
		MinScore:          r.MinScore,
		ExcludeSubreddits: r.ExcludeSubreddits,
		ExcludeFlairs:     r.ExcludeFlairs,
	}, func(ctx context.Context, ref string) (bool, error) {
		rec, err := a.Dedup.Lookup(ctx, ref, now)
		return rec != nil, err
	}, now)
	if err != nil {
		return "", fmt.Errorf("discover posts: %w", err)
	}
	if len(candidates) == 0 {
		return "", ErrNoCandidates
	}
	best := candidates[0]
	a.Logger.Info("selected post", "source_ref", best.Ref, "subreddit", best.Post.Subreddit, "engagement", best.Score)
	return best.Ref, nil
}

// EnsureAuthToken returns the API bearer token, generating one on first use.
func (a *App) EnsureAuthToken(ctx context.Context) (string, error) {
	existing, err := a.Jobs.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := a.Jobs.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}
	return token, nil
}

func (a *App) Close() error {
	var errs []error
	if a.Dedup != nil {
		errs = append(errs, a.Dedup.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
