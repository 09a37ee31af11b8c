package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/clipmill/clipmill-agent/internal/retry"
	"github.com/clipmill/clipmill-agent/internal/scriptgen"
)

// Settings is the YAML document shape. Zero values in the file keep the defaults.
type Settings struct {
	Retry     RetrySettings     `yaml:"retry"`
	Dedup     DedupSettings     `yaml:"dedup"`
	Reddit    RedditSettings    `yaml:"reddit"`
	LLM       LLMSettings       `yaml:"llm"`
	Policy    PolicySettings    `yaml:"policy"`
	TTS       TTSSettings       `yaml:"tts"`
	Media     MediaSettings     `yaml:"media"`
	Video     VideoSettings     `yaml:"video"`
	Thumbnail ThumbnailSettings `yaml:"thumbnail"`
	Upload    UploadSettings    `yaml:"upload"`
	Queue     QueueSettings     `yaml:"queue"`
	Redis     RedisSettings     `yaml:"redis"`
	Worker    WorkerSettings    `yaml:"worker"`
	Brand     BrandSettings     `yaml:"brand"`
	Features  Features          `yaml:"features"`
}

type RetrySettings struct {
	MaxAttempts    int                   `yaml:"max_attempts"`
	BaseDelay      time.Duration         `yaml:"base_delay"`
	Multiplier     float64               `yaml:"multiplier"`
	MaxDelay       time.Duration         `yaml:"max_delay"`
	Jitter         float64               `yaml:"jitter"`
	AttemptTimeout time.Duration         `yaml:"attempt_timeout"`
	Stages         map[string]StageRetry `yaml:"stages"`
}

type StageRetry struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

type DedupSettings struct {
	Backend string        `yaml:"backend"` // sqlite | redis
	Window  time.Duration `yaml:"window"`
}

type RedditSettings struct {
	BaseURL           string   `yaml:"base_url"`
	AuthURL           string   `yaml:"auth_url"`
	ClientID          string   `yaml:"client_id"`
	ClientSecret      string   `yaml:"client_secret"`
	UserAgent         string   `yaml:"user_agent"`
	Subreddits        []string `yaml:"subreddits"`
	TimeFilter        string   `yaml:"time_filter"`
	Limit             int      `yaml:"limit"`
	MinScore          int      `yaml:"min_score"`
	ExcludeSubreddits []string `yaml:"exclude_subreddits"`
	ExcludeFlairs     []string `yaml:"exclude_flairs"`
}

type LLMSettings struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	TopP        float64       `yaml:"top_p"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRepairs  int           `yaml:"max_repairs"`
}

type PolicySettings struct {
	BannedTerms     []string `yaml:"banned_terms"`
	SensitiveTopics []string `yaml:"sensitive_topics"`
}

type TTSSettings struct {
	Provider        string        `yaml:"provider"` // elevenlabs | silent
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	VoiceID         string        `yaml:"voice_id"`
	Model           string        `yaml:"model"`
	Stability       float64       `yaml:"stability"`
	SimilarityBoost float64       `yaml:"similarity_boost"`
	ChunkChars      int           `yaml:"chunk_chars"`
	Timeout         time.Duration `yaml:"timeout"`
}

type MediaSettings struct {
	PexelsURL        string   `yaml:"pexels_url"`
	PexelsKey        string   `yaml:"pexels_key"`
	PixabayURL       string   `yaml:"pixabay_url"`
	PixabayKey       string   `yaml:"pixabay_key"`
	LocalPool        string   `yaml:"local_pool"`
	ClipsPerMinute   float64  `yaml:"clips_per_minute"`
	MinClipSeconds   int      `yaml:"min_clip_seconds"`
	MaxClips         int      `yaml:"max_clips"`
	FallbackKeywords []string `yaml:"fallback_keywords"`
	Concurrency      int      `yaml:"concurrency"`
}

type VideoSettings struct {
	FFmpegPath        string        `yaml:"ffmpeg_path"`
	FFprobePath       string        `yaml:"ffprobe_path"`
	Width             int           `yaml:"width"`
	Height            int           `yaml:"height"`
	FPS               int           `yaml:"fps"`
	TargetMinutes     float64       `yaml:"target_minutes"`
	DurationTolerance time.Duration `yaml:"duration_tolerance"`
	CommandTimeout    time.Duration `yaml:"command_timeout"`
}

type ThumbnailSettings struct {
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`
	Quality  int    `yaml:"quality"`
	FontPath string `yaml:"font_path"`
}

type UploadSettings struct {
	Provider          string `yaml:"provider"` // youtube | s3 | local
	Privacy           string `yaml:"privacy"`
	CategoryID        string `yaml:"category_id"`
	ClientSecretsFile string `yaml:"client_secrets_file"`
	TokenFile         string `yaml:"token_file"`
	S3Endpoint        string `yaml:"s3_endpoint"`
	S3Bucket          string `yaml:"s3_bucket"`
	S3Prefix          string `yaml:"s3_prefix"`
	S3AccessKey       string `yaml:"s3_access_key"`
	S3SecretKey       string `yaml:"s3_secret_key"`
	S3UseSSL          bool   `yaml:"s3_use_ssl"`
	LocalDir          string `yaml:"local_dir"`
}

type QueueSettings struct {
	URL      string `yaml:"url"`
	Name     string `yaml:"name"`
	Prefetch int    `yaml:"prefetch"`
}

type RedisSettings struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type WorkerSettings struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
}

type BrandSettings struct {
	ChannelName string `yaml:"channel_name"`
	Language    string `yaml:"language"`
}

type Features struct {
	EnableLLM    bool `yaml:"enable_llm"`
	EnableTTS    bool `yaml:"enable_tts"`
	EnableUpload bool `yaml:"enable_upload"`
	EnableQueue  bool `yaml:"enable_queue"`
	EnableWorker bool `yaml:"enable_worker"`
}

// Defaults returns the built-in settings.
func Defaults() *Settings {
	return &Settings{
		Retry: RetrySettings{
			MaxAttempts: retry.DefaultMaxAttempts,
			BaseDelay:   retry.DefaultBaseDelay,
			Multiplier:  retry.DefaultMultiplier,
			Stages: map[string]StageRetry{
				"script-generate": {AttemptTimeout: 2 * time.Minute},
				"narrate":         {AttemptTimeout: 5 * time.Minute},
				"select-media":    {AttemptTimeout: 5 * time.Minute},
				"assemble":        {MaxAttempts: 2, AttemptTimeout: 20 * time.Minute},
				"upload":          {AttemptTimeout: 30 * time.Minute},
			},
		},
		Dedup:  DedupSettings{Backend: "sqlite", Window: 7 * 24 * time.Hour},
		Policy: PolicySettings{SensitiveTopics: []string{"election", "vaccine", "lawsuit", "diagnosis"}},
		Reddit: RedditSettings{
			BaseURL:    "https://www.reddit.com",
			AuthURL:    "https://www.reddit.com/api/v1/access_token",
			UserAgent:  "clipmill-agent/0.1",
			Subreddits: []string{"todayilearned", "explainlikeimfive", "science"},
			TimeFilter: "day",
			Limit:      25,
			MinScore:   500,
		},
		LLM: LLMSettings{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.3,
			TopP:        0.9,
			MaxTokens:   2000,
			Timeout:     90 * time.Second,
			MaxRepairs:  scriptgen.DefaultMaxRepairs,
		},
		TTS: TTSSettings{
			Provider:        "silent",
			BaseURL:         "https://api.elevenlabs.io",
			VoiceID:         "21m00Tcm4TlvDq8ikWAM",
			Model:           "eleven_monolingual_v1",
			Stability:       0.5,
			SimilarityBoost: 0.75,
			ChunkChars:      5000,
			Timeout:         2 * time.Minute,
		},
		Media: MediaSettings{
			PexelsURL:        "https://api.pexels.com",
			PixabayURL:       "https://pixabay.com",
			ClipsPerMinute:   6,
			MinClipSeconds:   5,
			MaxClips:         60,
			FallbackKeywords: []string{"abstract", "city", "nature", "technology", "ocean"},
			Concurrency:      4,
		},
		Video: VideoSettings{
			FFmpegPath:        "ffmpeg",
			FFprobePath:       "ffprobe",
			Width:             1280,
			Height:            720,
			FPS:               30,
			TargetMinutes:     8,
			DurationTolerance: 30 * time.Second,
			CommandTimeout:    15 * time.Minute,
		},
		Thumbnail: ThumbnailSettings{Width: 1280, Height: 720, Quality: 95},
		Upload: UploadSettings{
			Provider:   "local",
			Privacy:    "private",
			CategoryID: "27",
		},
		Queue:  QueueSettings{Name: "clipmill.submissions", Prefetch: 1},
		Redis:  RedisSettings{Addr: "127.0.0.1:6379", KeyPrefix: "clipmill:dedup:"},
		Worker: WorkerSettings{PollInterval: 30 * time.Second, BatchSize: 5},
		Brand:  BrandSettings{ChannelName: "Clipmill", Language: "en"},
		Features: Features{
			EnableWorker: true,
		},
	}
}

// RetryPolicy returns the retry policy for stage, applying per-stage overrides.
func (s *Settings) RetryPolicy(stage string) retry.Policy {
	p := retry.Policy{
		MaxAttempts:    s.Retry.MaxAttempts,
		BaseDelay:      s.Retry.BaseDelay,
		Multiplier:     s.Retry.Multiplier,
		MaxDelay:       s.Retry.MaxDelay,
		Jitter:         s.Retry.Jitter,
		AttemptTimeout: s.Retry.AttemptTimeout,
	}
	if o, ok := s.Retry.Stages[stage]; ok {
		if o.MaxAttempts > 0 {
			p.MaxAttempts = o.MaxAttempts
		}
		if o.BaseDelay > 0 {
			p.BaseDelay = o.BaseDelay
		}
		if o.AttemptTimeout > 0 {
			p.AttemptTimeout = o.AttemptTimeout
		}
	}
	return p
}

// RetryPolicies returns the policy for every stage in stages.
func (s *Settings) RetryPolicies(stages []string) map[string]retry.Policy {
	out := make(map[string]retry.Policy, len(stages))
	for _, name := range stages {
		out[name] = s.RetryPolicy(name)
	}
	return out
}

// envOverrides maps environment names onto settings fields.
var envOverrides = []struct {
	name  string
	apply func(s *Settings, v string) error
}{
	{"OPENAI_API_KEY", func(s *Settings, v string) error { s.LLM.APIKey = v; return nil }},
	{"LLM_BASE_URL", func(s *Settings, v string) error { s.LLM.BaseURL = v; return nil }},
	{"LLM_MODEL", func(s *Settings, v string) error { s.LLM.Model = v; return nil }},
	{"ELEVENLABS_API_KEY", func(s *Settings, v string) error { s.TTS.APIKey = v; return nil }},
	{"ELEVENLABS_VOICE_ID", func(s *Settings, v string) error { s.TTS.VoiceID = v; return nil }},
	{"TTS_PROVIDER", func(s *Settings, v string) error { s.TTS.Provider = v; return nil }},
	{"PEXELS_API_KEY", func(s *Settings, v string) error { s.Media.PexelsKey = v; return nil }},
	{"PIXABAY_API_KEY", func(s *Settings, v string) error { s.Media.PixabayKey = v; return nil }},
	{"MEDIA_LOCAL_POOL", func(s *Settings, v string) error { s.Media.LocalPool = v; return nil }},
	{"REDDIT_CLIENT_ID", func(s *Settings, v string) error { s.Reddit.ClientID = v; return nil }},
	{"REDDIT_CLIENT_SECRET", func(s *Settings, v string) error { s.Reddit.ClientSecret = v; return nil }},
	{"REDDIT_USER_AGENT", func(s *Settings, v string) error { s.Reddit.UserAgent = v; return nil }},
	{"REDDIT_SUBREDDITS", func(s *Settings, v string) error { s.Reddit.Subreddits = splitList(v); return nil }},
	{"UPLOAD_PROVIDER", func(s *Settings, v string) error { s.Upload.Provider = v; return nil }},
	{"UPLOAD_PRIVACY", func(s *Settings, v string) error { s.Upload.Privacy = v; return nil }},
	{"YOUTUBE_CLIENT_SECRETS", func(s *Settings, v string) error { s.Upload.ClientSecretsFile = v; return nil }},
	{"YOUTUBE_TOKEN_FILE", func(s *Settings, v string) error { s.Upload.TokenFile = v; return nil }},
	{"S3_ENDPOINT", func(s *Settings, v string) error { s.Upload.S3Endpoint = v; return nil }},
	{"S3_BUCKET", func(s *Settings, v string) error { s.Upload.S3Bucket = v; return nil }},
	{"S3_ACCESS_KEY", func(s *Settings, v string) error { s.Upload.S3AccessKey = v; return nil }},
	{"S3_SECRET_KEY", func(s *Settings, v string) error { s.Upload.S3SecretKey = v; return nil }},
	{"AMQP_URL", func(s *Settings, v string) error { s.Queue.URL = v; return nil }},
	{"AMQP_QUEUE", func(s *Settings, v string) error { s.Queue.Name = v; return nil }},
	{"REDIS_ADDR", func(s *Settings, v string) error { s.Redis.Addr = v; return nil }},
	{"REDIS_PASSWORD", func(s *Settings, v string) error { s.Redis.Password = v; return nil }},
	{"DEDUP_BACKEND", func(s *Settings, v string) error { s.Dedup.Backend = v; return nil }},
	{"FFMPEG_PATH", func(s *Settings, v string) error { s.Video.FFmpegPath = v; return nil }},
	{"FFPROBE_PATH", func(s *Settings, v string) error { s.Video.FFprobePath = v; return nil }},
	{"DEDUP_WINDOW", func(s *Settings, v string) (err error) {
		s.Dedup.Window, err = parseDuration("DEDUP_WINDOW", v)
		return err
	}},
	{"DURATION_TOLERANCE", func(s *Settings, v string) (err error) {
		s.Video.DurationTolerance, err = parseDuration("DURATION_TOLERANCE", v)
		return err
	}},
	{"TARGET_MINUTES", func(s *Settings, v string) (err error) {
		s.Video.TargetMinutes, err = strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("invalid TARGET_MINUTES: %w", err)
		}
		return nil
	}},
	{"ENABLE_LLM", func(s *Settings, v string) (err error) {
		s.Features.EnableLLM, err = parseBool("ENABLE_LLM", v)
		return err
	}},
	{"ENABLE_TTS", func(s *Settings, v string) (err error) {
		s.Features.EnableTTS, err = parseBool("ENABLE_TTS", v)
		return err
	}},
	{"ENABLE_UPLOAD", func(s *Settings, v string) (err error) {
		s.Features.EnableUpload, err = parseBool("ENABLE_UPLOAD", v)
		return err
	}},
	{"ENABLE_QUEUE", func(s *Settings, v string) (err error) {
		s.Features.EnableQueue, err = parseBool("ENABLE_QUEUE", v)
		return err
	}},
	{"ENABLE_WORKER", func(s *Settings, v string) (err error) {
		s.Features.EnableWorker, err = parseBool("ENABLE_WORKER", v)
		return err
	}},
}

func (s *Settings) applyEnv(getenv func(string) string) error {
	for _, o := range envOverrides {
		if v := getenv(o.name); v != "" {
			if err := o.apply(s, v); err != nil {
				return err
			}
		}
	}
	return nil
}

var validPrivacy = map[string]bool{"private": true, "unlisted": true, "public": true}

// Validate checks the settings, including keys required by enabled features.
func (s *Settings) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if s.Retry.MaxAttempts < 1 {
		add("retry.max_attempts must be at least 1")
	}
	if s.Retry.BaseDelay < 0 || s.Retry.Multiplier < 0 {
		add("retry delays must not be negative")
	}
	if s.Dedup.Window <= 0 {
		add("dedup.window must be positive")
	}
	switch s.Dedup.Backend {
	case "sqlite":
	case "redis":
		if s.Redis.Addr == "" {
			add("dedup.backend redis requires redis.addr")
		}
	default:
		add("dedup.backend must be sqlite or redis, got %q", s.Dedup.Backend)
	}
	if s.Video.DurationTolerance <= 0 {
		add("video.duration_tolerance must be positive")
	}
	if s.Video.Width <= 0 || s.Video.Height <= 0 || s.Video.FPS <= 0 {
		add("video width, height and fps must be positive")
	}
	if s.Video.TargetMinutes <= 0 {
		add("video.target_minutes must be positive")
	}
	if s.LLM.MaxRepairs < 0 {
		add("llm.max_repairs must not be negative")
	}
	if s.Features.EnableLLM && s.LLM.APIKey == "" {
		add("ENABLE_LLM requires OPENAI_API_KEY")
	}
	switch s.TTS.Provider {
	case "silent":
	case "elevenlabs":
		if s.TTS.APIKey == "" {
			add("tts provider elevenlabs requires ELEVENLABS_API_KEY")
		}
	default:
		add("tts.provider must be elevenlabs or silent, got %q", s.TTS.Provider)
	}
	if s.Upload.Privacy != "" && !validPrivacy[s.Upload.Privacy] {
		add("upload.privacy must be private, unlisted or public, got %q", s.Upload.Privacy)
	}
	if s.Features.EnableUpload {
		switch s.Upload.Provider {
		case "youtube":
			if s.Upload.ClientSecretsFile == "" || s.Upload.TokenFile == "" {
				add("youtube upload requires YOUTUBE_CLIENT_SECRETS and YOUTUBE_TOKEN_FILE")
			}
		case "s3":
			if s.Upload.S3Endpoint == "" || s.Upload.S3Bucket == "" || s.Upload.S3AccessKey == "" || s.Upload.S3SecretKey == "" {
				add("s3 upload requires endpoint, bucket, access key and secret key")
			}
		case "local":
		default:
			add("upload.provider must be youtube, s3 or local, got %q", s.Upload.Provider)
		}
	}
	if s.Features.EnableQueue && s.Queue.URL == "" {
		add("ENABLE_QUEUE requires AMQP_URL")
	}
	if s.Worker.PollInterval <= 0 {
		add("worker.poll_interval must be positive")
	}
	return errors.Join(errs...)
}
