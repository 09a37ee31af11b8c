package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clipmill/clipmill-agent/internal/ffmpeg"
	"github.com/clipmill/clipmill-agent/internal/httpx"
	"github.com/clipmill/clipmill-agent/internal/logging"
)

const DefaultElevenLabsURL = "https://api.elevenlabs.io"

type ElevenLabsOptions struct {
	BaseURL         string
	APIKey          string
	VoiceID         string
	Model           string
	Stability       float64
	SimilarityBoost float64
	ChunkChars      int
	Timeout         time.Duration // per HTTP request
	ConvertTimeout  time.Duration // ffmpeg conversion
}

// ElevenLabs synthesizes speech through the ElevenLabs text-to-speech API and
// converts the returned MP3 chunks into one WAV file with ffmpeg.
type ElevenLabs struct {
	opts   ElevenLabsOptions
	http   *http.Client
	runner ffmpeg.Runner
	logger *slog.Logger
}

func NewElevenLabs(opts ElevenLabsOptions, runner ffmpeg.Runner, logger *slog.Logger) (*ElevenLabs, error) {
	if opts.APIKey == "" || opts.VoiceID == "" {
		return nil, errors.New("elevenlabs requires an API key and a voice id")
	}
	if runner == nil {
		return nil, errors.New("elevenlabs requires a media runner")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultElevenLabsURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Model == "" {
		opts.Model = "eleven_monolingual_v1"
	}
	if opts.ChunkChars <= 0 {
		opts.ChunkChars = DefaultChunkChars
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &ElevenLabs{
		opts:   opts,
		http:   httpx.NewClient(opts.Timeout),
		runner: runner,
		logger: logging.WithComponent(logger, "tts"),
	}, nil
}

type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize sends text in chunks, then joins and converts them to out.
// Chunk files are kept in a scratch directory next to out that is removed
// before returning.
func (e *ElevenLabs) Synthesize(ctx context.Context, text, out string) (*Result, error) {
	chunks := SplitText(text, e.opts.ChunkChars)
	if len(chunks) == 0 {
		return nil, errors.New("no narration text")
	}

	scratch, err := os.MkdirTemp(filepath.Dir(out), ".tmp-tts-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	paths := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		p := filepath.Join(scratch, fmt.Sprintf("chunk_%03d.mp3", i))
		if err := e.speak(ctx, chunk, p); err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		paths = append(paths, p)
	}

	if err := ffmpeg.AudioToWAV(ctx, e.runner, e.opts.ConvertTimeout, paths, out); err != nil {
		return nil, err
	}
	duration, err := e.runner.Probe(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("probe narration: %w", err)
	}

	e.logger.Info("narration synthesized",
		"voice", e.opts.VoiceID,
		"chunks", len(chunks),
		"characters", len(text),
		"duration", duration,
	)
	return &Result{Provider: ProviderElevenLabs, Duration: duration, Chunks: len(chunks), Characters: len(text)}, nil
}

func (e *ElevenLabs) speak(ctx context.Context, text, path string) error {
	body, err := json.Marshal(speechRequest{
		Text:    text,
		ModelID: e.opts.Model,
		VoiceSettings: voiceSettings{
			Stability:       e.opts.Stability,
			SimilarityBoost: e.opts.SimilarityBoost,
		},
	})
	if err != nil {
		return err
	}

	endpoint := e.opts.BaseURL + "/v1/text-to-speech/" + url.PathEscape(e.opts.VoiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpx.NewStatusError("elevenlabs", resp)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("read audio: %w", err)
	}
	if n == 0 {
		return errors.New("elevenlabs returned empty audio")
	}
	return nil
}
