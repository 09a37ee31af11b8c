package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/clipmill/clipmill-agent/internal/logging"
)

// DefaultTolerance is how far the video may drift from the narration length.
const DefaultTolerance = 30 * time.Second

type AssembleRequest struct {
	Clips         []string // b-roll in play order
	Audio         string
	AudioDuration float64 // seconds; probed when zero
	Tolerance     time.Duration
	Width         int
	Height        int
	FPS           int
	WorkDir       string // parent for the scratch directory; defaults to Output's dir
	Output        string
}

type AssembleResult struct {
	Duration      float64 `json:"duration"`
	AudioDuration float64 `json:"audio_duration"`
	ClipsUsed     int     `json:"clips_used"`
	Loops         int     `json:"loops"`
	BlackFallback bool    `json:"black_fallback"`
}

type Assembler struct {
	runner  Runner
	timeout time.Duration
	logger  *slog.Logger
}

// NewAssembler returns an assembler whose ffmpeg calls are each limited to
// timeout.
func NewAssembler(r Runner, timeout time.Duration, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Assembler{runner: r, timeout: timeout, logger: logging.WithComponent(logger, "assemble")}
}

// Assemble concatenates the clips, loops or trims them to the narration
// length and muxes the audio in. All intermediate files live in a scratch
// directory that is removed on every return path; Output is only written
// once the result has passed the duration check.
func (a *Assembler) Assemble(ctx context.Context, req AssembleRequest) (*AssembleResult, error) {
	if req.Audio == "" || req.Output == "" {
		return nil, errors.New("assemble requires audio and output paths")
	}
	if req.Width <= 0 || req.Height <= 0 {
		req.Width, req.Height = 1280, 720
	}
	if req.FPS <= 0 {
		req.FPS = 30
	}
	if req.Tolerance <= 0 {
		req.Tolerance = DefaultTolerance
	}
	if req.WorkDir == "" {
		req.WorkDir = filepath.Dir(req.Output)
	}

	audioDur := req.AudioDuration
	if audioDur <= 0 {
		d, err := a.runner.Probe(ctx, req.Audio)
		if err != nil {
			return nil, fmt.Errorf("probe narration: %w", err)
		}
		audioDur = d
	}
	if audioDur <= 0 {
		return nil, errors.New("narration has no duration")
	}

	scratch, err := os.MkdirTemp(req.WorkDir, ".tmp-assemble-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	res := &AssembleResult{AudioDuration: audioDur}
	out := filepath.Join(scratch, "out.mp4")

	parts, err := a.normalize(ctx, req, scratch)
	if err != nil {
		return nil, err
	}
	res.ClipsUsed = len(parts)

	if len(parts) == 0 {
		a.logger.Warn("no usable clips, rendering black video")
		res.BlackFallback = true
		if _, err := a.runner.FFmpeg(ctx, a.timeout, blackArgs(req, audioDur, out)...); err != nil {
			return nil, fmt.Errorf("render black video: %w", err)
		}
	} else {
		list := filepath.Join(scratch, "concat.txt")
		if err := os.WriteFile(list, []byte(ConcatList(parts)), 0o644); err != nil {
			return nil, fmt.Errorf("write concat list: %w", err)
		}
		joined := filepath.Join(scratch, "joined.mp4")
		if _, err := a.runner.FFmpeg(ctx, a.timeout, concatArgs(list, joined)...); err != nil {
			return nil, fmt.Errorf("concat clips: %w", err)
		}
		videoDur, err := a.runner.Probe(ctx, joined)
		if err != nil {
			return nil, fmt.Errorf("probe joined clips: %w", err)
		}
		res.Loops = LoopCount(videoDur, audioDur)
		if _, err := a.runner.FFmpeg(ctx, a.timeout, muxArgs(joined, req.Audio, res.Loops, audioDur, out)...); err != nil {
			return nil, fmt.Errorf("mux audio: %w", err)
		}
	}

	got, err := a.runner.Probe(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("probe output: %w", err)
	}
	res.Duration = got
	if !WithinTolerance(got, audioDur, req.Tolerance) {
		return nil, &DurationError{Want: audioDur, Got: got, Tolerance: req.Tolerance}
	}
	if err := os.Rename(out, req.Output); err != nil {
		return nil, fmt.Errorf("move output into place: %w", err)
	}

	a.logger.Info("video assembled",
		"duration", round3(got),
		"audio_duration", round3(audioDur),
		"clips", res.ClipsUsed,
		"loops", res.Loops,
	)
	return res, nil
}

// normalize re-encodes every clip to the same size, frame rate and codec so
// they can be joined with the concat demuxer. A clip ffmpeg rejects is
// skipped; timeouts and cancellation abort.
func (a *Assembler) normalize(ctx context.Context, req AssembleRequest, scratch string) ([]string, error) {
	var parts []string
	for i, clip := range req.Clips {
		part := filepath.Join(scratch, fmt.Sprintf("part_%03d.mp4", i))
		_, err := a.runner.FFmpeg(ctx, a.timeout, normalizeArgs(clip, part, req.Width, req.Height, req.FPS)...)
		if err == nil {
			parts = append(parts, part)
			continue
		}
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("normalize clip %d: %w", i, err)
		}
		a.logger.Warn("skipping unreadable clip", "clip", filepath.Base(clip), "error", err)
	}
	return parts, nil
}

// WithinTolerance reports whether got lies in [want-tol, want+tol].
func WithinTolerance(got, want float64, tol time.Duration) bool {
	return math.Abs(got-want) <= tol.Seconds()
}

// LoopCount is the -stream_loop value that makes footage of length video
// cover audio. Longer footage is trimmed by the mux instead.
func LoopCount(video, audio float64) int {
	if video <= 0 || video >= audio {
		return 0
	}
	return int(math.Ceil(audio/video)) - 1
}

// ConcatList renders paths in ffmpeg concat demuxer syntax.
func ConcatList(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(p, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

func normalizeArgs(in, out string, w, h, fps int) []string {
	vf := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%d", w, h, w, h, fps)
	return []string{
		"-hide_banner", "-y",
		"-i", in,
		"-an",
		"-vf", vf,
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "23", "-pix_fmt", "yuv420p",
		out,
	}
}

func concatArgs(list, out string) []string {
	return []string{"-hide_banner", "-y", "-f", "concat", "-safe", "0", "-i", list, "-c", "copy", out}
}

func muxArgs(video, audio string, loops int, duration float64, out string) []string {
	args := []string{"-hide_banner", "-y"}
	if loops > 0 {
		args = append(args, "-stream_loop", strconv.Itoa(loops))
	}
	return append(args,
		"-i", video,
		"-i", audio,
		"-map", "0:v:0", "-map", "1:a:0",
		"-t", seconds(duration),
		"-c:v", "copy",
		"-c:a", "aac", "-b:a", "192k",
		"-movflags", "+faststart",
		out,
	)
}

func blackArgs(req AssembleRequest, duration float64, out string) []string {
	return []string{
		"-hide_banner", "-y",
		"-f", "lavfi", "-i", fmt.Sprintf("color=c=black:s=%dx%d:r=%d", req.Width, req.Height, req.FPS),
		"-i", req.Audio,
		"-map", "0:v:0", "-map", "1:a:0",
		"-t", seconds(duration),
		"-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "192k",
		"-movflags", "+faststart",
		out,
	}
}

func seconds(d float64) string {
	return strconv.FormatFloat(d, 'f', 3, 64)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
