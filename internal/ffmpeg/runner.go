package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/clipmill/clipmill-agent/internal/logging"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
	maxStdoutBytes = 64 * 1024
	waitDelay      = 5 * time.Second
)

// Runner executes the media tools. It is the single implementation of the
// subprocess contract used by narration and assembly.
type Runner interface {
	// FFmpeg runs ffmpeg with args, killing it after timeout (zero means no
	// limit beyond ctx).
	FFmpeg(ctx context.Context, timeout time.Duration, args ...string) (RunResult, error)

	// Probe returns the container duration of path in seconds.
	Probe(ctx context.Context, path string) (float64, error)

	// Doctor reports tool versions and encoder availability.
	Doctor(ctx context.Context) (*Capabilities, error)
}

type Config struct {
	FFmpegPath     string        // empty = "ffmpeg" on PATH
	FFprobePath    string        // empty = "ffprobe" on PATH
	CommandTimeout time.Duration // default limit for FFmpeg calls made with a zero timeout
	ProbeTimeout   time.Duration
	Logger         *slog.Logger
	DebugPaths     bool // if true, log full file paths; otherwise sanitise
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig(logger *slog.Logger) Config {
	return Config{
		FFmpegPath:     "ffmpeg",
		FFprobePath:    "ffprobe",
		CommandTimeout: 15 * time.Minute,
		ProbeTimeout:   30 * time.Second,
		Logger:         logger,
	}
}

// SubprocessRunner is the production implementation of Runner.
type SubprocessRunner struct {
	cfg     Config
	ffmpeg  string
	ffprobe string
}

// NewRunner resolves the tool paths. A missing tool is not an error here; it
// is reported by Doctor and fails the first command that needs it.
func NewRunner(cfg Config) *SubprocessRunner {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}
	r := &SubprocessRunner{
		cfg:     cfg,
		ffmpeg:  resolveBinary(cfg.FFmpegPath, "ffmpeg"),
		ffprobe: resolveBinary(cfg.FFprobePath, "ffprobe"),
	}
	cfg.Logger.Info("media runner initialised", "ffmpeg", r.ffmpeg, "ffprobe", r.ffprobe)
	return r
}

func (r *SubprocessRunner) FFmpeg(ctx context.Context, timeout time.Duration, args ...string) (RunResult, error) {
	if timeout <= 0 {
		timeout = r.cfg.CommandTimeout
	}
	return r.exec(ctx, timeout, r.ffmpeg, nil, args...)
}

func (r *SubprocessRunner) Probe(ctx context.Context, path string) (float64, error) {
	var out bytes.Buffer
	_, err := r.exec(ctx, r.cfg.ProbeTimeout, r.ffprobe, &limitedWriter{w: &out, limit: maxStdoutBytes},
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}
	return parseDuration(out.String())
}

// Doctor probes ffmpeg and ffprobe versions and the encoders assembly needs.
func (r *SubprocessRunner) Doctor(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{Encoders: map[string]bool{}}
	caps.FFmpeg = r.version(ctx, r.ffmpeg)
	caps.FFprobe = r.version(ctx, r.ffprobe)

	if caps.FFmpeg.Available {
		var out bytes.Buffer
		if _, err := r.exec(ctx, r.cfg.ProbeTimeout, r.ffmpeg, &limitedWriter{w: &out, limit: maxStdoutBytes}, "-hide_banner", "-encoders"); err == nil {
			listed := parseEncoders(out.String())
			for _, name := range requiredEncoders {
				caps.Encoders[name] = listed[name]
			}
		}
	}
	caps.ProbedAt = time.Now()

	r.cfg.Logger.Info("media doctor probe complete",
		"ffmpeg", caps.FFmpeg.Version,
		"ffprobe", caps.FFprobe.Version,
		"can_assemble", caps.CanAssemble(),
	)
	if !caps.FFmpeg.Available {
		return caps, fmt.Errorf("ffmpeg unavailable: %s", caps.FFmpeg.Error)
	}
	return caps, nil
}

func (r *SubprocessRunner) version(ctx context.Context, bin string) Binary {
	b := Binary{Path: bin}
	var out bytes.Buffer
	if _, err := r.exec(ctx, r.cfg.ProbeTimeout, bin, &limitedWriter{w: &out, limit: maxStdoutBytes}, "-version"); err != nil {
		b.Error = err.Error()
		return b
	}
	b.Available = true
	b.Version = parseVersion(out.String())
	return b
}

// exec is the core subprocess execution helper.
func (r *SubprocessRunner) exec(ctx context.Context, timeout time.Duration, bin string, stdout io.Writer, args ...string) (RunResult, error) {
	start := time.Now()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.WaitDelay = waitDelay

	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	cmd.Stdout = io.Discard
	if stdout != nil {
		cmd.Stdout = stdout
	}

	r.cfg.Logger.Debug("executing media command", "tool", toolName(bin), "args", r.safeArgs(args), "timeout", timeout)

	err := cmd.Run()
	result := RunResult{
		Args:       args,
		StderrTail: stderrBuf.String(),
		Duration:   time.Since(start),
	}
	if err == nil {
		r.cfg.Logger.Debug("media command succeeded", "tool", toolName(bin), "duration_ms", result.Duration.Milliseconds())
		return result, nil
	}

	result.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	}
	result.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)

	r.cfg.Logger.Warn("media command failed",
		"tool", toolName(bin),
		"exit_code", result.ExitCode,
		"timed_out", result.TimedOut,
		"duration_ms", result.Duration.Milliseconds(),
		"stderr_tail", truncate(result.StderrTail, 512),
	)
	return result, &CommandError{Tool: toolName(bin), Result: result, Err: err, ctxErr: ctx.Err()}
}

func (r *SubprocessRunner) safeArgs(args []string) []string {
	if r.cfg.DebugPaths {
		return args
	}
	out := make([]string, len(args))
	for i, a := range args {
		if strings.ContainsRune(a, '/') && !strings.Contains(a, "=") {
			a = logging.SanitizePath(a)
		}
		out[i] = a
	}
	return out
}

func resolveBinary(preferred, fallback string) string {
	if preferred == "" {
		preferred = fallback
	}
	if p, err := exec.LookPath(preferred); err == nil {
		return p
	}
	return preferred
}

// parseVersion extracts "6.1.1" from "ffmpeg version 6.1.1 Copyright ...".
func parseVersion(out string) string {
	line, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(line)
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return strings.TrimSpace(line)
}

// parseEncoders reads `ffmpeg -encoders` output, where each encoder line is
// " V....D libx264   description".
func parseEncoders(out string) map[string]bool {
	found := map[string]bool{}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		found[fields[1]] = true
	}
	return found
}

func parseDuration(out string) (float64, error) {
	s := strings.TrimSpace(out)
	if line, _, ok := strings.Cut(s, "\n"); ok {
		s = strings.TrimSpace(line)
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("unexpected ffprobe duration %q", s)
	}
	return d, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
