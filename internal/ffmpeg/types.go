// Package ffmpeg runs ffmpeg and ffprobe as bounded subprocesses and builds the
// final video from narration audio and b-roll clips.
package ffmpeg

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// RunResult is the structured outcome of one subprocess.
type RunResult struct {
	Args       []string      `json:"args"`
	ExitCode   int           `json:"exit_code"`
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
	TimedOut   bool          `json:"timed_out"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 && !r.TimedOut }

// CommandError reports a failed subprocess. It unwraps to the context error
// when the command was stopped by a deadline or cancellation, so a timeout is
// seen as a transient failure by callers.
type CommandError struct {
	Tool   string
	Result RunResult
	Err    error
	ctxErr error
}

func (e *CommandError) Error() string {
	if e.Result.TimedOut {
		return fmt.Sprintf("%s timed out after %s", e.Tool, e.Result.Duration.Round(time.Millisecond))
	}
	tail := strings.TrimSpace(truncate(e.Result.StderrTail, 512))
	if tail == "" {
		return fmt.Sprintf("%s exited %d: %v", e.Tool, e.Result.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s exited %d: %s", e.Tool, e.Result.ExitCode, tail)
}

func (e *CommandError) Unwrap() error {
	if e.ctxErr != nil {
		return e.ctxErr
	}
	return e.Err
}

// DurationError reports an assembled video whose length is outside the allowed
// tolerance around the narration length.
type DurationError struct {
	Want      float64
	Got       float64
	Tolerance time.Duration
}

func (e *DurationError) Error() string {
	return fmt.Sprintf("video duration %.2fs outside %.2fs ± %s", e.Got, e.Want, e.Tolerance)
}

// Capabilities is what the installed tools can do.
type Capabilities struct {
	FFmpeg   Binary          `json:"ffmpeg"`
	FFprobe  Binary          `json:"ffprobe"`
	Encoders map[string]bool `json:"encoders"`
	ProbedAt time.Time       `json:"probed_at"`
}

type Binary struct {
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CanAssemble reports whether every tool and encoder Assemble uses is present.
func (c *Capabilities) CanAssemble() bool {
	return c != nil && c.FFmpeg.Available && c.FFprobe.Available &&
		c.Encoders["libx264"] && c.Encoders["aac"]
}

// requiredEncoders are checked by the doctor probe.
var requiredEncoders = []string{"libx264", "aac"}

func toolName(bin string) string {
	return strings.TrimSuffix(filepath.Base(bin), ".exe")
}
