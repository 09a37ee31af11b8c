package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	SampleRate = 44100
	Channels   = 1
)

// AudioToWAV joins inputs in order into one 44.1 kHz mono PCM file.
func AudioToWAV(ctx context.Context, r Runner, timeout time.Duration, inputs []string, out string) error {
	if len(inputs) == 0 {
		return errors.New("no audio inputs")
	}
	if _, err := r.FFmpeg(ctx, timeout, wavArgs(inputs, out)...); err != nil {
		return fmt.Errorf("convert narration to wav: %w", err)
	}
	return nil
}

func wavArgs(inputs []string, out string) []string {
	args := []string{"-hide_banner", "-y"}
	for _, in := range inputs {
		args = append(args, "-i", in)
	}
	if len(inputs) > 1 {
		var labels strings.Builder
		for i := range inputs {
			fmt.Fprintf(&labels, "[%d:a]", i)
		}
		args = append(args, "-filter_complex", fmt.Sprintf("%sconcat=n=%d:v=0:a=1[a]", labels.String(), len(inputs)), "-map", "[a]")
	}
	return append(args,
		"-ar", fmt.Sprint(SampleRate),
		"-ac", fmt.Sprint(Channels),
		"-c:a", "pcm_s16le",
		out,
	)
}
