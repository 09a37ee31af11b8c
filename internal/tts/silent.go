package tts

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/clipmill/clipmill-agent/internal/content"
	"github.com/clipmill/clipmill-agent/internal/ffmpeg"
)

// Silent writes a silent track as long as the text would take to read at
// content.WordsPerMinute. It needs no network or external tools.
type Silent struct{}

func (Silent) Synthesize(ctx context.Context, text, out string) (*Result, error) {
	words := content.WordCount(text)
	if words == 0 {
		return nil, fmt.Errorf("no narration text")
	}
	duration := content.EstimateDuration(words).Seconds()
	if err := WriteSilentWAV(out, duration); err != nil {
		return nil, err
	}
	return &Result{Provider: ProviderSilent, Duration: duration, Chunks: 1, Characters: len(text)}, nil
}

// WriteSilentWAV writes seconds of 16-bit mono PCM silence at 44.1 kHz.
func WriteSilentWAV(path string, seconds float64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-wav-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	samples := int(seconds * ffmpeg.SampleRate)
	if err := writeWAV(w, samples); err == nil {
		err = w.Flush()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Rename(tmp.Name(), path)
}

func writeWAV(w io.Writer, samples int) error {
	const (
		bitsPerSample = 16
		blockAlign    = ffmpeg.Channels * bitsPerSample / 8
	)
	dataSize := uint32(samples * blockAlign)
	header := []any{
		[4]byte{'R', 'I', 'F', 'F'},
		36 + dataSize,
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16), // PCM chunk size
		uint16(1),  // PCM
		uint16(ffmpeg.Channels),
		uint32(ffmpeg.SampleRate),
		uint32(ffmpeg.SampleRate * blockAlign),
		uint16(blockAlign),
		uint16(bitsPerSample),
		[4]byte{'d', 'a', 't', 'a'},
		dataSize,
	}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	zero := make([]byte, 32*1024)
	for remaining := int(dataSize); remaining > 0; {
		n := min(remaining, len(zero))
		if _, err := w.Write(zero[:n]); err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}
