// Package tts turns narration text into a WAV file.
package tts

import (
	"context"
	"strings"
)

const (
	ProviderElevenLabs = "elevenlabs"
	ProviderSilent     = "silent"
)

// DefaultChunkChars is the longest text sent in one synthesis request.
const DefaultChunkChars = 5000

// Synthesizer writes narration audio for text to out.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, out string) (*Result, error)
}

type Result struct {
	Provider   string  `json:"provider"`
	Duration   float64 `json:"duration"`
	Chunks     int     `json:"chunks"`
	Characters int     `json:"characters"`
}

// SplitText breaks text into chunks of at most max characters, cutting at
// sentence ends where possible and at spaces otherwise.
func SplitText(text string, max int) []string {
	if max <= 0 {
		max = DefaultChunkChars
	}
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil
	}

	var chunks []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}
	for _, sentence := range sentences(text) {
		for len(sentence) > max {
			flush()
			cut := strings.LastIndex(sentence[:max], " ")
			if cut <= 0 {
				cut = max
			}
			chunks = append(chunks, strings.TrimSpace(sentence[:cut]))
			sentence = strings.TrimSpace(sentence[cut:])
		}
		if cur.Len() > 0 && cur.Len()+1+len(sentence) > max {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(sentence)
	}
	flush()
	return chunks
}

// sentences splits after '.', '!' or '?' followed by a space.
func sentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text)-1; i++ {
		switch text[i] {
		case '.', '!', '?':
			if text[i+1] == ' ' {
				out = append(out, text[start:i+1])
				start = i + 2
			}
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}
