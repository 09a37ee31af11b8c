package content

import (
	"math"
	"strings"
	"time"
)

// WordsPerMinute is the narration pace used for duration estimates.
const WordsPerMinute = 165

// NarrationText returns the text read by the narrator.
func NarrationText(s *Script) string {
	parts := []string{s.Hook, s.Narration.Intro}
	for _, ch := range s.Narration.Chapters {
		heading := strings.TrimSpace(ch.Heading)
		if heading != "" && !strings.HasSuffix(heading, ".") {
			heading += "."
		}
		parts = append(parts, strings.TrimSpace(heading+" "+ch.Body))
	}
	parts = append(parts, s.Narration.Outro)
	return strings.Join(nonEmpty(parts), "\n\n")
}

func WordCount(text string) int {
	return len(strings.Fields(text))
}

// EstimateDuration converts a word count to speaking time.
func EstimateDuration(words int) time.Duration {
	if words <= 0 {
		return 0
	}
	secs := float64(words) / WordsPerMinute * 60
	return time.Duration(math.Round(secs*1000)) * time.Millisecond
}

// TargetWords is the word budget for a narration of the given length.
func TargetWords(minutes float64) int {
	return int(math.Round(minutes * WordsPerMinute))
}

// chapterOffsets returns the estimated start of each chapter.
func chapterOffsets(s *Script) []time.Duration {
	elapsed := WordCount(s.Hook) + WordCount(s.Narration.Intro)
	out := make([]time.Duration, len(s.Narration.Chapters))
	for i, ch := range s.Narration.Chapters {
		out[i] = EstimateDuration(elapsed)
		elapsed += WordCount(ch.Heading) + WordCount(ch.Body)
	}
	return out
}
