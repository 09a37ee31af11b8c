package content

import (
	"fmt"
	"math"
)

var defaultAvoid = []string{"logos", "on-screen text", "recognizable faces"}

var moodForTone = map[string]string{
	"urgent":      "tense",
	"informative": "calm",
	"energetic":   "upbeat",
	"dramatic":    "cinematic",
}

// BuildShotlist lays clips end to end over duration seconds. Each beat is tied
// to the narration section playing at that point.
func BuildShotlist(s *Script, clips []Clip, duration float64, fps int, tone string) *Shotlist {
	mood := moodForTone[tone]
	if mood == "" {
		mood = "neutral"
	}
	sl := &Shotlist{Version: ShotlistSchema, FPS: fps, MusicMood: mood}
	if len(clips) == 0 || duration <= 0 {
		return sl
	}

	refs := sectionBounds(s, duration)
	per := duration / float64(len(clips))
	for i, c := range clips {
		start := round2(per * float64(i))
		end := round2(per * float64(i+1))
		if i == len(clips)-1 {
			end = round2(duration)
		}
		transition := "crossfade"
		if i == 0 {
			transition = "cut"
		}
		sl.Beats = append(sl.Beats, Beat{
			TStart:       start,
			TEnd:         end,
			NarrationRef: refAt(refs, start),
			VisualPrompt: c.Keyword,
			Avoid:        defaultAvoid,
			Transition:   transition,
		})
	}
	return sl
}

type sectionBound struct {
	ref   string
	start float64
}

func sectionBounds(s *Script, duration float64) []sectionBound {
	total := WordCount(NarrationText(s))
	if total == 0 {
		return []sectionBound{{ref: "intro"}}
	}
	scale := duration / float64(total)
	bounds := []sectionBound{{ref: "intro", start: 0}}
	elapsed := WordCount(s.Hook) + WordCount(s.Narration.Intro)
	for _, ch := range s.Narration.Chapters {
		bounds = append(bounds, sectionBound{ref: fmt.Sprintf("chapter:%d", ch.ID), start: float64(elapsed) * scale})
		elapsed += WordCount(ch.Heading) + WordCount(ch.Body)
	}
	bounds = append(bounds, sectionBound{ref: "outro", start: float64(elapsed) * scale})
	return bounds
}

func refAt(bounds []sectionBound, t float64) string {
	ref := bounds[0].ref
	for _, b := range bounds {
		if b.start <= t+0.001 {
			ref = b.ref
		}
	}
	return ref
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
