// Package export renders the assembled timeline as a CMX3600 edit decision
// list so the cut can be reopened in an editor.
package export

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/clipmill/clipmill-agent/internal/content"
)

// Event is one record-side segment of the timeline.
type Event struct {
	ClipName   string
	MediaPath  string
	SourceIn   float64
	SourceOut  float64
	RecordIn   float64
	RecordOut  float64
	Transition string
}

// Events pairs each shotlist beat with the clip that fills it. Beats without
// a matching clip are dropped.
func Events(shots *content.Shotlist, clips []content.Clip) []Event {
	if shots == nil {
		return nil
	}
	n := min(len(shots.Beats), len(clips))
	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		b, c := shots.Beats[i], clips[i]
		length := b.TEnd - b.TStart
		if length <= 0 {
			continue
		}
		events = append(events, Event{
			ClipName:   SanitizeName(c.Provider+" "+c.ID+" "+c.Keyword, 64),
			MediaPath:  filepath.ToSlash(c.Path),
			SourceIn:   0,
			SourceOut:  length,
			RecordIn:   b.TStart,
			RecordOut:  b.TEnd,
			Transition: b.Transition,
		})
	}
	return events
}

// EDL renders events at frameRate. 29.97 and 59.94 are written as drop frame.
func EDL(events []Event, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}
	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", SanitizeName(title, 70))}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	for i, ev := range events {
		edit := "C"
		if ev.Transition == "crossfade" && i > 0 {
			edit = "D 015"
		}
		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s %-8s %s %s %s %s", i+1, "AX", "V", edit,
				timecode(ev.SourceIn, fps), timecode(ev.SourceOut, fps),
				timecode(ev.RecordIn, fps), timecode(ev.RecordOut, fps)),
			fmt.Sprintf("* FROM CLIP NAME:  %s", ev.ClipName),
			fmt.Sprintf("* MEDIA PATH:  %s", ev.MediaPath),
		)
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func timecode(seconds float64, fps int) string {
	totalFrames := int(math.Round(seconds * float64(fps)))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	secs := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, secs, frames)
}
