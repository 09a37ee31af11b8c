package export

import (
	"strings"
	"testing"

	"github.com/clipmill/clipmill-agent/internal/content"
)

func TestEDL_SingleEvent(t *testing.T) {
	events := []Event{{
		ClipName:  "Intro",
		MediaPath: "/media/intro.mp4",
		SourceOut: 2,
		RecordOut: 2,
	}}

	edl := EDL(events, "Project One", 30.0)

	if !strings.Contains(edl, "TITLE: Project One") {
		t.Fatalf("missing title in EDL: %q", edl)
	}
	if !strings.Contains(edl, "FCM: NON-DROP FRAME") {
		t.Fatalf("missing non-drop-frame FCM: %q", edl)
	}
	if !strings.Contains(edl, "001  AX       V     C        00:00:00:00 00:00:02:00 00:00:00:00 00:00:02:00") {
		t.Fatalf("missing event line: %q", edl)
	}
	if !strings.Contains(edl, "* FROM CLIP NAME:  Intro") {
		t.Fatalf("missing clip name comment: %q", edl)
	}
	if !strings.Contains(edl, "* MEDIA PATH:  /media/intro.mp4") {
		t.Fatalf("missing media path comment: %q", edl)
	}
}

func TestEDL_DropFrame(t *testing.T) {
	edl := EDL([]Event{{ClipName: "Clip", MediaPath: "/x.mp4", SourceOut: 1, RecordOut: 1}}, "Drop", 29.97)

	if !strings.Contains(edl, "FCM: DROP FRAME") {
		t.Fatalf("expected drop frame FCM, got: %q", edl)
	}
}

func TestEvents_FromShotlist(t *testing.T) {
	shots := &content.Shotlist{FPS: 30, Beats: []content.Beat{
		{TStart: 0, TEnd: 4, Transition: "cut"},
		{TStart: 4, TEnd: 9.5, Transition: "crossfade"},
		{TStart: 9.5, TEnd: 12, Transition: "crossfade"},
	}}
	clips := []content.Clip{
		{ID: "101", Provider: "pexels", Keyword: "octopus", Path: "/jobs/j1/clips/101.mp4"},
		{ID: "202", Provider: "pixabay", Keyword: "coral reef", Path: "/jobs/j1/clips/202.mp4"},
	}

	events := Events(shots, clips)
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2 (one clip per beat)", len(events))
	}
	if events[1].ClipName != "pixabay 202 coral reef" {
		t.Errorf("ClipName = %q", events[1].ClipName)
	}
	if events[1].RecordIn != 4 || events[1].SourceOut != 5.5 {
		t.Errorf("event = %+v", events[1])
	}

	edl := EDL(events, "Octopus: three hearts", 30)
	if !strings.Contains(edl, "TITLE: Octopus_ three hearts") {
		t.Errorf("title not sanitized: %q", edl)
	}
	if !strings.Contains(edl, "002  AX       V     D 015    00:00:00:00 00:00:05:15 00:00:04:00 00:00:09:15") {
		t.Errorf("dissolve event mismatch: %q", edl)
	}
}

func TestTimecode(t *testing.T) {
	tests := []struct {
		name    string
		seconds float64
		fps     int
		want    string
	}{
		{name: "zero", seconds: 0, fps: 30, want: "00:00:00:00"},
		{name: "one second", seconds: 1, fps: 30, want: "00:00:01:00"},
		{name: "fractional second", seconds: 0.5, fps: 30, want: "00:00:00:15"},
		{name: "one minute", seconds: 60, fps: 30, want: "00:01:00:00"},
		{name: "one hour", seconds: 3600, fps: 30, want: "01:00:00:00"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := timecode(tc.seconds, tc.fps)
			if got != tc.want {
				t.Fatalf("timecode(%v, %d) = %q, want %q", tc.seconds, tc.fps, got, tc.want)
			}
		})
	}
}
