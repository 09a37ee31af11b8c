package policy

import (
	"strings"
	"testing"

	"github.com/clipmill/clipmill-agent/internal/content"
	"github.com/clipmill/clipmill-agent/internal/pipeline"
)

func script() *content.Script {
	return &content.Script{
		Version: content.ScriptSchema,
		Title:   "How tides work",
		Hook:    "The moon pulls the sea.",
		Narration: content.Narration{
			Intro:    "Tides are regular.",
			Chapters: []content.Chapter{{ID: 1, Heading: "Gravity", Body: "The moon and sun both pull."}},
			Outro:    "Thanks.",
		},
		BrollKeywords: []string{"ocean"},
		Disclaimers:   []string{},
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*content.Script)
		approved bool
		reason   string
	}{
		{"clean", func(*content.Script) {}, true, ""},
		{"checklist flag", func(s *content.Script) { s.PolicyChecklist.NSFW = true }, false, "checklist: nsfw"},
		{"banned term in body", func(s *content.Script) { s.Narration.Chapters[0].Body = "Buy this Crypto coin now" }, false, "banned term: crypto"},
		{"banned term in keywords", func(s *content.Script) { s.BrollKeywords = []string{"crypto chart"} }, false, "banned term: crypto"},
		{"substring is not a match", func(s *content.Script) { s.Hook = "cryptography is old" }, true, ""},
	}
	c := NewChecker([]string{"crypto", " "})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := script()
			tt.mutate(s)
			report, err := c.Check(s, false, 0)
			if report.Approved != tt.approved {
				t.Fatalf("Approved = %v, reasons %v", report.Approved, report.Reasons)
			}
			if tt.approved {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if pipeline.KindOf(err) != pipeline.KindPolicyRejected {
				t.Errorf("kind = %s, want policy_rejected", pipeline.KindOf(err))
			}
			if !strings.Contains(strings.Join(report.Reasons, ","), tt.reason) {
				t.Errorf("reasons = %v, want %q", report.Reasons, tt.reason)
			}
		})
	}
}

func TestSafeInput(t *testing.T) {
	c := NewChecker([]string{"crypto"})
	p := &content.Post{ID: "x1", Title: "Why  CRYPTO  crashed", Selftext: "long story", URL: "http://x", Over18: true, Subreddit: "news"}

	safe := c.SafeInput(p)
	if safe.Title != "Why [removed] crashed" {
		t.Errorf("Title = %q", safe.Title)
	}
	if safe.Selftext != "" || safe.URL != "" || safe.Over18 {
		t.Errorf("safe input kept unsafe fields: %+v", safe)
	}
	if safe.ID != "x1" || safe.Subreddit != "news" {
		t.Errorf("identity fields lost: %+v", safe)
	}
	if p.Selftext != "long story" {
		t.Error("SafeInput modified the original post")
	}
}
