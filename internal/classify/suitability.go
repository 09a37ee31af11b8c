package classify

import (
	"strings"

	"github.com/clipmill/clipmill-agent/internal/content"
)

// Suitability scores how usable p is for a video. It starts at 100 and
// subtracts for each problem; any issue makes the post unsuitable.
func Suitability(p *content.Post, bannedTerms, sensitiveTopics []string) content.Suitability {
	var issues, warnings []string
	score := 100

	switch n := len(p.Title); {
	case n < 20:
		issues = append(issues, "title too short")
		score -= 20
	case n > 200:
		warnings = append(warnings, "title very long")
		score -= 5
	}

	if len(p.Selftext) < 50 && (p.URL == "" || strings.Contains(p.URL, "reddit.com")) {
		issues = append(issues, "insufficient content")
		score -= 30
	}

	text := SearchText(p)
	if found := containsAny(text, bannedTerms); len(found) > 0 {
		issues = append(issues, "contains banned terms: "+strings.Join(found, ", "))
		score -= 50
	}
	if found := containsAny(text, sensitiveTopics); len(found) > 0 {
		warnings = append(warnings, "contains sensitive topics: "+strings.Join(found, ", "))
		score -= 15
	}

	if p.Score < 100 {
		warnings = append(warnings, "low engagement score")
		score -= 10
	}
	if p.UpvoteRatio > 0 && p.UpvoteRatio < 0.7 {
		warnings = append(warnings, "low upvote ratio")
		score -= 10
	}

	if score < 0 {
		score = 0
	}
	return content.Suitability{
		Suitable: score >= 50 && len(issues) == 0,
		Score:    score,
		Issues:   issues,
		Warnings: warnings,
	}
}

func containsAny(text string, terms []string) []string {
	var found []string
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && strings.Contains(text, t) {
			found = append(found, t)
		}
	}
	return found
}
