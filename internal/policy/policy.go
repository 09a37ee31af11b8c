// Package policy decides whether a generated script may be narrated and
// published.
package policy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/clipmill/clipmill-agent/internal/content"
	"github.com/clipmill/clipmill-agent/internal/pipeline"
)

const mask = "[removed]"

type Checker struct {
	banned []*regexp.Regexp
	terms  []string
}

// NewChecker compiles the banned terms into case-insensitive whole-word matchers.
// Blank terms are ignored.
func NewChecker(bannedTerms []string) *Checker {
	c := &Checker{}
	for _, term := range bannedTerms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		c.terms = append(c.terms, term)
		c.banned = append(c.banned, termPattern(term))
	}
	return c
}

func termPattern(term string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
}

// Check reviews s. The report is always returned; the error is a
// policy_rejected error when the script must not proceed.
func (c *Checker) Check(s *content.Script, safeMode bool, rejections int) (content.PolicyReport, error) {
	report := content.PolicyReport{
		Checklist:  s.PolicyChecklist,
		SafeMode:   safeMode,
		Rejections: rejections,
	}
	for _, flag := range s.PolicyChecklist.Flagged() {
		report.Reasons = append(report.Reasons, "checklist: "+flag)
	}
	for _, term := range c.Found(scriptText(s)) {
		report.Reasons = append(report.Reasons, "banned term: "+term)
	}
	if len(report.Reasons) > 0 {
		return report, pipeline.PolicyRejected(fmt.Errorf("script rejected: %s", strings.Join(report.Reasons, "; ")))
	}
	report.Approved = true
	return report, nil
}

// Found returns the banned terms present in text, sorted.
func (c *Checker) Found(text string) []string {
	var out []string
	for i, re := range c.banned {
		if re.MatchString(text) {
			out = append(out, c.terms[i])
		}
	}
	sort.Strings(out)
	return out
}

// Mask replaces every banned term in text.
func (c *Checker) Mask(text string) string {
	for _, re := range c.banned {
		text = re.ReplaceAllString(text, mask)
	}
	return text
}

// SafeInput is the fallback source used after a rejection: only the title
// survives, with banned terms masked, and the post is marked as not over 18.
func (c *Checker) SafeInput(p *content.Post) *content.Post {
	safe := *p
	safe.Title = strings.Join(strings.Fields(c.Mask(p.Title)), " ")
	safe.Selftext = ""
	safe.URL = ""
	safe.Flair = ""
	safe.Over18 = false
	return &safe
}

func scriptText(s *content.Script) string {
	parts := []string{s.Title, content.NarrationText(s)}
	parts = append(parts, s.BrollKeywords...)
	return strings.Join(parts, "\n")
}
