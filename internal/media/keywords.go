package media

import (
	"strings"
	"unicode"

	"github.com/clipmill/clipmill-agent/internal/content"
)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "with": true,
	"this": true, "that": true, "what": true, "why": true, "how": true, "your": true,
}

// Keywords builds the strict search terms for a script: its b-roll keywords,
// then up to five title words longer than three letters, then up to two
// heading words longer than four letters per chapter. Duplicates are dropped.
func Keywords(s *content.Script) []string {
	var out []string
	seen := map[string]bool{}
	add := func(kw string) {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && !seen[kw] {
			seen[kw] = true
			out = append(out, kw)
		}
	}

	for _, kw := range s.BrollKeywords {
		add(kw)
	}
	n := 0
	for _, w := range words(s.Title) {
		if n == 5 {
			break
		}
		if len(w) > 3 && !stopWords[w] {
			add(w)
			n++
		}
	}
	for _, ch := range s.Narration.Chapters {
		n := 0
		for _, w := range words(ch.Heading) {
			if n == 2 {
				break
			}
			if len(w) > 4 && !stopWords[w] {
				add(w)
				n++
			}
		}
	}
	return out
}

// Relax splits multi-word keywords into their significant single words.
func Relax(keywords []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, kw := range keywords {
		for _, w := range words(kw) {
			if len(w) > 3 && !stopWords[w] && !seen[w] {
				seen[w] = true
				out = append(out, w)
			}
		}
	}
	return out
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
}
