package content

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// MetadataOptions carries the channel-level values that are not in the script.
type MetadataOptions struct {
	CategoryID   string
	Language     string
	ChannelName  string
	TitleSuffix  []string
	DefaultTags  []string
	SourceCredit string
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "is": true, "are": true, "was": true, "this": true,
	"that": true, "it": true, "its": true, "from": true, "as": true, "be": true,
}

var genericTags = []string{
	"explained", "story", "facts", "did you know", "reddit", "interesting",
	"learn something new", "documentary", "deep dive", "storytime",
}

var titleFillers = []string{" | Explained", " - The Full Story", " Today", " Now"}

// categoryForTopic maps topics to YouTube category ids.
var categoryForTopic = map[string]string{
	"news":      "25",
	"listicle":  "24",
	"explainer": "27",
	"history":   "27",
	"science":   "28",
	"story":     "24",
}

// BuildMetadata derives metadata.v1 from a validated script.
func BuildMetadata(s *Script, topicID string, opts MetadataOptions) *Metadata {
	category := opts.CategoryID
	if category == "" {
		category = categoryForTopic[topicID]
	}
	if category == "" {
		category = "27"
	}
	lang := opts.Language
	if lang == "" {
		lang = "en"
	}

	m := &Metadata{
		Version:       MetadataSchema,
		Title:         FitTitle(s.Title, opts.TitleSuffix),
		Description:   buildDescription(s, opts),
		Tags:          BuildTags(s, topicID, opts.DefaultTags),
		CategoryID:    category,
		Language:      lang,
		MadeForKids:   false,
		ThumbnailText: ThumbnailText(s.Title),
	}
	return m
}

// FitTitle returns title adjusted to TitleMin..TitleMax characters.
func FitTitle(title string, suffixes []string) string {
	t := strings.Join(strings.Fields(title), " ")
	if t == "" {
		t = "An Incredible Story"
	}
	if utf8.RuneCountInString(t) > TitleMax {
		t = truncateWords(t, TitleMax-3) + "..."
	}
	candidates := append(append([]string{}, suffixes...), titleFillers...)
	for _, s := range candidates {
		if utf8.RuneCountInString(t) >= TitleMin {
			break
		}
		if utf8.RuneCountInString(t)+utf8.RuneCountInString(s) <= TitleMax {
			t += s
		}
	}
	for utf8.RuneCountInString(t) < TitleMin {
		t += "!"
	}
	return t
}

func truncateWords(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	cut := string(runes[:max])
	if i := strings.LastIndex(cut, " "); i > max/2 {
		cut = cut[:i]
	}
	return strings.TrimRightFunc(cut, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
}

// BuildTags collects 10-20 unique lower-case tags.
func BuildTags(s *Script, topicID string, defaults []string) []string {
	seen := make(map[string]bool)
	var tags []string
	add := func(tag string) {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] || len(tags) >= TagsMax {
			return
		}
		seen[tag] = true
		tags = append(tags, tag)
	}

	if topicID != "" {
		add(topicID)
	}
	for _, k := range s.BrollKeywords {
		add(k)
	}
	for _, w := range importantWords(s.Title, 8) {
		add(w)
	}
	for _, ch := range s.Narration.Chapters {
		add(ch.Heading)
	}
	for _, t := range defaults {
		add(t)
	}
	for _, t := range genericTags {
		if len(tags) >= TagsMin {
			break
		}
		add(t)
	}
	return tags
}

func buildDescription(s *Script, opts MetadataOptions) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(s.Hook))
	b.WriteString("\n\n")

	b.WriteString("Chapters:\n00:00 Intro\n")
	for i, off := range chapterOffsets(s) {
		ch := s.Narration.Chapters[i]
		fmt.Fprintf(&b, "%s %s\n", formatTimestamp(off), strings.TrimSpace(ch.Heading))
	}

	if len(s.Disclaimers) > 0 {
		b.WriteString("\n")
		for _, d := range nonEmpty(s.Disclaimers) {
			b.WriteString(d)
			b.WriteString("\n")
		}
	}
	if opts.SourceCredit != "" {
		b.WriteString("\nSource: ")
		b.WriteString(opts.SourceCredit)
		b.WriteString("\n")
	}
	if opts.ChannelName != "" {
		fmt.Fprintf(&b, "\nSubscribe to %s for more.\n", opts.ChannelName)
	}

	desc := strings.TrimSpace(b.String())
	if utf8.RuneCountInString(desc) > MaxDescription {
		desc = string([]rune(desc)[:MaxDescription-3]) + "..."
	}
	return desc
}

func formatTimestamp(d time.Duration) string {
	secs := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

// ThumbnailText picks up to five important title words, upper-cased.
func ThumbnailText(title string) string {
	words := importantWords(title, 5)
	if len(words) == 0 {
		return strings.ToUpper(strings.TrimSpace(title))
	}
	return strings.ToUpper(strings.Join(words, " "))
}

func importantWords(title string, max int) []string {
	var out []string
	for _, w := range strings.Fields(title) {
		clean := strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if utf8.RuneCountInString(clean) <= 2 || stopWords[strings.ToLower(clean)] {
			continue
		}
		out = append(out, clean)
		if len(out) == max {
			break
		}
	}
	return out
}
