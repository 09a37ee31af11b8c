package scriptgen

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/clipmill/clipmill-agent/internal/classify"
	"github.com/clipmill/clipmill-agent/internal/content"
)

// words reserved for hook, intro and outro
const frameWords = 250

var leadingNumber = regexp.MustCompile(`\d+`)

var padding = []string{
	"This is particularly interesting when you consider the broader implications.",
	"Experts in the field have noted the significance of this development.",
	"The data shows a clear trend that supports this conclusion.",
	"Many people don't realize how important this actually is.",
	"Let's take a moment to understand what this really means.",
}

var (
	newsHeadings      = []string{"The Announcement", "Key Features", "Industry Impact", "Expert Analysis", "What's Next"}
	explainerHeadings = []string{"The Basics", "How It Works", "Real-World Examples", "Common Misconceptions", "Key Takeaways"}
)

// FromTemplate builds a script without a language model, shaped by the topic.
func FromTemplate(p *content.Post, topic classify.TopicConfig, targetWords int) *content.Script {
	title := truncateRunes(strings.TrimSpace(p.Title), content.MaxScriptTitle)
	if title == "" {
		title = "Something Worth Knowing"
	}
	lower := strings.ToLower(title)

	chapters := topic.ChapterCount
	if chapters <= 0 {
		chapters = 5
	}
	s := &content.Script{Version: content.ScriptSchema, Title: title, Disclaimers: []string{}}

	switch topic.TopicID {
	case classify.TopicListicle:
		if m := leadingNumber.FindString(title); m != "" {
			if n, err := strconv.Atoi(m); err == nil && n > 0 {
				chapters = min(n, 10)
			}
		}
		perChapter := wordsPerChapter(targetWords, chapters)
		s.Hook = fmt.Sprintf("You won't believe number %d! Today we're counting down %s. Let's dive right in!", max(chapters/2, 1), lower)
		s.Narration.Intro = title + " has captured everyone's attention. We've researched the most fascinating aspects to bring you this countdown. " +
			"Make sure to watch until the end for the most amazing one!"
		for i := 0; i < chapters; i++ {
			s.Narration.Chapters = append(s.Narration.Chapters, content.Chapter{
				ID:      i + 1,
				Heading: fmt.Sprintf("Number %d", chapters-i),
				Body:    chapterBody(p, i, perChapter),
			})
		}
		s.Narration.Outro = "That wraps up our countdown! Which one surprised you the most? Let us know in the comments below, and subscribe for more."
		s.BrollKeywords = []string{"countdown", "numbers", "facts", "discovery", "amazing"}

	case classify.TopicAINews:
		chapters = min(chapters, len(newsHeadings))
		perChapter := wordsPerChapter(targetWords, chapters)
		s.Hook = fmt.Sprintf("Breaking developments today: %s. Here's what you need to know right now.", title)
		s.Narration.Intro = fmt.Sprintf("In today's tech news, %s. Industry experts are already weighing in on the implications. "+
			"Let's break down what this means for you and what to expect next.", lower)
		for i := 0; i < chapters; i++ {
			s.Narration.Chapters = append(s.Narration.Chapters, content.Chapter{
				ID:      i + 1,
				Heading: newsHeadings[i],
				Body:    chapterBody(p, i, perChapter),
			})
		}
		s.Narration.Outro = "That's all for today's update. This story is developing rapidly, so subscribe for the latest. Thanks for watching!"
		s.BrollKeywords = []string{"technology", "innovation", "future", "digital", "breakthrough"}
		s.Disclaimers = []string{"Information based on current reports and may be subject to change."}

	default:
		chapters = min(chapters, len(explainerHeadings))
		perChapter := wordsPerChapter(targetWords, chapters)
		s.Hook = fmt.Sprintf("Ever wondered about %s? Today we'll explain it in simple terms that anyone can understand.", lower)
		s.Narration.Intro = fmt.Sprintf("Welcome! Today's topic is %s. We'll break this down step by step, using everyday examples. "+
			"No technical background required, so let's get started!", lower)
		for i := 0; i < chapters; i++ {
			s.Narration.Chapters = append(s.Narration.Chapters, content.Chapter{
				ID:      i + 1,
				Heading: explainerHeadings[i],
				Body:    chapterBody(p, i, perChapter),
			})
		}
		s.Narration.Outro = "And that's the complete explanation! If you have questions, drop them in the comments. Thanks for learning with us today!"
		s.BrollKeywords = []string{"education", "learning", "explanation", "diagram", "concept"}
	}
	return s
}

func wordsPerChapter(target, chapters int) int {
	if chapters <= 0 {
		return 0
	}
	return max((target-frameWords)/chapters, 20)
}

// chapterBody starts from the first sentences of the post and pads toward the
// word target.
func chapterBody(p *content.Post, index, target int) string {
	var sentences []string
	for _, s := range strings.Split(p.Selftext, ".") {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
		if len(sentences) == 3 {
			break
		}
	}
	body := fmt.Sprintf("This is fascinating point number %d.", index+1)
	if len(sentences) > 0 {
		body = strings.Join(sentences, ". ") + "."
	}
	for i := 0; content.WordCount(body) < target && i < len(padding); i++ {
		body += " " + padding[(index+i)%len(padding)]
	}
	return body
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}
