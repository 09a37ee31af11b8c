// Package classify assigns a topic to a source post using keyword rules with
// a subreddit fallback.
package classify

import (
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/clipmill/clipmill-agent/internal/content"
	"github.com/clipmill/clipmill-agent/internal/logging"
)

const (
	MethodRuleBased = "rule_based"
	MethodSubreddit = "subreddit"
	MethodDefault   = "default"

	// score at which a keyword match is treated as certain
	maxRuleScore = 20.0

	confidentThreshold = 0.7
	minConfidence      = 0.5
	defaultConfidence  = 0.4
	exactSubreddit     = 0.8
	partialSubreddit   = 0.6
)

// Rule is the keyword set for one topic.
type Rule struct {
	Topic    string
	Keywords []string
}

var DefaultRules = []Rule{
	{Topic: "ai_news", Keywords: []string{
		"ai", "artificial intelligence", "machine learning", "neural network", "openai", "gpt",
		"chatgpt", "llm", "deep learning", "model", "robot", "automation", "algorithm",
	}},
	{Topic: "listicle", Keywords: []string{
		"top", "best", "worst", "most", "list", "ranked", "facts", "things", "ways", "reasons",
		"amazing", "incredible", "til", "today i learned",
	}},
	{Topic: "explainer", Keywords: []string{
		"how", "why", "what", "explain", "eli5", "understand", "science", "works", "history",
		"theory", "question", "research",
	}},
}

var DefaultSubreddits = map[string][]string{
	"ai_news":   {"artificialintelligence", "machinelearning", "openai", "singularity", "technology"},
	"listicle":  {"todayilearned", "interestingasfuck", "mildlyinteresting", "dataisbeautiful", "coolguides"},
	"explainer": {"explainlikeimfive", "askscience", "askreddit", "nostupidquestions", "outoftheloop"},
}

type Classifier struct {
	defaultTopic string
	patterns     []topicPattern
	subreddits   map[string][]string
	logger       *slog.Logger
}

type topicPattern struct {
	topic string
	re    *regexp.Regexp
}

func New(rules []Rule, subreddits map[string][]string, defaultTopic string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = logging.Discard()
	}
	if defaultTopic == "" {
		defaultTopic = TopicExplainer
	}
	if rules == nil {
		rules = DefaultRules
	}
	if subreddits == nil {
		subreddits = DefaultSubreddits
	}
	c := &Classifier{
		defaultTopic: defaultTopic,
		subreddits:   subreddits,
		logger:       logging.WithComponent(logger, "classify"),
	}
	for _, r := range rules {
		if len(r.Keywords) == 0 {
			continue
		}
		alts := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			alts = append(alts, regexp.QuoteMeta(strings.ToLower(kw)))
		}
		re := regexp.MustCompile(`\b(?:` + strings.Join(alts, "|") + `)\b`)
		c.patterns = append(c.patterns, topicPattern{topic: r.Topic, re: re})
	}
	return c
}

// Classify picks the topic for p. Keyword rules win outright above 0.7
// confidence; otherwise the subreddit mapping may override them, and anything
// still below 0.5 falls back to the default topic at 0.4.
func (c *Classifier) Classify(p *content.Post) content.Classification {
	topic, conf := c.byKeywords(SearchText(p))
	method := MethodRuleBased

	if conf <= confidentThreshold {
		if subTopic, subConf := c.bySubreddit(p.Subreddit); subConf > conf {
			topic, conf, method = subTopic, subConf, MethodSubreddit
		}
		if conf < minConfidence {
			topic, conf, method = c.defaultTopic, defaultConfidence, MethodDefault
		}
	}

	tc := TopicFor(topic)
	c.logger.Info("post classified", "post_id", p.ID, "topic", topic, "confidence", conf, "method", method)
	return content.Classification{
		TopicID:      topic,
		Confidence:   conf,
		Method:       method,
		Tone:         tc.Tone,
		Style:        tc.Style,
		ChapterCount: tc.ChapterCount,
	}
}

// SearchText is the lower-cased text the keyword rules run over. The title is
// repeated three times to weight it.
func SearchText(p *content.Post) string {
	var parts []string
	if p.Title != "" {
		parts = append(parts, p.Title, p.Title, p.Title)
	}
	if p.Selftext != "" {
		parts = append(parts, p.Selftext)
	}
	if p.Subreddit != "" {
		parts = append(parts, "subreddit: "+p.Subreddit)
	}
	if p.Flair != "" {
		parts = append(parts, "flair: "+p.Flair)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func (c *Classifier) byKeywords(text string) (string, float64) {
	type match struct {
		topic string
		score float64
	}
	var matches []match
	for _, tp := range c.patterns {
		found := tp.re.FindAllString(text, -1)
		if len(found) == 0 {
			continue
		}
		unique := make(map[string]struct{}, len(found))
		for _, f := range found {
			unique[f] = struct{}{}
		}
		matches = append(matches, match{
			topic: tp.topic,
			score: float64(len(found))*0.7 + float64(len(unique))*0.3,
		})
	}
	if len(matches) == 0 {
		return c.defaultTopic, 0.3
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	return matches[0].topic, math.Min(matches[0].score/maxRuleScore, 1.0)
}

func (c *Classifier) bySubreddit(subreddit string) (string, float64) {
	sub := strings.ToLower(strings.TrimSpace(subreddit))
	if sub == "" {
		return c.defaultTopic, 0.3
	}
	topics := make([]string, 0, len(c.subreddits))
	for t := range c.subreddits {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	for _, t := range topics {
		for _, s := range c.subreddits[t] {
			if s == sub {
				return t, exactSubreddit
			}
		}
	}
	for _, t := range topics {
		for _, s := range c.subreddits[t] {
			if strings.Contains(sub, s) || strings.Contains(s, sub) {
				return t, partialSubreddit
			}
		}
	}
	return c.defaultTopic, 0.3
}
