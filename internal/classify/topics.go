package classify

const (
	TopicAINews    = "ai_news"
	TopicListicle  = "listicle"
	TopicExplainer = "explainer"
)

type TopicConfig struct {
	TopicID      string
	Tone         string
	Style        string
	HookStyle    string
	ChapterCount int
	VisualStyle  string
}

var topicConfigs = map[string]TopicConfig{
	TopicAINews: {
		Tone:         "crisp",
		Style:        "current, lightly analytical",
		HookStyle:    "news_bulletin",
		ChapterCount: 5,
		VisualStyle:  "tech_focused",
	},
	TopicListicle: {
		Tone:         "energetic",
		Style:        "curiosity-driven, punchy",
		HookStyle:    "countdown",
		ChapterCount: 10,
		VisualStyle:  "dynamic",
	},
	TopicExplainer: {
		Tone:         "patient",
		Style:        "educator, plain language",
		HookStyle:    "question",
		ChapterCount: 5,
		VisualStyle:  "educational",
	},
}

// TopicFor returns the presentation settings for topic. Unknown topics get a
// neutral informative profile.
func TopicFor(topic string) TopicConfig {
	tc, ok := topicConfigs[topic]
	if !ok {
		tc = TopicConfig{Tone: "neutral", Style: "informative", HookStyle: "question", ChapterCount: 5}
	}
	tc.TopicID = topic
	return tc
}
