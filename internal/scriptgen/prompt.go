package scriptgen

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/clipmill/clipmill-agent/internal/classify"
	"github.com/clipmill/clipmill-agent/internal/content"
	"github.com/clipmill/clipmill-agent/internal/llm"
)

const maxPromptSelftext = 2000

const systemPrompt = `You write narration scripts for a faceless explainer video channel.
Reply with a single JSON object in the script.v1 format and nothing else:
{"version":"script.v1","title":string,"hook":string,
 "narration":{"intro":string,"chapters":[{"id":int,"heading":string,"body":string}],"outro":string},
 "broll_keywords":[string],"disclaimers":[string],
 "policy_checklist":{"copyright_risk":bool,"medical_or_financial_claims":bool,"nsfw":bool,"shocking_or_graphic":bool}}
Keep the content PG-13. Set a policy_checklist field to true when the script needs it.
The title must be at most 100 characters. Chapter ids start at 1.`

type promptInput struct {
	TopicID       string      `json:"topic_id"`
	TargetMinutes float64     `json:"target_minutes"`
	TargetWords   int         `json:"target_words"`
	ChapterCount  int         `json:"chapter_count"`
	Source        promptPost  `json:"source"`
	Brand         promptBrand `json:"brand"`
	OutputFormat  string      `json:"output_format"`
}

type promptPost struct {
	Title      string `json:"title"`
	Selftext   string `json:"selftext"`
	URL        string `json:"url,omitempty"`
	Subreddit  string `json:"subreddit"`
	CapturedAt string `json:"captured_at,omitempty"`
}

type promptBrand struct {
	ChannelName string   `json:"channel_name"`
	Tone        string   `json:"tone"`
	StyleNotes  string   `json:"style_notes"`
	HookStyle   string   `json:"hook_style"`
	BannedTerms []string `json:"banned_terms"`
}

func (g *Generator) prompt(p *content.Post, topic classify.TopicConfig) ([]llm.Message, error) {
	selftext := p.Selftext
	if len(selftext) > maxPromptSelftext {
		selftext = selftext[:maxPromptSelftext]
	}
	in := promptInput{
		TopicID:       topic.TopicID,
		TargetMinutes: g.opts.TargetMinutes,
		TargetWords:   content.TargetWords(g.opts.TargetMinutes),
		ChapterCount:  topic.ChapterCount,
		Source: promptPost{
			Title:     p.Title,
			Selftext:  selftext,
			URL:       p.URL,
			Subreddit: p.Subreddit,
		},
		Brand: promptBrand{
			ChannelName: g.opts.ChannelName,
			Tone:        topic.Tone,
			StyleNotes:  topic.Style,
			HookStyle:   topic.HookStyle,
			BannedTerms: g.opts.BannedTerms,
		},
		OutputFormat: content.ScriptSchema,
	}
	if !p.CapturedAt.IsZero() {
		in.Source.CapturedAt = p.CapturedAt.UTC().Format(time.RFC3339)
	}
	if in.Brand.BannedTerms == nil {
		in.Brand.BannedTerms = []string{}
	}
	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return []llm.Message{llm.System(systemPrompt), llm.User(string(data))}, nil
}

func repairPrompt(err error) string {
	var b strings.Builder
	b.WriteString("Your previous reply is not a valid script.v1 document. Problems:\n")
	var ve *content.ValidationError
	if errors.As(err, &ve) {
		for _, p := range ve.Problems {
			b.WriteString("- ")
			b.WriteString(p)
			b.WriteString("\n")
		}
	} else {
		b.WriteString("- ")
		b.WriteString(err.Error())
		b.WriteString("\n")
	}
	b.WriteString("Reply with the corrected JSON object only.")
	return b.String()
}
