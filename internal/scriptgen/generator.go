// Package scriptgen produces script.v1 documents, either from a language model
// with a bounded validate-and-repair loop or from built-in templates.
package scriptgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/clipmill/clipmill-agent/internal/classify"
	"github.com/clipmill/clipmill-agent/internal/content"
	"github.com/clipmill/clipmill-agent/internal/jsonfix"
	"github.com/clipmill/clipmill-agent/internal/llm"
	"github.com/clipmill/clipmill-agent/internal/logging"
	"github.com/clipmill/clipmill-agent/internal/pipeline"
)

// DefaultMaxRepairs bounds how many times an invalid reply is sent back for correction.
const DefaultMaxRepairs = 2

const (
	SourceLLM      = "llm"
	SourceTemplate = "template"
)

// Completer is the language model the generator talks to.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message, jsonMode bool) (string, error)
}

type Options struct {
	MaxRepairs    int
	TargetMinutes float64
	ChannelName   string
	BannedTerms   []string
}

type Generator struct {
	llm    Completer
	opts   Options
	logger *slog.Logger
}

// New returns a generator. A nil completer means every script comes from templates.
func New(c Completer, opts Options, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.MaxRepairs < 0 {
		opts.MaxRepairs = 0
	}
	if opts.TargetMinutes <= 0 {
		opts.TargetMinutes = 8
	}
	return &Generator{llm: c, opts: opts, logger: logging.WithComponent(logger, "scriptgen")}
}

type Request struct {
	Post           *content.Post
	Classification content.Classification
	SafeMode       bool
}

// Report describes how a script was produced.
type Report struct {
	Source      string `json:"source"`
	Repairs     int    `json:"repairs"`
	TargetWords int    `json:"target_words"`
}

// Generate returns a valid script for req. Model output that fails validation
// is sent back with the problems for at most MaxRepairs corrections; after that
// the result is a schema_violation error.
func (g *Generator) Generate(ctx context.Context, req Request) (*content.Script, Report, error) {
	if req.Post == nil {
		return nil, Report{}, pipeline.Fatal(errors.New("no source post"))
	}
	target := content.TargetWords(g.opts.TargetMinutes)
	topic := classify.TopicFor(req.Classification.TopicID)
	if req.Classification.ChapterCount > 0 {
		topic.ChapterCount = req.Classification.ChapterCount
	}

	if g.llm == nil || req.SafeMode {
		s := FromTemplate(req.Post, topic, target)
		if err := s.Validate(); err != nil {
			return nil, Report{}, pipeline.SchemaViolation(err)
		}
		return s, Report{Source: SourceTemplate, TargetWords: target}, nil
	}

	messages, err := g.prompt(req.Post, topic)
	if err != nil {
		return nil, Report{}, pipeline.Fatal(err)
	}

	report := Report{Source: SourceLLM, TargetWords: target}
	for {
		raw, err := g.llm.Complete(ctx, messages, true)
		if err != nil && !errors.Is(err, llm.ErrEmptyCompletion) {
			return nil, report, err
		}

		script, verr := parse(raw)
		if verr == nil {
			g.logger.Info("script generated",
				"post_id", req.Post.ID,
				"repairs", report.Repairs,
				"chapters", len(script.Narration.Chapters),
				"words", content.WordCount(content.NarrationText(script)),
			)
			return script, report, nil
		}
		if report.Repairs >= g.opts.MaxRepairs {
			return nil, report, pipeline.SchemaViolation(fmt.Errorf("after %d repairs: %w", report.Repairs, verr))
		}

		report.Repairs++
		g.logger.Warn("generated script invalid, asking for repair", "repair", report.Repairs, "error", verr)
		messages = append(messages, llm.Assistant(nonBlank(raw)), llm.User(repairPrompt(verr)))
	}
}

func parse(raw string) (*content.Script, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &content.ValidationError{Schema: content.ScriptSchema, Problems: []string{"empty reply"}}
	}
	return content.DecodeScript([]byte(jsonfix.Repair(raw)))
}

func nonBlank(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(empty reply)"
	}
	return s
}
