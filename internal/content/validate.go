package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxScriptTitle = 100
	TitleMin       = 55
	TitleMax       = 65
	TagsMin        = 10
	TagsMax        = 20
	MaxDescription = 5000
)

// ValidationError lists every problem found in one artifact.
type ValidationError struct {
	Schema   string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed: %s", e.Schema, strings.Join(e.Problems, "; "))
}

type problems struct {
	schema string
	list   []string
}

func (p *problems) addf(format string, args ...any) {
	p.list = append(p.list, fmt.Sprintf(format, args...))
}

func (p *problems) err() error {
	if len(p.list) == 0 {
		return nil
	}
	return &ValidationError{Schema: p.schema, Problems: p.list}
}

var scriptRequired = []string{"version", "title", "hook", "narration", "broll_keywords", "disclaimers", "policy_checklist"}

var checklistRequired = []string{"copyright_risk", "medical_or_financial_claims", "nsfw", "shocking_or_graphic"}

// DecodeScript parses raw generated JSON into a Script and validates it.
// Missing required keys are reported even when their zero value would pass.
func DecodeScript(data []byte) (*Script, error) {
	data = bytes.TrimSpace(data)
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{Schema: ScriptSchema, Problems: []string{"not a JSON object: " + err.Error()}}
	}

	p := &problems{schema: ScriptSchema}
	for _, key := range scriptRequired {
		if _, ok := raw[key]; !ok {
			p.addf("missing field %q", key)
		}
	}
	if cl, ok := raw["policy_checklist"]; ok {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(cl, &fields); err != nil {
			p.addf("policy_checklist must be an object")
		} else {
			for _, key := range checklistRequired {
				if _, ok := fields[key]; !ok {
					p.addf("policy_checklist missing %q", key)
				}
			}
		}
	}

	var s Script
	if err := json.Unmarshal(data, &s); err != nil {
		p.addf("wrong field types: %v", err)
		return nil, p.err()
	}
	if err := p.err(); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Script) Validate() error {
	p := &problems{schema: ScriptSchema}
	if s.Version != ScriptSchema {
		p.addf("version must be %q, got %q", ScriptSchema, s.Version)
	}
	if strings.TrimSpace(s.Title) == "" {
		p.addf("title is empty")
	} else if utf8.RuneCountInString(s.Title) > MaxScriptTitle {
		p.addf("title longer than %d characters", MaxScriptTitle)
	}
	if strings.TrimSpace(s.Hook) == "" {
		p.addf("hook is empty")
	}
	if strings.TrimSpace(s.Narration.Intro) == "" {
		p.addf("narration.intro is empty")
	}
	if strings.TrimSpace(s.Narration.Outro) == "" {
		p.addf("narration.outro is empty")
	}
	if len(s.Narration.Chapters) == 0 {
		p.addf("narration.chapters is empty")
	}
	seen := make(map[int]bool)
	for i, ch := range s.Narration.Chapters {
		if ch.ID <= 0 {
			p.addf("chapter %d: id must be positive", i+1)
		} else if seen[ch.ID] {
			p.addf("chapter %d: duplicate id %d", i+1, ch.ID)
		}
		seen[ch.ID] = true
		if strings.TrimSpace(ch.Heading) == "" {
			p.addf("chapter %d: heading is empty", i+1)
		}
		if strings.TrimSpace(ch.Body) == "" {
			p.addf("chapter %d: body is empty", i+1)
		}
	}
	if len(nonEmpty(s.BrollKeywords)) == 0 {
		p.addf("broll_keywords is empty")
	}
	return p.err()
}

func (m *Metadata) Validate() error {
	p := &problems{schema: MetadataSchema}
	if m.Version != MetadataSchema {
		p.addf("version must be %q, got %q", MetadataSchema, m.Version)
	}
	if n := utf8.RuneCountInString(m.Title); n < TitleMin || n > TitleMax {
		p.addf("title length %d outside %d-%d", n, TitleMin, TitleMax)
	}
	if n := len(m.Tags); n < TagsMin || n > TagsMax {
		p.addf("tag count %d outside %d-%d", n, TagsMin, TagsMax)
	}
	if strings.TrimSpace(m.Description) == "" {
		p.addf("description is empty")
	} else if utf8.RuneCountInString(m.Description) > MaxDescription {
		p.addf("description longer than %d characters", MaxDescription)
	}
	if m.CategoryID == "" {
		p.addf("categoryId is empty")
	}
	if m.Language == "" {
		p.addf("language is empty")
	}
	return p.err()
}

func (s *Shotlist) Validate() error {
	p := &problems{schema: ShotlistSchema}
	if s.Version != ShotlistSchema {
		p.addf("version must be %q, got %q", ShotlistSchema, s.Version)
	}
	if s.FPS <= 0 {
		p.addf("fps must be positive")
	}
	if len(s.Beats) == 0 {
		p.addf("beats is empty")
	}
	prevEnd := 0.0
	for i, b := range s.Beats {
		if b.TEnd <= b.TStart {
			p.addf("beat %d: t_end %.2f not after t_start %.2f", i, b.TEnd, b.TStart)
		}
		if i > 0 && b.TStart < prevEnd-0.001 {
			p.addf("beat %d overlaps previous beat", i)
		}
		prevEnd = b.TEnd
	}
	return p.err()
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
