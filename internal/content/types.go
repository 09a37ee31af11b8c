// Package content defines the structured artifacts passed between stages and
// the schema checks applied to them.
package content

import "time"

const (
	ScriptSchema   = "script.v1"
	MetadataSchema = "metadata.v1"
	ShotlistSchema = "shotlist.v1"
)

// Post is the ingested source item.
type Post struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Selftext    string    `json:"selftext"`
	URL         string    `json:"url,omitempty"`
	Permalink   string    `json:"permalink,omitempty"`
	Subreddit   string    `json:"subreddit"`
	Author      string    `json:"author,omitempty"`
	Flair       string    `json:"link_flair_text,omitempty"`
	Score       int       `json:"score"`
	NumComments int       `json:"num_comments"`
	UpvoteRatio float64   `json:"upvote_ratio"`
	Over18      bool      `json:"over_18"`
	CreatedUTC  float64   `json:"created_utc"`
	CapturedAt  time.Time `json:"captured_at"`
}

type Classification struct {
	TopicID      string      `json:"topic_id"`
	Confidence   float64     `json:"confidence"`
	Method       string      `json:"method"`
	Tone         string      `json:"tone,omitempty"`
	Style        string      `json:"style,omitempty"`
	ChapterCount int         `json:"chapter_count"`
	Suitability  Suitability `json:"suitability"`
}

type Suitability struct {
	Suitable bool     `json:"suitable"`
	Score    int      `json:"score"`
	Issues   []string `json:"issues,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

type Script struct {
	Version         string          `json:"version"`
	Title           string          `json:"title"`
	Hook            string          `json:"hook"`
	Narration       Narration       `json:"narration"`
	BrollKeywords   []string        `json:"broll_keywords"`
	Disclaimers     []string        `json:"disclaimers"`
	PolicyChecklist PolicyChecklist `json:"policy_checklist"`
}

type Narration struct {
	Intro    string    `json:"intro"`
	Chapters []Chapter `json:"chapters"`
	Outro    string    `json:"outro"`
}

type Chapter struct {
	ID      int    `json:"id"`
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

type PolicyChecklist struct {
	CopyrightRisk            bool `json:"copyright_risk"`
	MedicalOrFinancialClaims bool `json:"medical_or_financial_claims"`
	NSFW                     bool `json:"nsfw"`
	ShockingOrGraphic        bool `json:"shocking_or_graphic"`
}

// Flagged returns the names of the checklist fields set to true.
func (c PolicyChecklist) Flagged() []string {
	var out []string
	if c.CopyrightRisk {
		out = append(out, "copyright_risk")
	}
	if c.MedicalOrFinancialClaims {
		out = append(out, "medical_or_financial_claims")
	}
	if c.NSFW {
		out = append(out, "nsfw")
	}
	if c.ShockingOrGraphic {
		out = append(out, "shocking_or_graphic")
	}
	return out
}

type Metadata struct {
	Version       string   `json:"version"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Tags          []string `json:"tags"`
	CategoryID    string   `json:"categoryId"`
	Language      string   `json:"language"`
	MadeForKids   bool     `json:"made_for_kids"`
	ThumbnailText string   `json:"thumbnail_text"`
}

type Shotlist struct {
	Version   string `json:"version"`
	FPS       int    `json:"fps"`
	MusicMood string `json:"music_mood"`
	Beats     []Beat `json:"beats"`
}

type Beat struct {
	TStart       float64  `json:"t_start"`
	TEnd         float64  `json:"t_end"`
	NarrationRef string   `json:"narration_ref"`
	VisualPrompt string   `json:"visual_prompt"`
	Avoid        []string `json:"avoid"`
	Transition   string   `json:"transition"`
}

// Clip is one downloaded b-roll file.
type Clip struct {
	ID       string  `json:"id"`
	Provider string  `json:"provider"`
	Keyword  string  `json:"keyword"`
	Path     string  `json:"path"`
	URL      string  `json:"url,omitempty"`
	Duration float64 `json:"duration"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
}

// ClipList is the select-media artifact.
type ClipList struct {
	Tier          string  `json:"tier"`
	TargetSeconds float64 `json:"target_seconds"`
	Clips         []Clip  `json:"clips"`
}

type PolicyReport struct {
	Approved   bool            `json:"approved"`
	Reasons    []string        `json:"reasons,omitempty"`
	Checklist  PolicyChecklist `json:"checklist"`
	SafeMode   bool            `json:"safe_mode"`
	Rejections int             `json:"rejections"`
}

type Receipt struct {
	Provider     string    `json:"provider"`
	VideoID      string    `json:"video_id"`
	URL          string    `json:"url"`
	Privacy      string    `json:"privacy,omitempty"`
	ThumbnailSet bool      `json:"thumbnail_set"`
	UploadedAt   time.Time `json:"uploaded_at"`
}
