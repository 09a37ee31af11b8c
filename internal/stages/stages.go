// Package stages implements the nine pipeline steps on top of the service
// clients. Each stage reads the artifacts of earlier stages from the job
// workspace and writes its own before returning.
package stages

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/clipmill/clipmill-agent/internal/content"
	"github.com/clipmill/clipmill-agent/internal/ffmpeg"
	"github.com/clipmill/clipmill-agent/internal/job"
	"github.com/clipmill/clipmill-agent/internal/media"
	"github.com/clipmill/clipmill-agent/internal/pipeline"
	"github.com/clipmill/clipmill-agent/internal/policy"
	"github.com/clipmill/clipmill-agent/internal/scriptgen"
	"github.com/clipmill/clipmill-agent/internal/tts"
	"github.com/clipmill/clipmill-agent/internal/upload"
)

// Meta keys recorded on completed stages.
const (
	MetaPostID   = "post_id"
	MetaTopic    = "topic_id"
	MetaDuration = "duration"
	MetaSource   = "source"
	MetaRepairs  = "repairs"
	MetaTier     = "tier"
	MetaClips    = "clips"
	MetaVideoID  = "video_id"
	MetaURL      = "url"
)

type PostLoader interface {
	Load(ctx context.Context, ref string) (*content.Post, error)
}

type Classifier interface {
	Classify(p *content.Post) content.Classification
}

type ScriptGenerator interface {
	Generate(ctx context.Context, req scriptgen.Request) (*content.Script, scriptgen.Report, error)
}

type ClipSelector interface {
	Select(ctx context.Context, req media.Request) (*content.ClipList, error)
}

type VideoAssembler interface {
	Assemble(ctx context.Context, req ffmpeg.AssembleRequest) (*ffmpeg.AssembleResult, error)
}

type ThumbnailWriter interface {
	WriteJPEG(path, text, topicID string) error
}

// Options are the channel and output settings the stages need beyond their
// collaborators.
type Options struct {
	Width           int
	Height          int
	FPS             int
	Tolerance       time.Duration
	Privacy         string
	CategoryID      string
	Language        string
	ChannelName     string
	BannedTerms     []string
	SensitiveTopics []string
}

// Deps are the collaborators. All of them are required.
type Deps struct {
	Loader     PostLoader
	Classifier Classifier
	Scripts    ScriptGenerator
	Policy     *policy.Checker
	Speech     tts.Synthesizer
	Media      ClipSelector
	Assembler  VideoAssembler
	Thumbnails ThumbnailWriter
	Uploader   upload.Uploader
	Options    Options
	Clock      func() time.Time
}

type set struct {
	Deps
}

// New returns the stages in job.StageOrder.
func New(d Deps) ([]pipeline.Stage, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Options.Tolerance <= 0 {
		d.Options.Tolerance = ffmpeg.DefaultTolerance
	}
	s := &set{Deps: d}
	return []pipeline.Stage{
		pipeline.StageFunc{StageName: job.StageIngest, Fn: s.ingest},
		pipeline.StageFunc{StageName: job.StageClassify, Needs: []string{job.StageIngest}, Fn: s.classify},
		pipeline.StageFunc{StageName: job.StageScript, Needs: []string{job.StageIngest, job.StageClassify}, Fn: s.script},
		pipeline.StageFunc{StageName: job.StagePolicy, Needs: []string{job.StageScript}, Fn: s.policyCheck},
		pipeline.StageFunc{StageName: job.StageNarrate, Needs: []string{job.StageScript}, Fn: s.narrate},
		pipeline.StageFunc{StageName: job.StageSelectMedia, Needs: []string{job.StageScript, job.StageNarrate}, Fn: s.selectMedia},
		pipeline.StageFunc{StageName: job.StageAssemble, Needs: []string{job.StageNarrate, job.StageSelectMedia}, Fn: s.assemble},
		pipeline.StageFunc{StageName: job.StageThumbnail, Needs: []string{job.StageScript}, Fn: s.thumbnail},
		pipeline.StageFunc{StageName: job.StageUpload, Needs: []string{job.StageScript, job.StageAssemble, job.StageThumbnail}, Fn: s.upload},
	}, nil
}

func (d Deps) validate() error {
	var errs []error
	for name, ok := range map[string]bool{
		"loader":     d.Loader != nil,
		"classifier": d.Classifier != nil,
		"scripts":    d.Scripts != nil,
		"policy":     d.Policy != nil,
		"speech":     d.Speech != nil,
		"media":      d.Media != nil,
		"assembler":  d.Assembler != nil,
		"thumbnails": d.Thumbnails != nil,
		"uploader":   d.Uploader != nil,
	} {
		if !ok {
			errs = append(errs, fmt.Errorf("stages: missing %s", name))
		}
	}
	return errors.Join(errs...)
}

// seconds reads a float meta value written by an earlier stage.
func seconds(in *pipeline.Input, stage, key string) (float64, error) {
	raw := in.Meta(stage, key)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return 0, pipeline.Errorf(pipeline.KindFatal, "%s has no usable %s (%q)", stage, key, raw)
	}
	return v, nil
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// readArtifact decodes a JSON artifact. A missing or corrupt artifact is fatal:
// retrying cannot bring it back.
func readArtifact(in *pipeline.Input, name string, v any) error {
	if err := in.Workspace.ReadJSON(name, v); err != nil {
		return pipeline.Fatal(err)
	}
	return nil
}

func writeArtifact(in *pipeline.Input, name string, v any) error {
	if err := in.Workspace.WriteJSON(name, v); err != nil {
		return pipeline.Fatal(err)
	}
	return nil
}
