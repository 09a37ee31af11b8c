package stages

import (
	"context"
	"strconv"

	"github.com/clipmill/clipmill-agent/internal/artifacts"
	"github.com/clipmill/clipmill-agent/internal/content"
	"github.com/clipmill/clipmill-agent/internal/pipeline"
	"github.com/clipmill/clipmill-agent/internal/scriptgen"
)

// script writes script.json and the metadata derived from it. In safe mode
// the source is reduced to its masked title first.
func (s *set) script(ctx context.Context, in *pipeline.Input) (pipeline.Output, error) {
	var post content.Post
	if err := readArtifact(in, artifacts.SourceFile, &post); err != nil {
		return pipeline.Output{}, err
	}
	var c content.Classification
	if err := readArtifact(in, artifacts.ClassificationFile, &c); err != nil {
		return pipeline.Output{}, err
	}

	src := &post
	if in.SafeMode() {
		src = s.Policy.SafeInput(&post)
		in.Logger.Info("generating from safe input", "title", src.Title)
	}
	script, report, err := s.Scripts.Generate(ctx, scriptgen.Request{
		Post:           src,
		Classification: c,
		SafeMode:       in.SafeMode(),
	})
	if err != nil {
		return pipeline.Output{}, err
	}

	md := content.BuildMetadata(script, c.TopicID, content.MetadataOptions{
		CategoryID:   s.Options.CategoryID,
		Language:     s.Options.Language,
		ChannelName:  s.Options.ChannelName,
		SourceCredit: credit(&post),
	})
	if err := md.Validate(); err != nil {
		return pipeline.Output{}, pipeline.SchemaViolation(err)
	}
	if err := writeArtifact(in, artifacts.MetadataFile, md); err != nil {
		return pipeline.Output{}, err
	}
	if err := writeArtifact(in, artifacts.ScriptFile, script); err != nil {
		return pipeline.Output{}, err
	}
	return pipeline.Output{
		Artifact: artifacts.ScriptFile,
		Meta: map[string]string{
			MetaSource:  report.Source,
			MetaRepairs: strconv.Itoa(report.Repairs),
		},
	}, nil
}

func credit(p *content.Post) string {
	if p.Subreddit == "" {
		return ""
	}
	return "r/" + p.Subreddit
}

// policyCheck records the review in policy.json either way. A rejection is
// returned as policy_rejected for the orchestrator to act on.
func (s *set) policyCheck(ctx context.Context, in *pipeline.Input) (pipeline.Output, error) {
	var script content.Script
	if err := readArtifact(in, artifacts.ScriptFile, &script); err != nil {
		return pipeline.Output{}, err
	}
	report, verdict := s.Policy.Check(&script, in.SafeMode(), in.Job.PolicyRejections)
	if err := writeArtifact(in, artifacts.PolicyFile, report); err != nil {
		return pipeline.Output{}, err
	}
	if verdict != nil {
		in.Logger.Warn("script rejected by policy", "reasons", report.Reasons, "safe_mode", report.SafeMode)
		return pipeline.Output{}, verdict
	}
	return pipeline.Output{Artifact: artifacts.PolicyFile}, nil
}
