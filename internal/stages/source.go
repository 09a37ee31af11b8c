package stages

import (
	"context"

	"github.com/clipmill/clipmill-agent/internal/artifacts"
	"github.com/clipmill/clipmill-agent/internal/classify"
	"github.com/clipmill/clipmill-agent/internal/content"
	"github.com/clipmill/clipmill-agent/internal/pipeline"
)

func (s *set) ingest(ctx context.Context, in *pipeline.Input) (pipeline.Output, error) {
	post, err := s.Loader.Load(ctx, in.Job.SourceRef)
	if err != nil {
		return pipeline.Output{}, err
	}
	if post.CapturedAt.IsZero() {
		post.CapturedAt = s.Clock().UTC()
	}
	if err := writeArtifact(in, artifacts.SourceFile, post); err != nil {
		return pipeline.Output{}, err
	}
	in.Logger.Info("source ingested", "post_id", post.ID, "subreddit", post.Subreddit, "score", post.Score)
	return pipeline.Output{
		Artifact: artifacts.SourceFile,
		Meta:     map[string]string{MetaPostID: post.ID},
	}, nil
}

// classify picks the topic and attaches a suitability report. An unsuitable
// post is logged and still processed: the report is advisory.
func (s *set) classify(ctx context.Context, in *pipeline.Input) (pipeline.Output, error) {
	var post content.Post
	if err := readArtifact(in, artifacts.SourceFile, &post); err != nil {
		return pipeline.Output{}, err
	}
	c := s.Classifier.Classify(&post)
	c.Suitability = classify.Suitability(&post, s.Options.BannedTerms, s.Options.SensitiveTopics)
	if !c.Suitability.Suitable {
		in.Logger.Warn("source looks unsuitable", "score", c.Suitability.Score, "issues", c.Suitability.Issues)
	}
	if err := writeArtifact(in, artifacts.ClassificationFile, c); err != nil {
		return pipeline.Output{}, err
	}
	return pipeline.Output{
		Artifact: artifacts.ClassificationFile,
		Meta:     map[string]string{MetaTopic: c.TopicID},
	}, nil
}
