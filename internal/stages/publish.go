package stages

import (
	"context"

	"github.com/clipmill/clipmill-agent/internal/artifacts"
	"github.com/clipmill/clipmill-agent/internal/content"
	"github.com/clipmill/clipmill-agent/internal/job"
	"github.com/clipmill/clipmill-agent/internal/pipeline"
	"github.com/clipmill/clipmill-agent/internal/upload"
)

func (s *set) thumbnail(ctx context.Context, in *pipeline.Input) (pipeline.Output, error) {
	var md content.Metadata
	if err := readArtifact(in, artifacts.MetadataFile, &md); err != nil {
		return pipeline.Output{}, err
	}
	text := md.ThumbnailText
	if text == "" {
		text = content.ThumbnailText(md.Title)
	}
	topic := in.Meta(job.StageClassify, MetaTopic)
	if err := s.Thumbnails.WriteJPEG(in.Workspace.MustPath(artifacts.ThumbnailFile), text, topic); err != nil {
		return pipeline.Output{}, pipeline.Fatal(err)
	}
	return pipeline.Output{Artifact: artifacts.ThumbnailFile}, nil
}

func (s *set) upload(ctx context.Context, in *pipeline.Input) (pipeline.Output, error) {
	var md content.Metadata
	if err := readArtifact(in, artifacts.MetadataFile, &md); err != nil {
		return pipeline.Output{}, err
	}
	receipt, err := s.Uploader.Upload(ctx, upload.Request{
		ID:        in.Job.ID,
		Video:     in.Workspace.MustPath(artifacts.VideoFile),
		Thumbnail: in.Workspace.MustPath(artifacts.ThumbnailFile),
		Metadata:  &md,
		Privacy:   s.Options.Privacy,
	})
	if err != nil {
		return pipeline.Output{}, err
	}
	if err := writeArtifact(in, artifacts.ReceiptFile, receipt); err != nil {
		return pipeline.Output{}, err
	}
	in.Logger.Info("upload receipt written", "provider", receipt.Provider, "video_id", receipt.VideoID, "url", receipt.URL)
	return pipeline.Output{
		Artifact: artifacts.ReceiptFile,
		Meta: map[string]string{
			MetaVideoID: receipt.VideoID,
			MetaURL:     receipt.URL,
		},
	}, nil
}
