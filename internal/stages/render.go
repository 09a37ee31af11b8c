package stages

import (
	"context"
	"errors"
	"strconv"

	"github.com/clipmill/clipmill-agent/internal/artifacts"
	"github.com/clipmill/clipmill-agent/internal/classify"
	"github.com/clipmill/clipmill-agent/internal/content"
	"github.com/clipmill/clipmill-agent/internal/export"
	"github.com/clipmill/clipmill-agent/internal/ffmpeg"
	"github.com/clipmill/clipmill-agent/internal/job"
	"github.com/clipmill/clipmill-agent/internal/media"
	"github.com/clipmill/clipmill-agent/internal/pipeline"
)

func (s *set) narrate(ctx context.Context, in *pipeline.Input) (pipeline.Output, error) {
	var script content.Script
	if err := readArtifact(in, artifacts.ScriptFile, &script); err != nil {
		return pipeline.Output{}, err
	}
	res, err := s.Speech.Synthesize(ctx, content.NarrationText(&script), in.Workspace.MustPath(artifacts.NarrationFile))
	if err != nil {
		return pipeline.Output{}, err
	}
	if res.Duration <= 0 {
		return pipeline.Output{}, pipeline.Errorf(pipeline.KindFatal, "narration has no duration")
	}
	in.Logger.Info("narration synthesized",
		"provider", res.Provider,
		"duration_s", res.Duration,
		"chunks", res.Chunks,
		"characters", res.Characters,
	)
	return pipeline.Output{
		Artifact: artifacts.NarrationFile,
		Meta:     map[string]string{MetaDuration: formatSeconds(res.Duration)},
	}, nil
}

// selectMedia targets enough footage for the measured narration length.
func (s *set) selectMedia(ctx context.Context, in *pipeline.Input) (pipeline.Output, error) {
	var script content.Script
	if err := readArtifact(in, artifacts.ScriptFile, &script); err != nil {
		return pipeline.Output{}, err
	}
	duration, err := seconds(in, job.StageNarrate, MetaDuration)
	if err != nil {
		return pipeline.Output{}, err
	}
	list, err := s.Media.Select(ctx, media.Request{
		Script:        &script,
		TargetSeconds: duration,
		Dir:           in.Workspace.MustPath(artifacts.ClipsDir),
	})
	if err != nil {
		return pipeline.Output{}, err
	}
	if err := writeArtifact(in, artifacts.ClipsFile, list); err != nil {
		return pipeline.Output{}, err
	}
	return pipeline.Output{
		Artifact: artifacts.ClipsFile,
		Meta: map[string]string{
			MetaTier:  list.Tier,
			MetaClips: strconv.Itoa(len(list.Clips)),
		},
	}, nil
}

// assemble renders video.mp4 plus the shotlist and edit decision list that
// describe it. A result outside the duration tolerance is fatal: the same
// inputs would produce the same video again.
func (s *set) assemble(ctx context.Context, in *pipeline.Input) (pipeline.Output, error) {
	var list content.ClipList
	if err := readArtifact(in, artifacts.ClipsFile, &list); err != nil {
		return pipeline.Output{}, err
	}
	duration, err := seconds(in, job.StageNarrate, MetaDuration)
	if err != nil {
		return pipeline.Output{}, err
	}
	paths := make([]string, 0, len(list.Clips))
	for _, c := range list.Clips {
		paths = append(paths, c.Path)
	}

	res, err := s.Assembler.Assemble(ctx, ffmpeg.AssembleRequest{
		Clips:         paths,
		Audio:         in.Workspace.MustPath(artifacts.NarrationFile),
		AudioDuration: duration,
		Tolerance:     s.Options.Tolerance,
		Width:         s.Options.Width,
		Height:        s.Options.Height,
		FPS:           s.Options.FPS,
		WorkDir:       in.Workspace.Dir(),
		Output:        in.Workspace.MustPath(artifacts.VideoFile),
	})
	if err != nil {
		var de *ffmpeg.DurationError
		if errors.As(err, &de) {
			return pipeline.Output{}, pipeline.Fatal(err)
		}
		return pipeline.Output{}, err
	}

	var script content.Script
	if err := readArtifact(in, artifacts.ScriptFile, &script); err != nil {
		return pipeline.Output{}, err
	}
	tone := classify.TopicFor(in.Meta(job.StageClassify, MetaTopic)).Tone
	shots := content.BuildShotlist(&script, list.Clips, res.Duration, s.Options.FPS, tone)
	if err := writeArtifact(in, artifacts.ShotlistFile, shots); err != nil {
		return pipeline.Output{}, err
	}
	edl := export.EDL(export.Events(shots, list.Clips), script.Title, float64(s.Options.FPS))
	if err := in.Workspace.WriteBytes(artifacts.TimelineFile, []byte(edl)); err != nil {
		return pipeline.Output{}, pipeline.Fatal(err)
	}

	return pipeline.Output{
		Artifact: artifacts.VideoFile,
		Meta: map[string]string{
			MetaDuration:     formatSeconds(res.Duration),
			"loops":          strconv.Itoa(res.Loops),
			"black_fallback": strconv.FormatBool(res.BlackFallback),
		},
	}, nil
}
