package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/clipmill/clipmill-agent/internal/artifacts"
	"github.com/clipmill/clipmill-agent/internal/content"
	"github.com/clipmill/clipmill-agent/internal/logging"
)

// Local copies the outputs into <dir>/<job id>/. Used for dry runs and for
// handing files to a separate publishing step.
type Local struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

func NewLocal(dir string, logger *slog.Logger) (*Local, error) {
	if dir == "" {
		return nil, errors.New("local upload needs a directory")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &Local{dir: abs, logger: logging.WithComponent(logger, "upload.local"), now: time.Now}, nil
}

func (l *Local) Name() string { return ProviderLocal }

func (l *Local) Upload(ctx context.Context, req Request) (*content.Receipt, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	dst := filepath.Join(l.dir, req.ID)
	video := filepath.Join(dst, "video.mp4")
	if err := copyFile(req.Video, video); err != nil {
		return nil, err
	}
	receipt := &content.Receipt{
		Provider: ProviderLocal,
		VideoID:  req.ID,
		URL:      "file://" + filepath.ToSlash(video),
		Privacy:  NormalizePrivacy(req.Privacy),
	}
	if req.hasThumbnail() {
		if err := copyFile(req.Thumbnail, filepath.Join(dst, "thumbnail.jpg")); err != nil {
			return nil, err
		}
		receipt.ThumbnailSet = true
	}
	if err := artifacts.WriteJSON(filepath.Join(dst, "metadata.json"), req.Metadata); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	receipt.UploadedAt = l.now().UTC()
	l.logger.Info("video published", "path", logging.SanitizePath(video))
	return receipt, nil
}

func copyFile(src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := artifacts.WriteStream(dst, f); err != nil {
		return fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	return nil
}
