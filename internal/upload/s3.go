package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/clipmill/clipmill-agent/internal/content"
	"github.com/clipmill/clipmill-agent/internal/httpx"
	"github.com/clipmill/clipmill-agent/internal/logging"
)

type S3Options struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// S3 publishes into an S3-compatible bucket under <prefix>/<job id>/.
type S3 struct {
	client *minio.Client
	opts   S3Options
	logger *slog.Logger
	now    func() time.Time
}

func NewS3(opts S3Options, logger *slog.Logger) (*S3, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, errors.New("s3 upload needs an endpoint and a bucket")
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	endpoint := strings.TrimPrefix(strings.TrimPrefix(opts.Endpoint, "https://"), "http://")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return &S3{
		client: client,
		opts:   opts,
		logger: logging.WithComponent(logger, "upload.s3"),
		now:    time.Now,
	}, nil
}

func (s *S3) Name() string { return ProviderS3 }

func (s *S3) Upload(ctx context.Context, req Request) (*content.Receipt, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	privacy := NormalizePrivacy(req.Privacy)
	meta := map[string]string{"privacy": privacy, "job-id": req.ID}

	videoKey := s.key(req.ID, "video.mp4")
	if _, err := s.client.FPutObject(ctx, s.opts.Bucket, videoKey, req.Video, minio.PutObjectOptions{
		ContentType:  "video/mp4",
		UserMetadata: meta,
	}); err != nil {
		return nil, objectError("put video", err)
	}

	receipt := &content.Receipt{
		Provider: ProviderS3,
		VideoID:  req.ID,
		URL:      s.client.EndpointURL().JoinPath(s.opts.Bucket, videoKey).String(),
		Privacy:  privacy,
	}

	if req.hasThumbnail() {
		if _, err := s.client.FPutObject(ctx, s.opts.Bucket, s.key(req.ID, "thumbnail.jpg"), req.Thumbnail, minio.PutObjectOptions{
			ContentType: "image/jpeg",
		}); err != nil {
			return nil, objectError("put thumbnail", err)
		}
		receipt.ThumbnailSet = true
	}

	data, err := json.MarshalIndent(req.Metadata, "", "  ")
	if err != nil {
		return nil, err
	}
	if _, err := s.client.PutObject(ctx, s.opts.Bucket, s.key(req.ID, "metadata.json"), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	}); err != nil {
		return nil, objectError("put metadata", err)
	}

	receipt.UploadedAt = s.now().UTC()
	s.logger.Info("video stored", "bucket", s.opts.Bucket, "key", videoKey, "privacy", privacy)
	return receipt, nil
}

func (s *S3) key(id, name string) string {
	return path.Join(strings.Trim(s.opts.Prefix, "/"), id, name)
}

// objectError keeps the S3 status code visible to error classification.
func objectError(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode != 0 {
		return fmt.Errorf("s3 %s: %w", op, &httpx.StatusError{
			Service:    "s3",
			StatusCode: resp.StatusCode,
			Body:       resp.Code + ": " + resp.Message,
		})
	}
	return fmt.Errorf("s3 %s: %w", op, err)
}
