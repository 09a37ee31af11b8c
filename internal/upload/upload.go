// Package upload publishes the finished video, thumbnail and metadata to a
// hosting provider and returns a receipt.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/clipmill/clipmill-agent/internal/config"
	"github.com/clipmill/clipmill-agent/internal/content"
)

const (
	ProviderYouTube = "youtube"
	ProviderS3      = "s3"
	ProviderLocal   = "local"
)

const (
	PrivacyPrivate  = "private"
	PrivacyUnlisted = "unlisted"
	PrivacyPublic   = "public"
)

// Uploader is implemented by every publishing target.
type Uploader interface {
	Name() string
	Upload(ctx context.Context, req Request) (*content.Receipt, error)
}

// Request names the files to publish. ID is the job id and keys the upload
// for providers that do not assign their own.
type Request struct {
	ID        string
	Video     string
	Thumbnail string
	Metadata  *content.Metadata
	Privacy   string
}

func (r Request) validate() error {
	if r.ID == "" {
		return errors.New("upload request has no id")
	}
	if r.Metadata == nil {
		return errors.New("upload request has no metadata")
	}
	if _, err := os.Stat(r.Video); err != nil {
		return fmt.Errorf("video file: %w", err)
	}
	return nil
}

// hasThumbnail reports whether a thumbnail was produced for the request.
func (r Request) hasThumbnail() bool {
	if r.Thumbnail == "" {
		return false
	}
	_, err := os.Stat(r.Thumbnail)
	return err == nil
}

// NormalizePrivacy maps anything other than a known privacy status to private.
func NormalizePrivacy(p string) string {
	switch v := strings.ToLower(strings.TrimSpace(p)); v {
	case PrivacyPrivate, PrivacyUnlisted, PrivacyPublic:
		return v
	default:
		return PrivacyPrivate
	}
}

// New builds the uploader selected by the settings.
func New(ctx context.Context, s config.UploadSettings, logger *slog.Logger) (Uploader, error) {
	switch s.Provider {
	case ProviderYouTube:
		return NewYouTube(ctx, YouTubeOptions{
			ClientSecretsFile: s.ClientSecretsFile,
			TokenFile:         s.TokenFile,
			CategoryID:        s.CategoryID,
		}, logger)
	case ProviderS3:
		return NewS3(S3Options{
			Endpoint:  s.S3Endpoint,
			Bucket:    s.S3Bucket,
			Prefix:    s.S3Prefix,
			AccessKey: s.S3AccessKey,
			SecretKey: s.S3SecretKey,
			UseSSL:    s.S3UseSSL,
		}, logger)
	case ProviderLocal, "":
		return NewLocal(s.LocalDir, logger)
	default:
		return nil, fmt.Errorf("unknown upload provider %q", s.Provider)
	}
}
