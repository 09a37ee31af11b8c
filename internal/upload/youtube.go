package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/clipmill/clipmill-agent/internal/artifacts"
	"github.com/clipmill/clipmill-agent/internal/content"
	"github.com/clipmill/clipmill-agent/internal/httpx"
	"github.com/clipmill/clipmill-agent/internal/logging"
)

const watchURL = "https://www.youtube.com/watch?v="

type YouTubeOptions struct {
	ClientSecretsFile string
	TokenFile         string
	CategoryID        string

	// Endpoint and HTTPClient replace the OAuth flow, mainly for tests.
	Endpoint   string
	HTTPClient *http.Client
}

type YouTube struct {
	svc    *youtube.Service
	opts   YouTubeOptions
	logger *slog.Logger
	now    func() time.Time
}

// NewYouTube builds an uploader authorized by the client secrets and the
// stored token. Refreshed tokens are written back to the token file.
func NewYouTube(ctx context.Context, opts YouTubeOptions, logger *slog.Logger) (*YouTube, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	client := opts.HTTPClient
	if client == nil {
		var err error
		if client, err = oauthClient(ctx, opts.ClientSecretsFile, opts.TokenFile); err != nil {
			return nil, err
		}
	}

	svcOpts := []option.ClientOption{option.WithHTTPClient(client)}
	if opts.Endpoint != "" {
		svcOpts = append(svcOpts, option.WithEndpoint(opts.Endpoint))
	}
	svc, err := youtube.NewService(ctx, svcOpts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	return &YouTube{
		svc:    svc,
		opts:   opts,
		logger: logging.WithComponent(logger, "upload.youtube"),
		now:    time.Now,
	}, nil
}

func (y *YouTube) Name() string { return ProviderYouTube }

func (y *YouTube) Upload(ctx context.Context, req Request) (*content.Receipt, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	md := req.Metadata
	privacy := NormalizePrivacy(req.Privacy)
	category := md.CategoryID
	if category == "" {
		category = y.opts.CategoryID
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:                md.Title,
			Description:          md.Description,
			Tags:                 md.Tags,
			CategoryId:           category,
			DefaultLanguage:      md.Language,
			DefaultAudioLanguage: md.Language,
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           privacy,
			SelfDeclaredMadeForKids: md.MadeForKids,
			ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
		},
	}

	f, err := os.Open(req.Video)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	y.logger.Info("uploading video", "job_id", req.ID, "privacy", privacy, "title", md.Title)
	res, err := y.svc.Videos.Insert([]string{"snippet", "status"}, video).
		Media(f, googleapi.ContentType("video/mp4")).
		Context(ctx).
		Do()
	if err != nil {
		return nil, statusError(err)
	}

	receipt := &content.Receipt{
		Provider:   ProviderYouTube,
		VideoID:    res.Id,
		URL:        watchURL + res.Id,
		Privacy:    privacy,
		UploadedAt: y.now().UTC(),
	}

	// A missing or rejected thumbnail does not undo a successful upload.
	if req.hasThumbnail() {
		if err := y.setThumbnail(ctx, res.Id, req.Thumbnail); err != nil {
			y.logger.Warn("thumbnail upload failed", "video_id", res.Id, "error", err)
		} else {
			receipt.ThumbnailSet = true
		}
	}
	y.logger.Info("video uploaded", "video_id", res.Id, "thumbnail_set", receipt.ThumbnailSet)
	return receipt, nil
}

func (y *YouTube) setThumbnail(ctx context.Context, videoID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = y.svc.Thumbnails.Set(videoID).
		Media(f, googleapi.ContentType("image/jpeg")).
		Context(ctx).
		Do()
	return statusError(err)
}

// statusError converts API errors so the pipeline classifies them by status.
func statusError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &httpx.StatusError{Service: "youtube", StatusCode: gerr.Code, Body: gerr.Message}
	}
	return err
}

func oauthClient(ctx context.Context, secretsFile, tokenFile string) (*http.Client, error) {
	if secretsFile == "" || tokenFile == "" {
		return nil, errors.New("youtube upload needs client secrets and a token file")
	}
	secrets, err := os.ReadFile(secretsFile)
	if err != nil {
		return nil, fmt.Errorf("read client secrets: %w", err)
	}
	cfg, err := google.ConfigFromJSON(secrets, youtube.YoutubeUploadScope, youtube.YoutubeScope)
	if err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}
	tok, err := LoadToken(tokenFile)
	if err != nil {
		return nil, err
	}
	src := &savingSource{
		base: cfg.TokenSource(ctx, tok),
		path: tokenFile,
		last: tok.AccessToken,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

func LoadToken(path string) (*oauth2.Token, error) {
	var tok oauth2.Token
	if err := artifacts.ReadJSON(path, &tok); err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("token file %s has no tokens", path)
	}
	return &tok, nil
}

func SaveToken(path string, tok *oauth2.Token) error {
	if err := artifacts.WriteJSON(path, tok); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// savingSource writes every newly issued token to disk.
type savingSource struct {
	base oauth2.TokenSource
	path string

	mu   sync.Mutex
	last string
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := SaveToken(s.path, tok); err != nil {
			return nil, fmt.Errorf("save refreshed token: %w", err)
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}
