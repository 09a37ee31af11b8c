package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/clipmill/clipmill-agent/internal/artifacts"
	"github.com/clipmill/clipmill-agent/internal/content"
	"github.com/clipmill/clipmill-agent/internal/httpx"
	"github.com/clipmill/clipmill-agent/internal/logging"
	"github.com/clipmill/clipmill-agent/internal/pipeline"
	"github.com/clipmill/clipmill-agent/internal/retry"
)

// Search tiers, in the order they are tried.
const (
	TierStrict  = "strict"
	TierRelaxed = "relaxed"
	TierGeneric = "generic"
)

var defaultFallbackKeywords = []string{"abstract background", "city timelapse", "nature landscape", "technology", "ocean waves"}

type Options struct {
	ClipsPerMinute   float64
	MinClipSeconds   int
	MaxClips         int
	FallbackKeywords []string
	Concurrency      int
	Policy           retry.Policy // per search and per download
}

type Selector struct {
	providers []Provider
	pool      Provider
	http      *http.Client
	caller    *retry.Caller
	opts      Options
	logger    *slog.Logger
}

// NewSelector searches providers in order. pool, when non-nil, is consulted
// only in the generic tier.
func NewSelector(providers []Provider, pool Provider, client *http.Client, caller *retry.Caller, opts Options, logger *slog.Logger) *Selector {
	if client == nil {
		client = httpx.NewClient(0)
	}
	if caller == nil {
		caller = retry.New()
	}
	if opts.ClipsPerMinute <= 0 {
		opts.ClipsPerMinute = 6
	}
	if opts.MaxClips <= 0 {
		opts.MaxClips = 60
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if len(opts.FallbackKeywords) == 0 {
		opts.FallbackKeywords = defaultFallbackKeywords
	}
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = retry.DefaultPolicy()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Selector{
		providers: providers,
		pool:      pool,
		http:      client,
		caller:    caller,
		opts:      opts,
		logger:    logging.WithComponent(logger, "media"),
	}
}

// ClipCount is how many clips cover seconds of narration.
func ClipCount(seconds, perMinute float64, maxClips int) int {
	n := int(math.Ceil(seconds / 60 * perMinute))
	n = max(n, 1)
	if maxClips > 0 {
		n = min(n, maxClips)
	}
	return n
}

type Request struct {
	Script        *content.Script
	TargetSeconds float64
	Dir           string // clips are written here
}

type tier struct {
	name      string
	keywords  []string
	query     Query
	providers []Provider
}

// Select walks the tiers until one yields downloadable clips. When every tier
// comes up empty the result is a resource_unavailable error, unless a tier
// failed with a transient error, which is returned instead so the stage is
// retried.
func (s *Selector) Select(ctx context.Context, req Request) (*content.ClipList, error) {
	if req.Script == nil {
		return nil, pipeline.Fatal(errors.New("no script"))
	}
	want := ClipCount(req.TargetSeconds, s.opts.ClipsPerMinute, s.opts.MaxClips)
	strict := Keywords(req.Script)

	generic := s.providers
	if s.pool != nil {
		generic = append(append([]Provider{}, s.providers...), s.pool)
	}
	tiers := []tier{
		{TierStrict, strict, Query{HDOnly: true, MinSeconds: s.opts.MinClipSeconds}, s.providers},
		{TierRelaxed, Relax(strict), Query{}, s.providers},
		{TierGeneric, s.opts.FallbackKeywords, Query{}, generic},
	}

	var transient error
	for _, t := range tiers {
		candidates, err := s.search(ctx, t, want)
		if err != nil {
			if pipeline.KindOf(err) != pipeline.KindTransient {
				return nil, err
			}
			transient = err
		}
		if len(candidates) == 0 {
			s.logger.Info("no footage in tier", "tier", t.name, "keywords", len(t.keywords))
			continue
		}
		clips, err := s.download(ctx, candidates, req.Dir)
		if err != nil {
			return nil, err
		}
		if len(clips) == 0 {
			continue
		}
		s.logger.Info("footage selected", "tier", t.name, "clips", len(clips), "wanted", want)
		return &content.ClipList{Tier: t.name, TargetSeconds: req.TargetSeconds, Clips: clips}, nil
	}
	if transient != nil {
		return nil, transient
	}
	return nil, pipeline.ResourceUnavailable(fmt.Errorf("no footage found for %d keywords after strict, relaxed and generic searches", len(strict)))
}

// search queries every provider for each keyword until want candidates are
// collected. A transient failure is remembered and returned alongside
// whatever was found; any other failure aborts.
func (s *Selector) search(ctx context.Context, t tier, want int) ([]Candidate, error) {
	perKeyword := max(3, want/max(len(t.keywords), 1))
	seen := map[string]bool{}
	var out []Candidate
	var transient error

	for _, kw := range t.keywords {
		for _, p := range t.providers {
			if len(out) >= want {
				return out, nil
			}
			q := t.query
			q.Keyword = kw
			q.Limit = perKeyword
			found, err := retry.Call(ctx, s.caller, s.opts.Policy, retry.DefaultClassifier, func(ctx context.Context) ([]Candidate, error) {
				return p.Search(ctx, q)
			})
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				if !httpx.IsRetryableError(err) {
					return nil, pipeline.Fatal(fmt.Errorf("%s search: %w", p.Name(), err))
				}
				s.logger.Warn("footage search failed", "provider", p.Name(), "keyword", kw, "error", err)
				transient = pipeline.Transient(fmt.Errorf("%s search: %w", p.Name(), err))
				continue
			}
			for _, c := range found {
				if !seen[c.ID] && len(out) < want {
					seen[c.ID] = true
					out = append(out, c)
				}
			}
		}
	}
	return out, transient
}

// download fetches candidates into dir with bounded parallelism, keeping
// their order. Individual failures are logged and dropped.
func (s *Selector) download(ctx context.Context, candidates []Candidate, dir string) ([]content.Clip, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	results := make([]*content.Clip, len(candidates))
	var mu sync.Mutex
	var failures int

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i, c := range candidates {
		g.Go(func() error {
			clip, err := s.fetch(gctx, c, dir)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				mu.Lock()
				failures++
				mu.Unlock()
				s.logger.Warn("clip download failed", "clip", c.ID, "error", err)
				return nil
			}
			results[i] = clip
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var clips []content.Clip
	for _, c := range results {
		if c != nil {
			clips = append(clips, *c)
		}
	}
	if failures > 0 {
		s.logger.Info("some clips were not downloaded", "failed", failures, "kept", len(clips))
	}
	return clips, nil
}

func (s *Selector) fetch(ctx context.Context, c Candidate, dir string) (*content.Clip, error) {
	clip := &content.Clip{
		ID:       c.ID,
		Provider: c.Provider,
		Keyword:  c.Keyword,
		URL:      c.PageURL,
		Duration: c.Duration,
		Width:    c.Width,
		Height:   c.Height,
	}
	if c.LocalPath != "" {
		clip.Path = c.LocalPath
		return clip, nil
	}

	dst := filepath.Join(dir, fileName(c))
	err := s.caller.Do(ctx, s.opts.Policy, retry.DefaultClassifier, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.DownloadURL, nil)
		if err != nil {
			return err
		}
		resp, err := s.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return httpx.NewStatusError(c.Provider, resp)
		}
		n, err := artifacts.WriteStream(dst, resp.Body)
		if err == nil && n == 0 {
			err = errors.New("empty download")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	clip.Path = dst
	return clip, nil
}

func fileName(c Candidate) string {
	ext := ".mp4"
	if u, err := url.Parse(c.DownloadURL); err == nil {
		if e := strings.ToLower(path.Ext(u.Path)); videoExts[e] {
			ext = e
		}
	}
	return c.ID + ext
}
