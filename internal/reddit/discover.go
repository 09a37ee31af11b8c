package reddit

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/clipmill/clipmill-agent/internal/content"
)

type Filter struct {
	Subreddits        []string
	TimeFilter        string
	Limit             int
	MinScore          int
	ExcludeSubreddits []string
	ExcludeFlairs     []string
}

// Candidate is a discovered post with its engagement score.
type Candidate struct {
	Post  content.Post
	Ref   string
	Score float64
}

// SeenFunc reports whether ref has already been processed.
type SeenFunc func(ctx context.Context, ref string) (bool, error)

// Discover gathers top posts from every subreddit in f, drops the ones that
// fail the filter or were already seen, and returns the rest best first.
// A failing subreddit is logged and skipped unless every subreddit fails.
func (c *Client) Discover(ctx context.Context, f Filter, seen SeenFunc, now time.Time) ([]Candidate, error) {
	excludedSubs := lowerSet(f.ExcludeSubreddits)
	excludedFlairs := lowerSet(f.ExcludeFlairs)

	var out []Candidate
	var lastErr error
	failures := 0
	dup := make(map[string]bool)
	for _, sub := range f.Subreddits {
		posts, err := c.Top(ctx, sub, f.TimeFilter, f.Limit)
		if err != nil {
			c.logger.Warn("subreddit fetch failed", "subreddit", sub, "error", err)
			lastErr = err
			failures++
			continue
		}
		for _, p := range posts {
			if !Eligible(p, f.MinScore, excludedSubs, excludedFlairs) {
				continue
			}
			ref := Ref(p.ID)
			if dup[ref] {
				continue
			}
			dup[ref] = true
			if seen != nil {
				done, err := seen(ctx, ref)
				if err != nil {
					return nil, err
				}
				if done {
					continue
				}
			}
			out = append(out, Candidate{Post: p, Ref: ref, Score: EngagementScore(p, now)})
		}
	}
	if failures > 0 && failures == len(f.Subreddits) {
		return nil, lastErr
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	c.logger.Info("discovery finished", "subreddits", len(f.Subreddits), "candidates", len(out))
	return out, nil
}

// Eligible applies the content filters: no NSFW, no excluded subreddit or
// flair, score at least minScore.
func Eligible(p content.Post, minScore int, excludedSubs, excludedFlairs map[string]bool) bool {
	if p.Over18 {
		return false
	}
	if strings.TrimSpace(p.Title) == "" {
		return false
	}
	if excludedSubs[strings.ToLower(p.Subreddit)] {
		return false
	}
	if p.Flair != "" && excludedFlairs[strings.ToLower(p.Flair)] {
		return false
	}
	return p.Score >= minScore
}

// EngagementScore ranks posts: normalized score (max 2), comments (max 1),
// upvote ratio, a title-length bonus, a selftext bonus and a recency bonus.
func EngagementScore(p content.Post, now time.Time) float64 {
	s := math.Min(float64(p.Score)/10000, 2.0)
	s += math.Min(float64(p.NumComments)/500, 1.0)

	ratio := p.UpvoteRatio
	if ratio == 0 {
		ratio = 0.9
	}
	s += ratio

	switch n := len(p.Title); {
	case n >= 50 && n <= 100:
		s += 1.0
	case n >= 30 && n <= 150:
		s += 0.5
	}

	if len(p.Selftext) > 100 {
		s += 1.0
	}

	if p.CreatedUTC > 0 {
		created := time.Unix(int64(p.CreatedUTC), 0)
		switch age := now.Sub(created); {
		case age < 6*time.Hour:
			s += 1.0
		case age < 12*time.Hour:
			s += 0.5
		}
	}
	return s
}

func lowerSet(in []string) map[string]bool {
	out := make(map[string]bool, len(in))
	for _, v := range in {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			out[v] = true
		}
	}
	return out
}
