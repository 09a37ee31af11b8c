// Package reddit fetches source posts from Reddit's JSON listings.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/clipmill/clipmill-agent/internal/content"
	"github.com/clipmill/clipmill-agent/internal/httpx"
	"github.com/clipmill/clipmill-agent/internal/logging"
)

const (
	DefaultBaseURL      = "https://www.reddit.com"
	DefaultOAuthBaseURL = "https://oauth.reddit.com"
	DefaultTokenURL     = "https://www.reddit.com/api/v1/access_token"

	maxSelftext = 5000
)

type Options struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	UserAgent    string
	Timeout      time.Duration
}

// Client reads posts and listings. With a client id it authenticates using the
// client-credentials grant; without one it uses the public endpoints.
type Client struct {
	baseURL   string
	userAgent string
	http      *http.Client
	logger    *slog.Logger
}

func NewClient(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = logging.Discard()
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = "clipmill-agent/0.1"
	}

	hc := httpx.NewClient(opts.Timeout)
	if opts.ClientID != "" {
		tokenURL := opts.TokenURL
		if tokenURL == "" {
			tokenURL = DefaultTokenURL
		}
		if base == DefaultBaseURL {
			base = DefaultOAuthBaseURL
		}
		cc := &clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, hc)
		authed := cc.Client(ctx)
		authed.Timeout = hc.Timeout
		hc = authed
	}

	return &Client{
		baseURL:   base,
		userAgent: ua,
		http:      hc,
		logger:    logging.WithComponent(logger, "reddit"),
	}
}

type listing struct {
	Data struct {
		Children []struct {
			Kind string   `json:"kind"`
			Data postJSON `json:"data"`
		} `json:"children"`
		After string `json:"after"`
	} `json:"data"`
}

type postJSON struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Selftext    string  `json:"selftext"`
	URL         string  `json:"url"`
	Permalink   string  `json:"permalink"`
	Subreddit   string  `json:"subreddit"`
	Author      string  `json:"author"`
	Flair       string  `json:"link_flair_text"`
	Score       int     `json:"score"`
	NumComments int     `json:"num_comments"`
	UpvoteRatio float64 `json:"upvote_ratio"`
	Over18      bool    `json:"over_18"`
	CreatedUTC  float64 `json:"created_utc"`
}

func (p postJSON) toPost(now time.Time) content.Post {
	selftext := p.Selftext
	if len(selftext) > maxSelftext {
		selftext = selftext[:maxSelftext]
	}
	author := p.Author
	if author == "" {
		author = "[deleted]"
	}
	return content.Post{
		ID:          p.ID,
		Title:       strings.TrimSpace(p.Title),
		Selftext:    selftext,
		URL:         p.URL,
		Permalink:   p.Permalink,
		Subreddit:   p.Subreddit,
		Author:      author,
		Flair:       p.Flair,
		Score:       p.Score,
		NumComments: p.NumComments,
		UpvoteRatio: p.UpvoteRatio,
		Over18:      p.Over18,
		CreatedUTC:  p.CreatedUTC,
		CapturedAt:  now.UTC(),
	}
}

// FetchPost loads a single post by its base36 id.
func (c *Client) FetchPost(ctx context.Context, id string) (*content.Post, error) {
	id = strings.TrimPrefix(strings.TrimSpace(id), "t3_")
	if id == "" {
		return nil, fmt.Errorf("reddit: empty post id")
	}
	var l listing
	if err := c.getJSON(ctx, "/by_id/t3_"+url.PathEscape(id)+".json", nil, &l); err != nil {
		return nil, err
	}
	for _, child := range l.Data.Children {
		if child.Data.ID == id {
			p := child.Data.toPost(time.Now())
			return &p, nil
		}
	}
	return nil, &httpx.StatusError{Service: "reddit", StatusCode: http.StatusNotFound, Body: "post " + id + " not found"}
}

// Top returns the top posts of subreddit for timeFilter (hour, day, week, month, year, all).
func (c *Client) Top(ctx context.Context, subreddit, timeFilter string, limit int) ([]content.Post, error) {
	if limit <= 0 {
		limit = 25
	}
	if timeFilter == "" {
		timeFilter = "day"
	}
	q := url.Values{}
	q.Set("t", timeFilter)
	q.Set("limit", strconv.Itoa(limit))

	var l listing
	if err := c.getJSON(ctx, "/r/"+url.PathEscape(subreddit)+"/top.json", q, &l); err != nil {
		return nil, err
	}
	now := time.Now()
	posts := make([]content.Post, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		if child.Kind != "" && child.Kind != "t3" {
			continue
		}
		posts = append(posts, child.Data.toPost(now))
	}
	c.logger.Debug("fetched listing", "subreddit", subreddit, "time_filter", timeFilter, "posts", len(posts))
	return posts, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("reddit request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpx.NewStatusError("reddit", resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode reddit response: %w", err)
	}
	return nil
}
