// Package media finds and downloads b-roll footage for a script, falling back
// from a strict search to a relaxed one and then to a generic pool.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/clipmill/clipmill-agent/internal/httpx"
)

const (
	DefaultPexelsURL  = "https://api.pexels.com"
	DefaultPixabayURL = "https://pixabay.com"
)

// Candidate is a search hit that has not been downloaded yet.
type Candidate struct {
	ID          string
	Provider    string
	Keyword     string
	DownloadURL string
	PageURL     string
	LocalPath   string // set by the local pool instead of DownloadURL
	Duration    float64
	Width       int
	Height      int
}

type Query struct {
	Keyword    string
	Limit      int
	HDOnly     bool
	MinSeconds int
}

// Provider is a stock footage source.
type Provider interface {
	Name() string
	Search(ctx context.Context, q Query) ([]Candidate, error)
}

type Pexels struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewPexels(baseURL, apiKey string, client *http.Client) *Pexels {
	if baseURL == "" {
		baseURL = DefaultPexelsURL
	}
	return &Pexels{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: client}
}

func (p *Pexels) Name() string { return "pexels" }

type pexelsResponse struct {
	Videos []struct {
		ID       int64   `json:"id"`
		URL      string  `json:"url"`
		Duration float64 `json:"duration"`
		Files    []struct {
			Quality string `json:"quality"`
			Width   int    `json:"width"`
			Height  int    `json:"height"`
			Link    string `json:"link"`
		} `json:"video_files"`
	} `json:"videos"`
}

func (p *Pexels) Search(ctx context.Context, q Query) ([]Candidate, error) {
	params := url.Values{}
	params.Set("query", q.Keyword)
	params.Set("per_page", strconv.Itoa(max(q.Limit, 1)))
	if q.HDOnly {
		params.Set("size", "medium")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/videos/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", p.apiKey)

	var body pexelsResponse
	if err := doJSON(p.http, req, "pexels", &body); err != nil {
		return nil, err
	}

	var out []Candidate
	for _, v := range body.Videos {
		if q.MinSeconds > 0 && v.Duration < float64(q.MinSeconds) {
			continue
		}
		for _, f := range v.Files {
			if f.Link == "" || (q.HDOnly && f.Quality != "hd") {
				continue
			}
			out = append(out, Candidate{
				ID:          fmt.Sprintf("pexels_%d", v.ID),
				Provider:    p.Name(),
				Keyword:     q.Keyword,
				DownloadURL: f.Link,
				PageURL:     v.URL,
				Duration:    v.Duration,
				Width:       f.Width,
				Height:      f.Height,
			})
			break
		}
	}
	return out, nil
}

type Pixabay struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewPixabay(baseURL, apiKey string, client *http.Client) *Pixabay {
	if baseURL == "" {
		baseURL = DefaultPixabayURL
	}
	return &Pixabay{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: client}
}

func (p *Pixabay) Name() string { return "pixabay" }

type pixabayVideo struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type pixabayResponse struct {
	Hits []struct {
		ID       int64                   `json:"id"`
		PageURL  string                  `json:"pageURL"`
		Duration float64                 `json:"duration"`
		Videos   map[string]pixabayVideo `json:"videos"`
	} `json:"hits"`
}

func (p *Pixabay) Search(ctx context.Context, q Query) ([]Candidate, error) {
	params := url.Values{}
	params.Set("key", p.apiKey)
	params.Set("q", q.Keyword)
	params.Set("video_type", "all")
	params.Set("per_page", strconv.Itoa(max(q.Limit, 3))) // pixabay rejects per_page below 3
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/videos/?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var body pixabayResponse
	if err := doJSON(p.http, req, "pixabay", &body); err != nil {
		return nil, err
	}

	var out []Candidate
	for _, h := range body.Hits {
		if q.MinSeconds > 0 && h.Duration < float64(q.MinSeconds) {
			continue
		}
		v, ok := h.Videos["large"]
		if !ok || v.URL == "" {
			if q.HDOnly {
				continue
			}
			v = h.Videos["medium"]
		}
		if v.URL == "" {
			continue
		}
		out = append(out, Candidate{
			ID:          fmt.Sprintf("pixabay_%d", h.ID),
			Provider:    p.Name(),
			Keyword:     q.Keyword,
			DownloadURL: v.URL,
			PageURL:     h.PageURL,
			Duration:    h.Duration,
			Width:       v.Width,
			Height:      v.Height,
		})
		if len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func doJSON(client *http.Client, req *http.Request, service string, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpx.NewStatusError(service, resp)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", service, err)
	}
	return nil
}
