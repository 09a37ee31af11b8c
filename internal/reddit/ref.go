package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/clipmill/clipmill-agent/internal/content"
)

const (
	SchemeReddit = "reddit"
	SchemeFile   = "file"
)

var (
	postIDPattern   = regexp.MustCompile(`^[a-z0-9]{3,12}$`)
	commentsPattern = regexp.MustCompile(`/comments/([a-z0-9]+)`)
)

// Ref returns the source reference for a reddit post id.
func Ref(id string) string {
	return SchemeReddit + ":" + id
}

// ParseRef splits a source reference into its scheme and value. Reddit
// permalinks are normalized to reddit:<id>.
func ParseRef(ref string) (scheme, value string, err error) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		u, perr := url.Parse(ref)
		if perr != nil {
			return "", "", fmt.Errorf("invalid source reference %q: %w", ref, perr)
		}
		host := strings.ToLower(u.Hostname())
		if host != "redd.it" && !strings.HasSuffix(host, "reddit.com") {
			return "", "", fmt.Errorf("unsupported source host %q", host)
		}
		if host == "redd.it" {
			return checkID(strings.Trim(u.Path, "/"))
		}
		m := commentsPattern.FindStringSubmatch(u.Path)
		if m == nil {
			return "", "", fmt.Errorf("no post id in %q", ref)
		}
		return checkID(m[1])
	}

	scheme, value, ok := strings.Cut(ref, ":")
	if !ok {
		return "", "", fmt.Errorf("source reference %q has no scheme", ref)
	}
	switch scheme {
	case SchemeReddit:
		return checkID(strings.TrimPrefix(value, "t3_"))
	case SchemeFile:
		if value == "" {
			return "", "", fmt.Errorf("file reference has no path")
		}
		return SchemeFile, value, nil
	default:
		return "", "", fmt.Errorf("unsupported source scheme %q", scheme)
	}
}

// NormalizeRef returns the canonical form of ref used for deduplication.
func NormalizeRef(ref string) (string, error) {
	scheme, value, err := ParseRef(ref)
	if err != nil {
		return "", err
	}
	return scheme + ":" + value, nil
}

func checkID(id string) (string, string, error) {
	id = strings.ToLower(id)
	if !postIDPattern.MatchString(id) {
		return "", "", fmt.Errorf("invalid reddit post id %q", id)
	}
	return SchemeReddit, id, nil
}

// Loader resolves a source reference to a post.
type Loader struct {
	Client *Client
	Now    func() time.Time
}

func (l *Loader) Load(ctx context.Context, ref string) (*content.Post, error) {
	scheme, value, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case SchemeFile:
		return loadFile(value, l.now())
	default:
		if l.Client == nil {
			return nil, fmt.Errorf("no reddit client configured for %s", ref)
		}
		return l.Client.FetchPost(ctx, value)
	}
}

func (l *Loader) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func loadFile(path string, now time.Time) (*content.Post, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source file: %w", err)
	}
	var raw postJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode source file %s: %w", path, err)
	}
	if strings.TrimSpace(raw.Title) == "" {
		return nil, fmt.Errorf("source file %s has no title", path)
	}
	if raw.ID == "" {
		raw.ID = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	p := raw.toPost(now)
	return &p, nil
}
