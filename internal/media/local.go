package media

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var videoExts = map[string]bool{".mp4": true, ".mov": true, ".webm": true, ".mkv": true}

// LocalPool is a directory of generic footage used when stock searches come
// up empty. Files whose name contains the keyword are preferred; the rest of
// the pool follows in name order.
type LocalPool struct {
	dir string
}

func NewLocalPool(dir string) *LocalPool {
	return &LocalPool{dir: dir}
}

func (p *LocalPool) Name() string { return "local" }

func (p *LocalPool) Search(ctx context.Context, q Query) ([]Candidate, error) {
	if p == nil || p.dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(p.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var matched, rest []Candidate
	kw := strings.ToLower(strings.TrimSpace(q.Keyword))
	for _, e := range entries {
		if e.IsDir() || !videoExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		c := Candidate{
			ID:        "local_" + strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			Provider:  p.Name(),
			Keyword:   q.Keyword,
			LocalPath: filepath.Join(p.dir, e.Name()),
		}
		if kw != "" && strings.Contains(strings.ToLower(e.Name()), kw) {
			matched = append(matched, c)
		} else {
			rest = append(rest, c)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	sort.Slice(rest, func(i, j int) bool { return rest[i].ID < rest[j].ID })
	out := append(matched, rest...)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
