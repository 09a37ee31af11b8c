// Package dedup remembers which source references were processed recently so
// the same post is not turned into two videos.
package dedup

import (
	"context"
	"time"
)

// DefaultWindow is how long a processed reference blocks a new job.
const DefaultWindow = 7 * 24 * time.Hour

type Record struct {
	SourceRef   string    `json:"source_ref"`
	JobID       string    `json:"job_id"`
	ProcessedAt time.Time `json:"processed_at"`
}

type Stats struct {
	Total     int `json:"total"`
	Today     int `json:"today"`
	Yesterday int `json:"yesterday"`
	ThisWeek  int `json:"this_week"`
	Older     int `json:"older"`
}

// Store is safe for concurrent use across processes sharing the backend.
type Store interface {
	// Claim records ref for jobID unless a record newer than the window
	// exists. It is an atomic add-if-absent: of two concurrent claims for the
	// same ref, at most one returns true. When the claim fails the existing
	// record is returned.
	Claim(ctx context.Context, ref, jobID string, now time.Time) (bool, *Record, error)

	// Release forgets ref, e.g. when the job it was claimed for could not be created.
	Release(ctx context.Context, ref string) error

	// Lookup returns the live record for ref, or nil.
	Lookup(ctx context.Context, ref string, now time.Time) (*Record, error)

	// Purge drops records older than the window and returns how many went.
	Purge(ctx context.Context, now time.Time) (int, error)

	Stats(ctx context.Context, now time.Time) (Stats, error)

	Close() error
}

// bucket adds one record age to s.
func (s *Stats) bucket(processedAt, now time.Time) {
	s.Total++
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	switch {
	case !processedAt.Before(midnight):
		s.Today++
	case !processedAt.Before(midnight.AddDate(0, 0, -1)):
		s.Yesterday++
	case !processedAt.Before(midnight.AddDate(0, 0, -7)):
		s.ThisWeek++
	default:
		s.Older++
	}
}

func windowOrDefault(w time.Duration) time.Duration {
	if w <= 0 {
		return DefaultWindow
	}
	return w
}
