package ffmpeg

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/clipmill/clipmill-agent/internal/logging"
)

const defaultCacheTTL = 5 * time.Minute

// CachedDoctor caches doctor probes so status endpoints do not spawn
// subprocesses on every request.
type CachedDoctor struct {
	runner Runner
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

func NewCachedDoctor(runner Runner, logger *slog.Logger) *CachedDoctor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &CachedDoctor{
		runner: runner,
		ttl:    defaultCacheTTL,
		now:    time.Now,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && d.now().Sub(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe. A failed probe returns the stale cache when
// there is one.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.runner.Doctor(ctx)
	if err != nil {
		d.logger.Warn("media doctor probe failed", "error", err)
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return caps, err
	}
	caps.ProbedAt = d.now()
	d.cached = caps
	return caps, nil
}

func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
