package diseasesh

import (
	"context"
	"sync"
	"time"

	"github.com/couchcryptid/outbreak-tracker/internal/domain"
	"github.com/couchcryptid/outbreak-tracker/internal/observability"
	"github.com/jonboulle/clockwork"
)

// HistorySource fetches historical timelines.
type HistorySource interface {
	Historical(ctx context.Context, lastDays int) (domain.Timeline, error)
}

// CachedHistory remembers the most recent timeline for a fixed TTL. The
// upstream timeline only changes once a day, while the chart is requested
// on every metric switch.
type CachedHistory struct {
	inner   HistorySource
	ttl     time.Duration
	clock   clockwork.Clock
	metrics *observability.Metrics

	mu        sync.Mutex
	lastDays  int
	timeline  domain.Timeline
	expiresAt time.Time
}

// NewCachedHistory creates a caching decorator around a history source.
func NewCachedHistory(inner HistorySource, ttl time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *CachedHistory {
	return &CachedHistory{inner: inner, ttl: ttl, clock: clock, metrics: metrics}
}

// Historical serves the remembered timeline while it is fresh and covers
// the same window; otherwise it fetches and replaces it. Errors are not cached.
func (c *CachedHistory) Historical(ctx context.Context, lastDays int) (domain.Timeline, error) {
	if tl, ok := c.lookup(lastDays); ok {
		c.metrics.HistoryCache.WithLabelValues("hit").Inc()
		return tl, nil
	}
	c.metrics.HistoryCache.WithLabelValues("miss").Inc()

	tl, err := c.inner.Historical(ctx, lastDays)
	if err != nil {
		return tl, err
	}

	c.mu.Lock()
	c.lastDays = lastDays
	c.timeline = tl
	c.expiresAt = c.clock.Now().Add(c.ttl)
	c.mu.Unlock()
	return tl, nil
}

func (c *CachedHistory) lookup(lastDays int) (domain.Timeline, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expiresAt.IsZero() || lastDays != c.lastDays || !c.clock.Now().Before(c.expiresAt) {
		return domain.Timeline{}, false
	}
	return c.timeline, true
}
