package ratelimit

import (
	"context"
	"time"

	"github.com/contentops/stt-pipeline/internal/cache"
	"github.com/contentops/stt-pipeline/pkg/logger"
)

// pollInterval is how often a blocked caller re-attempts admission.
const pollInterval = 100 * time.Millisecond

// Limiter enforces "at most N operations per window" for a named resource,
// shared across all processes through the cache's atomic counter. This is a
// fixed-window counter: all callers in the same window race for one budget,
// and the window boundary can admit a short burst up to twice the limit.
// That approximation is accepted for a batch pipeline.
type Limiter struct {
	cache  *cache.Cache
	window time.Duration
	logger *logger.Logger
}

// New creates a limiter over the shared cache. A nil cache disables
// limiting: every acquisition succeeds immediately.
func New(c *cache.Cache, window time.Duration, log *logger.Logger) *Limiter {
	return &Limiter{
		cache:  c,
		window: window,
		logger: log.Named("ratelimit"),
	}
}

// TryAcquire consumes one slot for resource if the current window still has
// budget. It returns true iff the post-increment count is within limit.
func (l *Limiter) TryAcquire(ctx context.Context, resource string, limit int) (bool, error) {
	if l.cache == nil {
		return true, nil
	}
	count, err := l.cache.Incr(ctx, resource, l.window)
	if err != nil {
		return false, err
	}
	return count <= int64(limit), nil
}

// Acquire blocks until a slot for resource is admitted or ctx is done. There
// is no admission deadline of its own; callers needing a bound must carry it
// in ctx. Each failed attempt ties up this goroutine for pollInterval, which
// bounds achievable concurrency under heavy contention.
func (l *Limiter) Acquire(ctx context.Context, resource string, limit int) error {
	for {
		ok, err := l.TryAcquire(ctx, resource, limit)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		l.logger.Debug("Rate limit exhausted, waiting",
			logger.String("resource", resource),
			logger.Int("limit", limit))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
