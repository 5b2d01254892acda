package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/contentops/stt-pipeline/internal/config"
	"github.com/contentops/stt-pipeline/pkg/logger"
)

// Key namespaces. Prefixes must never collide across unrelated cached
// artifacts.
const (
	TranscriptPrefix = "stt:transcript"
	RateLimitPrefix  = "stt:ratelimit"
	ItemResultPrefix = "stt:result"
)

// Cache is a keyed blob store with TTLs plus an atomic counter primitive,
// backed by a shared Redis instance so multiple process instances see the
// same state. A nil *Cache is valid and behaves as "no cache": Get always
// misses, Set is a no-op, and Incr admits everything. Caching is an
// optimization here, never a correctness dependency.
type Cache struct {
	client     *redis.Client
	defaultTTL time.Duration
	logger     *logger.Logger
}

// New connects to the shared Redis store. If the store is unreachable it
// returns nil rather than an error so callers fall back to no-cache mode.
func New(cfg config.RedisConfig, log *logger.Logger) *Cache {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		log.Warn("Invalid Redis URL, running without cache",
			logger.String("url", cfg.URL),
			logger.Error(err))
		return nil
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("Redis unreachable, running without cache", logger.Error(err))
		client.Close()
		return nil
	}

	return &Cache{
		client:     client,
		defaultTTL: time.Duration(cfg.CacheTTLSecs) * time.Second,
		logger:     log.Named("cache"),
	}
}

// NewWithClient wraps an existing Redis client. Used by tests.
func NewWithClient(client *redis.Client, defaultTTL time.Duration, log *logger.Logger) *Cache {
	return &Cache{
		client:     client,
		defaultTTL: defaultTTL,
		logger:     log.Named("cache"),
	}
}

// Key derives a cache key from a namespace prefix and an identifier. The
// identifier is fingerprinted so keys stay fixed-length and raw URLs never
// appear in key-space scans.
func Key(prefix, identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return prefix + ":" + hex.EncodeToString(sum[:])[:16]
}

// DefaultTTL returns the configured default TTL for Set.
func (c *Cache) DefaultTTL() time.Duration {
	if c == nil {
		return 0
	}
	return c.defaultTTL
}

// Get returns the value stored under key. A cold key is a normal outcome,
// reported as ok=false with a nil error.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	if c == nil {
		return "", false, nil
	}
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set stores value under key, silently overwriting any previous value. The
// TTL restarts on overwrite. A non-positive ttl uses the configured default.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Incr atomically increments the counter under key. The first increment of a
// fresh key attaches an expiry equal to window so the counter self-resets.
// Both commands ride one pipeline; INCR itself is the atomic admission point,
// so two processes can never both observe an under-counted value.
func (c *Cache) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	if c == nil {
		return 0, nil
	}

	var incr *redis.IntCmd
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Close releases the underlying connection.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
