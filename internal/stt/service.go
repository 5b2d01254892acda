package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/contentops/stt-pipeline/internal/cache"
	"github.com/contentops/stt-pipeline/internal/ratelimit"
	"github.com/contentops/stt-pipeline/pkg/logger"
)

// Service is the transcription orchestrator: content-addressed result
// caching, shared rate-limit admission, and classified retry with
// exponential backoff around a Provider.
//
// Guarantees: a cache hit short-circuits the rate limiter, the provider,
// and the retry loop entirely; at most one cache write happens per
// successful transcription. Two concurrent callers for the same uncached
// URL may both reach the provider and both consume rate-limit budget; the
// second write overwrites the first with an identical value. No in-flight
// de-duplication is attempted.
type Service struct {
	provider Provider
	cache    *cache.Cache
	limiter  *ratelimit.Limiter

	rateLimitKey      string
	rateLimitRequests int
	maxAttempts       int
	initialDelay      time.Duration
	backoffMultiplier float64

	logger *logger.Logger
}

// ServiceConfig carries the orchestration policy knobs.
type ServiceConfig struct {
	ProviderName      string  // rate-limit resource suffix (e.g. "assemblyai")
	RateLimitRequests int     // admissions per window, shared across processes
	MaxAttempts       int     // total provider attempts
	InitialDelayMs    int     // backoff before the first retry
	BackoffMultiplier float64 // backoff growth factor, > 1
}

// NewService creates the orchestrator. The cache may be nil (no-cache
// mode); the limiter must be built over the same cache.
func NewService(provider Provider, c *cache.Cache, limiter *ratelimit.Limiter, cfg ServiceConfig, log *logger.Logger) *Service {
	return &Service{
		provider:          provider,
		cache:             c,
		limiter:           limiter,
		rateLimitKey:      cache.RateLimitPrefix + ":" + cfg.ProviderName,
		rateLimitRequests: cfg.RateLimitRequests,
		maxAttempts:       cfg.MaxAttempts,
		initialDelay:      time.Duration(cfg.InitialDelayMs) * time.Millisecond,
		backoffMultiplier: cfg.BackoffMultiplier,
		logger:            log.Named("stt-service"),
	}
}

// Transcribe returns the transcription for audioURL, from cache when a
// fresh entry exists, otherwise from the provider under rate-limit
// admission and the retry policy.
func (s *Service) Transcribe(ctx context.Context, audioURL string) (*TranscriptionResult, error) {
	key := cache.Key(cache.TranscriptPrefix, audioURL)

	if result := s.lookupCached(ctx, key, audioURL); result != nil {
		return result, nil
	}

	// Admission happens once per transcription, not once per retry: the
	// limiter gates entry into an attempt sequence, and the backoff below
	// already spaces out the retries themselves.
	if err := s.limiter.Acquire(ctx, s.rateLimitKey, s.rateLimitRequests); err != nil {
		return nil, fmt.Errorf("waiting for rate limit: %w", err)
	}

	var lastErr *Error
	delay := s.initialDelay

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		result, err := s.provider.Transcribe(ctx, audioURL)
		if err == nil {
			s.storeCached(ctx, key, result)
			return result, nil
		}

		typed := AsError(err)
		if typed == nil {
			return nil, err
		}
		if !typed.Retryable() {
			return nil, typed
		}

		lastErr = typed
		s.logger.Warn("Transient provider failure",
			logger.String("error_code", string(typed.Code)),
			logger.Int("attempt", attempt),
			logger.Int("max_attempts", s.maxAttempts))

		if attempt == s.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * s.backoffMultiplier)
	}

	// Surface the concrete cause, never a generic "retries exhausted".
	return nil, lastErr
}

// lookupCached returns a previously cached result, or nil on a miss. Cache
// errors degrade to a miss; the store is best-effort.
func (s *Service) lookupCached(ctx context.Context, key, audioURL string) *TranscriptionResult {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Cache lookup failed", logger.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	var result TranscriptionResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		s.logger.Warn("Discarding undecodable cache entry",
			logger.String("key", key),
			logger.Error(err))
		return nil
	}

	s.logger.Info("Cache hit", logger.String("audio_url", truncateURL(audioURL)))
	return &result
}

// storeCached writes the result under key with the default TTL. Failures
// are logged, not returned: the transcription itself succeeded.
func (s *Service) storeCached(ctx context.Context, key string, result *TranscriptionResult) {
	data, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("Failed to serialize result for cache", logger.Error(err))
		return
	}
	if err := s.cache.Set(ctx, key, string(data), 0); err != nil {
		s.logger.Warn("Failed to cache transcription result", logger.Error(err))
	}
}
