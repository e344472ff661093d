package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SharedLimiter is a limiter shared across instances, such as a Redis token bucket.
type SharedLimiter interface {
	AllowAction(ctx context.Context, key string, ratePerSec, burst int) (bool, error)
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per caller. Callers are keyed by
// authenticated subject, or by client IP when unauthenticated.
type RateLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	rps      int
	rate     rate.Limit
	burst    int
	shared   SharedLimiter
	logger   *zap.Logger
}

func NewRateLimiter(rps int, shared SharedLimiter, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rps:      rps,
		rate:     rate.Limit(rps),
		burst:    rps * 2,
		shared:   shared,
		logger:   logger.With(zap.String("component", "ratelimit")),
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists := rl.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = time.Now()

	return entry.limiter
}

// Allow reports whether key may make another request. The shared limiter is
// consulted first; on error the local limiter decides.
func (rl *RateLimiter) Allow(ctx context.Context, key string) bool {
	if rl.shared != nil {
		ok, err := rl.shared.AllowAction(ctx, "api:"+key, rl.rps, rl.burst)
		if err == nil {
			return ok
		}
		rl.logger.Warn("shared rate limiter unavailable", zap.Error(err))
	}
	return rl.getLimiter(key).Allow()
}

// Prune drops limiters idle for longer than maxIdle.
func (rl *RateLimiter) Prune(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	removed := 0
	for key, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}
	return removed
}

// Cleanup prunes idle limiters every five minutes until ctx is done.
func (rl *RateLimiter) Cleanup(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Prune(10 * time.Minute)
			}
		}
	}()
}

// RateLimitMiddleware limits requests per user or client IP
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString(ContextUserID)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}

		if !rl.Allow(c.Request.Context(), key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}

		c.Next()
	}
}
