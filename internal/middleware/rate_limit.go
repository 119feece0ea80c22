// Package middleware provides gin middleware for the ticketforge API.
package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/goatkit/ticketforge/internal/apierrors"
)

// RateLimiter keeps one token bucket per key.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing perSecond requests with the given
// burst for every key.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    10 * time.Minute,
		now:     time.Now,
	}
}

// SetRate changes the limit for every key. Existing buckets are dropped.
func (rl *RateLimiter) SetRate(perSecond float64, burst int) {
	if burst < 1 {
		burst = 1
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limit = rate.Limit(perSecond)
	rl.burst = burst
	rl.buckets = make(map[string]*bucket)
}

// Allow checks if a request is allowed and consumes a token
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Remaining returns the whole tokens left for key, or the burst for an
// unseen key.
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		return rl.burst
	}
	tokens := int(b.limiter.TokensAt(rl.now()))
	if tokens < 0 {
		return 0
	}
	return tokens
}

// Prune drops buckets idle longer than the idle window and returns how many
// were removed.
func (rl *RateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idle)
	removed := 0
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}

// RunPruner prunes idle buckets until stop is closed.
func (rl *RateLimiter) RunPruner(stop <-chan struct{}) {
	ticker := time.NewTicker(rl.idle)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rl.Prune()
		}
	}
}

// RateLimitByIP applies per client IP rate limiting. A nil limiter disables it.
func RateLimitByIP(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl == nil {
			c.Next()
			return
		}
		key := "ip:" + c.ClientIP()
		allowed := rl.Allow(key)
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.Burst()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining(key)))
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(rl.retryAfterSeconds()))
			apierrors.Abort(c, apierrors.CodeRateLimited)
			return
		}
		c.Next()
	}
}

// Burst returns the bucket size.
func (rl *RateLimiter) Burst() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.burst
}

func (rl *RateLimiter) retryAfterSeconds() int {
	rl.mu.Lock()
	limit := rl.limit
	rl.mu.Unlock()
	if limit <= 0 {
		return 60
	}
	secs := int(1/float64(limit)) + 1
	if secs < 1 {
		secs = 1
	}
	return secs
}
