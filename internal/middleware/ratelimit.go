package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-speaking/internal/response"
)

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(c *gin.Context) string

// RateLimiter is a fixed-window limiter keyed by KeyFunc. Stale buckets
// are swept lazily on the request path.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	rate      int
	interval  time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	tokens  int
	resetAt time.Time
}

// NewRateLimiter allows rate requests per interval for each key.
func NewRateLimiter(rate int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets:  make(map[string]*bucket),
		rate:     rate,
		interval: interval,
		now:      time.Now,
	}
}

// ByCandidate keys on the authenticated candidate, falling back to the
// client IP when no claims are present.
func ByCandidate(c *gin.Context) string {
	if claims := GetClaims(c); claims != nil {
		return "candidate:" + strconv.Itoa(claims.UserID)
	}
	return "ip:" + c.ClientIP()
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(key(c)) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > 3*rl.interval {
		for k, b := range rl.buckets {
			if now.After(b.resetAt) {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[key]
	if !ok || now.After(b.resetAt) {
		b = &bucket{tokens: rl.rate, resetAt: now.Add(rl.interval)}
		rl.buckets[key] = b
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}
