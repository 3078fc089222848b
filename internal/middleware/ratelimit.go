// Package middleware holds the gin middleware chain shared by the gateway's
// HTTP routes.
package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterSweepEvery = 5 * time.Minute
	limiterIdleAfter  = 10 * time.Minute
)

// KeyFunc names the client a request is charged to.
type KeyFunc func(c *gin.Context) string

// ClientIPKey charges requests to the client IP as resolved by gin.
func ClientIPKey(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// HeaderKey charges requests to the value of the named header, so callers
// behind a shared proxy can be told apart. Requests without the header fall
// back to the client IP.
func HeaderKey(name string) KeyFunc {
	return func(c *gin.Context) string {
		if v := strings.TrimSpace(c.GetHeader(name)); v != "" {
			return "hdr:" + v
		}
		return ClientIPKey(c)
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// buckets is the set of per-client token buckets.
type buckets struct {
	mu    sync.Mutex
	rps   rate.Limit
	burst int
	m     map[string]*bucket
}

func (b *buckets) take(key string, now time.Time) bool {
	b.mu.Lock()
	bk, ok := b.m[key]
	if !ok {
		bk = &bucket{limiter: rate.NewLimiter(b.rps, b.burst)}
		b.m[key] = bk
	}
	bk.lastSeen = now
	b.mu.Unlock()
	return bk.limiter.AllowN(now, 1)
}

func (b *buckets) sweep(now time.Time, idle time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := 0
	for key, bk := range b.m {
		if now.Sub(bk.lastSeen) > idle {
			delete(b.m, key)
			dropped++
		}
	}
	return dropped
}

func (b *buckets) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.m)
}

// RateLimiter returns a Gin middleware that enforces a token bucket per
// client. rps is the steady-state requests per second and burst the maximum
// burst size. key picks the client identity; nil means ClientIPKey. Idle
// buckets are swept until ctx is done.
func RateLimiter(ctx context.Context, rps, burst int, key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ClientIPKey
	}
	set := &buckets{rps: rate.Limit(rps), burst: burst, m: make(map[string]*bucket)}
	retryAfter := strconv.Itoa(int(math.Ceil(1 / float64(rps))))

	go func() {
		ticker := time.NewTicker(limiterSweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				set.sweep(now, limiterIdleAfter)
			}
		}
	}()

	return func(c *gin.Context) {
		if !set.take(key(c), time.Now()) {
			c.Header("Retry-After", retryAfter)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
