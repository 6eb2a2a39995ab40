package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// PerUser keeps one token bucket per user id.
type PerUser struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewPerUser allows perMinute events per user with the given burst.
func NewPerUser(perMinute, burst int) *PerUser {
	if perMinute <= 0 {
		perMinute = 10
	}
	if burst <= 0 {
		burst = 1
	}
	return &PerUser{
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		buckets: map[string]*bucket{},
		now:     time.Now,
	}
}

// Allow consumes a token. When none is available it returns the wait until
// the next one.
func (p *PerUser) Allow(userID string) (bool, time.Duration) {
	now := p.now()

	p.mu.Lock()
	b, ok := p.buckets[userID]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(p.limit, p.burst)}
		p.buckets[userID] = b
	}
	b.seen = now
	p.mu.Unlock()

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Prune forgets users idle for longer than idle.
func (p *PerUser) Prune(idle time.Duration) int {
	cutoff := p.now().Add(-idle)
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for id, b := range p.buckets {
		if b.seen.Before(cutoff) {
			delete(p.buckets, id)
			n++
		}
	}
	return n
}

// Middleware limits by the user id that the auth middleware put on the gin
// context. Requests without one pass through.
func Middleware(p *PerUser) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetString("user_id")
		if uid == "" {
			c.Next()
			return
		}
		ok, wait := p.Allow(uid)
		if !ok {
			secs := int(math.Ceil(wait.Seconds()))
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded", "code": "rate_limited"})
			return
		}
		c.Next()
	}
}
