package httpmiddleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(c *gin.Context) string

// SimpleTokenBucket is an in-memory rate limiter. Each process keeps its own
// buckets.
type SimpleTokenBucket struct {
	capacity  float64
	perSecond float64
	mu        sync.Mutex
	state     map[string]*bucket
	swept     time.Time
	now       func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// sweepEvery bounds how often idle buckets are dropped.
const sweepEvery = 5 * time.Minute

// NewSimpleTokenBucket creates limiter with capacity tokens and rate per minute.
func NewSimpleTokenBucket(capacity, perMinute int) *SimpleTokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &SimpleTokenBucket{
		capacity:  float64(capacity),
		perSecond: float64(perMinute) / 60,
		state:     make(map[string]*bucket),
		now:       time.Now,
	}
}

// ClientIP charges requests to the caller's address.
func ClientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return "ip:" + ip
	}
	return "ip:unknown"
}

// GinMiddleware returns a gin handler enforcing limits per key. A nil key
// charges per client IP.
func (l *SimpleTokenBucket) GinMiddleware(key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ClientIP
	}
	return func(c *gin.Context) {
		if l.perSecond <= 0 {
			c.Next()
			return
		}
		if !l.allow(key(c)) {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(1/l.perSecond))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (l *SimpleTokenBucket) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.sweep(now)

	b, ok := l.state[key]
	if !ok {
		l.state[key] = &bucket{tokens: l.capacity - 1, last: now}
		return true
	}
	b.tokens = math.Min(l.capacity, b.tokens+now.Sub(b.last).Seconds()*l.perSecond)
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep forgets buckets that have refilled completely; they behave exactly
// like a missing one.
func (l *SimpleTokenBucket) sweep(now time.Time) {
	if now.Sub(l.swept) < sweepEvery {
		return
	}
	l.swept = now
	for key, b := range l.state {
		if b.tokens+now.Sub(b.last).Seconds()*l.perSecond >= l.capacity {
			delete(l.state, key)
		}
	}
}

// Buckets reports how many keys are being tracked.
func (l *SimpleTokenBucket) Buckets() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.state)
}
