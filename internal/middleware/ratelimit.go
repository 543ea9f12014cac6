package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-grader/internal/response"
)

// RateLimiter is a token bucket per caller. Callers are keyed by the JWT
// user when the route is authenticated and by client IP otherwise.
type RateLimiter struct {
	mu          sync.Mutex
	visitors    map[string]*visitor
	rate        int           // Tokens per interval
	interval    time.Duration // Refill interval
	lastCleanup time.Time
	now         func() time.Time
}

type visitor struct {
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter creates a RateLimiter (e.g., 20 evaluations per minute).
func NewRateLimiter(rate int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		interval: interval,
		now:      time.Now,
	}
}

// Middleware returns a Gin middleware that rate-limits requests.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, retryAfter := rl.allow(callerKey(c))
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds()+0.5)))
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastCleanup) > time.Minute {
		rl.cleanup(now)
		rl.lastCleanup = now
	}

	v, exists := rl.visitors[key]
	if !exists {
		v = &visitor{tokens: rl.rate, lastSeen: now}
		rl.visitors[key] = v
	}

	// Refill whole intervals only, keeping the remainder.
	if elapsed := now.Sub(v.lastSeen); elapsed >= rl.interval {
		periods := int(elapsed / rl.interval)
		v.tokens += periods * rl.rate
		if v.tokens > rl.rate {
			v.tokens = rl.rate
		}
		v.lastSeen = v.lastSeen.Add(time.Duration(periods) * rl.interval)
	}

	if v.tokens <= 0 {
		return false, rl.interval - now.Sub(v.lastSeen)
	}
	v.tokens--
	return true, 0
}

func (rl *RateLimiter) cleanup(now time.Time) {
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > 3*rl.interval && v.tokens >= rl.rate-1 {
			delete(rl.visitors, key)
		}
	}
}

func callerKey(c *gin.Context) string {
	if claims := GetClaims(c); claims != nil {
		return "user:" + claims.UserID.String()
	}
	return "ip:" + c.ClientIP()
}
