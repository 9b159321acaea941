package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

type RateLimiterConfig struct {
	// Max requests per client within Window.
	Max    int
	Window time.Duration
}

// RateLimiter keeps one token bucket per client IP. Buckets of idle
// clients expire after one window.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	window  time.Duration
	clients *cache.Cache
	mu      sync.Mutex
}

func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Max <= 0 {
		config.Max = 100
	}
	if config.Window <= 0 {
		config.Window = 15 * time.Minute
	}
	return &RateLimiter{
		limit:   rate.Every(config.Window / time.Duration(config.Max)),
		burst:   config.Max,
		window:  config.Window,
		clients: cache.New(config.Window, 2*config.Window),
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	lim, ok := rl.clients.Get(key)
	if !ok {
		lim = rate.NewLimiter(rl.limit, rl.burst)
	}
	// Refresh expiry on every hit.
	rl.clients.SetDefault(key, lim)
	return lim.(*rate.Limiter)
}

func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		lim := rl.limiter(c.ClientIP())

		c.Header("RateLimit-Limit", strconv.Itoa(rl.burst))
		if !lim.Allow() {
			retry := time.Duration(float64(time.Second) / float64(rl.limit))
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			c.Header("RateLimit-Remaining", "0")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error:   "TooManyRequests",
				Message: "rate limit exceeded",
			})
			return
		}
		c.Header("RateLimit-Remaining", strconv.Itoa(int(lim.Tokens())))

		c.Next()
	}
}
