package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
)

// limiterStore holds one token bucket per client key.
type limiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[key] = l
	}
	return l
}

// RateLimit throttles each client, keyed by reviewer when authenticated and
// by IP otherwise. A non-positive rate disables limiting.
func RateLimit(cfg domain.RateLimitConfig) gin.HandlerFunc {
	if cfg.RequestsPerSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(math.Ceil(cfg.RequestsPerSecond))
	}
	store := &limiterStore{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(cfg.RequestsPerSecond),
		burst:    burst,
	}
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(c *gin.Context) {
		key := c.ClientIP()
		if r := c.GetString(reviewerKey); r != "" {
			key = r + ":" + key
		}

		c.Header("X-RateLimit-Limit", limitHeader)
		if !store.get(key).Allow() {
			retryAfter := int(math.Ceil(1 / cfg.RequestsPerSecond))
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.Header("X-RateLimit-Remaining", "0")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, &domain.OperationError{
				Code:      domain.CodeRateLimit,
				Message:   "rate limit exceeded",
				Timestamp: time.Now().UTC(),
				RequestID: c.GetString(CorrelationIDKey),
			})
			return
		}
		c.Next()
	}
}
