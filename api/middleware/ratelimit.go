package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/fyerfyer/pdf-QA-system/api/model"
)

// RateLimiter 按客户端IP限流
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	visitors  map[string]*visitor
	ttl       time.Duration
	lastSweep time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter 创建限流器，rps为每秒请求数
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		visitors:  make(map[string]*visitor),
		ttl:       10 * time.Minute,
		lastSweep: time.Now(),
	}
}

// Allow 判断该客户端的请求是否放行
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	now := time.Now()
	v, ok := r.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.visitors[key] = v
	}
	v.lastSeen = now

	// 每个ttl周期最多清理一次过期客户端
	if now.Sub(r.lastSweep) >= r.ttl {
		for k, other := range r.visitors {
			if now.Sub(other.lastSeen) > r.ttl {
				delete(r.visitors, k)
			}
		}
		r.lastSweep = now
	}
	r.mu.Unlock()

	return v.limiter.Allow()
}

// RateLimit 限流中间件，rps<=0时不限流
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := NewRateLimiter(rps, burst)
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			log.WithFields(logrus.Fields{
				FieldClientIP: c.ClientIP(),
				FieldPath:     c.Request.URL.Path,
			}).Warn("Rate limit exceeded")
			resp := model.NewErrorResponse(http.StatusTooManyRequests, "Çok fazla istek, lütfen bekleyin")
			resp.TraceID = c.GetString(TraceIDKey)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, resp)
			return
		}
		c.Next()
	}
}
