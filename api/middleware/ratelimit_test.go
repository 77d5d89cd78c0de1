package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_PerClient(t *testing.T) {
	r := NewRateLimiter(0.001, 1)
	assert.True(t, r.Allow("10.0.0.1"))
	assert.False(t, r.Allow("10.0.0.1"))
	assert.True(t, r.Allow("10.0.0.2"))
}

func TestRateLimiter_SweepsIdleVisitors(t *testing.T) {
	r := NewRateLimiter(10, 1)
	r.Allow("idle")
	r.visitors["idle"].lastSeen = time.Now().Add(-time.Hour)

	// 距上次清理不足ttl时不遍历
	r.Allow("active")
	assert.Len(t, r.visitors, 2)

	r.lastSweep = time.Now().Add(-time.Hour)
	r.Allow("active")
	assert.Len(t, r.visitors, 1)
	assert.Contains(t, r.visitors, "active")
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimit(0.001, 1))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "Çok fazla istek")
}
