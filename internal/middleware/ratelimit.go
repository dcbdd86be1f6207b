package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	appErrors "github.com/noah-isme/krs-api/pkg/errors"
	"github.com/noah-isme/krs-api/pkg/response"
)

const limiterIdleTTL = 10 * time.Minute

// RateLimit applies a token bucket per student, or per client IP on
// unauthenticated routes. Idle buckets are evicted.
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = 1
	}
	buckets := gocache.New(limiterIdleTTL, limiterIdleTTL)

	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if claims := StudentClaims(c); claims != nil {
			key = "nim:" + claims.NIM
		}

		var limiter *rate.Limiter
		if cached, ok := buckets.Get(key); ok {
			limiter = cached.(*rate.Limiter)
		} else {
			limiter = rate.NewLimiter(rate.Limit(rps), burst)
			if err := buckets.Add(key, limiter, gocache.DefaultExpiration); err != nil {
				if cached, ok := buckets.Get(key); ok {
					limiter = cached.(*rate.Limiter)
				}
			}
		}
		buckets.Set(key, limiter, gocache.DefaultExpiration)

		if !limiter.Allow() {
			c.Header("Retry-After", "1")
			response.Error(c, appErrors.ErrTooManyRequests)
			c.Abort()
			return
		}
		c.Next()
	}
}
