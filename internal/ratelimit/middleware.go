package ratelimit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// IPRateLimitMiddleware creates middleware for the general per-IP limit
func (rl *RateLimiter) IPRateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		result, err := rl.AllowIP(c.Request.Context(), ip)
		if err != nil {
			// Never block a request because the limiter itself failed
			slog.Error("Rate limit check failed", "ip", ip, "error", err)
			c.Next()
			return
		}

		rl.reject(c, result, "rate limit exceeded for IP")
	}
}

// ComputeRateLimitMiddleware creates middleware for score and rank
// endpoints, which are costlier than plain reads.
func (rl *RateLimiter) ComputeRateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		result, err := rl.AllowCompute(c.Request.Context(), ip)
		if err != nil {
			slog.Error("Compute rate limit check failed", "ip", ip, "error", err)
			c.Next()
			return
		}

		rl.reject(c, result, "rate limit exceeded for scoring endpoints")
	}
}

// reject applies standard rate limit headers and aborts with 429 when
// the check did not allow the request.
func (rl *RateLimiter) reject(c *gin.Context, result *Result, message string) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

	if result.Allowed {
		c.Next()
		return
	}

	if rl.metrics != nil {
		rl.metrics.IncrementRateLimitIPBlock()
	}

	c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":       message,
		"message":     fmt.Sprintf("You have exceeded the limit of %d requests per minute", result.Limit),
		"retry_after": int(result.RetryAfter.Seconds()),
		"reset_at":    result.ResetAt.Unix(),
	})
	c.Abort()
}

// StatusHandler reports limiter health and configuration
func (rl *RateLimiter) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, rl.GetStats())
	}
}
