package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"resqlink/models"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Redis     *redis.Client
	Requests  int
	Window    time.Duration
	KeyPrefix string
}

// RateLimiter throttles requests per authenticated user, falling back to
// client IP for unauthenticated traffic. Sliding window over a Redis
// sorted set. On Redis failure requests are allowed through: throttling is
// never worth blocking an emergency report.
type RateLimiter struct {
	config RateLimitConfig
}

func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "rate_limit"
	}
	return &RateLimiter{config: config}
}

func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rl.getKey(c)

		allowed, remaining, resetTime, err := rl.checkRateLimit(key)
		if err != nil {
			logrus.Errorf("Rate limit check failed: %v", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.config.Requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(time.Until(resetTime).Seconds())+1))
			c.JSON(http.StatusTooManyRequests, models.ErrorResponse{
				Error:   "RATE_LIMIT_EXCEEDED",
				Message: "Too many requests, slow down",
				Code:    "RATE_LIMIT_EXCEEDED",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) getKey(c *gin.Context) string {
	if userID, ok := GetCurrentUserID(c); ok {
		return fmt.Sprintf("%s:user:%s", rl.config.KeyPrefix, userID)
	}
	return fmt.Sprintf("%s:ip:%s", rl.config.KeyPrefix, c.ClientIP())
}

func (rl *RateLimiter) checkRateLimit(key string) (allowed bool, remaining int, resetTime time.Time, err error) {
	ctx := context.Background()
	now := time.Now()
	window := rl.config.Window

	pipe := rl.config.Redis.Pipeline()

	expiredBefore := now.Add(-window).UnixNano()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", expiredBefore))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, &redis.Z{
		Score:  float64(now.UnixNano()),
		Member: now.UnixNano(),
	})
	pipe.Expire(ctx, key, window)

	if _, err = pipe.Exec(ctx); err != nil {
		return true, 0, now, err
	}

	count := int(countCmd.Val())
	remaining = rl.config.Requests - count - 1
	if remaining < 0 {
		remaining = 0
	}

	return count < rl.config.Requests, remaining, now.Add(window), nil
}
