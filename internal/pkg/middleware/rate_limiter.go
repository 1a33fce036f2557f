package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/constants"
	"github.com/piresc/nebengjek-dispatch/internal/pkg/logger"
	"github.com/piresc/nebengjek-dispatch/internal/utils"
)

// RateLimiterConfig contains configuration for the rate limiter
type RateLimiterConfig struct {
	RedisClient *redis.Client
	Resource    string        // Logical resource name, part of the Redis key
	Limit       int           // Maximum number of requests per window
	Period      time.Duration // Window length
}

// RateLimiterMiddleware applies a fixed window limit per actor (or client IP
// when unauthenticated). Redis failures let the request through.
func RateLimiterMiddleware(config RateLimiterConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if config.RedisClient == nil || config.Limit <= 0 {
			return next
		}
		return func(c echo.Context) error {
			identifier := c.RealIP()
			if actorID, ok := c.Get(ContextActorID).(string); ok && actorID != "" {
				identifier = actorID
			}

			key := fmt.Sprintf(constants.KeyRateLimit, config.Resource, identifier)
			ctx := c.Request().Context()

			var incr *redis.IntCmd
			var ttl *redis.DurationCmd
			_, err := config.RedisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				incr = pipe.Incr(ctx, key)
				ttl = pipe.TTL(ctx, key)
				return nil
			})
			if err == nil && ttl.Val() < 0 {
				err = config.RedisClient.Expire(ctx, key, config.Period).Err()
			}
			if err != nil {
				logger.Warn("Rate limiter unavailable, allowing request",
					logger.String("resource", config.Resource),
					logger.Err(err))
				return next(c)
			}

			count := int(incr.Val())
			remaining := config.Limit - count
			if remaining < 0 {
				remaining = 0
			}
			c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(config.Limit))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if count > config.Limit {
				wait := ttl.Val()
				if wait < 0 {
					wait = config.Period
				}
				c.Response().Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(wait).Unix(), 10))
				c.Response().Header().Set("Retry-After", strconv.FormatInt(int64(wait.Seconds()), 10))
				return utils.ErrorResponseHandler(c, http.StatusTooManyRequests, "Rate limit exceeded")
			}

			return next(c)
		}
	}
}

// ActorRateLimiter limits a resource per authenticated actor
func ActorRateLimiter(resource string, limit int, period time.Duration, redisClient *redis.Client) echo.MiddlewareFunc {
	return RateLimiterMiddleware(RateLimiterConfig{
		RedisClient: redisClient,
		Resource:    resource,
		Limit:       limit,
		Period:      period,
	})
}
