package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"village_backend/internal/logger"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
)

var redisClient *redis.Client

// InitRedisRateLimiter initializes a shared Redis client used by the middleware.
// If addr is empty or the ping fails, redisClient stays nil and the limiters
// fall back to in-process buckets.
func InitRedisRateLimiter(addr, password string, db int) {
	if addr == "" {
		return
	}
	redisClient = redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, using in-process rate limits", "addr", addr, "error", err)
		redisClient = nil
	}
}

// KeyFunc picks the identity a request is counted against
type KeyFunc func(c *gin.Context) (string, bool)

// ByIP counts requests per client address
func ByIP(c *gin.Context) (string, bool) {
	return c.ClientIP(), true
}

// ByPlayer counts requests per authenticated player. JWT must run first.
func ByPlayer(c *gin.Context) (string, bool) {
	return PlayerID(c)
}

// RedisRateLimit is a fixed-window limiter over Redis INCR/EXPIRE.
// key format: rl:<scope>:<window_seconds>:<identity>
func RedisRateLimit(scope string, maxRequests int, window time.Duration, keyFn KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := keyFn(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "unauthorized"})
			return
		}

		var allowed bool
		if redisClient == nil {
			allowed = allowLocal(scope+":"+ident, maxRequests, window)
		} else {
			key := "rl:" + scope + ":" + strconv.FormatInt(int64(window.Seconds()), 10) + ":" + ident
			val, err := redisClient.Incr(c.Request.Context(), key).Result()
			if err != nil {
				c.Header("X-RateLimit-Error", "redis-error")
				allowed = allowLocal(scope+":"+ident, maxRequests, window)
			} else {
				if val == 1 {
					redisClient.Expire(c.Request.Context(), key, window)
				}
				c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
				c.Header("X-RateLimit-Remaining", strconv.FormatInt(max(0, int64(maxRequests)-val), 10))
				allowed = val <= int64(maxRequests)
			}
		}

		if !allowed {
			RLBlocked.WithLabelValues(scope).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"ok":          false,
				"error":       "rate_limited",
				"retry_after": int(window.Seconds()),
			})
			return
		}

		RLRequests.WithLabelValues(scope).Inc()
		c.Next()
	}
}
