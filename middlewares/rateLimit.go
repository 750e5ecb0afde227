package middlewares

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// WindowCounter counts hits per key in a fixed window.
type WindowCounter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
}

type RateLimiter struct {
	counter WindowCounter
	limit   int64
	window  time.Duration
	logger  logrus.FieldLogger
}

func NewRateLimiter(counter WindowCounter, limit int64, window time.Duration, logger logrus.FieldLogger) *RateLimiter {
	return &RateLimiter{
		counter: counter,
		limit:   limit,
		window:  window,
		logger:  logger,
	}
}

// Middleware limits requests per client IP and route.
// A failing counter lets the request through.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ratelimit:" + c.FullPath() + ":" + c.ClientIP()

		count, err := rl.counter.Hit(c.Request.Context(), key, rl.window)
		if err != nil {
			rl.logger.WithFields(logrus.Fields{"field": "ratelimit", "key": key}).Warn("rate limit counter failed: " + err.Error())
			c.Next()
			return
		}

		if count > rl.limit {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
			})
			return
		}
		c.Next()
	}
}
