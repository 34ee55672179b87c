package middleware

import (
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"

	"txguard/internal/core/apperror"
	"txguard/pkg/logger"
)

// ConcurrencyLimit bounds request execution: at most maxWorkers requests run
// at once and at most acceptCount more wait for a slot. Anything beyond that
// is rejected immediately with 503 SERVER_BUSY. maxWorkers <= 0 disables the limit.
func ConcurrencyLimit(maxWorkers, acceptCount int) gin.HandlerFunc {
	if maxWorkers <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	workers := semaphore.NewWeighted(int64(maxWorkers))
	var waiting atomic.Int64

	return func(c *gin.Context) {
		if !workers.TryAcquire(1) {
			if waiting.Add(1) > int64(acceptCount) {
				waiting.Add(-1)
				reject(c)
				return
			}
			err := workers.Acquire(c.Request.Context(), 1)
			waiting.Add(-1)
			if err != nil {
				// client went away while queued
				c.Abort()
				return
			}
		}
		defer workers.Release(1)

		c.Next()
	}
}

func reject(c *gin.Context) {
	logger.Warn(c.Request.Context(), "request rejected: server busy",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
	)
	_ = c.Error(apperror.NewServerBusy())
	c.Abort()
}
