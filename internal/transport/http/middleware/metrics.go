package middleware

import (
	"time"

	"github.com/ErlanBelekov/reminder-dispatch/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics records latency per matched route. Paths gin could not match share one
// label, so probing random URLs does not grow the series count.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics.HTTPInFlight.Inc()
		defer metrics.HTTPInFlight.Dec()

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
