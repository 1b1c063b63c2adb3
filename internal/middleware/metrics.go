package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/servelist/backend/internal/metrics"
)

// Metrics records request latency labelled by the matched route.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
