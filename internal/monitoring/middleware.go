package monitoring

import (
	"time"

	"github.com/gin-gonic/gin"
)

// RequestLogging creates Gin middleware that logs every request with its
// outcome and latency.
func RequestLogging(logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.RequestLogger(
			c.Request.Method,
			c.Request.URL.Path,
			c.ClientIP(),
			c.Writer.Status(),
			time.Since(start),
		)
	}
}
