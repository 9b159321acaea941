package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ecortescl/ms-smtp/pkg/logger"
)

// Logger returns a middleware that logs HTTP requests
func Logger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		if raw != "" {
			path = path + "?" + raw
		}

		reqLog := RequestLogger(c, log)
		event := reqLog.Info()
		msg := "Request processed"
		if statusCode >= 500 {
			event = reqLog.Error()
			msg = "Server error"
		} else if statusCode >= 400 {
			event = reqLog.Warn()
			msg = "Client error"
		}

		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Str("ip", c.ClientIP()).
			Int("status", statusCode).
			Dur("duration", latency).
			Str("user_agent", c.Request.UserAgent()).
			Msg(msg)
	}
}
