package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ecortescl/ms-smtp/pkg/logger"
)

const (
	HeaderXRequestID = "X-Request-ID"
	ContextRequestID = "request_id"
	ContextLogger    = "request_logger"

	maxRequestIDLength = 128
)

// RequestID accepts the caller's X-Request-ID or generates one, echoes it
// back and binds it to a request-scoped logger. The logger is also put on
// the request context for zerolog.Ctx.
func RequestID(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}
	return func(c *gin.Context) {
		rid := c.GetHeader(HeaderXRequestID)
		if rid == "" || len(rid) > maxRequestIDLength {
			rid = uuid.NewString()
		}

		reqLog := log.WithRequestID(rid)
		c.Set(ContextRequestID, rid)
		c.Set(ContextLogger, reqLog)
		c.Request = c.Request.WithContext(reqLog.WithContext(c.Request.Context()))
		c.Header(HeaderXRequestID, rid)
		c.Next()
	}
}

// RequestLogger returns the logger bound by RequestID, or fallback when
// the middleware did not run.
func RequestLogger(c *gin.Context, fallback *logger.Logger) *logger.Logger {
	if v, ok := c.Get(ContextLogger); ok {
		if l, ok := v.(*logger.Logger); ok {
			return l
		}
	}
	if fallback == nil {
		return logger.Nop()
	}
	return fallback
}
