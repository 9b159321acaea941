package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	apperrors "github.com/ecortescl/ms-smtp/pkg/errors"
	"github.com/ecortescl/ms-smtp/pkg/logger"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message,omitempty"`
	Details []string `json:"details,omitempty"`
}

// NewErrorResponse maps err to a status code and response body.
func NewErrorResponse(err error) (int, ErrorResponse) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return http.StatusBadRequest, ErrorResponse{
			Error:   "ValidationError",
			Message: "request validation failed",
			Details: ValidationMessages(verrs),
		}
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp := ErrorResponse{Error: appErr.Kind(), Message: appErr.Message}
		// Upstream detail is useful to callers for relay errors; internal
		// failures keep theirs in the logs.
		if appErr.Code == apperrors.ErrSendFailed && appErr.Err != nil {
			resp.Message = appErr.Err.Error()
		}
		return appErr.StatusCode(), resp
	}

	return http.StatusInternalServerError, ErrorResponse{
		Error:   "InternalError",
		Message: "internal server error",
	}
}

func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	status, body := NewErrorResponse(err)
	c.AbortWithStatusJSON(status, body)
}

// ErrorHandler renders the last error a handler attached with c.Error.
func ErrorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		lastErr := c.Errors.Last()
		status, body := NewErrorResponse(lastErr.Err)

		reqLog := RequestLogger(c, log)
		event := reqLog.Warn()
		if status >= http.StatusInternalServerError {
			event = reqLog.Error()
		}
		event.
			Err(lastErr.Err).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP()).
			Int("status", status).
			Msg("request error")

		if c.Writer.Written() {
			return
		}
		c.AbortWithStatusJSON(status, body)
	}
}
