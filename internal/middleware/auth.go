package middleware

import (
	"crypto/subtle"
	"errors"

	"github.com/gin-gonic/gin"

	apperrors "github.com/ecortescl/ms-smtp/pkg/errors"
)

const HeaderAPIToken = "x-api-token"

var (
	errTokenNotConfigured = errors.New("API token not configured. Set API_TOKEN env var")
	errInvalidToken       = errors.New("invalid or missing x-api-token")
)

// APIToken requires the x-api-token header to equal token. An empty token
// is a server misconfiguration and rejects every request with 500.
func APIToken(token string) gin.HandlerFunc {
	expected := []byte(token)

	return func(c *gin.Context) {
		if len(expected) == 0 {
			abortWithError(c, apperrors.NewInternal(errTokenNotConfigured))
			return
		}

		provided := []byte(c.GetHeader(HeaderAPIToken))
		if subtle.ConstantTimeCompare(provided, expected) != 1 {
			abortWithError(c, apperrors.Unauthorized(errInvalidToken))
			return
		}

		c.Next()
	}
}
