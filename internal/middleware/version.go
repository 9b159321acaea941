package middleware

import "github.com/gin-gonic/gin"

const HeaderAPIVersion = "X-API-Version"

// Version stamps every response of the group with the API version it serves.
func Version(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header(HeaderAPIVersion, version)
		c.Next()
	}
}
