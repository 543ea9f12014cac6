package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
)

// CacheControl sets the Cache-Control header for responses, usually static
// uploads whose names never get reused.
func CacheControl(maxAge time.Duration) gin.HandlerFunc {
	value := fmt.Sprintf("public, max-age=%d", int(maxAge/time.Second))
	return func(c *gin.Context) {
		c.Header("Cache-Control", value)
		c.Next()
	}
}
