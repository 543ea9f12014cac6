package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-grader/internal/response"
	"github.com/stemsi/exstem-grader/internal/service"
)

// RequirePermission checks that the JWT grants the required permission code.
// Service tokens pass unconditionally.
func RequirePermission(permissionCode string) gin.HandlerFunc {
	return RequireAnyPermission(permissionCode)
}

// RequireAnyPermission checks that the JWT grants at least one of codes.
func RequireAnyPermission(codes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if claims.TokenType == service.TokenTypeService {
			c.Next()
			return
		}

		for _, code := range codes {
			if claims.HasPermission(code) {
				c.Next()
				return
			}
		}

		response.AbortFail(c, http.StatusForbidden, response.ErrPermissionDenied)
	}
}
