package middlewares

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequireRole admits callers whose token carries one of the allowed roles.
// Trigger endpoints take dispatcher tokens only.
func (m *AuthMiddleware) RequireRole(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := RoleFromContext(c)
		if !ok || role == "" {
			abortUnauthorized(c, "Missing caller identity")
			return
		}

		if !slices.Contains(allowed, role) {
			caller, _ := CallerFromContext(c)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": gin.H{
					"code":    "forbidden",
					"message": "Caller " + caller + " needs role " + strings.Join(allowed, " or "),
				},
			})
			return
		}
		c.Next()
	}
}
