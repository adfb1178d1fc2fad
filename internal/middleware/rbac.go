package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/edutech-rw/asset-api/internal/models"
	appErrors "github.com/edutech-rw/asset-api/pkg/errors"
	"github.com/edutech-rw/asset-api/pkg/response"
)

// RequireRoles enforces role-based access control for routes.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		claims, ok := CurrentClaims(c)
		if !ok {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// ContextSchoolScopeKey is the gin context key carrying the school
// restriction for SCHOOL users.
const ContextSchoolScopeKey = "schoolScope"

// ScopeToSchool stores the caller's school on the context for SCHOOL users so
// handlers can constrain queries. Admin roles pass through unscoped.
func ScopeToSchool() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := CurrentClaims(c)
		if ok && claims.Role == models.RoleSchool && claims.SchoolID != nil {
			c.Set(ContextSchoolScopeKey, *claims.SchoolID)
		}
		c.Next()
	}
}

// SchoolScopeFrom returns the school restriction for the request, if any.
func SchoolScopeFrom(c *gin.Context) (string, bool) {
	value, exists := c.Get(ContextSchoolScopeKey)
	if !exists {
		return "", false
	}
	id, ok := value.(string)
	return id, ok
}
