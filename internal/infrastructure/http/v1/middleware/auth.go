package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dougwmorrow/open-sc/internal/core/apperror"
	"github.com/dougwmorrow/open-sc/internal/domain/auth"
)

const identityKey = "identity"

// TokenValidator validates bearer tokens and resolves the calling identity.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.Identity, error)
}

// Auth middleware validates the Authorization header and attaches the
// resolved identity to the gin context.
func Auth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c, "missing authorization header")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthorized(c, "invalid authorization header format")
			return
		}

		identity, err := validator.ValidateToken(parts[1])
		if err != nil {
			abortUnauthorized(c, "invalid or expired token")
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// RequireWriter rejects requests whose identity cannot apply batches.
func RequireWriter() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := GetIdentity(c)
		if identity == nil || !identity.CanWrite() {
			abortForbidden(c, "write access required")
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects requests whose identity cannot run administrative
// operations (repair, erasure, client management).
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := GetIdentity(c)
		if identity == nil || !identity.CanAdminister() {
			abortForbidden(c, "admin access required")
			return
		}
		c.Next()
	}
}

// GetIdentity returns the authenticated identity, or nil when the request
// did not pass the Auth middleware.
func GetIdentity(c *gin.Context) *auth.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	identity, ok := v.(*auth.Identity)
	if !ok {
		return nil
	}
	return identity
}

func abortUnauthorized(c *gin.Context, message string) {
	appErr := apperror.NewUnauthorized(message)
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
		"code":    appErr.Code,
		"message": appErr.Message,
	})
}

func abortForbidden(c *gin.Context, message string) {
	appErr := apperror.NewForbidden(message)
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
		"code":    appErr.Code,
		"message": appErr.Message,
	})
}
