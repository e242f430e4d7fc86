// Package middleware holds the gin middleware chain: JWT auth, per-user
// rate limiting and request logging.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"fragmentforge/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireAuth validates the Bearer token and stores the caller's identity
// on the request context.
func RequireAuth(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header is required",
				"code":  "AUTH_HEADER_MISSING",
			})
			c.Abort()
			return
		}

		token, err := extractBearerToken(authHeader)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
				"code":  "INVALID_AUTH_HEADER",
			})
			c.Abort()
			return
		}

		claims, err := svc.ValidateToken(token)
		if err != nil {
			code := "INVALID_TOKEN"
			if errors.Is(err, auth.ErrTokenExpired) {
				code = "TOKEN_EXPIRED"
			}
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": err.Error(),
				"code":  code,
			})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("org_id", claims.OrgID)
		c.Set("email", claims.Email)

		c.Next()
	}
}

func extractBearerToken(authHeader string) (string, error) {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", errors.New("authorization header must be in format: Bearer <token>")
	}
	return parts[1], nil
}

// GetUserID returns the authenticated user ID from the request context.
func GetUserID(c *gin.Context) (string, bool) {
	v, ok := c.Get("user_id")
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// GetOrgID returns the authenticated org ID from the request context.
func GetOrgID(c *gin.Context) (string, bool) {
	v, ok := c.Get("org_id")
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}
