package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"naviguard/backend/internal/models"
	"naviguard/backend/pkg/auth"
	"naviguard/backend/pkg/response"
)

const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
)

// AuthMiddleware requires a valid Bearer token and stores the operator in the
// request context.
func AuthMiddleware(tokens *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "Authorization header required")
			return
		}

		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(tokenString) == "" {
			response.Unauthorized(c, "Invalid authorization header format")
			return
		}

		claims, err := tokens.ParseToken(strings.TrimSpace(tokenString))
		if err != nil {
			response.Unauthorized(c, "Invalid or expired token")
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUsername, claims.Username)
		c.Next()
	}
}

// CurrentUser returns the operator stored by AuthMiddleware. The zero session
// is returned for unauthenticated requests and reports IsLoggedIn false.
func CurrentUser(c *gin.Context) models.UserSession {
	return models.UserSession{
		UserID:   c.GetInt64(ContextUserID),
		Username: c.GetString(ContextUsername),
	}
}
