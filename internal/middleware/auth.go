package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-hub/internal/apperr"
	"chat-hub/internal/auth"
)

// TokenValidator resolves an access token to a user id.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (int, error)
}

// AuthMiddleware validates the bearer token and stores the user id as "userID".
func AuthMiddleware(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization", "kind": apperr.KindAuthFailed})
			return
		}

		token, ok := auth.BearerToken(header)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header", "kind": apperr.KindAuthFailed})
			return
		}

		userID, err := validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "kind": apperr.KindAuthFailed})
			return
		}

		c.Set("userID", userID)
		c.Next()
	}
}
