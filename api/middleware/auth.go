package middleware

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"coachapp/messaging"
	"coachapp/models"

	"github.com/gin-gonic/gin"
)

const authKey = "auth"

// TokenResolver находит владельца токена
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (*models.Profile, error)
}

// AuthMiddleware - аутентификация по токену из login.
// Поддерживает два варианта:
// 1. Authorization: Bearer <token>
// 2. ?token=<token> (браузерный WebSocket не умеет выставлять заголовки)
func AuthMiddleware(resolver TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required: provide Authorization Bearer token"})
			return
		}

		profile, err := resolver.ResolveToken(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Printf("DEBUG: token rejected: %v", err)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(authKey, messaging.AuthContext{UserID: profile.ID, Role: profile.Role})
		c.Set("user_id", profile.ID)
		c.Next()
	}
}

// AuthFromContext возвращает пользователя, установленного AuthMiddleware
func AuthFromContext(c *gin.Context) (messaging.AuthContext, bool) {
	v, ok := c.Get(authKey)
	if !ok {
		return messaging.AuthContext{}, false
	}
	auth, ok := v.(messaging.AuthContext)
	return auth, ok
}

func bearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
