package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"gopherdm/internal/transport/http/response"
)

const ContextUserIDKey = "user_id"

// Authenticator resolves a bearer token to a user id.
type Authenticator interface {
	Authenticate(token string) (uint, error)
}

// AuthJWT reads the token from the Authorization header, falling back to the
// token query parameter for websocket upgrades from browsers.
func AuthJWT(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			response.Error(c, 401, response.CodeUnauthorized, "missing or malformed authorization")
			c.Abort()
			return
		}

		userID, err := auth.Authenticate(token)
		if err != nil || userID == 0 {
			response.Error(c, 401, response.CodeUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextUserIDKey, userID)
		c.Next()
	}
}

// UserID returns the authenticated caller set by AuthJWT.
func UserID(c *gin.Context) (uint, bool) {
	v, exists := c.Get(ContextUserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id != 0
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if authHeader == "" {
		token := strings.TrimSpace(c.Query("token"))
		return token, token != ""
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
	return token, token != ""
}
