package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cartpulse/cartpulse/pkg/jwt"
	"github.com/cartpulse/cartpulse/pkg/log"
	"github.com/cartpulse/cartpulse/pkg/response"
)

const (
	UserIDKey     = log.FieldUserID
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// TokenValidator verifies a bearer token issued by the identity provider.
type TokenValidator interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// AuthMiddleware validates JWT tokens locally with the shared secret.
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// RequireAuth returns a Gin middleware that rejects requests without a
// valid bearer token.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthHeaderKey)
		if authHeader == "" {
			response.Unauthorized(c, "missing authorization header")
			return
		}
		if m.authenticate(c, authHeader) {
			c.Next()
		}
	}
}

// OptionalAuth lets anonymous requests through but identifies the caller
// when a bearer token is sent. A token that fails validation is rejected.
func (m *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthHeaderKey)
		if authHeader == "" {
			c.Next()
			return
		}
		if m.authenticate(c, authHeader) {
			c.Next()
		}
	}
}

// authenticate stores the caller's identity, or writes a 401 and reports
// false.
func (m *AuthMiddleware) authenticate(c *gin.Context, authHeader string) bool {
	if !strings.HasPrefix(authHeader, BearerPrefix) {
		response.Unauthorized(c, "invalid authorization format")
		return false
	}

	claims, err := m.validator.ValidateToken(strings.TrimPrefix(authHeader, BearerPrefix))
	if err != nil {
		msg := "invalid token"
		if errors.Is(err, jwt.ErrExpiredToken) {
			msg = "token has expired"
		}
		response.Unauthorized(c, msg)
		return false
	}

	c.Set(UserIDKey, claims.Identity())
	return true
}

// GetUserID extracts user ID from Gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
