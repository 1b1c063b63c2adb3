package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/servelist/backend/internal/auth"
	"github.com/servelist/backend/pkg/apperror"
	"github.com/servelist/backend/pkg/response"
)

const (
	// ContextAdmin is set to true in the gin context once an admin token is validated.
	ContextAdmin = "admin"
	// ContextClientID holds the caller's X-Client-ID header.
	ContextClientID = "client_id"

	// HeaderClientID carries the opaque id a client generated for itself.
	HeaderClientID = "X-Client-ID"
)

// RequireAdmin rejects requests without a valid admin capability token.
func RequireAdmin(tokens *auth.CapabilityService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			response.Error(c, apperror.Newf(apperror.ErrUnauthorized, "missing authorization header"))
			return
		}
		if _, err := tokens.Validate(token, auth.ScopeAdmin); err != nil {
			response.Error(c, apperror.Newf(apperror.ErrUnauthorized, "invalid or expired token"))
			return
		}
		c.Set(ContextAdmin, true)
		c.Next()
	}
}

// OptionalAdmin marks the request as admin when it carries a valid token and
// lets it through unchanged otherwise.
func OptionalAdmin(tokens *auth.CapabilityService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			if _, err := tokens.Validate(token, auth.ScopeAdmin); err == nil {
				c.Set(ContextAdmin, true)
			}
		}
		c.Next()
	}
}

// IsAdmin reports whether an admin middleware accepted the request.
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(ContextAdmin)
}

// ClientID stores the X-Client-ID header in the context.
func ClientID() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := strings.TrimSpace(c.GetHeader(HeaderClientID)); id != "" {
			c.Set(ContextClientID, id)
		}
		c.Next()
	}
}

// GetClientID returns the caller's client id, or "" if none was sent.
func GetClientID(c *gin.Context) string {
	return c.GetString(ContextClientID)
}

func bearerToken(c *gin.Context) (string, bool) {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
