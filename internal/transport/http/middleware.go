package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/dkotenko/relaychat-server/internal/token"
)

const (
	// ContextKeyIdentity is the context key for the authenticated identity.
	ContextKeyIdentity = "identity"
	// ContextKeyToken is the context key for the presented raw token.
	ContextKeyToken = "token"
)

// AuthMiddleware creates a middleware that validates bearer tokens. The
// same fail-closed outcome covers every failure mode; callers learn only
// that they are unauthenticated.
func AuthMiddleware(tokens *token.Service, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated"})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated"})
			c.Abort()
			return
		}

		raw := parts[1]
		identity := tokens.Validate(c.Request.Context(), raw)
		if identity == "" {
			logger.Debug().Msg("token rejected")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated"})
			c.Abort()
			return
		}

		c.Set(ContextKeyIdentity, identity)
		c.Set(ContextKeyToken, raw)
		c.Next()
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
