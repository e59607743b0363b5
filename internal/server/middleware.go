package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	HeaderActor       = "X-Actor"
	contextActorKey   = "actor"
	bearerTokenPrefix = "Bearer "
)

// InternalTokenRequired admits callers presenting the shared internal token.
// With no token configured every call is refused.
func (s *Server) InternalTokenRequired() gin.HandlerFunc {
	expected := strings.TrimSpace(s.cfg.InternalToken)
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if expected == "" || !strings.HasPrefix(header, bearerTokenPrefix) {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, bearerTokenPrefix))
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

// AdminActorRequired names the operator behind an admin call. Authorization
// of the actor happens in the services.
func (s *Server) AdminActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(HeaderActor))
		if actor == "" {
			AbortWithError(c, newValidationError("actor", "required", "actor header is required"))
			return
		}
		c.Set(contextActorKey, actor)
		c.Next()
	}
}

func actorFrom(c *gin.Context) string {
	return c.GetString(contextActorKey)
}
