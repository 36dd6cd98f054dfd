package bridge

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// requireBearer rejects any request whose Authorization header doesn't
// carry this server's bearer token.
func (s *Server) requireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token != s.Token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
