package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

// PrivateCache lets the candidate's browser reuse a response for
// maxAgeSeconds without allowing shared caches to store it.
func PrivateCache(maxAgeSeconds int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", fmt.Sprintf("private, max-age=%d", maxAgeSeconds))
		c.Next()
	}
}

// NoStore disables caching, e.g. for WebSocket upgrades and health probes.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}
