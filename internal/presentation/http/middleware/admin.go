// Package middleware provides gin middleware for the HTTP surface
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/security"
)

// AdminKeyHeader carries the plaintext admin key.
const AdminKeyHeader = "X-Admin-Key"

// AdminAuth rejects requests whose admin key does not match the bcrypt hash.
func AdminAuth(hash string, logger *logging.ChanneledLogger) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		if err := security.CheckAdminKey(hash, c.GetHeader(AdminKeyHeader)); err != nil {
			logger.HTTP().Warn("Rejected admin request", "path", c.Request.URL.Path, "clientIP", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin key required"})
			return
		}
		c.Next()
	}
}

// RequestLogger logs each request on the http channel.
func RequestLogger(logger *logging.ChanneledLogger) gin.HandlerFunc {
	logger = logging.OrNop(logger)
	return func(c *gin.Context) {
		c.Next()
		logger.HTTP().Debug("Request handled",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"clientIP", c.ClientIP())
	}
}
