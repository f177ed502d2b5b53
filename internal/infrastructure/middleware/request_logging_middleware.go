package middleware

import (
	"time"

	"peerwave/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestLoggingMiddleware logs each request with a generated request
// id attached through the context logger.
func RequestLoggingMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := logger.ContextWithRequestID(c.Request.Context(), uuid.NewString())
		if peerID := c.Query("peer_id"); peerID != "" {
			ctx = logger.ContextWithPeer(ctx, peerID)
		}
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		cl.LogRequest(ctx, c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start).Milliseconds())
	}
}
