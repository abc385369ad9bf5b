package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"homeflow/internal/logger"
	"homeflow/pkg/logging"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderActor     = "X-Actor"
)

func LoggerMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		status := c.Writer.Status()
		fields := []interface{}{
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
		}
		if msg := c.Errors.ByType(gin.ErrorTypePrivate).String(); msg != "" {
			fields = append(fields, "error", msg)
		}

		ctx := c.Request.Context()
		switch {
		case status >= 500:
			log.ErrorwCtx(ctx, "HTTP Request", fields...)
		case status >= 400:
			log.WarnwCtx(ctx, "HTTP Request", fields...)
		default:
			log.InfowCtx(ctx, "HTTP Request", fields...)
		}
	}
}

func RecoveryMiddleware(log logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.ErrorwCtx(c.Request.Context(), "Panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
		c.AbortWithStatusJSON(500, gin.H{
			"error":      "internal server error",
			"error_code": "INTERNAL_ERROR",
		})
	})
}

// RequestIDMiddleware echoes or assigns X-Request-ID and carries it as the
// trace ID in the request context for log correlation.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header(HeaderRequestID, requestID)

		ctx := c.Request.Context()
		if logging.GetTraceID(ctx) == "" {
			ctx = logging.WithTraceID(ctx, requestID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ActorMiddleware records the X-Actor header as the acting user for audit
// fields. Requests without it act as "system".
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if actor := c.GetHeader(HeaderActor); actor != "" {
			c.Request = c.Request.WithContext(logging.WithActor(c.Request.Context(), actor))
		}
		c.Next()
	}
}
