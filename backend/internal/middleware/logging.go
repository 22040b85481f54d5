package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"taskify/backend/internal/logger"
)

// Logging writes one entry per request once the handler chain finishes.
func Logging(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		entry := logger.WithRequestID(log, GetRequestID(c))
		entry.Debugf("request started: %s %s", c.Request.Method, c.Request.URL.Path)

		c.Next()

		fields := logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_ip":   c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
		}
		if s := SessionFrom(c); s != nil {
			fields["user_id"] = s.User.ID
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.WithFields(fields).Error("request completed")
		case status >= 400:
			entry.WithFields(fields).Warn("request completed")
		default:
			entry.WithFields(fields).Info("request completed")
		}
	}
}
