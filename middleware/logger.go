package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RequestLogger logs each request with method, path, status and latency.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		entry := logrus.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     path,
			"status":   c.Writer.Status(),
			"latency":  time.Since(start).String(),
			"clientIp": c.ClientIP(),
		})
		if userID, ok := GetCurrentUserID(c); ok {
			entry = entry.WithField("userId", userID)
		}

		status := c.Writer.Status()
		switch {
		case status >= 500:
			entry.Error("Request failed")
		case status >= 400:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request handled")
		}
	}
}

// Recovery converts panics into 500 responses with a log line instead of
// killing the process.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logrus.WithFields(logrus.Fields{
			"path":  c.Request.URL.Path,
			"panic": recovered,
		}).Error("Panic recovered")
		c.AbortWithStatusJSON(500, gin.H{
			"success": false,
			"message": "Internal server error",
		})
	})
}
