package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	logx "worksrelay/pkg/logx"
)

const (
	HeaderRequestID = "X-Request-ID"
	ctxRequestID    = "request_id"
)

// RequestID propagates or assigns X-Request-ID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// RequestLogger logs one line per request. 5xx responses log at warn.
func RequestLogger(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", status),
			logx.Duration("latency", time.Since(start)),
			logx.String("request_id", c.GetString(ctxRequestID)),
		}
		if c.FullPath() == "" {
			fields[1] = logx.String("path", c.Request.URL.Path)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logx.String("errors", c.Errors.String()))
		}
		switch {
		case status >= http.StatusInternalServerError:
			log.Warn("http request", fields...)
		case c.Request.URL.Path == "/health":
			log.Debug("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	}
}

// debugGate hides /debug routes unless enabled, and checks the bearer token
// (or ?token=) when one is configured.
func debugGate(current func() DebugConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := current()
		if !cfg.Enabled {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		tok := strings.TrimSpace(cfg.Token)
		if tok == "" {
			c.Next()
			return
		}
		got := c.Query("token")
		if got == "" {
			const p = "Bearer "
			if ah := c.GetHeader("Authorization"); strings.HasPrefix(ah, p) {
				got = strings.TrimSpace(strings.TrimPrefix(ah, p))
			}
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "unauthorized"})
			return
		}
		c.Next()
	}
}
