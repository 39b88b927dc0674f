package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/campaigncredit/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	requestIDHeader = "X-Request-Id"
	requestIDKey    = "request_id"
	webhookPrefix   = "/api/payments/webhooks/"
)

// MiddlewareConfig controls request logging behavior. Logger defaults to the
// global logger.
type MiddlewareConfig struct {
	Logger          *zap.Logger
	Debug           bool
	ErrorClassifier func(err error) (errorType string, errorCode string)
}

// GinMiddleware assigns a request id and writes one access log entry per
// request once the handler chain has finished.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := requestID(c)
		c.Request = c.Request.WithContext(obscontext.WithRequestID(c.Request.Context(), id))

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := c.Writer.Status()
		entry := accessEntry{route: route, status: status}

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		if channel := c.GetString("channel"); channel != "" {
			fields = append(fields, zap.String("channel", channel))
		}
		if last := c.Errors.Last(); last != nil {
			if cfg.ErrorClassifier != nil {
				entry.errorType, entry.errorCode = cfg.ErrorClassifier(last.Err)
			}
			fields = append(fields,
				zap.String("error_type", entry.errorType),
				zap.String("error_code", entry.errorCode),
			)
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		base := cfg.Logger
		if base == nil {
			base = zap.L()
		}
		if ce := WithContext(c.Request.Context(), base).Check(entry.level(), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

// requestID reuses an inbound id when the caller sent one.
func requestID(c *gin.Context) string {
	id := strings.TrimSpace(c.GetHeader(requestIDHeader))
	if id == "" {
		id = strings.TrimSpace(c.GetString(requestIDKey))
	}
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(requestIDKey, id)
	c.Header(requestIDHeader, id)
	return id
}

type accessEntry struct {
	route     string
	status    int
	errorType string
	errorCode string
}

// level keeps health checks and expected credit refusals out of the info stream
// and surfaces rejected provider callbacks.
func (e accessEntry) level() zapcore.Level {
	switch {
	case e.route == "/health" || e.route == "/metrics":
		return zapcore.DebugLevel
	case e.status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case e.status == http.StatusPaymentRequired && e.errorType == "insufficient_credits":
		return zapcore.DebugLevel
	case strings.HasPrefix(e.route, webhookPrefix) && e.status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
