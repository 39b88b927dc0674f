package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/campaigncredit/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGinMiddlewarePropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))

	var seen string
	r.GET("/ping", func(c *gin.Context) {
		seen = obscontext.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-Id", "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-Id"))
}

func TestGinMiddlewareGeneratesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestOperationFromSQL(t *testing.T) {
	assert.Equal(t, "UPDATE", operationFromSQL("  update credit_balances set x = 1"))
	assert.Equal(t, "SELECT", operationFromSQL("WITH t AS (SELECT 1) SELECT * FROM t"))
	assert.Equal(t, "UNKNOWN", operationFromSQL(""))
}

func TestGinMiddlewareWritesAccessEntry(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{
		Logger: zap.New(core),
		ErrorClassifier: func(err error) (string, string) {
			return "insufficient_credits", "insufficient_credits"
		},
	}))
	r.POST("/api/messages/:channel", func(c *gin.Context) {
		c.Set("channel", c.Param("channel"))
		_ = c.Error(assert.AnError)
		c.Status(http.StatusPaymentRequired)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/messages/email", nil)
	req.Header.Set("X-Request-Id", "req-9")
	r.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/api/messages/:channel", fields["route"])
	assert.Equal(t, "email", fields["channel"])
	assert.Equal(t, "req-9", fields["request_id"])
	assert.EqualValues(t, http.StatusPaymentRequired, fields["status"])
}

func TestAccessEntryLevel(t *testing.T) {
	cases := []struct {
		entry accessEntry
		want  zapcore.Level
	}{
		{accessEntry{route: "/health", status: http.StatusInternalServerError}, zapcore.DebugLevel},
		{accessEntry{route: "/api/orders", status: http.StatusBadGateway}, zapcore.ErrorLevel},
		{accessEntry{route: "/api/payments/webhooks/:provider", status: http.StatusUnauthorized}, zapcore.WarnLevel},
		{accessEntry{route: "/api/messages/:channel", status: http.StatusPaymentRequired, errorType: "insufficient_credits"}, zapcore.DebugLevel},
		{accessEntry{route: "/api/orders", status: http.StatusConflict}, zapcore.InfoLevel},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.entry.level(), "%s %d", tc.entry.route, tc.entry.status)
	}
}
