package logger

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGinMiddlewareLogsRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{
		ErrorClassifier: func(error) (string, string) { return "invalid_signature", "invalid_signature" },
	}))
	r.POST("/webhooks/stripe", func(c *gin.Context) {
		c.Set("webhook_event_type", "invoice.paid")
		_ = c.Error(errors.New("bad signature"))
		c.Status(http.StatusBadRequest)
	})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil)
	req.Header.Set("X-Request-Id", "req-42")
	req.Header.Set("X-Correlation-Id", "chain-9")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, "req-42", w.Header().Get("X-Request-Id"))
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	require.Equal(t, zapcore.WarnLevel, entry.Level)
	fields := entry.ContextMap()
	require.Equal(t, "req-42", fields["request_id"])
	require.Equal(t, "chain-9", fields["correlation_id"])
	require.Equal(t, "/webhooks/stripe", fields["route"])
	require.Equal(t, "invoice.paid", fields["webhook_event_type"])
	require.Equal(t, "invalid_signature", fields["error_type"])
}

func TestGinMiddlewareGeneratesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestRequestLevel(t *testing.T) {
	require.Equal(t, zapcore.DebugLevel, requestLevel("/health", http.StatusOK, ""))
	require.Equal(t, zapcore.ErrorLevel, requestLevel("/api/plans", http.StatusInternalServerError, "internal_error"))
	require.Equal(t, zapcore.WarnLevel, requestLevel("/webhooks/stripe", http.StatusBadRequest, "invalid_signature"))
	require.Equal(t, zapcore.InfoLevel, requestLevel("/api/referral/payout", http.StatusUnprocessableEntity, "payout_rejected"))
}
