package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/luoliAsyns/Notification/pkg/httpclient"
)

// TestRequestLogger はRequestLoggerミドルウェアを検証する。
func TestRequestLogger(t *testing.T) {
	t.Parallel()

	t.Run("リクエストIDが無い場合UUIDが生成されること", func(t *testing.T) {
		t.Parallel()

		var handlerID, ctxID string
		router := gin.New()
		router.Use(RequestLogger(zerolog.Nop()))
		router.GET("/test", func(c *gin.Context) {
			handlerID = GetRequestID(c)
			ctxID = httpclient.RequestID(c.Request.Context())
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		headerID := w.Header().Get("X-Request-ID")
		if _, err := uuid.Parse(headerID); err != nil {
			t.Errorf("X-Request-ID = %q はUUIDではない: %v", headerID, err)
		}
		if handlerID != headerID {
			t.Errorf("GetRequestID() = %q, want %q", handlerID, headerID)
		}
		if ctxID != headerID {
			t.Errorf("context のリクエストID = %q, want %q", ctxID, headerID)
		}
	})

	t.Run("呼び出し元のリクエストIDが引き継がれること", func(t *testing.T) {
		t.Parallel()

		router := gin.New()
		router.Use(RequestLogger(zerolog.Nop()))
		router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("X-Request-ID", "caller-id")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if got := w.Header().Get("X-Request-ID"); got != "caller-id" {
			t.Errorf("X-Request-ID = %q, want %q", got, "caller-id")
		}
	})

	t.Run("長すぎるリクエストIDは置き換えられること", func(t *testing.T) {
		t.Parallel()

		router := gin.New()
		router.Use(RequestLogger(zerolog.Nop()))
		router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("X-Request-ID", strings.Repeat("x", 200))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if got := w.Header().Get("X-Request-ID"); len(got) > maxRequestIDLength {
			t.Errorf("X-Request-IDの長さ = %d, want <= %d", len(got), maxRequestIDLength)
		}
	})

	t.Run("ステータスとパスがログに出力されること", func(t *testing.T) {
		t.Parallel()

		var logs bytes.Buffer
		router := gin.New()
		router.Use(RequestLogger(zerolog.New(&logs)))
		router.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))

		var entry map[string]any
		if err := json.Unmarshal(logs.Bytes(), &entry); err != nil {
			t.Fatalf("ログのパースに失敗: %v", err)
		}
		if entry["level"] != "warn" {
			t.Errorf("level = %v, want %q", entry["level"], "warn")
		}
		if entry["status"] != float64(http.StatusNotFound) {
			t.Errorf("status = %v, want %d", entry["status"], http.StatusNotFound)
		}
		if entry["path"] != "/missing" {
			t.Errorf("path = %v, want %q", entry["path"], "/missing")
		}
	})
}
