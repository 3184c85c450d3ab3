// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// 監査ログの結果。
const (
	ResultSuccess  = "SUCCESS"
	ResultFailed   = "FAILED"
	ResultRejected = "REJECTED"
)

// AuditLog は監査ログの構造体。
type AuditLog struct {
	Operation string `json:"operation"`
	Subject   string `json:"subject,omitempty"`
	Result    string `json:"result"`
	Timestamp string `json:"timestamp"`
}

// WriteAuditLog は監査ログを出力する。subjectは作品IDやカテゴリなど操作対象。
func WriteAuditLog(ctx context.Context, operation string, subject string, result string) {
	entry := AuditLog{
		Operation: operation,
		Subject:   subject,
		Result:    result,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	level := slog.LevelInfo
	if result == ResultFailed {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "gateway operation completed",
		"operation", entry.Operation,
		"subject", entry.Subject,
		"result", entry.Result,
		"timestamp", entry.Timestamp,
	)
}

// RequestLogger はリクエスト毎にアクセスログをslogで出力する。
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			slog.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", chimiddleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
