package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MorseWayne/stock_ledger/internal/resp"
)

// Timeout cancels request context after given duration.
// 台账操作的唯一阻塞点是数据库往返；超时后事务未提交即回滚，
// 调用方可携带同一幂等键安全重试。
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HandleTimeout is a helper to write unified timeout response when context expired.
func HandleTimeout(w http.ResponseWriter, r *http.Request) bool {
	err := r.Context().Err()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		reqID := RequestIDFromContext(r.Context())
		resp.Error(w, resp.HTTPStatusFromCode(resp.CodeTimeout), resp.CodeTimeout, "request timeout", reqID, "")
		return true
	}
	return false
}
