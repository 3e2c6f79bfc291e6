package limiter

import (
	"fmt"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	mw "github.com/MorseWayne/stock_ledger/internal/middleware"
	"github.com/MorseWayne/stock_ledger/internal/resp"
)

// KeyFunc 从请求生成限流key。
type KeyFunc func(r *http.Request) string

// IPKeyFunc 按客户端IP限流。
func IPKeyFunc(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return fmt.Sprintf("ip:%s", host)
}

// PathKeyFunc 按请求路径限流。
func PathKeyFunc(r *http.Request) string {
	return fmt.Sprintf("path:%s:%s", r.Method, r.URL.Path)
}

// Middleware 创建限流中间件。限流器出错时放行（fail-open），
// 不让限流基础设施故障阻断台账操作。
func Middleware(limiter Limiter, keyFunc KeyFunc, logger *zap.Logger) func(http.Handler) http.Handler {
	if keyFunc == nil {
		keyFunc = IPKeyFunc
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result, err := limiter.Allow(r.Context(), keyFunc(r))
			if err != nil {
				logger.Warn("rate limiter unavailable, allowing request", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.FormatInt(int64(result.RetryAfter.Seconds()), 10))
				reqID := mw.RequestIDFromContext(r.Context())
				resp.Error(w, http.StatusTooManyRequests, resp.CodeTooManyRequests, "too many requests", reqID, "")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
