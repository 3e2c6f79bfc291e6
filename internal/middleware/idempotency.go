package middleware

import (
	"net/http"
	"strings"
)

const (
	// HeaderIdempotencyKey 幂等键头名称。
	HeaderIdempotencyKey = "X-Idempotency-Key"
)

// IdempotencyKey 将请求头中的幂等键透传到上下文。
// 键是调用方生成的不透明令牌，这里不校验格式、不做检查；
// 真正的幂等保护在台账服务的事务内完成。请求体里的
// idempotency_key 字段优先于请求头。
func IdempotencyKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
		if key != "" {
			r = r.WithContext(withIdempotencyKey(r.Context(), key))
		}
		next.ServeHTTP(w, r)
	})
}
