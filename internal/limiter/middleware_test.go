package limiter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

// stubLimiter 固定返回结果的限流器替身。
type stubLimiter struct {
	result *LimitResult
	err    error
}

func (s *stubLimiter) Allow(ctx context.Context, key string) (*LimitResult, error) {
	return s.result, s.err
}

func (s *stubLimiter) AllowN(ctx context.Context, key string, n int64) (*LimitResult, error) {
	return s.result, s.err
}

func (s *stubLimiter) Reset(ctx context.Context, key string) error { return nil }

func TestLimiterMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		limiter    Limiter
		wantStatus int
		wantRetry  string
	}{
		{
			name:       "allowed",
			limiter:    &stubLimiter{result: &LimitResult{Allowed: true, Remaining: 5}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "throttled",
			limiter:    &stubLimiter{result: &LimitResult{Allowed: false, RetryAfter: 2 * time.Second}},
			wantStatus: http.StatusTooManyRequests,
			wantRetry:  "2",
		},
		{
			name:       "limiter down fails open",
			limiter:    &stubLimiter{err: errors.New("redis unreachable")},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			handler := Middleware(tt.limiter, IPKeyFunc, zap.NewNop())(next)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/ledger/receive", nil)
			req.RemoteAddr = "10.0.0.1:54321"
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantRetry != "" && rec.Header().Get("Retry-After") != tt.wantRetry {
				t.Errorf("Retry-After = %q, want %q", rec.Header().Get("Retry-After"), tt.wantRetry)
			}
		})
	}
}

func TestKeyFuncs(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/inventory", nil)
	req.RemoteAddr = "10.0.0.1:54321"

	if got := IPKeyFunc(req); got != "ip:10.0.0.1" {
		t.Errorf("IPKeyFunc = %q, want ip:10.0.0.1", got)
	}
	if got := PathKeyFunc(req); got != "path:GET:/api/v1/inventory" {
		t.Errorf("PathKeyFunc = %q", got)
	}
}
