// Package middleware 提供 HTTP 中间件：请求 ID、恢复、超时、认证、访问日志等。
package middleware

import (
	"context"
)

// contextKey 用于在上下文中存取特定键，避免与外部键冲突。
type contextKey string

// 约定的上下文键集合。
const (
	contextKeyRequestID      contextKey = "request_id"
	contextKeyActorID        contextKey = "actor_id"
	contextKeyIdempotencyKey contextKey = "idempotency_key"
)

// withRequestID 将请求 ID 写入上下文。
func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}

// RequestIDFromContext 从上下文中读取请求 ID（可能为空）。
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(contextKeyRequestID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// withActorID 将认证后的操作者 ID 写入上下文。
func withActorID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, contextKeyActorID, id)
}

// ActorIDFromContext 从上下文中读取操作者 ID，未认证时返回 nil。
// 台账把它记录为流水的 created_by_id。
func ActorIDFromContext(ctx context.Context) *int64 {
	if v := ctx.Value(contextKeyActorID); v != nil {
		if id, ok := v.(int64); ok {
			return &id
		}
	}
	return nil
}

// withIdempotencyKey 将幂等键写入上下文。
func withIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, contextKeyIdempotencyKey, key)
}

// IdempotencyKeyFromContext 从上下文中读取幂等键（可能为空）。
func IdempotencyKeyFromContext(ctx context.Context) string {
	if v := ctx.Value(contextKeyIdempotencyKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
