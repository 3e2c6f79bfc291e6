package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBucketLimiter 令牌桶限流器，桶状态存放在Redis，
// 多实例部署时共享同一配额。
type TokenBucketLimiter struct {
	client    redis.Cmdable
	config    *Config
	keyPrefix string
}

// NewTokenBucketLimiter 创建令牌桶限流器。
func NewTokenBucketLimiter(client redis.Cmdable, config *Config) *TokenBucketLimiter {
	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = "limiter:tb"
	}
	return &TokenBucketLimiter{
		client:    client,
		config:    config,
		keyPrefix: prefix,
	}
}

// Redis Lua脚本：令牌桶算法。补充与扣减在脚本内原子完成。
const tokenBucketScript = `
-- KEYS[1]: 令牌桶key
-- ARGV[1]: 容量(burst)
-- ARGV[2]: 补充速率(rate)
-- ARGV[3]: 时间窗口(window秒)
-- ARGV[4]: 请求令牌数
-- ARGV[5]: 当前时间戳

local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
local tokens_requested = tonumber(ARGV[4])
local now = tonumber(ARGV[5])

local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(bucket[1]) or capacity
local last_refill = tonumber(bucket[2]) or now

local time_passed = math.max(0, now - last_refill)
local tokens_to_add = math.floor(time_passed * rate / window)
tokens = math.min(capacity, tokens + tokens_to_add)

if tokens >= tokens_requested then
    tokens = tokens - tokens_requested
    redis.call('HMSET', key, 'tokens', tokens, 'last_refill', now)
    redis.call('EXPIRE', key, window * 2)
    return {1, tokens, 0}
else
    local tokens_needed = tokens_requested - tokens
    local retry_after = math.ceil(tokens_needed * window / rate)
    redis.call('HMSET', key, 'tokens', tokens, 'last_refill', now)
    redis.call('EXPIRE', key, window * 2)
    return {0, tokens, retry_after}
end
`

// Allow 检查是否允许单个请求通过。
func (tb *TokenBucketLimiter) Allow(ctx context.Context, key string) (*LimitResult, error) {
	return tb.AllowN(ctx, key, 1)
}

// AllowN 检查是否允许N个请求通过。
func (tb *TokenBucketLimiter) AllowN(ctx context.Context, key string, n int64) (*LimitResult, error) {
	windowSec := int64(tb.config.Window / time.Second)
	if windowSec <= 0 {
		windowSec = 1
	}

	result, err := tb.client.Eval(ctx, tokenBucketScript,
		[]string{tb.getKey(key)},
		tb.config.Burst,
		tb.config.Rate,
		windowSec,
		n,
		time.Now().Unix(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("token bucket eval: %w", err)
	}

	values, ok := result.([]any)
	if !ok || len(values) != 3 {
		return nil, fmt.Errorf("unexpected token bucket result: %v", result)
	}

	allowed, _ := values[0].(int64)
	remaining, _ := values[1].(int64)
	retryAfterSec, _ := values[2].(int64)

	return &LimitResult{
		Allowed:    allowed == 1,
		Remaining:  remaining,
		RetryAfter: time.Duration(retryAfterSec) * time.Second,
	}, nil
}

// Reset 重置限流状态。
func (tb *TokenBucketLimiter) Reset(ctx context.Context, key string) error {
	return tb.client.Del(ctx, tb.getKey(key)).Err()
}

func (tb *TokenBucketLimiter) getKey(key string) string {
	return fmt.Sprintf("%s:%s", tb.keyPrefix, key)
}
