// Package domain 定义库存台账相关的业务领域模型和核心业务规则。
package domain

import (
	"errors"
	"fmt"
)

// ErrorKind 表示台账操作失败的分类，HTTP层据此映射状态码。
type ErrorKind string

const (
	KindNotFound          ErrorKind = "not_found"          // 未知批次/位置或台账行不存在
	KindInvalidArgument   ErrorKind = "invalid_argument"   // 非法参数（数量非正、同位置转移、超量释放）
	KindInsufficientStock ErrorKind = "insufficient_stock" // 可用/预留库存不足
	KindConflict          ErrorKind = "conflict"           // 幂等键被复用但请求内容不一致
	KindUnavailable       ErrorKind = "unavailable"        // 存储层瞬时故障，可携带原幂等键重试
)

// Error 是台账操作的类型化错误。所有业务失败都以该类型返回，
// 不以静默默认值兜底。
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError 创建指定分类的台账错误。
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ErrNotFound 创建 NotFound 错误。
func ErrNotFound(format string, args ...any) *Error {
	return NewError(KindNotFound, format, args...)
}

// ErrInvalidArgument 创建 InvalidArgument 错误。
func ErrInvalidArgument(format string, args ...any) *Error {
	return NewError(KindInvalidArgument, format, args...)
}

// ErrInsufficientStock 创建 InsufficientStock 错误。
func ErrInsufficientStock(format string, args ...any) *Error {
	return NewError(KindInsufficientStock, format, args...)
}

// ErrConflict 创建 Conflict 错误。
func ErrConflict(format string, args ...any) *Error {
	return NewError(KindConflict, format, args...)
}

// ErrUnavailable 创建 Unavailable 错误。
func ErrUnavailable(format string, args ...any) *Error {
	return NewError(KindUnavailable, format, args...)
}

// KindOf 提取错误分类；非台账错误视为 Unavailable（瞬时故障语义，调用方可重试）。
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindUnavailable
}

// IsKind 判断错误是否属于指定分类。
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
