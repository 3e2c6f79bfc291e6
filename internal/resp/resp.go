// Package resp 提供统一的HTTP响应信封：业务码、消息、数据与请求ID。
package resp

import (
	"encoding/json"
	"net/http"
)

// 业务码集合。0为成功，其余按错误类别划分。
const (
	CodeOK                = 0
	CodeInvalidParam      = 40001
	CodeNotFound          = 40401
	CodeConflict          = 40901
	CodeInsufficientStock = 40002
	CodeTooManyRequests   = 42901
	CodeInternalError     = 50001
	CodeUnavailable       = 50301
	CodeTimeout           = 50401
)

// Body 响应信封。
type Body struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// OK 写出成功响应。
func OK(w http.ResponseWriter, data any, requestID, traceID string) {
	write(w, http.StatusOK, &Body{
		Code:      CodeOK,
		Message:   "ok",
		Data:      data,
		RequestID: requestID,
		TraceID:   traceID,
	})
}

// Error 写出错误响应。
func Error(w http.ResponseWriter, status, code int, message, requestID, traceID string) {
	write(w, status, &Body{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		TraceID:   traceID,
	})
}

// HTTPStatusFromCode 将业务码映射为HTTP状态码。
func HTTPStatusFromCode(code int) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeInvalidParam, CodeInsufficientStock:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func write(w http.ResponseWriter, status int, body *Body) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
