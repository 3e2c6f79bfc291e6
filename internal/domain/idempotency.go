package domain

import "time"

// OperationType 表示受幂等保护的台账操作类型。
type OperationType string

const (
	OpReceive  OperationType = "receive"
	OpDispatch OperationType = "dispatch"
	OpTransfer OperationType = "transfer"
	OpReserve  OperationType = "reserve"
	OpRelease  OperationType = "release"
	OpAdjust   OperationType = "adjust"
)

// IdempotencyRecord 表示一次已成功执行的操作的幂等记录。
// (OperationType, IdempotencyKey) 全局唯一；记录在同一事务内、库存写入之后、
// 提交之前插入，保证库存变更与幂等记录要么同时落盘、要么都不落盘。
// 过期记录可被清理而不影响台账正确性，流水表才是持久审计来源。
type IdempotencyRecord struct {
	ID             int64         `json:"id"`
	OperationType  OperationType `json:"operation_type"`
	IdempotencyKey string        `json:"idempotency_key"`
	PayloadDigest  string        `json:"payload_digest"`  // 请求内容摘要，用于检测键复用
	ResultSnapshot []byte        `json:"result_snapshot"` // 首次执行返回结果的JSON快照
	CreatedAt      time.Time     `json:"created_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
}
