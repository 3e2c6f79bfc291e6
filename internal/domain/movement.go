package domain

import "time"

// MovementType 表示库存流水类型。
type MovementType string

const (
	MovementPurchaseReceipt MovementType = "purchase_receipt" // 采购入库 +qty
	MovementSaleIssue       MovementType = "sale_issue"       // 销售出库 -qty
	MovementTransferOut     MovementType = "transfer_out"     // 转出 -qty
	MovementTransferIn      MovementType = "transfer_in"      // 转入 +qty
	MovementReservation     MovementType = "reservation"      // 预留 +qty（不改变在库总量）
	MovementRelease         MovementType = "release"          // 释放预留 -qty（不改变在库总量）
	MovementAdjustment      MovementType = "adjustment"       // 盘点调整 ±qty
)

// AffectsOnHand 返回该类型是否改变 (批次, 位置) 的在库总量。
// reservation/release 只在可用与预留之间搬移数量，按类型过滤后，
// 其余类型的带符号数量之和等于该行的 available_qty + reserved_qty。
func (t MovementType) AffectsOnHand() bool {
	switch t {
	case MovementReservation, MovementRelease:
		return false
	default:
		return true
	}
}

// StockMovement 表示一条不可变的库存流水，只追加、不更新、不删除。
// Quantity 带符号：正数表示库存进入该位置，负数表示离开；
// 对 reservation/release，Quantity 记录的是预留/释放的数量（正/负），
// 仅用于按订单对账，不参与在库总量守恒。
type StockMovement struct {
	ID             int64        `json:"id"`
	ProductBatchID int64        `json:"product_batch_id"`
	LocationID     int64        `json:"location_id"`
	MovementType   MovementType `json:"movement_type"`
	Quantity       int64        `json:"quantity"`
	ReferenceID    string       `json:"reference_id,omitempty"` // 订单号、转移关联号等
	IdempotencyKey string       `json:"idempotency_key"`
	CreatedByID    *int64       `json:"created_by_id,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// MovementListRequest 表示流水查询请求。
type MovementListRequest struct {
	ProductBatchID int64 `json:"product_batch_id"`
	LocationID     int64 `json:"location_id"`
	Limit          int   `json:"limit"`
}
