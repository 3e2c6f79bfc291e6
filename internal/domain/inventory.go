package domain

import "time"

// Inventory 表示台账行：以 (product_batch_id, location_id) 为唯一身份的库存记录。
// AvailableQty 为未预留、可发货的库存；ReservedQty 为已对订单预留但尚未出库的库存。
// 两个字段在任何已提交的操作之后都必须 >= 0。
// 台账行在首次入库时惰性创建，只要流水仍引用该行就不会删除。
type Inventory struct {
	ID             int64     `json:"id"`
	ProductBatchID int64     `json:"product_batch_id"`
	LocationID     int64     `json:"location_id"`
	AvailableQty   int64     `json:"available_qty"`
	ReservedQty    int64     `json:"reserved_qty"`
	Version        int64     `json:"version"` // 乐观锁版本号，每次写入递增
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TotalQty 返回该行的总在库数量（可用+预留）。
func (i *Inventory) TotalQty() int64 {
	return i.AvailableQty + i.ReservedQty
}

// CanDispatch 判断可用库存是否足够出库指定数量。
func (i *Inventory) CanDispatch(quantity int64) bool {
	return i.AvailableQty >= quantity
}

// CanReserve 判断可用库存是否足够预留指定数量。
func (i *Inventory) CanReserve(quantity int64) bool {
	return i.AvailableQty >= quantity
}

// CanRelease 判断预留库存是否足够释放指定数量。
func (i *Inventory) CanRelease(quantity int64) bool {
	return i.ReservedQty >= quantity
}

// ReceiveRequest 表示入库请求。
type ReceiveRequest struct {
	ProductBatchID int64  `json:"product_batch_id"`
	LocationID     int64  `json:"location_id"`
	Quantity       int64  `json:"quantity"`
	IdempotencyKey string `json:"idempotency_key"`
	CreatedByID    *int64 `json:"created_by_id,omitempty"`
}

// DispatchRequest 表示出库请求。出库只消耗可用库存，不触碰预留库存；
// 履约预留订单需先 Release 再 Dispatch。
type DispatchRequest struct {
	ProductBatchID int64  `json:"product_batch_id"`
	LocationID     int64  `json:"location_id"`
	Quantity       int64  `json:"quantity"`
	IdempotencyKey string `json:"idempotency_key"`
	CreatedByID    *int64 `json:"created_by_id,omitempty"`
}

// TransferRequest 表示跨位置转移请求。
type TransferRequest struct {
	ProductBatchID int64  `json:"product_batch_id"`
	FromLocationID int64  `json:"from_location_id"`
	ToLocationID   int64  `json:"to_location_id"`
	Quantity       int64  `json:"quantity"`
	IdempotencyKey string `json:"idempotency_key"`
	CreatedByID    *int64 `json:"created_by_id,omitempty"`
}

// ReserveRequest 表示为订单预留库存的请求。
type ReserveRequest struct {
	ProductBatchID int64  `json:"product_batch_id"`
	LocationID     int64  `json:"location_id"`
	Quantity       int64  `json:"quantity"`
	OrderID        int64  `json:"order_id"`
	IdempotencyKey string `json:"idempotency_key"`
	CreatedByID    *int64 `json:"created_by_id,omitempty"`
}

// ReleaseRequest 表示释放订单预留库存的请求。
type ReleaseRequest struct {
	ProductBatchID int64  `json:"product_batch_id"`
	LocationID     int64  `json:"location_id"`
	Quantity       int64  `json:"quantity"`
	OrderID        int64  `json:"order_id"`
	IdempotencyKey string `json:"idempotency_key"`
	CreatedByID    *int64 `json:"created_by_id,omitempty"`
}

// AdjustRequest 表示人工盘点调整请求，Quantity 带符号（正为盘盈，负为盘亏）。
type AdjustRequest struct {
	ProductBatchID int64  `json:"product_batch_id"`
	LocationID     int64  `json:"location_id"`
	Quantity       int64  `json:"quantity"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
	CreatedByID    *int64 `json:"created_by_id,omitempty"`
}

// OperationResult 表示单行台账操作的结果。
// Idempotent 为 true 时表示本次请求命中幂等记录，返回的是首次执行的快照。
type OperationResult struct {
	Inventory  *Inventory `json:"inventory"`
	Idempotent bool       `json:"idempotent"`
}

// TransferResult 表示转移操作的结果，包含转出与转入两行。
// ReferenceID 用于关联 transfer_out/transfer_in 两条流水。
type TransferResult struct {
	From        *Inventory `json:"from"`
	To          *Inventory `json:"to"`
	ReferenceID string     `json:"reference_id"`
	Idempotent  bool       `json:"idempotent"`
}
