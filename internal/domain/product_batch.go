package domain

import "time"

// ProductBatch 表示商品批次：入库校验的外部引用对象。
// 台账核心只读取批次（存在性校验），批次的创建由薄注册接口提供。
type ProductBatch struct {
	ID        int64      `json:"id"`
	SKU       string     `json:"sku"`
	BatchCode string     `json:"batch_code"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CreateProductBatchRequest 表示创建商品批次的请求。
type CreateProductBatchRequest struct {
	SKU       string     `json:"sku"`
	BatchCode string     `json:"batch_code"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ProductBatchListRequest 表示批次列表查询请求。
type ProductBatchListRequest struct {
	Page     int    `json:"page"`      // 页码，从1开始
	PageSize int    `json:"page_size"` // 每页大小
	SKU      string `json:"sku"`       // SKU过滤，可选
}

// ProductBatchListResponse 表示批次列表查询响应。
type ProductBatchListResponse struct {
	Batches  []*ProductBatch `json:"batches"`
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}
