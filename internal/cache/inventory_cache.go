package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MorseWayne/stock_ledger/internal/domain"
)

// InventorySnapshotCache 缓存单行台账的最近已提交快照，键为 (批次, 位置)。
// 只服务读路径；任何台账变更提交后由服务层调用 Invalidate 失效。
// 缓存命中返回的始终是某个已提交状态，不保证是最新的，TTL兜底陈旧窗口。
type InventorySnapshotCache struct {
	cache Cache
	ttl   time.Duration
}

// NewInventorySnapshotCache 创建台账快照缓存。
func NewInventorySnapshotCache(cache Cache, ttl time.Duration) *InventorySnapshotCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &InventorySnapshotCache{cache: cache, ttl: ttl}
}

// Get 读取快照，未命中返回 (nil, nil)。
func (c *InventorySnapshotCache) Get(ctx context.Context, productBatchID, locationID int64) (*domain.Inventory, error) {
	inv := &domain.Inventory{}
	err := c.cache.Get(ctx, c.key(productBatchID, locationID), inv)
	if errors.Is(err, ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// Set 写入快照。
func (c *InventorySnapshotCache) Set(ctx context.Context, inv *domain.Inventory) error {
	return c.cache.Set(ctx, c.key(inv.ProductBatchID, inv.LocationID), inv, c.ttl)
}

// Invalidate 失效快照。
func (c *InventorySnapshotCache) Invalidate(ctx context.Context, productBatchID, locationID int64) error {
	return c.cache.Del(ctx, c.key(productBatchID, locationID))
}

func (c *InventorySnapshotCache) key(productBatchID, locationID int64) string {
	return fmt.Sprintf("inventory:%d:%d", productBatchID, locationID)
}
