package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/MorseWayne/stock_ledger/internal/domain"
	"github.com/MorseWayne/stock_ledger/internal/repo"
)

// SnapshotCache 为单行台账查询提供读穿缓存。
// Get 未命中时返回 (nil, nil)；写路径通过 SnapshotInvalidator 失效。
type SnapshotCache interface {
	Get(ctx context.Context, productBatchID, locationID int64) (*domain.Inventory, error)
	Set(ctx context.Context, inv *domain.Inventory) error
}

// InventoryQueryService 定义台账的只读投影接口。
// 查询不加行锁，读到的是最近一次已提交的状态。
type InventoryQueryService interface {
	GetInventory(ctx context.Context, productBatchID, locationID int64) (*domain.Inventory, error)
	ListByLocation(ctx context.Context, locationID int64) ([]*domain.Inventory, error)
	ListByBatch(ctx context.Context, productBatchID int64) ([]*domain.Inventory, error)
	ListMovements(ctx context.Context, req *domain.MovementListRequest) ([]*domain.StockMovement, error)
	ListMovementsByReference(ctx context.Context, referenceID string) ([]*domain.StockMovement, error)
}

// inventoryQueryService 实现 InventoryQueryService 接口。
type inventoryQueryService struct {
	inventories repo.InventoryStore
	movements   repo.MovementStore
	cache       SnapshotCache // 可为nil
	logger      *zap.Logger
}

// NewInventoryQueryService 创建查询服务实例。cache 允许为nil（直连数据库）。
func NewInventoryQueryService(
	inventories repo.InventoryStore,
	movements repo.MovementStore,
	cache SnapshotCache,
	logger *zap.Logger,
) InventoryQueryService {
	return &inventoryQueryService{
		inventories: inventories,
		movements:   movements,
		cache:       cache,
		logger:      logger,
	}
}

// GetInventory 读取单行台账，优先走缓存快照。
func (s *inventoryQueryService) GetInventory(ctx context.Context, productBatchID, locationID int64) (*domain.Inventory, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, productBatchID, locationID)
		if err != nil {
			s.logger.Warn("inventory snapshot cache read failed, falling back to database", zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	inv, err := s.inventories.Get(ctx, productBatchID, locationID)
	if err != nil {
		return nil, fmt.Errorf("get inventory: %w", err)
	}
	if inv == nil {
		return nil, domain.ErrNotFound(
			"inventory for batch %d at location %d not found", productBatchID, locationID)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, inv); err != nil {
			s.logger.Warn("inventory snapshot cache write failed", zap.Error(err))
		}
	}
	return inv, nil
}

func (s *inventoryQueryService) ListByLocation(ctx context.Context, locationID int64) ([]*domain.Inventory, error) {
	inventories, err := s.inventories.ListByLocation(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("list inventories by location: %w", err)
	}
	return inventories, nil
}

func (s *inventoryQueryService) ListByBatch(ctx context.Context, productBatchID int64) ([]*domain.Inventory, error) {
	inventories, err := s.inventories.ListByBatch(ctx, productBatchID)
	if err != nil {
		return nil, fmt.Errorf("list inventories by batch: %w", err)
	}
	return inventories, nil
}

func (s *inventoryQueryService) ListMovements(ctx context.Context, req *domain.MovementListRequest) ([]*domain.StockMovement, error) {
	movements, err := s.movements.ListByRow(ctx, req.ProductBatchID, req.LocationID, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	return movements, nil
}

func (s *inventoryQueryService) ListMovementsByReference(ctx context.Context, referenceID string) ([]*domain.StockMovement, error) {
	if referenceID == "" {
		return nil, domain.ErrInvalidArgument("reference id is required")
	}
	movements, err := s.movements.ListByReference(ctx, referenceID)
	if err != nil {
		return nil, fmt.Errorf("list movements by reference: %w", err)
	}
	return movements, nil
}
