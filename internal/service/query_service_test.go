package service

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/MorseWayne/stock_ledger/internal/domain"
)

// mockInventoryReader 只读台账访问器的内存替身。
type mockInventoryReader struct {
	rows map[rowKey]*domain.Inventory
	gets int
}

func (m *mockInventoryReader) Get(ctx context.Context, batchID, locationID int64) (*domain.Inventory, error) {
	m.gets++
	return m.rows[rowKey{batchID, locationID}], nil
}

func (m *mockInventoryReader) GetForUpdate(ctx context.Context, batchID, locationID int64) (*domain.Inventory, error) {
	return m.Get(ctx, batchID, locationID)
}

func (m *mockInventoryReader) Create(ctx context.Context, inv *domain.Inventory) error { return nil }

func (m *mockInventoryReader) UpdateQuantities(ctx context.Context, inv *domain.Inventory) error {
	return nil
}

func (m *mockInventoryReader) ListByLocation(ctx context.Context, locationID int64) ([]*domain.Inventory, error) {
	var result []*domain.Inventory
	for k, inv := range m.rows {
		if k.locationID == locationID {
			result = append(result, inv)
		}
	}
	return result, nil
}

func (m *mockInventoryReader) ListByBatch(ctx context.Context, batchID int64) ([]*domain.Inventory, error) {
	var result []*domain.Inventory
	for k, inv := range m.rows {
		if k.batchID == batchID {
			result = append(result, inv)
		}
	}
	return result, nil
}

// mockMovementReader 只读流水访问器的内存替身。
type mockMovementReader struct {
	movements []*domain.StockMovement
}

func (m *mockMovementReader) Append(ctx context.Context, mv *domain.StockMovement) error { return nil }

func (m *mockMovementReader) ListByRow(ctx context.Context, batchID, locationID int64, limit int) ([]*domain.StockMovement, error) {
	var result []*domain.StockMovement
	for _, mv := range m.movements {
		if mv.ProductBatchID == batchID && mv.LocationID == locationID {
			result = append(result, mv)
		}
	}
	return result, nil
}

func (m *mockMovementReader) ListByReference(ctx context.Context, referenceID string) ([]*domain.StockMovement, error) {
	var result []*domain.StockMovement
	for _, mv := range m.movements {
		if mv.ReferenceID == referenceID {
			result = append(result, mv)
		}
	}
	return result, nil
}

func (m *mockMovementReader) ReservationBalance(ctx context.Context, orderRef string, batchID, locationID int64) (int64, error) {
	return 0, nil
}

// fakeSnapshotCache 记录读写的快照缓存替身。
type fakeSnapshotCache struct {
	snapshots map[rowKey]*domain.Inventory
	failReads bool
	sets      int
}

func newFakeSnapshotCache() *fakeSnapshotCache {
	return &fakeSnapshotCache{snapshots: make(map[rowKey]*domain.Inventory)}
}

func (c *fakeSnapshotCache) Get(ctx context.Context, batchID, locationID int64) (*domain.Inventory, error) {
	if c.failReads {
		return nil, errors.New("cache backend down")
	}
	return c.snapshots[rowKey{batchID, locationID}], nil
}

func (c *fakeSnapshotCache) Set(ctx context.Context, inv *domain.Inventory) error {
	c.sets++
	c.snapshots[rowKey{inv.ProductBatchID, inv.LocationID}] = inv
	return nil
}

func TestInventoryQueryService_GetInventory(t *testing.T) {
	reader := &mockInventoryReader{rows: map[rowKey]*domain.Inventory{
		{1, 1}: {ID: 1, ProductBatchID: 1, LocationID: 1, AvailableQty: 100, ReservedQty: 20},
	}}
	snapshots := newFakeSnapshotCache()
	svc := NewInventoryQueryService(reader, &mockMovementReader{}, snapshots, zap.NewNop())

	// 未命中：读库并回填缓存
	inv, err := svc.GetInventory(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("GetInventory() error = %v", err)
	}
	if inv.AvailableQty != 100 {
		t.Errorf("available = %d, want 100", inv.AvailableQty)
	}
	if snapshots.sets != 1 {
		t.Errorf("cache sets = %d, want 1", snapshots.sets)
	}

	// 命中：不再读库
	dbReads := reader.gets
	if _, err := svc.GetInventory(context.Background(), 1, 1); err != nil {
		t.Fatalf("GetInventory() error = %v", err)
	}
	if reader.gets != dbReads {
		t.Errorf("db reads = %d, want %d (cache hit)", reader.gets, dbReads)
	}

	// 行不存在
	if _, err := svc.GetInventory(context.Background(), 1, 9); !domain.IsKind(err, domain.KindNotFound) {
		t.Errorf("error kind = %v, want not_found", domain.KindOf(err))
	}
}

func TestInventoryQueryService_CacheFailureFallsBack(t *testing.T) {
	reader := &mockInventoryReader{rows: map[rowKey]*domain.Inventory{
		{1, 1}: {ID: 1, ProductBatchID: 1, LocationID: 1, AvailableQty: 7},
	}}
	snapshots := newFakeSnapshotCache()
	snapshots.failReads = true
	svc := NewInventoryQueryService(reader, &mockMovementReader{}, snapshots, zap.NewNop())

	inv, err := svc.GetInventory(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("GetInventory() error = %v", err)
	}
	if inv.AvailableQty != 7 {
		t.Errorf("available = %d, want 7", inv.AvailableQty)
	}
}

func TestInventoryQueryService_Movements(t *testing.T) {
	movements := &mockMovementReader{movements: []*domain.StockMovement{
		{ID: 1, ProductBatchID: 1, LocationID: 1, MovementType: domain.MovementPurchaseReceipt, Quantity: 100},
		{ID: 2, ProductBatchID: 1, LocationID: 1, MovementType: domain.MovementTransferOut, Quantity: -30, ReferenceID: "ref-1"},
		{ID: 3, ProductBatchID: 1, LocationID: 2, MovementType: domain.MovementTransferIn, Quantity: 30, ReferenceID: "ref-1"},
	}}
	svc := NewInventoryQueryService(&mockInventoryReader{}, movements, nil, zap.NewNop())

	rows, err := svc.ListMovements(context.Background(), &domain.MovementListRequest{ProductBatchID: 1, LocationID: 1})
	if err != nil {
		t.Fatalf("ListMovements() error = %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("movements = %d, want 2", len(rows))
	}

	pair, err := svc.ListMovementsByReference(context.Background(), "ref-1")
	if err != nil {
		t.Fatalf("ListMovementsByReference() error = %v", err)
	}
	if len(pair) != 2 {
		t.Errorf("referenced movements = %d, want 2", len(pair))
	}

	if _, err := svc.ListMovementsByReference(context.Background(), ""); !domain.IsKind(err, domain.KindInvalidArgument) {
		t.Errorf("error kind = %v, want invalid_argument", domain.KindOf(err))
	}
}
