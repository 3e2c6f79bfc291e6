package cache

import (
	"context"
	"testing"
	"time"

	"github.com/MorseWayne/stock_ledger/internal/domain"
)

func TestInventorySnapshotCache_RoundTrip(t *testing.T) {
	snapshots := NewInventorySnapshotCache(NewMemoryCache(), time.Minute)
	ctx := context.Background()

	inv := &domain.Inventory{
		ID:             1,
		ProductBatchID: 7,
		LocationID:     3,
		AvailableQty:   120,
		ReservedQty:    30,
		Version:        5,
	}
	if err := snapshots.Set(ctx, inv); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := snapshots.Get(ctx, 7, 3)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Fatal("Get() returned nil for cached row")
	}
	if got.AvailableQty != 120 || got.ReservedQty != 30 || got.Version != 5 {
		t.Errorf("got %+v, want cached snapshot", got)
	}
}

func TestInventorySnapshotCache_MissReturnsNil(t *testing.T) {
	snapshots := NewInventorySnapshotCache(NewMemoryCache(), time.Minute)

	got, err := snapshots.Get(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("Get() = %+v, want nil on miss", got)
	}
}

func TestInventorySnapshotCache_Invalidate(t *testing.T) {
	snapshots := NewInventorySnapshotCache(NewMemoryCache(), time.Minute)
	ctx := context.Background()

	inv := &domain.Inventory{ProductBatchID: 7, LocationID: 3, AvailableQty: 10}
	if err := snapshots.Set(ctx, inv); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := snapshots.Invalidate(ctx, 7, 3); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}

	got, err := snapshots.Get(ctx, 7, 3)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("Get() = %+v, want nil after invalidation", got)
	}
}

func TestInventorySnapshotCache_KeysAreRowScoped(t *testing.T) {
	snapshots := NewInventorySnapshotCache(NewMemoryCache(), time.Minute)
	ctx := context.Background()

	_ = snapshots.Set(ctx, &domain.Inventory{ProductBatchID: 1, LocationID: 1, AvailableQty: 10})
	_ = snapshots.Set(ctx, &domain.Inventory{ProductBatchID: 1, LocationID: 2, AvailableQty: 20})

	a, _ := snapshots.Get(ctx, 1, 1)
	b, _ := snapshots.Get(ctx, 1, 2)
	if a == nil || b == nil {
		t.Fatal("expected both rows cached")
	}
	if a.AvailableQty != 10 || b.AvailableQty != 20 {
		t.Errorf("rows collided: %d / %d", a.AvailableQty, b.AvailableQty)
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	mc := NewMemoryCache()
	ctx := context.Background()

	if err := mc.Set(ctx, "k", "v", time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	var dest string
	if err := mc.Get(ctx, "k", &dest); err != ErrCacheMiss {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}
