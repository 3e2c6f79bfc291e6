package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MorseWayne/stock_ledger/internal/domain"
)

// InventoryStore 定义台账行的数据访问接口。
// 写方法只允许在 TxScope 的事务内调用；读方法也可通过 NewInventoryReader
// 在事务外用于只读投影。
type InventoryStore interface {
	// Get 读取台账行，不加锁。行不存在时返回 (nil, nil)。
	Get(ctx context.Context, productBatchID, locationID int64) (*domain.Inventory, error)

	// GetForUpdate 以 SELECT ... FOR UPDATE 读取台账行并持有行锁直到事务结束。
	// 同一 (批次, 位置) 上的并发操作由该行锁串行化。行不存在时返回 (nil, nil)。
	GetForUpdate(ctx context.Context, productBatchID, locationID int64) (*domain.Inventory, error)

	// Create 创建台账行（首次入库时的惰性创建）。
	Create(ctx context.Context, inv *domain.Inventory) error

	// UpdateQuantities 写回可用/预留数量并递增版本号。
	UpdateQuantities(ctx context.Context, inv *domain.Inventory) error

	// ListByLocation 返回指定位置上的全部台账行。
	ListByLocation(ctx context.Context, locationID int64) ([]*domain.Inventory, error)

	// ListByBatch 返回指定批次在所有位置上的台账行。
	ListByBatch(ctx context.Context, productBatchID int64) ([]*domain.Inventory, error)
}

const inventoryColumns = `id, product_batch_id, location_id, available_qty, reserved_qty, version, created_at, updated_at`

// inventoryStore 实现 InventoryStore 接口。
type inventoryStore struct {
	q Querier
}

// NewInventoryReader 创建事务外的只读台账访问器，供查询投影使用。
func NewInventoryReader(db *sql.DB) InventoryStore {
	return &inventoryStore{q: db}
}

func (r *inventoryStore) Get(ctx context.Context, productBatchID, locationID int64) (*domain.Inventory, error) {
	query := fmt.Sprintf(`SELECT %s FROM inventory WHERE product_batch_id = ? AND location_id = ?`, inventoryColumns)
	return r.scanOne(r.q.QueryRowContext(ctx, query, productBatchID, locationID))
}

func (r *inventoryStore) GetForUpdate(ctx context.Context, productBatchID, locationID int64) (*domain.Inventory, error) {
	query := fmt.Sprintf(`SELECT %s FROM inventory WHERE product_batch_id = ? AND location_id = ? FOR UPDATE`, inventoryColumns)
	return r.scanOne(r.q.QueryRowContext(ctx, query, productBatchID, locationID))
}

func (r *inventoryStore) Create(ctx context.Context, inv *domain.Inventory) error {
	query := `
		INSERT INTO inventory (product_batch_id, location_id, available_qty, reserved_qty, version)
		VALUES (?, ?, ?, ?, 0)
	`

	result, err := r.q.ExecContext(ctx, query,
		inv.ProductBatchID,
		inv.LocationID,
		inv.AvailableQty,
		inv.ReservedQty,
	)
	if err != nil {
		return fmt.Errorf("failed to create inventory: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	inv.ID = id
	return nil
}

func (r *inventoryStore) UpdateQuantities(ctx context.Context, inv *domain.Inventory) error {
	query := `
		UPDATE inventory
		SET available_qty = ?, reserved_qty = ?, version = version + 1
		WHERE id = ?
	`

	result, err := r.q.ExecContext(ctx, query, inv.AvailableQty, inv.ReservedQty, inv.ID)
	if err != nil {
		return fmt.Errorf("failed to update inventory quantities: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("inventory row %d not found", inv.ID)
	}

	inv.Version++
	return nil
}

func (r *inventoryStore) ListByLocation(ctx context.Context, locationID int64) ([]*domain.Inventory, error) {
	query := fmt.Sprintf(`SELECT %s FROM inventory WHERE location_id = ? ORDER BY product_batch_id`, inventoryColumns)
	return r.scanMany(ctx, query, locationID)
}

func (r *inventoryStore) ListByBatch(ctx context.Context, productBatchID int64) ([]*domain.Inventory, error) {
	query := fmt.Sprintf(`SELECT %s FROM inventory WHERE product_batch_id = ? ORDER BY location_id`, inventoryColumns)
	return r.scanMany(ctx, query, productBatchID)
}

func (r *inventoryStore) scanOne(row *sql.Row) (*domain.Inventory, error) {
	inv := &domain.Inventory{}
	err := row.Scan(
		&inv.ID,
		&inv.ProductBatchID,
		&inv.LocationID,
		&inv.AvailableQty,
		&inv.ReservedQty,
		&inv.Version,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan inventory: %w", err)
	}
	return inv, nil
}

func (r *inventoryStore) scanMany(ctx context.Context, query string, args ...any) ([]*domain.Inventory, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventories: %w", err)
	}
	defer rows.Close()

	var inventories []*domain.Inventory
	for rows.Next() {
		inv := &domain.Inventory{}
		err := rows.Scan(
			&inv.ID,
			&inv.ProductBatchID,
			&inv.LocationID,
			&inv.AvailableQty,
			&inv.ReservedQty,
			&inv.Version,
			&inv.CreatedAt,
			&inv.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inventory: %w", err)
		}
		inventories = append(inventories, inv)
	}

	return inventories, rows.Err()
}
