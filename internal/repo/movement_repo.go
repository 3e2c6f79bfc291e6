package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MorseWayne/stock_ledger/internal/domain"
)

// MovementStore 定义流水表的数据访问接口。流水只追加，不提供更新或删除。
type MovementStore interface {
	// Append 追加一条流水。
	Append(ctx context.Context, m *domain.StockMovement) error

	// ListByRow 按 (批次, 位置) 倒序返回最近的流水。
	ListByRow(ctx context.Context, productBatchID, locationID int64, limit int) ([]*domain.StockMovement, error)

	// ListByReference 返回指定关联号的全部流水（如一次转移的出/入两条）。
	ListByReference(ctx context.Context, referenceID string) ([]*domain.StockMovement, error)

	// ReservationBalance 返回指定订单在 (批次, 位置) 上的预留净额：
	// reservation 数量之和加上 release 数量之和（release 为负数）。
	// 释放校验据此保证对同一订单的累计释放不超过累计预留。
	ReservationBalance(ctx context.Context, orderRef string, productBatchID, locationID int64) (int64, error)
}

const movementColumns = `id, product_batch_id, location_id, movement_type, quantity, reference_id, idempotency_key, created_by_id, created_at`

// movementStore 实现 MovementStore 接口。
type movementStore struct {
	q Querier
}

// NewMovementReader 创建事务外的只读流水访问器。
func NewMovementReader(db *sql.DB) MovementStore {
	return &movementStore{q: db}
}

func (r *movementStore) Append(ctx context.Context, m *domain.StockMovement) error {
	query := `
		INSERT INTO stock_movements
			(product_batch_id, location_id, movement_type, quantity, reference_id, idempotency_key, created_by_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.q.ExecContext(ctx, query,
		m.ProductBatchID,
		m.LocationID,
		string(m.MovementType),
		m.Quantity,
		m.ReferenceID,
		m.IdempotencyKey,
		m.CreatedByID,
	)
	if err != nil {
		return fmt.Errorf("failed to append stock movement: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	m.ID = id
	return nil
}

func (r *movementStore) ListByRow(ctx context.Context, productBatchID, locationID int64, limit int) ([]*domain.StockMovement, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT %s FROM stock_movements
		WHERE product_batch_id = ? AND location_id = ?
		ORDER BY id DESC LIMIT ?
	`, movementColumns)
	return r.scanMany(ctx, query, productBatchID, locationID, limit)
}

func (r *movementStore) ListByReference(ctx context.Context, referenceID string) ([]*domain.StockMovement, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM stock_movements
		WHERE reference_id = ?
		ORDER BY id
	`, movementColumns)
	return r.scanMany(ctx, query, referenceID)
}

func (r *movementStore) ReservationBalance(ctx context.Context, orderRef string, productBatchID, locationID int64) (int64, error) {
	query := `
		SELECT COALESCE(SUM(quantity), 0)
		FROM stock_movements
		WHERE reference_id = ? AND product_batch_id = ? AND location_id = ?
		  AND movement_type IN (?, ?)
	`

	var balance int64
	err := r.q.QueryRowContext(ctx, query,
		orderRef, productBatchID, locationID,
		string(domain.MovementReservation), string(domain.MovementRelease),
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to sum reservation balance: %w", err)
	}

	return balance, nil
}

func (r *movementStore) scanMany(ctx context.Context, query string, args ...any) ([]*domain.StockMovement, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock movements: %w", err)
	}
	defer rows.Close()

	var movements []*domain.StockMovement
	for rows.Next() {
		m := &domain.StockMovement{}
		var movementType string
		var referenceID sql.NullString
		err := rows.Scan(
			&m.ID,
			&m.ProductBatchID,
			&m.LocationID,
			&movementType,
			&m.Quantity,
			&referenceID,
			&m.IdempotencyKey,
			&m.CreatedByID,
			&m.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stock movement: %w", err)
		}
		m.MovementType = domain.MovementType(movementType)
		m.ReferenceID = referenceID.String
		movements = append(movements, m)
	}

	return movements, rows.Err()
}
