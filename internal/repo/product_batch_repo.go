package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MorseWayne/stock_ledger/internal/domain"
)

// ProductBatchRepository 定义商品批次的数据访问接口。
// 台账核心只依赖 GetByID/Exists 做入库校验，其余方法服务于薄注册接口。
type ProductBatchRepository interface {
	Create(ctx context.Context, batch *domain.ProductBatch) error
	GetByID(ctx context.Context, id int64) (*domain.ProductBatch, error)
	Exists(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context, req *domain.ProductBatchListRequest) ([]*domain.ProductBatch, int64, error)
}

// productBatchRepo 实现 ProductBatchRepository 接口。
type productBatchRepo struct {
	db *sql.DB
}

// NewProductBatchRepository 创建商品批次仓储实例。
func NewProductBatchRepository(db *sql.DB) ProductBatchRepository {
	return &productBatchRepo{db: db}
}

func (r *productBatchRepo) Create(ctx context.Context, batch *domain.ProductBatch) error {
	query := `
		INSERT INTO product_batches (sku, batch_code, expires_at)
		VALUES (?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query, batch.SKU, batch.BatchCode, batch.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create product batch: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	batch.ID = id
	return nil
}

func (r *productBatchRepo) GetByID(ctx context.Context, id int64) (*domain.ProductBatch, error) {
	query := `
		SELECT id, sku, batch_code, expires_at, created_at, updated_at
		FROM product_batches
		WHERE id = ?
	`

	batch := &domain.ProductBatch{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&batch.ID,
		&batch.SKU,
		&batch.BatchCode,
		&batch.ExpiresAt,
		&batch.CreatedAt,
		&batch.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product batch by id: %w", err)
	}

	return batch, nil
}

func (r *productBatchRepo) Exists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM product_batches WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check product batch existence: %w", err)
	}
	return true, nil
}

func (r *productBatchRepo) List(ctx context.Context, req *domain.ProductBatchListRequest) ([]*domain.ProductBatch, int64, error) {
	where := ""
	var args []any
	if req.SKU != "" {
		where = "WHERE sku = ?"
		args = append(args, req.SKU)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM product_batches %s", where)
	var total int64
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count product batches: %w", err)
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	query := fmt.Sprintf(`
		SELECT id, sku, batch_code, expires_at, created_at, updated_at
		FROM product_batches %s
		ORDER BY id DESC LIMIT ? OFFSET ?
	`, where)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query product batches: %w", err)
	}
	defer rows.Close()

	var batches []*domain.ProductBatch
	for rows.Next() {
		batch := &domain.ProductBatch{}
		err := rows.Scan(
			&batch.ID,
			&batch.SKU,
			&batch.BatchCode,
			&batch.ExpiresAt,
			&batch.CreatedAt,
			&batch.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan product batch: %w", err)
		}
		batches = append(batches, batch)
	}

	return batches, total, rows.Err()
}
