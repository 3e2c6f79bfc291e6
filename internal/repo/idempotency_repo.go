package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MorseWayne/stock_ledger/internal/domain"
)

// IdempotencyStore 定义幂等记录表的数据访问接口。
type IdempotencyStore interface {
	// Get 按 (操作类型, 幂等键) 读取记录，不存在时返回 (nil, nil)。
	Get(ctx context.Context, opType domain.OperationType, key string) (*domain.IdempotencyRecord, error)

	// Insert 写入幂等记录。(操作类型, 幂等键) 有唯一索引，
	// 并发同键写入时落败方收到唯一键冲突，由调用方重读已提交的记录。
	Insert(ctx context.Context, rec *domain.IdempotencyRecord) error

	// PruneExpired 删除过期记录，返回删除条数。流水表仍是持久审计来源，
	// 清理不影响台账正确性。
	PruneExpired(ctx context.Context, now time.Time) (int64, error)
}

// idempotencyStore 实现 IdempotencyStore 接口。
type idempotencyStore struct {
	q Querier
}

// NewIdempotencyPruner 创建事务外的幂等存储访问器，供后台清理任务使用。
func NewIdempotencyPruner(db *sql.DB) IdempotencyStore {
	return &idempotencyStore{q: db}
}

func (r *idempotencyStore) Get(ctx context.Context, opType domain.OperationType, key string) (*domain.IdempotencyRecord, error) {
	query := `
		SELECT id, operation_type, idempotency_key, payload_digest, result_snapshot, created_at, expires_at
		FROM idempotency_records
		WHERE operation_type = ? AND idempotency_key = ?
	`

	rec := &domain.IdempotencyRecord{}
	var opTypeStr string
	err := r.q.QueryRowContext(ctx, query, string(opType), key).Scan(
		&rec.ID,
		&opTypeStr,
		&rec.IdempotencyKey,
		&rec.PayloadDigest,
		&rec.ResultSnapshot,
		&rec.CreatedAt,
		&rec.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}

	rec.OperationType = domain.OperationType(opTypeStr)
	return rec, nil
}

func (r *idempotencyStore) Insert(ctx context.Context, rec *domain.IdempotencyRecord) error {
	query := `
		INSERT INTO idempotency_records
			(operation_type, idempotency_key, payload_digest, result_snapshot, expires_at)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := r.q.ExecContext(ctx, query,
		string(rec.OperationType),
		rec.IdempotencyKey,
		rec.PayloadDigest,
		rec.ResultSnapshot,
		rec.ExpiresAt,
	)
	if err != nil {
		// 唯一键冲突原样上抛，由服务层识别并重读
		return fmt.Errorf("failed to insert idempotency record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	rec.ID = id
	return nil
}

func (r *idempotencyStore) PruneExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM idempotency_records WHERE expires_at <= ?`

	result, err := r.q.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to prune idempotency records: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return deleted, nil
}
