// Package repo 实现台账数据访问层，负责与数据库的交互。
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// Querier 抽象 *sql.DB 和 *sql.Tx 的公共查询能力，
// 使同一套存储实现既能在事务内也能在事务外执行。
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxStores 提供绑定在同一事务上的各存储访问器。
// 台账操作通过它完成行锁读、改写、流水追加与幂等记录写入，
// 全部语句共享一个数据库事务。
type TxStores interface {
	Inventory() InventoryStore
	Movements() MovementStore
	Idempotency() IdempotencyStore
}

// TxScope 在一个数据库事务内执行给定函数：
// 函数返回错误则回滚，否则提交。提交/回滚之外不持有任何进程内锁，
// 并发正确性完全交给存储层的行锁。
type TxScope interface {
	Execute(ctx context.Context, fn func(s TxStores) error) error
}

// mysqlTxScope 基于 *sql.DB 的 TxScope 实现。
type mysqlTxScope struct {
	db *sql.DB
}

// NewTxScope 创建 MySQL 事务作用域。
func NewTxScope(db *sql.DB) TxScope {
	return &mysqlTxScope{db: db}
}

// Execute 开启事务、构造事务内存储并执行 fn。
// fn 返回错误时回滚且不保留任何痕迹（无流水、无幂等记录），
// 调用方可携带同一幂等键安全重试。
func (s *mysqlTxScope) Execute(ctx context.Context, fn func(TxStores) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&mysqlTxStores{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// mysqlTxStores 将事务句柄适配为各存储访问器。
type mysqlTxStores struct {
	q Querier
}

func (s *mysqlTxStores) Inventory() InventoryStore {
	return &inventoryStore{q: s.q}
}

func (s *mysqlTxStores) Movements() MovementStore {
	return &movementStore{q: s.q}
}

func (s *mysqlTxStores) Idempotency() IdempotencyStore {
	return &idempotencyStore{q: s.q}
}

// IsDuplicateKey 判断错误是否为MySQL唯一键冲突（errno 1062）。
func IsDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// IsIdempotencyKeyConflict 判断错误是否为幂等记录唯一键 uk_operation_key 上的冲突。
// 事务内还有其他唯一键（如台账行的 uk_batch_location，首次入库并发创建时可能撞上），
// 只有撞在幂等键上才允许按"对方已提交"重读快照，其余1062原样上抛由调用方重试。
func IsIdempotencyKeyConflict(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062 &&
		strings.Contains(me.Message, "uk_operation_key")
}
