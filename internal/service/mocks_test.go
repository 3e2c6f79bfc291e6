package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/MorseWayne/stock_ledger/internal/domain"
	"github.com/MorseWayne/stock_ledger/internal/repo"
)

// rowKey 标识一行台账。
type rowKey struct {
	batchID    int64
	locationID int64
}

// idemKey 标识一条幂等记录。
type idemKey struct {
	opType domain.OperationType
	key    string
}

// memLedger 是内存版的事务化台账存储。
// Execute 用互斥锁串行化，事务内先在副本上执行，成功才合并回主状态，
// 模拟数据库事务的原子提交/回滚。
type memLedger struct {
	mu          sync.Mutex
	inventories map[rowKey]*domain.Inventory
	movements   []*domain.StockMovement
	idempotency map[idemKey]*domain.IdempotencyRecord
	nextInvID   int64
	nextMoveID  int64
	nextRecID   int64

	// failInsertOnce 为真时，下一次幂等记录插入返回唯一键冲突，
	// 用于模拟并发同键请求的落败方
	failInsertOnce bool

	// missGetOnce 为真时，下一次幂等记录读取返回未命中，
	// 配合已存在的记录可模拟"检查时未提交、插入时已提交"的竞态
	missGetOnce bool

	// failCreateOnce 为真时，下一次台账行创建返回 uk_batch_location 上的唯一键冲突，
	// 模拟两个首次入库请求并发创建同一行
	failCreateOnce bool
}

func newMemLedger() *memLedger {
	return &memLedger{
		inventories: make(map[rowKey]*domain.Inventory),
		movements:   nil,
		idempotency: make(map[idemKey]*domain.IdempotencyRecord),
		nextInvID:   1,
		nextMoveID:  1,
		nextRecID:   1,
	}
}

// seed 直接写入一行台账，绕过操作路径。
func (m *memLedger) seed(batchID, locationID, available, reserved int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv := &domain.Inventory{
		ID:             m.nextInvID,
		ProductBatchID: batchID,
		LocationID:     locationID,
		AvailableQty:   available,
		ReservedQty:    reserved,
	}
	m.nextInvID++
	m.inventories[rowKey{batchID, locationID}] = inv
}

func (m *memLedger) row(batchID, locationID int64) *domain.Inventory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inventories[rowKey{batchID, locationID}]
}

func (m *memLedger) movementCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.movements)
}

func (m *memLedger) lastMovements(n int) []*domain.StockMovement {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > len(m.movements) {
		n = len(m.movements)
	}
	return append([]*domain.StockMovement{}, m.movements[len(m.movements)-n:]...)
}

// Execute 实现 repo.TxScope。
func (m *memLedger) Execute(ctx context.Context, fn func(repo.TxStores) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTxStores{
		base:        m,
		inventories: make(map[rowKey]*domain.Inventory),
		idempotency: make(map[idemKey]*domain.IdempotencyRecord),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// memTxStores 在副本上缓冲一个事务的全部写入。
type memTxStores struct {
	base        *memLedger
	inventories map[rowKey]*domain.Inventory
	movements   []*domain.StockMovement
	idempotency map[idemKey]*domain.IdempotencyRecord
}

func (t *memTxStores) commit() {
	for k, inv := range t.inventories {
		t.base.inventories[k] = inv
	}
	t.base.movements = append(t.base.movements, t.movements...)
	for k, rec := range t.idempotency {
		t.base.idempotency[k] = rec
	}
}

func (t *memTxStores) Inventory() repo.InventoryStore     { return &memInventoryStore{tx: t} }
func (t *memTxStores) Movements() repo.MovementStore      { return &memMovementStore{tx: t} }
func (t *memTxStores) Idempotency() repo.IdempotencyStore { return &memIdempotencyStore{tx: t} }

type memInventoryStore struct {
	tx *memTxStores
}

func (s *memInventoryStore) lookup(batchID, locationID int64) *domain.Inventory {
	k := rowKey{batchID, locationID}
	if inv, ok := s.tx.inventories[k]; ok {
		return inv
	}
	if inv, ok := s.tx.base.inventories[k]; ok {
		// 事务内工作在副本上，提交前不影响主状态
		cp := *inv
		s.tx.inventories[k] = &cp
		return &cp
	}
	return nil
}

func (s *memInventoryStore) Get(ctx context.Context, batchID, locationID int64) (*domain.Inventory, error) {
	return s.lookup(batchID, locationID), nil
}

func (s *memInventoryStore) GetForUpdate(ctx context.Context, batchID, locationID int64) (*domain.Inventory, error) {
	return s.lookup(batchID, locationID), nil
}

func (s *memInventoryStore) Create(ctx context.Context, inv *domain.Inventory) error {
	if s.tx.base.failCreateOnce {
		s.tx.base.failCreateOnce = false
		return fmt.Errorf("create inventory: %w", &mysql.MySQLError{
			Number: 1062, Message: "Duplicate entry '1-10' for key 'inventory.uk_batch_location'"})
	}
	inv.ID = s.tx.base.nextInvID
	s.tx.base.nextInvID++
	s.tx.inventories[rowKey{inv.ProductBatchID, inv.LocationID}] = inv
	return nil
}

func (s *memInventoryStore) UpdateQuantities(ctx context.Context, inv *domain.Inventory) error {
	inv.Version++
	s.tx.inventories[rowKey{inv.ProductBatchID, inv.LocationID}] = inv
	return nil
}

func (s *memInventoryStore) ListByLocation(ctx context.Context, locationID int64) ([]*domain.Inventory, error) {
	var result []*domain.Inventory
	for k, inv := range s.tx.base.inventories {
		if k.locationID == locationID {
			result = append(result, inv)
		}
	}
	return result, nil
}

func (s *memInventoryStore) ListByBatch(ctx context.Context, batchID int64) ([]*domain.Inventory, error) {
	var result []*domain.Inventory
	for k, inv := range s.tx.base.inventories {
		if k.batchID == batchID {
			result = append(result, inv)
		}
	}
	return result, nil
}

type memMovementStore struct {
	tx *memTxStores
}

func (s *memMovementStore) Append(ctx context.Context, m *domain.StockMovement) error {
	m.ID = s.tx.base.nextMoveID
	s.tx.base.nextMoveID++
	s.tx.movements = append(s.tx.movements, m)
	return nil
}

func (s *memMovementStore) all() []*domain.StockMovement {
	return append(append([]*domain.StockMovement{}, s.tx.base.movements...), s.tx.movements...)
}

func (s *memMovementStore) ListByRow(ctx context.Context, batchID, locationID int64, limit int) ([]*domain.StockMovement, error) {
	var result []*domain.StockMovement
	for _, m := range s.all() {
		if m.ProductBatchID == batchID && m.LocationID == locationID {
			result = append(result, m)
		}
	}
	return result, nil
}

func (s *memMovementStore) ListByReference(ctx context.Context, referenceID string) ([]*domain.StockMovement, error) {
	var result []*domain.StockMovement
	for _, m := range s.all() {
		if m.ReferenceID == referenceID {
			result = append(result, m)
		}
	}
	return result, nil
}

func (s *memMovementStore) ReservationBalance(ctx context.Context, orderRef string, batchID, locationID int64) (int64, error) {
	var balance int64
	for _, m := range s.all() {
		if m.ReferenceID != orderRef || m.ProductBatchID != batchID || m.LocationID != locationID {
			continue
		}
		if m.MovementType == domain.MovementReservation || m.MovementType == domain.MovementRelease {
			balance += m.Quantity
		}
	}
	return balance, nil
}

type memIdempotencyStore struct {
	tx *memTxStores
}

func (s *memIdempotencyStore) Get(ctx context.Context, opType domain.OperationType, key string) (*domain.IdempotencyRecord, error) {
	if s.tx.base.missGetOnce {
		s.tx.base.missGetOnce = false
		return nil, nil
	}
	k := idemKey{opType, key}
	if rec, ok := s.tx.idempotency[k]; ok {
		return rec, nil
	}
	if rec, ok := s.tx.base.idempotency[k]; ok {
		return rec, nil
	}
	return nil, nil
}

func (s *memIdempotencyStore) Insert(ctx context.Context, rec *domain.IdempotencyRecord) error {
	if s.tx.base.failInsertOnce {
		s.tx.base.failInsertOnce = false
		return fmt.Errorf("insert idempotency record: %w", &mysql.MySQLError{
			Number: 1062, Message: "Duplicate entry 'receive-k1' for key 'idempotency_records.uk_operation_key'"})
	}
	k := idemKey{rec.OperationType, rec.IdempotencyKey}
	if _, ok := s.tx.base.idempotency[k]; ok {
		return fmt.Errorf("insert idempotency record: %w", &mysql.MySQLError{
			Number: 1062, Message: "Duplicate entry 'receive-k1' for key 'idempotency_records.uk_operation_key'"})
	}
	rec.ID = s.tx.base.nextRecID
	s.tx.base.nextRecID++
	rec.CreatedAt = time.Now().UTC()
	s.tx.idempotency[k] = rec
	return nil
}

func (s *memIdempotencyStore) PruneExpired(ctx context.Context, now time.Time) (int64, error) {
	var deleted int64
	for k, rec := range s.tx.base.idempotency {
		if !rec.ExpiresAt.After(now) {
			delete(s.tx.base.idempotency, k)
			deleted++
		}
	}
	return deleted, nil
}

// mockBatchRepo 内存版商品批次仓储。
type mockBatchRepo struct {
	mu      sync.Mutex
	batches map[int64]*domain.ProductBatch
	nextID  int64
}

func newMockBatchRepo() *mockBatchRepo {
	return &mockBatchRepo{
		batches: make(map[int64]*domain.ProductBatch),
		nextID:  1,
	}
}

func (m *mockBatchRepo) addBatch(sku, batchCode string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.batches[id] = &domain.ProductBatch{ID: id, SKU: sku, BatchCode: batchCode}
	return id
}

func (m *mockBatchRepo) Create(ctx context.Context, batch *domain.ProductBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.batches {
		if b.SKU == batch.SKU && b.BatchCode == batch.BatchCode {
			return fmt.Errorf("create product batch: %w", &mysql.MySQLError{
				Number: 1062, Message: "Duplicate entry 'SKU-1-B1' for key 'product_batches.uk_sku_batch_code'"})
		}
	}
	batch.ID = m.nextID
	m.nextID++
	m.batches[batch.ID] = batch
	return nil
}

func (m *mockBatchRepo) GetByID(ctx context.Context, id int64) (*domain.ProductBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches[id], nil
}

func (m *mockBatchRepo) Exists(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.batches[id]
	return ok, nil
}

func (m *mockBatchRepo) List(ctx context.Context, req *domain.ProductBatchListRequest) ([]*domain.ProductBatch, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.ProductBatch
	for _, b := range m.batches {
		if req.SKU != "" && b.SKU != req.SKU {
			continue
		}
		result = append(result, b)
	}
	return result, int64(len(result)), nil
}

// capturePublisher 记录发布的流水事件。
type capturePublisher struct {
	mu        sync.Mutex
	published []*domain.StockMovement
}

func (p *capturePublisher) PublishMovements(ctx context.Context, movements []*domain.StockMovement) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, movements...)
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

// captureInvalidator 记录被失效的台账行。
type captureInvalidator struct {
	mu          sync.Mutex
	invalidated []rowKey
}

func (c *captureInvalidator) Invalidate(ctx context.Context, batchID, locationID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, rowKey{batchID, locationID})
	return nil
}
