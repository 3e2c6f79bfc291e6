// Package service 实现库存台账业务逻辑层，负责五种台账操作和幂等保护。
package service

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MorseWayne/stock_ledger/internal/domain"
	"github.com/MorseWayne/stock_ledger/internal/repo"
)

// LedgerService 定义台账操作接口。每个操作在一个数据库事务内完成：
// 幂等检查 → 校验 → 行锁读改写 → 流水追加 → 幂等记录写入。
// 事务提交前的任何失败都会完整回滚，不留流水、不留幂等记录。
type LedgerService interface {
	Receive(ctx context.Context, req *domain.ReceiveRequest) (*domain.OperationResult, error)
	Dispatch(ctx context.Context, req *domain.DispatchRequest) (*domain.OperationResult, error)
	Transfer(ctx context.Context, req *domain.TransferRequest) (*domain.TransferResult, error)
	Reserve(ctx context.Context, req *domain.ReserveRequest) (*domain.OperationResult, error)
	Release(ctx context.Context, req *domain.ReleaseRequest) (*domain.OperationResult, error)
	Adjust(ctx context.Context, req *domain.AdjustRequest) (*domain.OperationResult, error)
}

// MovementPublisher 在事务提交后发布流水事件，供下游消费（报表、补货提醒）。
// 发布失败只记录日志，不回滚台账。
type MovementPublisher interface {
	PublishMovements(ctx context.Context, movements []*domain.StockMovement)
}

// SnapshotInvalidator 在台账行变更提交后失效对应的查询缓存。
type SnapshotInvalidator interface {
	Invalidate(ctx context.Context, productBatchID, locationID int64) error
}

// ledgerService 实现 LedgerService 接口。
type ledgerService struct {
	scope     repo.TxScope
	batches   repo.ProductBatchRepository
	events    MovementPublisher   // 可为nil
	cache     SnapshotInvalidator // 可为nil
	retention time.Duration       // 幂等记录保留时长
	logger    *zap.Logger
}

// NewLedgerService 创建台账服务实例。events/cache 允许为nil（禁用对应集成）。
func NewLedgerService(
	scope repo.TxScope,
	batches repo.ProductBatchRepository,
	events MovementPublisher,
	cache SnapshotInvalidator,
	retention time.Duration,
	logger *zap.Logger,
) LedgerService {
	if retention <= 0 {
		retention = 48 * time.Hour
	}
	return &ledgerService{
		scope:     scope,
		batches:   batches,
		events:    events,
		cache:     cache,
		retention: retention,
		logger:    logger,
	}
}

// Receive 入库：对 (批次, 位置) 行累加可用库存，行不存在时惰性创建。
func (s *ledgerService) Receive(ctx context.Context, req *domain.ReceiveRequest) (*domain.OperationResult, error) {
	if err := validateMutation(req.Quantity, req.IdempotencyKey); err != nil {
		return nil, err
	}

	// 批次存在性校验；批次只增不删，事务外校验即可
	exists, err := s.batches.Exists(ctx, req.ProductBatchID)
	if err != nil {
		return nil, fmt.Errorf("check product batch: %w", err)
	}
	if !exists {
		return nil, domain.ErrNotFound("product batch %d not found", req.ProductBatchID)
	}

	result := &domain.OperationResult{}
	var moved []*domain.StockMovement
	err = s.runIdempotent(ctx, domain.OpReceive, req.IdempotencyKey, payloadDigest(req), result,
		func(st repo.TxStores) (any, error) {
			inv, err := st.Inventory().GetForUpdate(ctx, req.ProductBatchID, req.LocationID)
			if err != nil {
				return nil, err
			}
			if inv == nil {
				inv = &domain.Inventory{
					ProductBatchID: req.ProductBatchID,
					LocationID:     req.LocationID,
					AvailableQty:   req.Quantity,
					CreatedAt:      time.Now().UTC(),
					UpdatedAt:      time.Now().UTC(),
				}
				if err := st.Inventory().Create(ctx, inv); err != nil {
					return nil, err
				}
			} else {
				inv.AvailableQty += req.Quantity
				inv.UpdatedAt = time.Now().UTC()
				if err := st.Inventory().UpdateQuantities(ctx, inv); err != nil {
					return nil, err
				}
			}

			m := &domain.StockMovement{
				ProductBatchID: req.ProductBatchID,
				LocationID:     req.LocationID,
				MovementType:   domain.MovementPurchaseReceipt,
				Quantity:       req.Quantity,
				IdempotencyKey: req.IdempotencyKey,
				CreatedByID:    req.CreatedByID,
				CreatedAt:      time.Now().UTC(),
			}
			if err := st.Movements().Append(ctx, m); err != nil {
				return nil, err
			}
			moved = append(moved, m)

			result.Inventory = inv
			return result, nil
		})
	if err != nil {
		return nil, err
	}

	// 幂等命中时 mutate 产生的流水已随事务回滚，不发副作用
	if !result.Idempotent {
		s.afterCommit(ctx, moved)
	}
	return result, nil
}

// Dispatch 出库：只消耗可用库存，不触碰预留库存。可用不足时整单拒绝，无部分出库。
func (s *ledgerService) Dispatch(ctx context.Context, req *domain.DispatchRequest) (*domain.OperationResult, error) {
	if err := validateMutation(req.Quantity, req.IdempotencyKey); err != nil {
		return nil, err
	}

	result := &domain.OperationResult{}
	var moved []*domain.StockMovement
	err := s.runIdempotent(ctx, domain.OpDispatch, req.IdempotencyKey, payloadDigest(req), result,
		func(st repo.TxStores) (any, error) {
			inv, err := s.lockExisting(ctx, st, req.ProductBatchID, req.LocationID)
			if err != nil {
				return nil, err
			}
			if !inv.CanDispatch(req.Quantity) {
				return nil, domain.ErrInsufficientStock(
					"available %d, requested %d", inv.AvailableQty, req.Quantity)
			}

			inv.AvailableQty -= req.Quantity
			inv.UpdatedAt = time.Now().UTC()
			if err := st.Inventory().UpdateQuantities(ctx, inv); err != nil {
				return nil, err
			}

			m := &domain.StockMovement{
				ProductBatchID: req.ProductBatchID,
				LocationID:     req.LocationID,
				MovementType:   domain.MovementSaleIssue,
				Quantity:       -req.Quantity,
				IdempotencyKey: req.IdempotencyKey,
				CreatedByID:    req.CreatedByID,
				CreatedAt:      time.Now().UTC(),
			}
			if err := st.Movements().Append(ctx, m); err != nil {
				return nil, err
			}
			moved = append(moved, m)

			result.Inventory = inv
			return result, nil
		})
	if err != nil {
		return nil, err
	}

	// 幂等命中时 mutate 产生的流水已随事务回滚，不发副作用
	if !result.Idempotent {
		s.afterCommit(ctx, moved)
	}
	return result, nil
}

// Transfer 跨位置转移：按位置ID升序加锁两行，防止反向并发转移互相死锁。
// 转出/转入两条流水共享同一 ReferenceID，带符号数量之和为零。
func (s *ledgerService) Transfer(ctx context.Context, req *domain.TransferRequest) (*domain.TransferResult, error) {
	if req.FromLocationID == req.ToLocationID {
		return nil, domain.ErrInvalidArgument("transfer to same location")
	}
	if err := validateMutation(req.Quantity, req.IdempotencyKey); err != nil {
		return nil, err
	}

	result := &domain.TransferResult{}
	var moved []*domain.StockMovement
	err := s.runIdempotent(ctx, domain.OpTransfer, req.IdempotencyKey, payloadDigest(req), result,
		func(st repo.TxStores) (any, error) {
			// 固定全局加锁顺序：位置ID小的先锁
			first, second := req.FromLocationID, req.ToLocationID
			if second < first {
				first, second = second, first
			}

			rows := map[int64]*domain.Inventory{}
			for _, locID := range []int64{first, second} {
				inv, err := st.Inventory().GetForUpdate(ctx, req.ProductBatchID, locID)
				if err != nil {
					return nil, err
				}
				rows[locID] = inv
			}

			from := rows[req.FromLocationID]
			if from == nil {
				return nil, domain.ErrNotFound(
					"inventory for batch %d at location %d not found", req.ProductBatchID, req.FromLocationID)
			}
			if !from.CanDispatch(req.Quantity) {
				return nil, domain.ErrInsufficientStock(
					"available %d at source location, requested %d", from.AvailableQty, req.Quantity)
			}

			from.AvailableQty -= req.Quantity
			from.UpdatedAt = time.Now().UTC()
			if err := st.Inventory().UpdateQuantities(ctx, from); err != nil {
				return nil, err
			}

			to := rows[req.ToLocationID]
			if to == nil {
				to = &domain.Inventory{
					ProductBatchID: req.ProductBatchID,
					LocationID:     req.ToLocationID,
					AvailableQty:   req.Quantity,
					CreatedAt:      time.Now().UTC(),
					UpdatedAt:      time.Now().UTC(),
				}
				if err := st.Inventory().Create(ctx, to); err != nil {
					return nil, err
				}
			} else {
				to.AvailableQty += req.Quantity
				to.UpdatedAt = time.Now().UTC()
				if err := st.Inventory().UpdateQuantities(ctx, to); err != nil {
					return nil, err
				}
			}

			refID := uuid.New().String()
			out := &domain.StockMovement{
				ProductBatchID: req.ProductBatchID,
				LocationID:     req.FromLocationID,
				MovementType:   domain.MovementTransferOut,
				Quantity:       -req.Quantity,
				ReferenceID:    refID,
				IdempotencyKey: req.IdempotencyKey,
				CreatedByID:    req.CreatedByID,
				CreatedAt:      time.Now().UTC(),
			}
			in := &domain.StockMovement{
				ProductBatchID: req.ProductBatchID,
				LocationID:     req.ToLocationID,
				MovementType:   domain.MovementTransferIn,
				Quantity:       req.Quantity,
				ReferenceID:    refID,
				IdempotencyKey: req.IdempotencyKey,
				CreatedByID:    req.CreatedByID,
				CreatedAt:      time.Now().UTC(),
			}
			for _, m := range []*domain.StockMovement{out, in} {
				if err := st.Movements().Append(ctx, m); err != nil {
					return nil, err
				}
				moved = append(moved, m)
			}

			result.From = from
			result.To = to
			result.ReferenceID = refID
			return result, nil
		})
	if err != nil {
		return nil, err
	}

	// 幂等命中时 mutate 产生的流水已随事务回滚，不发副作用
	if !result.Idempotent {
		s.afterCommit(ctx, moved)
	}
	return result, nil
}

// Reserve 预留：在单次行更新内把数量从可用侧搬到预留侧，外界观察不到中间态。
func (s *ledgerService) Reserve(ctx context.Context, req *domain.ReserveRequest) (*domain.OperationResult, error) {
	if err := validateMutation(req.Quantity, req.IdempotencyKey); err != nil {
		return nil, err
	}

	result := &domain.OperationResult{}
	var moved []*domain.StockMovement
	err := s.runIdempotent(ctx, domain.OpReserve, req.IdempotencyKey, payloadDigest(req), result,
		func(st repo.TxStores) (any, error) {
			inv, err := s.lockExisting(ctx, st, req.ProductBatchID, req.LocationID)
			if err != nil {
				return nil, err
			}
			if !inv.CanReserve(req.Quantity) {
				return nil, domain.ErrInsufficientStock(
					"available %d, requested %d", inv.AvailableQty, req.Quantity)
			}

			inv.AvailableQty -= req.Quantity
			inv.ReservedQty += req.Quantity
			inv.UpdatedAt = time.Now().UTC()
			if err := st.Inventory().UpdateQuantities(ctx, inv); err != nil {
				return nil, err
			}

			m := &domain.StockMovement{
				ProductBatchID: req.ProductBatchID,
				LocationID:     req.LocationID,
				MovementType:   domain.MovementReservation,
				Quantity:       req.Quantity,
				ReferenceID:    orderReference(req.OrderID),
				IdempotencyKey: req.IdempotencyKey,
				CreatedByID:    req.CreatedByID,
				CreatedAt:      time.Now().UTC(),
			}
			if err := st.Movements().Append(ctx, m); err != nil {
				return nil, err
			}
			moved = append(moved, m)

			result.Inventory = inv
			return result, nil
		})
	if err != nil {
		return nil, err
	}

	// 幂等命中时 mutate 产生的流水已随事务回滚，不发副作用
	if !result.Idempotent {
		s.afterCommit(ctx, moved)
	}
	return result, nil
}

// Release 释放预留：Reserve 的逆操作。除行内 reserved_qty 校验外，
// 还按流水核对同一订单的预留净额，累计释放不得超过累计预留。
func (s *ledgerService) Release(ctx context.Context, req *domain.ReleaseRequest) (*domain.OperationResult, error) {
	if err := validateMutation(req.Quantity, req.IdempotencyKey); err != nil {
		return nil, err
	}

	result := &domain.OperationResult{}
	var moved []*domain.StockMovement
	err := s.runIdempotent(ctx, domain.OpRelease, req.IdempotencyKey, payloadDigest(req), result,
		func(st repo.TxStores) (any, error) {
			inv, err := s.lockExisting(ctx, st, req.ProductBatchID, req.LocationID)
			if err != nil {
				return nil, err
			}
			if !inv.CanRelease(req.Quantity) {
				return nil, domain.ErrInvalidArgument(
					"cannot release %d, only %d reserved", req.Quantity, inv.ReservedQty)
			}

			// 行锁已持有，流水核对与行更新在同一串行化区间内
			orderRef := orderReference(req.OrderID)
			balance, err := st.Movements().ReservationBalance(ctx, orderRef, req.ProductBatchID, req.LocationID)
			if err != nil {
				return nil, err
			}
			if balance < req.Quantity {
				return nil, domain.ErrInvalidArgument(
					"release %d exceeds reserved balance %d for order %d", req.Quantity, balance, req.OrderID)
			}

			inv.ReservedQty -= req.Quantity
			inv.AvailableQty += req.Quantity
			inv.UpdatedAt = time.Now().UTC()
			if err := st.Inventory().UpdateQuantities(ctx, inv); err != nil {
				return nil, err
			}

			m := &domain.StockMovement{
				ProductBatchID: req.ProductBatchID,
				LocationID:     req.LocationID,
				MovementType:   domain.MovementRelease,
				Quantity:       -req.Quantity,
				ReferenceID:    orderRef,
				IdempotencyKey: req.IdempotencyKey,
				CreatedByID:    req.CreatedByID,
				CreatedAt:      time.Now().UTC(),
			}
			if err := st.Movements().Append(ctx, m); err != nil {
				return nil, err
			}
			moved = append(moved, m)

			result.Inventory = inv
			return result, nil
		})
	if err != nil {
		return nil, err
	}

	// 幂等命中时 mutate 产生的流水已随事务回滚，不发副作用
	if !result.Idempotent {
		s.afterCommit(ctx, moved)
	}
	return result, nil
}

// Adjust 盘点调整：带符号数量直接作用于可用库存，扣减不得使其为负。
func (s *ledgerService) Adjust(ctx context.Context, req *domain.AdjustRequest) (*domain.OperationResult, error) {
	if req.Quantity == 0 {
		return nil, domain.ErrInvalidArgument("quantity must be non-zero")
	}
	if req.IdempotencyKey == "" {
		return nil, domain.ErrInvalidArgument("idempotency key is required")
	}
	if req.Reason == "" {
		return nil, domain.ErrInvalidArgument("reason is required")
	}

	result := &domain.OperationResult{}
	var moved []*domain.StockMovement
	err := s.runIdempotent(ctx, domain.OpAdjust, req.IdempotencyKey, payloadDigest(req), result,
		func(st repo.TxStores) (any, error) {
			inv, err := s.lockExisting(ctx, st, req.ProductBatchID, req.LocationID)
			if err != nil {
				return nil, err
			}
			if inv.AvailableQty+req.Quantity < 0 {
				return nil, domain.ErrInsufficientStock(
					"available %d, adjustment %d", inv.AvailableQty, req.Quantity)
			}

			inv.AvailableQty += req.Quantity
			inv.UpdatedAt = time.Now().UTC()
			if err := st.Inventory().UpdateQuantities(ctx, inv); err != nil {
				return nil, err
			}

			m := &domain.StockMovement{
				ProductBatchID: req.ProductBatchID,
				LocationID:     req.LocationID,
				MovementType:   domain.MovementAdjustment,
				Quantity:       req.Quantity,
				ReferenceID:    req.Reason,
				IdempotencyKey: req.IdempotencyKey,
				CreatedByID:    req.CreatedByID,
				CreatedAt:      time.Now().UTC(),
			}
			if err := st.Movements().Append(ctx, m); err != nil {
				return nil, err
			}
			moved = append(moved, m)

			result.Inventory = inv
			return result, nil
		})
	if err != nil {
		return nil, err
	}

	// 幂等命中时 mutate 产生的流水已随事务回滚，不发副作用
	if !result.Idempotent {
		s.afterCommit(ctx, moved)
	}
	return result, nil
}

// runIdempotent 带幂等保护地执行一次台账变更。
// result 必须是指针；命中幂等记录时用已存快照覆盖它并置 idempotent 标记，
// 未命中时执行 mutate 并把其返回值的JSON快照作为幂等记录的最后一条语句写入。
// 并发同键请求的落败方收到唯一键冲突后，重读已提交的记录并返回其快照。
func (s *ledgerService) runIdempotent(
	ctx context.Context,
	opType domain.OperationType,
	key, digest string,
	result any,
	mutate func(st repo.TxStores) (any, error),
) error {
	replayed := false
	err := s.scope.Execute(ctx, func(st repo.TxStores) error {
		rec, err := st.Idempotency().Get(ctx, opType, key)
		if err != nil {
			return err
		}
		if rec != nil {
			replayed = true
			return s.replaySnapshot(rec, digest, result)
		}

		snapshot, err := mutate(st)
		if err != nil {
			return err
		}
		data, err := json.Marshal(snapshot)
		if err != nil {
			return fmt.Errorf("marshal result snapshot: %w", err)
		}
		return st.Idempotency().Insert(ctx, &domain.IdempotencyRecord{
			OperationType:  opType,
			IdempotencyKey: key,
			PayloadDigest:  digest,
			ResultSnapshot: data,
			ExpiresAt:      time.Now().UTC().Add(s.retention),
		})
	})

	if err != nil && repo.IsIdempotencyKeyConflict(err) {
		// 与并发请求撞键：对方已提交，重读其快照
		s.logger.Info("idempotency key raced, replaying committed record",
			zap.String("operation", string(opType)),
			zap.String("idempotency_key", key),
		)
		replayed = true
		err = s.scope.Execute(ctx, func(st repo.TxStores) error {
			rec, err := st.Idempotency().Get(ctx, opType, key)
			if err != nil {
				return err
			}
			if rec == nil {
				return domain.ErrUnavailable("idempotency record for key %q disappeared, retry", key)
			}
			return s.replaySnapshot(rec, digest, result)
		})
	}
	if err != nil {
		return err
	}

	if replayed {
		markIdempotent(result)
	}
	return nil
}

// replaySnapshot 校验摘要并把已存快照解码进调用方结果。
// 摘要不一致说明客户端把同一幂等键用在了不同请求上，按 Conflict 拒绝。
func (s *ledgerService) replaySnapshot(rec *domain.IdempotencyRecord, digest string, result any) error {
	if rec.PayloadDigest != digest {
		return domain.ErrConflict(
			"idempotency key %q was recorded for a different payload", rec.IdempotencyKey)
	}
	if err := json.Unmarshal(rec.ResultSnapshot, result); err != nil {
		return fmt.Errorf("unmarshal result snapshot: %w", err)
	}
	return nil
}

// lockExisting 行锁读取必须已存在的台账行。
func (s *ledgerService) lockExisting(ctx context.Context, st repo.TxStores, productBatchID, locationID int64) (*domain.Inventory, error) {
	inv, err := st.Inventory().GetForUpdate(ctx, productBatchID, locationID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, domain.ErrNotFound(
			"inventory for batch %d at location %d not found", productBatchID, locationID)
	}
	return inv, nil
}

// afterCommit 执行提交后的副作用：事件发布与缓存失效。两者都不影响已提交的台账。
func (s *ledgerService) afterCommit(ctx context.Context, moved []*domain.StockMovement) {
	if len(moved) == 0 {
		return
	}
	if s.events != nil {
		s.events.PublishMovements(ctx, moved)
	}
	if s.cache != nil {
		for _, m := range moved {
			if err := s.cache.Invalidate(ctx, m.ProductBatchID, m.LocationID); err != nil {
				s.logger.Warn("failed to invalidate inventory snapshot",
					zap.Int64("product_batch_id", m.ProductBatchID),
					zap.Int64("location_id", m.LocationID),
					zap.Error(err),
				)
			}
		}
	}
}

// validateMutation 校验公共入参。校验失败发生在任何写入之前，不会进入事务。
func validateMutation(quantity int64, idempotencyKey string) error {
	if quantity <= 0 {
		return domain.ErrInvalidArgument("quantity must be positive")
	}
	if idempotencyKey == "" {
		return domain.ErrInvalidArgument("idempotency key is required")
	}
	return nil
}

// payloadDigest 计算请求内容的MD5摘要，用于检测幂等键复用。
// 键是调用方提供的不透明令牌，这里只约束同键必须同内容。
func payloadDigest(req any) string {
	data, _ := json.Marshal(req)
	return fmt.Sprintf("%x", md5.Sum(data))
}

// orderReference 生成订单在流水表中的关联号。
func orderReference(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// markIdempotent 置结果上的幂等标记。
func markIdempotent(result any) {
	switch r := result.(type) {
	case *domain.OperationResult:
		r.Idempotent = true
	case *domain.TransferResult:
		r.Idempotent = true
	}
}
