// Package api 提供库存台账的HTTP API处理器实现。
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/MorseWayne/stock_ledger/internal/domain"
	"github.com/MorseWayne/stock_ledger/internal/middleware"
	"github.com/MorseWayne/stock_ledger/internal/resp"
	"github.com/MorseWayne/stock_ledger/internal/service"
)

// LedgerHandler 台账操作与查询的HTTP处理器。
type LedgerHandler struct {
	ledger  service.LedgerService
	queries service.InventoryQueryService
	logger  *zap.Logger
}

// NewLedgerHandler 创建台账处理器实例。
func NewLedgerHandler(ledger service.LedgerService, queries service.InventoryQueryService, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger:  ledger,
		queries: queries,
		logger:  logger,
	}
}

// Receive 入库
// POST /api/v1/ledger/receive
func (h *LedgerHandler) Receive(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	var req domain.ReceiveRequest
	if !h.decodeBody(w, r, reqID, &req) {
		return
	}
	h.fillCallerFields(r, &req.IdempotencyKey, &req.CreatedByID)

	result, err := h.ledger.Receive(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, reqID, "receive", err)
		return
	}
	resp.OK(w, result, reqID, "")
}

// Dispatch 出库
// POST /api/v1/ledger/dispatch
func (h *LedgerHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	var req domain.DispatchRequest
	if !h.decodeBody(w, r, reqID, &req) {
		return
	}
	h.fillCallerFields(r, &req.IdempotencyKey, &req.CreatedByID)

	result, err := h.ledger.Dispatch(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, reqID, "dispatch", err)
		return
	}
	resp.OK(w, result, reqID, "")
}

// Transfer 跨位置转移
// POST /api/v1/ledger/transfer
func (h *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	var req domain.TransferRequest
	if !h.decodeBody(w, r, reqID, &req) {
		return
	}
	h.fillCallerFields(r, &req.IdempotencyKey, &req.CreatedByID)

	result, err := h.ledger.Transfer(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, reqID, "transfer", err)
		return
	}
	resp.OK(w, result, reqID, "")
}

// Reserve 预留
// POST /api/v1/ledger/reserve
func (h *LedgerHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	var req domain.ReserveRequest
	if !h.decodeBody(w, r, reqID, &req) {
		return
	}
	h.fillCallerFields(r, &req.IdempotencyKey, &req.CreatedByID)

	result, err := h.ledger.Reserve(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, reqID, "reserve", err)
		return
	}
	resp.OK(w, result, reqID, "")
}

// Release 释放预留
// POST /api/v1/ledger/release
func (h *LedgerHandler) Release(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	var req domain.ReleaseRequest
	if !h.decodeBody(w, r, reqID, &req) {
		return
	}
	h.fillCallerFields(r, &req.IdempotencyKey, &req.CreatedByID)

	result, err := h.ledger.Release(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, reqID, "release", err)
		return
	}
	resp.OK(w, result, reqID, "")
}

// Adjust 盘点调整
// POST /api/v1/admin/ledger/adjust
func (h *LedgerHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	var req domain.AdjustRequest
	if !h.decodeBody(w, r, reqID, &req) {
		return
	}
	h.fillCallerFields(r, &req.IdempotencyKey, &req.CreatedByID)

	result, err := h.ledger.Adjust(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, reqID, "adjust", err)
		return
	}
	resp.OK(w, result, reqID, "")
}

// GetInventory 单行台账查询
// GET /api/v1/inventory?product_batch_id={id}&location_id={id}
func (h *LedgerHandler) GetInventory(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	batchID, ok := h.queryInt64(w, r, reqID, "product_batch_id")
	if !ok {
		return
	}
	locationID, ok := h.queryInt64(w, r, reqID, "location_id")
	if !ok {
		return
	}

	inv, err := h.queries.GetInventory(r.Context(), batchID, locationID)
	if err != nil {
		h.writeError(w, r, reqID, "get inventory", err)
		return
	}
	resp.OK(w, inv, reqID, "")
}

// ListByLocation 位置维度的台账投影
// GET /api/v1/inventory/by-location?location_id={id}
func (h *LedgerHandler) ListByLocation(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	locationID, ok := h.queryInt64(w, r, reqID, "location_id")
	if !ok {
		return
	}

	inventories, err := h.queries.ListByLocation(r.Context(), locationID)
	if err != nil {
		h.writeError(w, r, reqID, "list by location", err)
		return
	}
	resp.OK(w, inventories, reqID, "")
}

// ListByBatch 批次维度的台账投影
// GET /api/v1/inventory/by-batch?product_batch_id={id}
func (h *LedgerHandler) ListByBatch(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	batchID, ok := h.queryInt64(w, r, reqID, "product_batch_id")
	if !ok {
		return
	}

	inventories, err := h.queries.ListByBatch(r.Context(), batchID)
	if err != nil {
		h.writeError(w, r, reqID, "list by batch", err)
		return
	}
	resp.OK(w, inventories, reqID, "")
}

// ListMovements 流水查询
// GET /api/v1/movements?product_batch_id={id}&location_id={id}&limit={n}
func (h *LedgerHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	batchID, ok := h.queryInt64(w, r, reqID, "product_batch_id")
	if !ok {
		return
	}
	locationID, ok := h.queryInt64(w, r, reqID, "location_id")
	if !ok {
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, _ = strconv.Atoi(s)
	}

	movements, err := h.queries.ListMovements(r.Context(), &domain.MovementListRequest{
		ProductBatchID: batchID,
		LocationID:     locationID,
		Limit:          limit,
	})
	if err != nil {
		h.writeError(w, r, reqID, "list movements", err)
		return
	}
	resp.OK(w, movements, reqID, "")
}

// ListMovementsByReference 按关联号查询流水（转移对、订单预留/释放）
// GET /api/v1/movements/by-reference?reference_id={ref}
func (h *LedgerHandler) ListMovementsByReference(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	referenceID := r.URL.Query().Get("reference_id")
	movements, err := h.queries.ListMovementsByReference(r.Context(), referenceID)
	if err != nil {
		h.writeError(w, r, reqID, "list movements by reference", err)
		return
	}
	resp.OK(w, movements, reqID, "")
}

// decodeBody 解析JSON请求体，失败时写出400。
func (h *LedgerHandler) decodeBody(w http.ResponseWriter, r *http.Request, reqID string, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		h.logger.Warn("invalid request body", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid request body", reqID, "")
		return false
	}
	return true
}

// fillCallerFields 补全调用方上下文：请求体缺失幂等键时回退到
// X-Idempotency-Key 头；created_by_id 始终以认证身份为准。
func (h *LedgerHandler) fillCallerFields(r *http.Request, idempotencyKey *string, createdByID **int64) {
	if *idempotencyKey == "" {
		*idempotencyKey = middleware.IdempotencyKeyFromContext(r.Context())
	}
	if actor := middleware.ActorIDFromContext(r.Context()); actor != nil {
		*createdByID = actor
	}
}

// queryInt64 解析必填的int64查询参数。
func (h *LedgerHandler) queryInt64(w http.ResponseWriter, r *http.Request, reqID, name string) (int64, bool) {
	s := r.URL.Query().Get(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid "+name, reqID, "")
		return 0, false
	}
	return v, true
}

// writeError 把类型化的台账错误映射为HTTP响应。
func (h *LedgerHandler) writeError(w http.ResponseWriter, r *http.Request, reqID, op string, err error) {
	if middleware.HandleTimeout(w, r) {
		return
	}

	kind := domain.KindOf(err)
	message := "operation failed"
	var le *domain.Error
	if errors.As(err, &le) {
		message = le.Message
	}

	switch kind {
	case domain.KindNotFound:
		resp.Error(w, http.StatusNotFound, resp.CodeNotFound, message, reqID, "")
	case domain.KindInvalidArgument:
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, message, reqID, "")
	case domain.KindInsufficientStock:
		resp.Error(w, http.StatusBadRequest, resp.CodeInsufficientStock, message, reqID, "")
	case domain.KindConflict:
		resp.Error(w, http.StatusConflict, resp.CodeConflict, message, reqID, "")
	default:
		h.logger.Error(op+" failed", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusServiceUnavailable, resp.CodeUnavailable, op+" failed, retry with the same idempotency key", reqID, "")
	}
}
