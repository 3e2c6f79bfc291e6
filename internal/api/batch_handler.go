package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/MorseWayne/stock_ledger/internal/domain"
	"github.com/MorseWayne/stock_ledger/internal/middleware"
	"github.com/MorseWayne/stock_ledger/internal/resp"
	"github.com/MorseWayne/stock_ledger/internal/service"
)

// BatchHandler 商品批次注册的HTTP处理器。
type BatchHandler struct {
	batches service.ProductBatchService
	logger  *zap.Logger
}

// NewBatchHandler 创建批次处理器实例。
func NewBatchHandler(batches service.ProductBatchService, logger *zap.Logger) *BatchHandler {
	return &BatchHandler{batches: batches, logger: logger}
}

// Create 创建商品批次
// POST /api/v1/admin/batches
func (h *BatchHandler) Create(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	var req domain.CreateProductBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid request body", reqID, "")
		return
	}

	batch, err := h.batches.CreateBatch(r.Context(), &req)
	if err != nil {
		h.writeError(w, reqID, "create batch", err)
		return
	}
	resp.OK(w, batch, reqID, "")
}

// Get 查询单个批次
// GET /api/v1/batches/{id}
func (h *BatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	idStr := strings.TrimPrefix(r.URL.Path, "/api/v1/batches/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid batch id", reqID, "")
		return
	}

	batch, err := h.batches.GetBatch(r.Context(), id)
	if err != nil {
		h.writeError(w, reqID, "get batch", err)
		return
	}
	resp.OK(w, batch, reqID, "")
}

// List 分页查询批次
// GET /api/v1/batches?page={n}&page_size={n}&sku={sku}
func (h *BatchHandler) List(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	result, err := h.batches.ListBatches(r.Context(), &domain.ProductBatchListRequest{
		Page:     page,
		PageSize: pageSize,
		SKU:      q.Get("sku"),
	})
	if err != nil {
		h.writeError(w, reqID, "list batches", err)
		return
	}
	resp.OK(w, result, reqID, "")
}

func (h *BatchHandler) writeError(w http.ResponseWriter, reqID, op string, err error) {
	message := "operation failed"
	var le *domain.Error
	if errors.As(err, &le) {
		message = le.Message
	}

	switch domain.KindOf(err) {
	case domain.KindNotFound:
		resp.Error(w, http.StatusNotFound, resp.CodeNotFound, message, reqID, "")
	case domain.KindInvalidArgument:
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, message, reqID, "")
	case domain.KindConflict:
		resp.Error(w, http.StatusConflict, resp.CodeConflict, message, reqID, "")
	default:
		h.logger.Error(op+" failed", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusInternalServerError, resp.CodeInternalError, "internal server error", reqID, "")
	}
}
