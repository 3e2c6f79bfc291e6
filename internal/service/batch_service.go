package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/MorseWayne/stock_ledger/internal/domain"
	"github.com/MorseWayne/stock_ledger/internal/repo"
)

// ProductBatchService 定义商品批次注册的薄接口，为入库校验提供引用对象。
type ProductBatchService interface {
	CreateBatch(ctx context.Context, req *domain.CreateProductBatchRequest) (*domain.ProductBatch, error)
	GetBatch(ctx context.Context, id int64) (*domain.ProductBatch, error)
	ListBatches(ctx context.Context, req *domain.ProductBatchListRequest) (*domain.ProductBatchListResponse, error)
}

type productBatchService struct {
	batches repo.ProductBatchRepository
}

// NewProductBatchService 创建批次服务实例。
func NewProductBatchService(batches repo.ProductBatchRepository) ProductBatchService {
	return &productBatchService{batches: batches}
}

func (s *productBatchService) CreateBatch(ctx context.Context, req *domain.CreateProductBatchRequest) (*domain.ProductBatch, error) {
	if strings.TrimSpace(req.SKU) == "" {
		return nil, domain.ErrInvalidArgument("sku is required")
	}
	if strings.TrimSpace(req.BatchCode) == "" {
		return nil, domain.ErrInvalidArgument("batch code is required")
	}

	batch := &domain.ProductBatch{
		SKU:       req.SKU,
		BatchCode: req.BatchCode,
		ExpiresAt: req.ExpiresAt,
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		if repo.IsDuplicateKey(err) {
			return nil, domain.ErrConflict("batch %q already exists for sku %q", req.BatchCode, req.SKU)
		}
		return nil, fmt.Errorf("create product batch: %w", err)
	}
	return batch, nil
}

func (s *productBatchService) GetBatch(ctx context.Context, id int64) (*domain.ProductBatch, error) {
	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product batch: %w", err)
	}
	if batch == nil {
		return nil, domain.ErrNotFound("product batch %d not found", id)
	}
	return batch, nil
}

func (s *productBatchService) ListBatches(ctx context.Context, req *domain.ProductBatchListRequest) (*domain.ProductBatchListResponse, error) {
	batches, total, err := s.batches.List(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("list product batches: %w", err)
	}
	return &domain.ProductBatchListResponse{
		Batches:  batches,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
	}, nil
}
