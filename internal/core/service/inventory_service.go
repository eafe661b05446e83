package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rl1809/order-placement/internal/core/domain"
	"github.com/rl1809/order-placement/internal/port"
)

// InventoryResponse is the answer the inventory surfaces return for a batch.
// Success false with a nil error means the ledger rejected the batch.
type InventoryResponse struct {
	Success bool
	Message string
	Err     error
}

// InventoryService fronts a StockLedger for the HTTP and gRPC surfaces.
type InventoryService struct {
	ledger port.StockLedger
	logger *zap.Logger
}

func NewInventoryService(ledger port.StockLedger, logger *zap.Logger) *InventoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InventoryService{ledger: ledger, logger: logger}
}

// CheckAndDeduct reserves a batch. Business rejections come back in the
// response; only infrastructure failures are returned as errors.
func (s *InventoryService) CheckAndDeduct(ctx context.Context, reservationKey string, items []domain.StockAdjustment) (InventoryResponse, error) {
	err := s.ledger.CheckAndDeduct(ctx, reservationKey, items)
	if err == nil {
		s.logger.Info("stock reserved", zap.String("reservation_key", reservationKey), zap.Int("items", len(items)))
		return InventoryResponse{Success: true, Message: "Stock reserved"}, nil
	}
	if domain.IsBusinessError(err) {
		s.logger.Info("stock reservation rejected", zap.String("reservation_key", reservationKey), zap.Error(err))
		return InventoryResponse{Message: err.Error(), Err: err}, nil
	}
	s.logger.Error("stock reservation failed", zap.Error(err))
	return InventoryResponse{}, fmt.Errorf("check and deduct: %w", err)
}

func (s *InventoryService) CheckAndAdd(ctx context.Context, items []domain.StockAdjustment) (InventoryResponse, error) {
	err := s.ledger.CheckAndAdd(ctx, items)
	if err == nil {
		s.logger.Info("stock added", zap.Int("items", len(items)))
		return InventoryResponse{Success: true, Message: "Stock added/updated successfully"}, nil
	}
	if errors.Is(err, domain.ErrInvalidRequest) {
		return InventoryResponse{Message: err.Error(), Err: err}, nil
	}
	s.logger.Error("stock add failed", zap.Error(err))
	return InventoryResponse{}, fmt.Errorf("check and add: %w", err)
}

func (s *InventoryService) Release(ctx context.Context, reservationKey string, items []domain.StockAdjustment) (InventoryResponse, error) {
	err := s.ledger.Release(ctx, reservationKey, items)
	if err == nil {
		s.logger.Info("stock released", zap.String("reservation_key", reservationKey))
		return InventoryResponse{Success: true, Message: "Stock released"}, nil
	}
	if errors.Is(err, domain.ErrInvalidRequest) {
		return InventoryResponse{Message: err.Error(), Err: err}, nil
	}
	s.logger.Error("stock release failed", zap.String("reservation_key", reservationKey), zap.Error(err))
	return InventoryResponse{}, fmt.Errorf("release: %w", err)
}

func (s *InventoryService) GetStock(ctx context.Context, sku string) (domain.StockEntry, error) {
	entry, err := s.ledger.Get(ctx, sku)
	if err != nil {
		return domain.StockEntry{}, fmt.Errorf("get stock: %w", err)
	}
	if entry == nil {
		return domain.StockEntry{}, domain.NewSkuNotFound(sku)
	}
	return *entry, nil
}
