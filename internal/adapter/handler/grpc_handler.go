package handler

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/order-placement/internal/adapter/rpc"
	"github.com/rl1809/order-placement/internal/core/domain"
	"github.com/rl1809/order-placement/internal/core/service"
)

// GRPCHandler serves the inventory ledger over gRPC. Ledger rejections are
// ordinary responses; infrastructure failures become status errors.
type GRPCHandler struct {
	inventoryService *service.InventoryService
}

func NewGRPCHandler(inventoryService *service.InventoryService) *GRPCHandler {
	return &GRPCHandler{inventoryService: inventoryService}
}

func (h *GRPCHandler) CheckAndDeduct(ctx context.Context, req *rpc.DeductRequest) (*rpc.StockResponse, error) {
	resp, err := h.inventoryService.CheckAndDeduct(ctx, req.ReservationKey, rpc.ItemsToDomain(req.Items, domain.OperationDeduct))
	return toStockResponse(resp, err)
}

func (h *GRPCHandler) CheckAndAdd(ctx context.Context, req *rpc.AddRequest) (*rpc.StockResponse, error) {
	resp, err := h.inventoryService.CheckAndAdd(ctx, rpc.ItemsToDomain(req.Items, domain.OperationAdd))
	return toStockResponse(resp, err)
}

func (h *GRPCHandler) Release(ctx context.Context, req *rpc.ReleaseRequest) (*rpc.StockResponse, error) {
	resp, err := h.inventoryService.Release(ctx, req.ReservationKey, rpc.ItemsToDomain(req.Items, domain.OperationAdd))
	return toStockResponse(resp, err)
}

func (h *GRPCHandler) GetStock(ctx context.Context, req *rpc.GetStockRequest) (*rpc.GetStockResponse, error) {
	entry, err := h.inventoryService.GetStock(ctx, req.SKU)
	if err != nil {
		if domain.IsBusinessError(err) {
			return &rpc.GetStockResponse{SKU: req.SKU}, nil
		}
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return &rpc.GetStockResponse{
		Found:     true,
		SKU:       entry.SKU,
		Quantity:  entry.Quantity,
		Version:   entry.Version,
		CreatedAt: entry.CreatedAt,
		UpdatedAt: entry.UpdatedAt,
	}, nil
}

func toStockResponse(resp service.InventoryResponse, err error) (*rpc.StockResponse, error) {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, status.FromContextError(err).Err()
		}
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	if resp.Err != nil {
		return rpc.Rejection(resp.Err), nil
	}
	return &rpc.StockResponse{Success: resp.Success, Message: resp.Message}, nil
}
