package rpc

import (
	"errors"
	"fmt"

	"github.com/rl1809/order-placement/internal/core/domain"
)

func ItemsFromDomain(items []domain.StockAdjustment) []StockItem {
	out := make([]StockItem, len(items))
	for i, item := range items {
		out[i] = StockItem{SKU: item.SKU, Quantity: item.Quantity}
	}
	return out
}

func ItemsToDomain(items []StockItem, op domain.Operation) []domain.StockAdjustment {
	out := make([]domain.StockAdjustment, len(items))
	for i, item := range items {
		out[i] = domain.StockAdjustment{SKU: item.SKU, Quantity: item.Quantity, Operation: op}
	}
	return out
}

// Rejection encodes a ledger business error into a response.
func Rejection(err error) *StockResponse {
	resp := &StockResponse{Message: err.Error(), Kind: KindInvalidRequest}

	var stockErr *domain.StockError
	if errors.As(err, &stockErr) {
		resp.SKU = stockErr.SKU
		resp.Available = stockErr.Available
		resp.Requested = stockErr.Requested
		resp.Kind = KindInsufficientStock
		if errors.Is(err, domain.ErrSkuNotFound) {
			resp.Kind = KindSkuNotFound
		}
	}
	return resp
}

// Err turns a rejected response back into the domain error it came from.
// It returns nil for a successful response.
func (r *StockResponse) Err() error {
	if r.Success {
		return nil
	}
	switch r.Kind {
	case KindSkuNotFound:
		return domain.NewSkuNotFound(r.SKU)
	case KindInsufficientStock:
		return domain.NewInsufficientStock(r.SKU, r.Available, r.Requested)
	default:
		return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, r.Message)
	}
}
