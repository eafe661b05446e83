package port

import (
	"context"

	"github.com/rl1809/order-placement/internal/core/domain"
)

// ProductCatalog answers presence and unit price for a batch of SKUs in one
// call, one result per requested SKU.
type ProductCatalog interface {
	Exists(ctx context.Context, skus []string) ([]domain.ExistenceResult, error)
}
