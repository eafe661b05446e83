package port

import (
	"context"

	"github.com/rl1809/order-placement/internal/core/domain"
)

type StockLedger interface {
	// CheckAndDeduct validates the whole batch and then deducts it, atomically
	// with respect to other batches touching the same SKUs. A non-empty
	// reservationKey that was already applied makes the call a no-op success.
	CheckAndDeduct(ctx context.Context, reservationKey string, items []domain.StockAdjustment) error

	// CheckAndAdd upserts: existing entries are incremented, missing ones created.
	// Not idempotent; callers deduplicate deliveries.
	CheckAndAdd(ctx context.Context, items []domain.StockAdjustment) error

	// Release gives back a reservation made under reservationKey. Releasing an
	// unknown key is a no-op.
	Release(ctx context.Context, reservationKey string, items []domain.StockAdjustment) error

	// Get returns nil when the SKU has no entry.
	Get(ctx context.Context, sku string) (*domain.StockEntry, error)
}
