package port

import (
	"context"

	"github.com/rl1809/order-placement/internal/core/domain"
)

type OrderRepository interface {
	// CreateOrder persists the order and its line items in one transaction
	CreateOrder(ctx context.Context, order domain.Order) error

	// GetOrder returns nil when no order has that number
	GetOrder(ctx context.Context, number string) (*domain.Order, error)

	// GetOrderByIdempotencyKey returns nil when no order was placed with key
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
}

type ProductRepository interface {
	UpsertProduct(ctx context.Context, product domain.Product) error
	GetProductsByNames(ctx context.Context, names []string) ([]domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
}
