package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/order-placement/internal/core/domain"
	"github.com/rl1809/order-placement/internal/port"
)

var ErrInventoryUpdate = errors.New("inventory update failed")

type ProductRequest struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Quantity    int
}

// ProductService owns the catalog. A product's name is its SKU code, and it
// answers existence and price lookups for the orchestrator.
type ProductService struct {
	products port.ProductRepository
	ledger   port.StockLedger
	logger   *zap.Logger
}

func NewProductService(products port.ProductRepository, ledger port.StockLedger, logger *zap.Logger) *ProductService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProductService{products: products, ledger: ledger, logger: logger}
}

// CreateProduct upserts the product and then stocks Quantity units of it.
func (s *ProductService) CreateProduct(ctx context.Context, req ProductRequest) error {
	switch {
	case req.Name == "":
		return fmt.Errorf("%w: product name is required", domain.ErrInvalidRequest)
	case req.Price.IsNegative():
		return fmt.Errorf("%w: price must not be negative", domain.ErrInvalidRequest)
	case req.Quantity < 0:
		return fmt.Errorf("%w: quantity must not be negative", domain.ErrInvalidRequest)
	}

	err := s.products.UpsertProduct(ctx, domain.Product{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
	})
	if err != nil {
		return fmt.Errorf("save product %s: %w", req.Name, err)
	}
	s.logger.Info("product saved", zap.String("name", req.Name), zap.String("price", req.Price.String()))

	if req.Quantity == 0 {
		return nil
	}
	err = s.ledger.CheckAndAdd(ctx, []domain.StockAdjustment{
		{SKU: req.Name, Quantity: req.Quantity, Operation: domain.OperationAdd},
	})
	if err != nil {
		s.logger.Error("failed to update inventory", zap.String("sku", req.Name), zap.Error(err))
		return fmt.Errorf("%w for sku %s: %v", ErrInventoryUpdate, req.Name, err)
	}
	s.logger.Info("inventory added/updated", zap.String("sku", req.Name), zap.Int("quantity", req.Quantity))
	return nil
}

func (s *ProductService) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := s.products.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// Exists returns one result per requested name, in request order.
func (s *ProductService) Exists(ctx context.Context, names []string) ([]domain.ExistenceResult, error) {
	products, err := s.products.GetProductsByNames(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("lookup products: %w", err)
	}

	byName := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byName[p.Name] = p
	}

	results := make([]domain.ExistenceResult, 0, len(names))
	for _, name := range names {
		r := domain.ExistenceResult{Name: name}
		if p, ok := byName[name]; ok {
			r.Present = true
			r.Price = decimal.NewNullDecimal(p.Price)
		}
		results = append(results, r)
	}
	return results, nil
}
