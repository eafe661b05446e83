package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest        = errors.New("invalid request")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrSkuNotFound           = errors.New("sku not found")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrPersistenceFailure    = errors.New("persistence failure")
	ErrOrderNotFound         = errors.New("order not found")
	ErrDuplicateRequest      = errors.New("duplicate request")
)

// StockError is a ledger rejection for a single SKU of a batch.
type StockError struct {
	Kind      error
	SKU       string
	Available int
	Requested int
}

func NewSkuNotFound(sku string) *StockError {
	return &StockError{Kind: ErrSkuNotFound, SKU: sku}
}

func NewInsufficientStock(sku string, available, requested int) *StockError {
	return &StockError{Kind: ErrInsufficientStock, SKU: sku, Available: available, Requested: requested}
}

func (e *StockError) Error() string {
	if e.Kind == ErrSkuNotFound {
		return fmt.Sprintf("SKU not found: %s", e.SKU)
	}
	return fmt.Sprintf("Insufficient stock for SKU: %s (available %d, requested %d)", e.SKU, e.Available, e.Requested)
}

func (e *StockError) Unwrap() error {
	return e.Kind
}

// IsBusinessError reports whether err is an expected rejection rather than an
// infrastructure failure.
func IsBusinessError(err error) bool {
	var stockErr *StockError
	return errors.As(err, &stockErr) || errors.Is(err, ErrInvalidRequest)
}
