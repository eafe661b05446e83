package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog entry. Its name doubles as the SKU code.
type Product struct {
	Name        string
	Description string
	Price       decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ExistenceResult answers whether a SKU is known to the catalog; Price is
// valid iff Present is true.
type ExistenceResult struct {
	Name    string
	Present bool
	Price   decimal.NullDecimal
}
