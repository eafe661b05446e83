package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// MaxQuantity bounds a stock entry and any single adjustment of it; it is the
// width of the ledger's quantity column.
const MaxQuantity = math.MaxInt32

// StockEntry is the ledger row of one SKU. Quantity never drops below zero.
type StockEntry struct {
	SKU       string
	Quantity  int
	Version   int64 // bumped on every committed mutation
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Operation string

const (
	OperationDeduct Operation = "DEDUCT"
	OperationAdd    Operation = "ADD"
)

// StockAdjustment is one (SKU, quantity) pair of a ledger batch.
type StockAdjustment struct {
	SKU       string
	Quantity  int
	Operation Operation
}

// Delta is the signed change the adjustment applies to the entry.
func (a StockAdjustment) Delta() int {
	if a.Operation == OperationDeduct {
		return -a.Quantity
	}
	return a.Quantity
}

// NormalizeAdjustments validates a batch, merges duplicate SKUs and sorts the
// result by SKU so that callers lock rows in a stable order.
func NormalizeAdjustments(items []StockAdjustment, op Operation) ([]StockAdjustment, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty stock batch", ErrInvalidRequest)
	}
	merged := make(map[string]int, len(items))
	for _, item := range items {
		if item.SKU == "" {
			return nil, fmt.Errorf("%w: empty sku code", ErrInvalidRequest)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: non-positive quantity %d for sku %s", ErrInvalidRequest, item.Quantity, item.SKU)
		}
		if item.Quantity > MaxQuantity || merged[item.SKU] > MaxQuantity-item.Quantity {
			return nil, fmt.Errorf("%w: quantity for sku %s exceeds %d", ErrInvalidRequest, item.SKU, MaxQuantity)
		}
		merged[item.SKU] += item.Quantity
	}

	out := make([]StockAdjustment, 0, len(merged))
	for sku, qty := range merged {
		out = append(out, StockAdjustment{SKU: sku, Quantity: qty, Operation: op})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}
