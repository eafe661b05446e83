package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// OrderState is a step of the placement workflow.
type OrderState string

const (
	OrderStateCreated         OrderState = "CREATED"
	OrderStateProductsChecked OrderState = "PRODUCTS_CHECKED"
	OrderStatePriced          OrderState = "PRICED"
	OrderStateStockReserved   OrderState = "STOCK_RESERVED"
	OrderStatePersisted       OrderState = "PERSISTED"
	OrderStatePublished       OrderState = "PUBLISHED"
	OrderStateRejected        OrderState = "REJECTED"
	OrderStateDegraded        OrderState = "DEGRADED"
)

var ErrInvalidTransition = errors.New("invalid order state transition")

var orderTransitions = map[OrderState][]OrderState{
	OrderStateCreated:         {OrderStateProductsChecked, OrderStateRejected},
	OrderStateProductsChecked: {OrderStatePriced, OrderStateRejected},
	OrderStatePriced:          {OrderStateStockReserved, OrderStateRejected, OrderStateDegraded},
	OrderStateStockReserved:   {OrderStatePersisted, OrderStateRejected},
	OrderStatePersisted:       {OrderStatePublished},
}

type Order struct {
	Number         string
	IdempotencyKey string
	LineItems      []OrderLineItem
	TotalPrice     decimal.Decimal
	State          OrderState
	CreatedAt      time.Time
}

// OrderLineItem carries a unit price only once pricing succeeded.
type OrderLineItem struct {
	SKU       string
	Quantity  int
	UnitPrice decimal.NullDecimal
}

func NewOrder(number string, items []OrderLineItem, now time.Time) Order {
	lineItems := make([]OrderLineItem, len(items))
	copy(lineItems, items)
	return Order{
		Number:    number,
		LineItems: lineItems,
		State:     OrderStateCreated,
		CreatedAt: now.UTC(),
	}
}

// Validate rejects empty SKUs, non-positive quantities and empty orders.
func (o Order) Validate() error {
	if len(o.LineItems) == 0 {
		return fmt.Errorf("%w: order has no line items", ErrInvalidRequest)
	}
	total := make(map[string]int, len(o.LineItems))
	for i, item := range o.LineItems {
		if item.SKU == "" {
			return fmt.Errorf("%w: line item %d has an empty sku code", ErrInvalidRequest, i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: line item %d (%s) has non-positive quantity %d", ErrInvalidRequest, i, item.SKU, item.Quantity)
		}
		if item.Quantity > MaxQuantity || total[item.SKU] > MaxQuantity-item.Quantity {
			return fmt.Errorf("%w: quantity for sku %s exceeds %d", ErrInvalidRequest, item.SKU, MaxQuantity)
		}
		total[item.SKU] += item.Quantity
	}
	return nil
}

// Advance moves the order to next if the workflow allows it.
func (o *Order) Advance(next OrderState) error {
	for _, allowed := range orderTransitions[o.State] {
		if allowed == next {
			o.State = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.State, next)
}

// SKUs returns the distinct SKU codes of the order in first-seen order.
func (o Order) SKUs() []string {
	seen := make(map[string]struct{}, len(o.LineItems))
	skus := make([]string, 0, len(o.LineItems))
	for _, item := range o.LineItems {
		if _, ok := seen[item.SKU]; ok {
			continue
		}
		seen[item.SKU] = struct{}{}
		skus = append(skus, item.SKU)
	}
	return skus
}

// ApplyPrices assigns a unit price to every line item and recomputes the total.
// Nothing is modified when a price is missing.
func (o *Order) ApplyPrices(prices map[string]decimal.Decimal) error {
	for _, item := range o.LineItems {
		if _, ok := prices[item.SKU]; !ok {
			return fmt.Errorf("no price for sku %s", item.SKU)
		}
	}

	total := decimal.Zero
	for i := range o.LineItems {
		price := prices[o.LineItems[i].SKU]
		o.LineItems[i].UnitPrice = decimal.NewNullDecimal(price)
		total = total.Add(price.Mul(decimal.NewFromInt(int64(o.LineItems[i].Quantity))))
	}
	o.TotalPrice = total
	return nil
}

// Deductions aggregates the order's quantities per SKU, sorted by SKU.
func (o Order) Deductions() []StockAdjustment {
	qty := make(map[string]int, len(o.LineItems))
	for _, item := range o.LineItems {
		qty[item.SKU] += item.Quantity
	}
	out := make([]StockAdjustment, 0, len(qty))
	for sku, q := range qty {
		out = append(out, StockAdjustment{SKU: sku, Quantity: q, Operation: OperationDeduct})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out
}

// OrderPlacedEvent is the notification emitted once per persisted order.
type OrderPlacedEvent struct {
	OrderNumber string            `json:"orderNumber"`
	TotalPrice  decimal.Decimal   `json:"totalPrice"`
	LineItems   []EventLineItem   `json:"lineItems"`
	PlacedAt    time.Time         `json:"placedAt"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

type EventLineItem struct {
	SKU       string          `json:"skuCode"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

func NewOrderPlacedEvent(o Order) OrderPlacedEvent {
	items := make([]EventLineItem, 0, len(o.LineItems))
	for _, item := range o.LineItems {
		items = append(items, EventLineItem{
			SKU:       item.SKU,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.Decimal,
		})
	}
	return OrderPlacedEvent{
		OrderNumber: o.Number,
		TotalPrice:  o.TotalPrice,
		LineItems:   items,
		PlacedAt:    o.CreatedAt,
	}
}
