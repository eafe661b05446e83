package rpc

import "time"

// Kind values carried by StockResponse when Success is false.
const (
	KindInvalidRequest    = "InvalidRequest"
	KindSkuNotFound       = "SkuNotFound"
	KindInsufficientStock = "InsufficientStock"
)

type StockItem struct {
	SKU      string `json:"skuCode"`
	Quantity int    `json:"quantity"`
}

type DeductRequest struct {
	ReservationKey string      `json:"reservationKey,omitempty"`
	Items          []StockItem `json:"items"`
}

type AddRequest struct {
	Items []StockItem `json:"items"`
}

type ReleaseRequest struct {
	ReservationKey string      `json:"reservationKey,omitempty"`
	Items          []StockItem `json:"items"`
}

// StockResponse answers the batch operations. A ledger rejection is a
// successful RPC with Success false and Kind set.
type StockResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Kind      string `json:"kind,omitempty"`
	SKU       string `json:"sku,omitempty"`
	Available int    `json:"available,omitempty"`
	Requested int    `json:"requested,omitempty"`
}

type GetStockRequest struct {
	SKU string `json:"sku"`
}

type GetStockResponse struct {
	Found     bool      `json:"found"`
	SKU       string    `json:"sku"`
	Quantity  int       `json:"quantity"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
