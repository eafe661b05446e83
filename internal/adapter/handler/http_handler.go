package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/order-placement/internal/core/domain"
	"github.com/rl1809/order-placement/internal/core/service"
)

const idempotencyKeyHeader = "Idempotency-Key"

type HTTPHandler struct {
	orderService     *service.OrderService
	inventoryService *service.InventoryService
	productService   *service.ProductService
	logger           *zap.Logger
}

type OrderLineItemRequest struct {
	SKU      string `json:"skuCode"`
	Quantity int    `json:"quantity"`
}

type PlaceOrderRequest struct {
	Items []OrderLineItemRequest `json:"items"`
}

type PlaceOrderResponse struct {
	Status      string           `json:"status"`
	OrderNumber string           `json:"orderNumber,omitempty"`
	TotalPrice  *decimal.Decimal `json:"totalPrice,omitempty"`
	Message     string           `json:"message"`
	Reason      string           `json:"reason,omitempty"`
	MissingSKUs []string         `json:"missingSkus,omitempty"`
	Replayed    bool             `json:"replayed,omitempty"`
	Retryable   bool             `json:"retryable"`
}

type OrderResponse struct {
	OrderNumber string                  `json:"orderNumber"`
	TotalPrice  decimal.Decimal         `json:"totalPrice"`
	LineItems   []OrderLineItemResponse `json:"lineItems"`
	CreatedAt   time.Time               `json:"createdAt"`
}

type OrderLineItemResponse struct {
	SKU       string          `json:"skuCode"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type StockItemRequest struct {
	SKU      string `json:"skuCode"`
	Quantity int    `json:"quantity"`
}

type InventoryHTTPResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type StockResponse struct {
	SKU       string    `json:"skuCode"`
	Quantity  int       `json:"quantity"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ProductHTTPRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

type ProductResponse struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

type ExistenceResponse struct {
	Name    string              `json:"name"`
	Present bool                `json:"present"`
	Price   decimal.NullDecimal `json:"price"`
}

type ErrorResponse struct {
	Message string `json:"message"`
}

func NewHTTPHandler(
	orderService *service.OrderService,
	inventoryService *service.InventoryService,
	productService *service.ProductService,
	logger *zap.Logger,
) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{
		orderService:     orderService,
		inventoryService: inventoryService,
		productService:   productService,
		logger:           logger,
	}
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)

	r.Post("/order", h.PlaceOrder)
	r.Get("/order/{orderNumber}", h.GetOrder)

	r.Post("/inventory/check-and-deduct", h.CheckAndDeduct)
	r.Post("/inventory/check-and-add", h.CheckAndAdd)
	r.Get("/inventory/{sku}", h.GetStock)

	r.Get("/product/exists", h.ProductExists)
	r.Post("/product", h.CreateProduct)
	r.Get("/product", h.ListProducts)

	return r
}

func (h *HTTPHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, PlaceOrderResponse{
			Status:  string(domain.PlacementRejected),
			Reason:  string(domain.ReasonInvalidRequest),
			Message: "invalid request body",
		})
		return
	}

	items := make([]domain.OrderLineItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = domain.OrderLineItem{SKU: item.SKU, Quantity: item.Quantity}
	}

	result, err := h.orderService.PlaceOrder(r.Context(), service.PlaceOrderInput{
		IdempotencyKey: r.Header.Get(idempotencyKeyHeader),
		Items:          items,
	})
	if err != nil {
		h.logger.Error("place order failed", zap.Error(err))
		message := "internal error"
		if errors.Is(err, domain.ErrPersistenceFailure) {
			message = "order could not be saved, reserved stock was released"
		}
		// The idempotency claim is released on failure, so the same key may be resent.
		writeJSON(w, http.StatusInternalServerError, PlaceOrderResponse{Status: "error", Message: message, Retryable: true})
		return
	}

	resp := PlaceOrderResponse{
		Status:      string(result.Status),
		Message:     result.Message,
		Reason:      string(result.Reason),
		MissingSKUs: result.MissingSKUs,
		Retryable:   result.Retryable(),
	}

	switch result.Status {
	case domain.PlacementPlaced:
		resp.OrderNumber = result.Order.Number
		total := result.Order.TotalPrice
		resp.TotalPrice = &total
		resp.Replayed = result.Replayed
		status := http.StatusCreated
		if result.Replayed {
			status = http.StatusOK
		}
		writeJSON(w, status, resp)
	case domain.PlacementDegraded:
		writeJSON(w, http.StatusAccepted, resp)
	default:
		writeJSON(w, rejectionStatus(result.Reason), resp)
	}
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderService.GetOrder(r.Context(), chi.URLParam(r, "orderNumber"))
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Message: err.Error()})
			return
		}
		h.logger.Error("get order failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "internal error"})
		return
	}

	resp := OrderResponse{
		OrderNumber: order.Number,
		TotalPrice:  order.TotalPrice,
		LineItems:   make([]OrderLineItemResponse, len(order.LineItems)),
		CreatedAt:   order.CreatedAt,
	}
	for i, item := range order.LineItems {
		resp.LineItems[i] = OrderLineItemResponse{SKU: item.SKU, Quantity: item.Quantity, UnitPrice: item.UnitPrice.Decimal}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) CheckAndDeduct(w http.ResponseWriter, r *http.Request) {
	items, ok := decodeStockItems(w, r, domain.OperationDeduct)
	if !ok {
		return
	}
	resp, err := h.inventoryService.CheckAndDeduct(r.Context(), r.Header.Get(idempotencyKeyHeader), items)
	h.writeInventoryResponse(w, resp, err)
}

func (h *HTTPHandler) CheckAndAdd(w http.ResponseWriter, r *http.Request) {
	items, ok := decodeStockItems(w, r, domain.OperationAdd)
	if !ok {
		return
	}
	resp, err := h.inventoryService.CheckAndAdd(r.Context(), items)
	h.writeInventoryResponse(w, resp, err)
}

func (h *HTTPHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	entry, err := h.inventoryService.GetStock(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		if errors.Is(err, domain.ErrSkuNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Message: "inventory unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, StockResponse{
		SKU:       entry.SKU,
		Quantity:  entry.Quantity,
		Version:   entry.Version,
		UpdatedAt: entry.UpdatedAt,
	})
}

func (h *HTTPHandler) ProductExists(w http.ResponseWriter, r *http.Request) {
	names := r.URL.Query()["name"]
	if len(names) == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "at least one name is required"})
		return
	}

	results, err := h.productService.Exists(r.Context(), names)
	if err != nil {
		h.logger.Error("product lookup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "internal error"})
		return
	}

	resp := make([]ExistenceResponse, len(results))
	for i, res := range results {
		resp[i] = ExistenceResponse{Name: res.Name, Present: res.Present, Price: res.Price}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
		return
	}

	err := h.productService.CreateProduct(r.Context(), service.ProductRequest{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Quantity:    req.Quantity,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, ProductResponse{Name: req.Name, Description: req.Description, Price: req.Price})
	case errors.Is(err, domain.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: err.Error()})
	case errors.Is(err, service.ErrInventoryUpdate):
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Message: "Inventory update failed"})
	default:
		h.logger.Error("create product failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "internal error"})
	}
}

func (h *HTTPHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.productService.ListProducts(r.Context())
	if err != nil {
		h.logger.Error("list products failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "internal error"})
		return
	}

	resp := make([]ProductResponse, len(products))
	for i, p := range products {
		resp[i] = ProductResponse{Name: p.Name, Description: p.Description, Price: p.Price}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":         "ok",
		"inventory_gate": string(h.orderService.InventoryGateState()),
	})
}

func (h *HTTPHandler) writeInventoryResponse(w http.ResponseWriter, resp service.InventoryResponse, err error) {
	if err != nil {
		h.logger.Error("inventory operation failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, InventoryHTTPResponse{Message: "inventory unavailable"})
		return
	}
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, InventoryHTTPResponse{Success: resp.Success, Message: resp.Message})
}

func decodeStockItems(w http.ResponseWriter, r *http.Request, op domain.Operation) ([]domain.StockAdjustment, bool) {
	var req []StockItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, InventoryHTTPResponse{Message: "invalid request body"})
		return nil, false
	}
	items := make([]domain.StockAdjustment, len(req))
	for i, item := range req {
		items[i] = domain.StockAdjustment{SKU: item.SKU, Quantity: item.Quantity, Operation: op}
	}
	return items, true
}

func rejectionStatus(reason domain.RejectionReason) int {
	switch reason {
	case domain.ReasonCatalogUnavailable:
		return http.StatusServiceUnavailable
	case domain.ReasonDuplicateRequest:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
