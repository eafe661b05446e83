package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/order-placement/internal/core/domain"
	"github.com/rl1809/order-placement/internal/core/resilience"
	"github.com/rl1809/order-placement/internal/port"
)

const (
	inventoryGateName = "inventory"
	catalogGateName   = "catalog"
	tracerName        = "order-placement"
)

type PlaceOrderInput struct {
	IdempotencyKey string
	Items          []domain.OrderLineItem
}

// catalogAnswer is what the catalog gate yields; err is set when the lookup
// failed or was short-circuited.
type catalogAnswer struct {
	results []domain.ExistenceResult
	err     error
}

// reservation is what the inventory gate yields. rejection holds a ledger
// business answer, degraded the fallback message.
type reservation struct {
	rejection error
	degraded  string
}

type OrderService struct {
	catalog     port.ProductCatalog
	ledger      port.StockLedger
	orders      port.OrderRepository
	publisher   port.EventPublisher
	idempotency port.IdempotencyStore

	catalogGate    *resilience.Gate[catalogAnswer]
	inventoryGate  *resilience.Gate[reservation]
	releaseTimeout time.Duration

	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
	newID  func() string
}

type orderServiceOptions struct {
	logger            *zap.Logger
	tracer            trace.Tracer
	idempotency       port.IdempotencyStore
	catalogSettings   resilience.Settings
	inventorySettings resilience.Settings
	gateOptions       []resilience.Option
	now               func() time.Time
	newID             func() string
}

type OrderServiceOption func(*orderServiceOptions)

func WithLogger(logger *zap.Logger) OrderServiceOption {
	return func(o *orderServiceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) OrderServiceOption {
	return func(o *orderServiceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithIdempotencyStore rejects concurrent placements that share an
// idempotency key while the first one is still in flight.
func WithIdempotencyStore(store port.IdempotencyStore) OrderServiceOption {
	return func(o *orderServiceOptions) {
		o.idempotency = store
	}
}

func WithInventoryGate(s resilience.Settings) OrderServiceOption {
	return func(o *orderServiceOptions) {
		o.inventorySettings = s
	}
}

func WithCatalogGate(s resilience.Settings) OrderServiceOption {
	return func(o *orderServiceOptions) {
		o.catalogSettings = s
	}
}

// WithGateOptions is applied to both gates after the service's own options.
func WithGateOptions(opts ...resilience.Option) OrderServiceOption {
	return func(o *orderServiceOptions) {
		o.gateOptions = append(o.gateOptions, opts...)
	}
}

func WithClock(now func() time.Time) OrderServiceOption {
	return func(o *orderServiceOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func WithIDGenerator(newID func() string) OrderServiceOption {
	return func(o *orderServiceOptions) {
		if newID != nil {
			o.newID = newID
		}
	}
}

func NewOrderService(
	catalog port.ProductCatalog,
	ledger port.StockLedger,
	orders port.OrderRepository,
	publisher port.EventPublisher,
	opts ...OrderServiceOption,
) (*OrderService, error) {
	o := orderServiceOptions{
		logger:            zap.NewNop(),
		tracer:            otel.Tracer(tracerName),
		catalogSettings:   resilience.DefaultSettings(),
		inventorySettings: resilience.DefaultSettings(),
		now:               time.Now,
		newID:             uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	gateOpts := append([]resilience.Option{
		resilience.WithStateChangeHook(func(name string, from, to resilience.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("gate", name),
				zap.String("from", string(from)),
				zap.String("to", string(to)),
			)
		}),
	}, o.gateOptions...)

	catalogGate, err := resilience.NewGate(catalogGateName, o.catalogSettings,
		func(req any, err error) catalogAnswer {
			return catalogAnswer{err: err}
		}, gateOpts...)
	if err != nil {
		return nil, err
	}

	inventoryGate, err := resilience.NewGate(inventoryGateName, o.inventorySettings,
		func(req any, err error) reservation {
			logger.Error("fallback triggered", zap.String("gate", inventoryGateName), zap.Any("request", req), zap.Error(err))
			return reservation{degraded: "Fallback: Unable to place order right now, " + err.Error() + ", Please try again."}
		}, gateOpts...)
	if err != nil {
		return nil, err
	}

	return &OrderService{
		catalog:        catalog,
		ledger:         ledger,
		orders:         orders,
		publisher:      publisher,
		idempotency:    o.idempotency,
		catalogGate:    catalogGate,
		inventoryGate:  inventoryGate,
		releaseTimeout: o.inventorySettings.Timeout,
		logger:         o.logger,
		tracer:         o.tracer,
		now:            o.now,
		newID:          o.newID,
	}, nil
}

// InventoryGateState exposes the breaker state of the ledger dependency.
func (s *OrderService) InventoryGateState() resilience.State {
	return s.inventoryGate.State()
}

// PlaceOrder runs one placement attempt. Business rejections and fallbacks
// come back as the result; the error is reserved for failures the caller
// cannot act on, such as a lost order write.
func (s *OrderService) PlaceOrder(ctx context.Context, in PlaceOrderInput) (result domain.PlacementResult, err error) {
	ctx, span := s.tracer.Start(ctx, "place_order")
	defer span.End()

	order := domain.NewOrder(s.newID(), in.Items, s.now())
	order.IdempotencyKey = in.IdempotencyKey
	span.SetAttributes(
		attribute.String("order.number", order.Number),
		attribute.Int("order.line_items", len(order.LineItems)),
	)
	defer func() {
		span.SetAttributes(attribute.String("order.status", string(result.Status)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "placement failed")
		}
	}()

	if err := order.Validate(); err != nil {
		s.advance(&order, domain.OrderStateRejected)
		return domain.Rejected(domain.ReasonInvalidRequest, err.Error()), nil
	}

	if order.IdempotencyKey != "" {
		existing, err := s.orders.GetOrderByIdempotencyKey(ctx, order.IdempotencyKey)
		if err != nil {
			return domain.PlacementResult{}, fmt.Errorf("lookup idempotency key: %w", err)
		}
		if existing != nil {
			return s.replay(*existing), nil
		}

		if s.idempotency != nil {
			claimed, err := s.idempotency.Claim(ctx, order.IdempotencyKey)
			if err != nil {
				return domain.PlacementResult{}, fmt.Errorf("claim idempotency key: %w", err)
			}
			if !claimed {
				return domain.Rejected(domain.ReasonDuplicateRequest,
					fmt.Sprintf("Order with idempotency key %s is already being placed", order.IdempotencyKey)), nil
			}
			defer func() {
				if result.Status == domain.PlacementPlaced {
					return
				}
				if forgetErr := s.idempotency.Forget(context.WithoutCancel(ctx), order.IdempotencyKey); forgetErr != nil {
					s.logger.Warn("failed to forget idempotency key",
						zap.String("idempotency_key", order.IdempotencyKey), zap.Error(forgetErr))
				}
			}()
		}
	}

	if rejected, ok := s.checkProducts(ctx, &order); !ok {
		return rejected, nil
	}

	reservationKey := order.IdempotencyKey
	if reservationKey == "" {
		reservationKey = order.Number
	}
	batch := order.Deductions()

	if outcome, ok := s.reserveStock(ctx, &order, reservationKey, batch); !ok {
		return outcome, nil
	}

	if err := s.persist(ctx, order); err != nil {
		if errors.Is(err, domain.ErrDuplicateRequest) && order.IdempotencyKey != "" {
			// Another attempt with the same key won the insert; its reservation is
			// the one the ledger kept.
			if existing, lookupErr := s.orders.GetOrderByIdempotencyKey(ctx, order.IdempotencyKey); lookupErr == nil && existing != nil {
				return s.replay(*existing), nil
			}
		}
		return domain.PlacementResult{}, s.compensate(ctx, order, reservationKey, batch, err)
	}
	s.advance(&order, domain.OrderStatePersisted)

	s.publish(ctx, &order)

	s.logger.Info("order placed",
		zap.String("order_number", order.Number),
		zap.String("total_price", order.TotalPrice.String()),
	)
	return domain.Placed(order), nil
}

func (s *OrderService) GetOrder(ctx context.Context, number string) (domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, number)
	if err != nil {
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, number)
	}
	return *order, nil
}

func (s *OrderService) replay(existing domain.Order) domain.PlacementResult {
	s.logger.Info("replaying placed order",
		zap.String("order_number", existing.Number),
		zap.String("idempotency_key", existing.IdempotencyKey),
	)
	result := domain.Placed(existing)
	result.Replayed = true
	return result
}

// checkProducts verifies every distinct SKU against the catalog in one call
// and prices the order. It reports false with the rejection when the order
// cannot proceed.
func (s *OrderService) checkProducts(ctx context.Context, order *domain.Order) (domain.PlacementResult, bool) {
	ctx, span := s.tracer.Start(ctx, "catalog_lookup")
	defer span.End()

	skus := order.SKUs()
	span.SetAttributes(attribute.StringSlice("order.skus", skus))

	answer := s.catalogGate.Execute(ctx, skus, func(ctx context.Context) (catalogAnswer, error) {
		results, err := s.catalog.Exists(ctx, skus)
		return catalogAnswer{results: results}, err
	})
	if answer.err != nil {
		span.RecordError(answer.err)
		span.SetStatus(codes.Error, "catalog unavailable")
		s.logger.Warn("catalog lookup failed", zap.String("order_number", order.Number), zap.Error(answer.err))
		s.advance(order, domain.OrderStateRejected)
		return domain.Rejected(domain.ReasonCatalogUnavailable,
			"Unable to verify products right now, "+answer.err.Error()), false
	}

	found := make(map[string]domain.ExistenceResult, len(answer.results))
	for _, r := range answer.results {
		found[r.Name] = r
	}

	var missing []string
	prices := make(map[string]decimal.Decimal, len(skus))
	for _, sku := range skus {
		r, ok := found[sku]
		if !ok || !r.Present || !r.Price.Valid {
			missing = append(missing, sku)
			continue
		}
		prices[sku] = r.Price.Decimal
	}
	if len(missing) > 0 {
		span.SetAttributes(attribute.StringSlice("order.missing_skus", missing))
		s.advance(order, domain.OrderStateRejected)
		return domain.RejectedMissing(missing), false
	}
	s.advance(order, domain.OrderStateProductsChecked)

	if err := order.ApplyPrices(prices); err != nil {
		s.advance(order, domain.OrderStateRejected)
		return domain.Rejected(domain.ReasonMissingProducts, err.Error()), false
	}
	s.advance(order, domain.OrderStatePriced)
	span.SetAttributes(attribute.String("order.total_price", order.TotalPrice.String()))
	return domain.PlacementResult{}, true
}

func (s *OrderService) reserveStock(ctx context.Context, order *domain.Order, reservationKey string, batch []domain.StockAdjustment) (domain.PlacementResult, bool) {
	ctx, span := s.tracer.Start(ctx, "inventory_reserve")
	defer span.End()
	span.SetAttributes(attribute.String("inventory.reservation_key", reservationKey))

	res := s.inventoryGate.Execute(ctx, batch, func(ctx context.Context) (reservation, error) {
		err := s.ledger.CheckAndDeduct(ctx, reservationKey, batch)
		if err != nil && domain.IsBusinessError(err) {
			return reservation{rejection: err}, nil
		}
		return reservation{}, err
	})

	switch {
	case res.degraded != "":
		span.SetStatus(codes.Error, "fallback")
		s.advance(order, domain.OrderStateDegraded)
		return domain.Degraded(res.degraded), false
	case res.rejection != nil:
		span.SetAttributes(attribute.String("inventory.rejection", res.rejection.Error()))
		s.advance(order, domain.OrderStateRejected)
		return domain.Rejected(rejectionReason(res.rejection), res.rejection.Error()), false
	}

	s.advance(order, domain.OrderStateStockReserved)
	return domain.PlacementResult{}, true
}

func (s *OrderService) persist(ctx context.Context, order domain.Order) error {
	ctx, span := s.tracer.Start(ctx, "order_persist")
	defer span.End()

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return err
	}
	return nil
}

// compensate gives the reserved stock back after the order write failed.
func (s *OrderService) compensate(ctx context.Context, order domain.Order, reservationKey string, batch []domain.StockAdjustment, cause error) error {
	s.logger.Error("failed to save order, releasing stock",
		zap.String("order_number", order.Number), zap.Error(cause))

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.releaseTimeout)
	defer cancel()

	err := fmt.Errorf("order %s: %w: %w", order.Number, domain.ErrPersistenceFailure, cause)
	if releaseErr := s.ledger.Release(releaseCtx, reservationKey, batch); releaseErr != nil {
		s.logger.Error("CRITICAL: stock release failed",
			zap.String("order_number", order.Number),
			zap.String("reservation_key", reservationKey),
			zap.Error(releaseErr),
		)
		return errors.Join(err, fmt.Errorf("release stock: %w", releaseErr))
	}
	s.logger.Info("released stock", zap.String("order_number", order.Number))
	return err
}

func (s *OrderService) publish(ctx context.Context, order *domain.Order) {
	ctx, span := s.tracer.Start(ctx, "order_publish")
	defer span.End()

	if err := s.publisher.PublishOrderPlaced(ctx, domain.NewOrderPlacedEvent(*order)); err != nil {
		span.RecordError(err)
		s.logger.Warn("failed to publish order placed event",
			zap.String("order_number", order.Number), zap.Error(err))
		return
	}
	s.advance(order, domain.OrderStatePublished)
}

// advance moves the order along the workflow. The steps above only request
// legal transitions, so a refusal is logged rather than returned.
func (s *OrderService) advance(order *domain.Order, next domain.OrderState) {
	if err := order.Advance(next); err != nil {
		s.logger.Error("illegal order state transition",
			zap.String("order_number", order.Number),
			zap.String("from", string(order.State)),
			zap.String("to", string(next)),
			zap.Error(err),
		)
	}
}

func rejectionReason(err error) domain.RejectionReason {
	switch {
	case errors.Is(err, domain.ErrSkuNotFound):
		return domain.ReasonSkuNotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		return domain.ReasonInsufficientStock
	default:
		return domain.ReasonInvalidRequest
	}
}
