package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/rl1809/order-placement/internal/core/domain"
	"github.com/rl1809/order-placement/internal/port"
)

var (
	ErrQueueFull = errors.New("event queue is full")
	ErrClosed    = errors.New("dispatcher is closed")
)

// Dispatcher takes events off the request path: PublishOrderPlaced only
// enqueues, and a fixed pool of workers forwards to the wrapped publisher.
type Dispatcher struct {
	next    port.EventPublisher
	queue   chan domain.OrderPlacedEvent
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(next port.EventPublisher, workers, queueSize int, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{
		next:    next,
		queue:   make(chan domain.OrderPlacedEvent, queueSize),
		timeout: timeout,
		logger:  logger,
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.workerLoop(id)
		}(i)
	}
	return d
}

// PublishOrderPlaced never blocks; it fails with ErrQueueFull when the
// workers are behind. The caller's trace context travels with the event in
// its Attributes.
func (d *Dispatcher) PublishOrderPlaced(ctx context.Context, event domain.OrderPlacedEvent) error {
	carrier := propagation.MapCarrier{}
	for k, v := range event.Attributes {
		carrier[k] = v
	}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) > 0 {
		event.Attributes = carrier
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for the queued ones to be sent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) workerLoop(id int) {
	for event := range d.queue {
		parent := otel.GetTextMapPropagator().Extract(context.Background(), propagation.MapCarrier(event.Attributes))
		ctx, cancel := context.WithTimeout(parent, d.timeout)

		if err := d.next.PublishOrderPlaced(ctx, event); err != nil {
			d.logger.Error("failed to publish event",
				zap.Int("worker", id),
				zap.String("order_number", event.OrderNumber),
				zap.Error(err),
			)
		} else {
			d.logger.Debug("published event",
				zap.Int("worker", id),
				zap.String("order_number", event.OrderNumber),
			)
		}

		cancel()
	}
}
