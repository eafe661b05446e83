package messaging

import (
	"context"

	"go.uber.org/zap"

	"github.com/rl1809/order-placement/internal/core/domain"
)

// LogPublisher records placed orders in the log when no broker is
// configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishOrderPlaced(ctx context.Context, event domain.OrderPlacedEvent) error {
	p.logger.Info("order placed",
		zap.String("event_type", eventTypeOrderPlaced),
		zap.String("order_number", event.OrderNumber),
		zap.String("total_price", event.TotalPrice.StringFixed(2)),
		zap.Int("line_items", len(event.LineItems)),
	)
	return nil
}
