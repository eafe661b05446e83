package port

import (
	"context"

	"github.com/rl1809/order-placement/internal/core/domain"
)

// EventPublisher owns delivery and retry of order notifications.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event domain.OrderPlacedEvent) error
}
