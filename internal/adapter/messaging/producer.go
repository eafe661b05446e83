package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/rl1809/order-placement/internal/core/domain"
)

const eventTypeOrderPlaced = "order.placed"

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// KafkaProducer publishes order-placed events keyed by order number.
// Delivery is at least once: a write that timed out after reaching the
// broker may be retried, so consumers deduplicate on the key.
type KafkaProducer struct {
	writer  MessageWriter
	topic   string
	retrier *retrier.Retrier
	logger  *zap.Logger
}

func NewKafkaProducer(writer MessageWriter, topic string, retries int, backoff time.Duration, logger *zap.Logger) *KafkaProducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaProducer{
		writer:  writer,
		topic:   topic,
		retrier: retrier.New(retrier.ExponentialBackoff(retries, backoff), writeClassifier{}),
		logger:  logger,
	}
}

func (p *KafkaProducer) PublishOrderPlaced(ctx context.Context, event domain.OrderPlacedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := make([]kafka.Header, 0, len(carrier)+1)
	headers = append(headers, kafka.Header{Key: "event_type", Value: []byte(eventTypeOrderPlaced)})
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	msg := kafka.Message{
		Topic:   p.topic,
		Key:     []byte(event.OrderNumber),
		Value:   payload,
		Headers: headers,
	}

	attempt := 0
	err = p.retrier.RunCtx(ctx, func(ctx context.Context) error {
		attempt++
		if err := p.writer.WriteMessages(ctx, msg); err != nil {
			p.logger.Warn("kafka write failed",
				zap.String("order_number", event.OrderNumber),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish order %s: %w", event.OrderNumber, err)
	}

	p.logger.Info("order placed event published",
		zap.String("order_number", event.OrderNumber),
		zap.String("topic", p.topic),
	)
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}

// writeClassifier retries transient broker errors and gives up on
// cancellation and on errors kafka marks as permanent.
type writeClassifier struct{}

func (writeClassifier) Classify(err error) retrier.Action {
	if err == nil {
		return retrier.Succeed
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retrier.Fail
	}
	var kafkaErr kafka.Error
	if errors.As(err, &kafkaErr) && !kafkaErr.Temporary() {
		return retrier.Fail
	}
	return retrier.Retry
}
