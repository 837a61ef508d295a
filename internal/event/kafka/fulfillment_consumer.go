package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/artloft/gallery/internal/service"
)

// FulfillmentEvent событие об отгрузке заказа со стороны склада
type FulfillmentEvent struct {
	EventID    string    `json:"event_id"`
	OrderID    string    `json:"order_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// FulfillmentConsumer читает события отгрузки и переводит оплаченные
// заказы в статус fulfilled. Коммит offset строго после обработки:
// at-least-once, повторная доставка гасится дедупликацией по event_id.
type FulfillmentConsumer struct {
	logger     *zap.Logger
	reader     *kafka.Reader
	engine     *service.Engine
	dlq        *DLQPublisher
	topic      string
	maxRetries int
	backoff    time.Duration
}

// NewFulfillmentConsumer создаёт новый fulfillment consumer
func NewFulfillmentConsumer(
	logger *zap.Logger,
	brokers []string,
	topic string,
	groupID string,
	engine *service.Engine,
	dlq *DLQPublisher,
	maxRetries int,
	backoff time.Duration,
) *FulfillmentConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // синхронный коммит после обработки
	})

	return &FulfillmentConsumer{
		logger:     logger,
		reader:     reader,
		engine:     engine,
		dlq:        dlq,
		topic:      topic,
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// Close закрывает Kafka reader
func (c *FulfillmentConsumer) Close() error {
	return c.reader.Close()
}

// Start запускает цикл потребления до отмены контекста
func (c *FulfillmentConsumer) Start(ctx context.Context) error {
	c.logger.Info("starting fulfillment consumer",
		zap.String("topic", c.topic),
	)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				c.logger.Info("fulfillment consumer context cancelled, stopping")
				return nil
			}
			c.logger.Error("failed to fetch message", zap.Error(err))
			continue
		}

		if err := c.handleMessage(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Сообщение ушло в DLQ либо DLQ недоступна: в обоих случаях
			// коммитим offset, чтобы не блокировать партицию
			c.logger.Error("message processing failed",
				zap.Error(err),
				zap.Int64("offset", msg.Offset),
			)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to commit message",
				zap.Error(err),
				zap.Int64("offset", msg.Offset),
			)
		}
	}
}

// handleMessage обрабатывает одно сообщение с retry, при исчерпании
// попыток отправляет его в DLQ
func (c *FulfillmentConsumer) handleMessage(ctx context.Context, msg kafka.Message) error {
	var event FulfillmentEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.logger.Error("failed to unmarshal fulfillment event",
			zap.Error(err),
			zap.Int64("offset", msg.Offset),
		)
		return c.dlq.Publish(ctx, c.topic, msg.Key, msg.Value, err, 1)
	}

	if event.EventID == "" || event.OrderID == "" {
		err := fmt.Errorf("fulfillment event missing event_id or order_id")
		return c.dlq.Publish(ctx, c.topic, msg.Key, msg.Value, err, 1)
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		_, err := c.engine.MarkFulfilled(ctx, event.OrderID, event.EventID)
		if err == nil {
			c.logger.Info("order fulfillment applied",
				zap.String("order_id", event.OrderID),
				zap.String("event_id", event.EventID),
			)
			return nil
		}

		var invalidErr *service.InvalidTransitionError
		if errors.Is(err, service.ErrUnknownOrder) || errors.As(err, &invalidErr) {
			// Повторы не помогут: фиксируем в DLQ для разбора оператором
			return c.dlq.Publish(ctx, c.topic, msg.Key, msg.Value, err, attempt)
		}

		lastErr = err
		c.logger.Warn("failed to apply fulfillment event",
			zap.Error(err),
			zap.String("order_id", event.OrderID),
			zap.Int("attempt", attempt),
		)

		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.backoff * time.Duration(attempt)):
			}
		}
	}

	return c.dlq.Publish(ctx, c.topic, msg.Key, msg.Value, lastErr, c.maxRetries)
}
