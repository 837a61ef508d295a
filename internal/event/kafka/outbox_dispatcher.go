package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/artloft/gallery/internal/repository"
)

// OutboxDispatcher публикует события из outbox таблицы в Kafka.
// События пишутся в outbox в той же транзакции, что и переход статуса заказа,
// поэтому публикация пережидает любые сбои: at-least-once наружу,
// дедупликация по event_id на стороне потребителей.
type OutboxDispatcher struct {
	logger     *zap.Logger
	repo       repository.OrderRepository
	writer     *kafka.Writer
	batchSize  int
	interval   time.Duration
	maxRetries int
	backoff    time.Duration
}

// NewOutboxDispatcher создаёт новый outbox dispatcher
func NewOutboxDispatcher(
	logger *zap.Logger,
	repo repository.OrderRepository,
	brokers []string,
	batchSize int,
	interval time.Duration,
	maxRetries int,
	backoff time.Duration,
) *OutboxDispatcher {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}

	return &OutboxDispatcher{
		logger:     logger,
		repo:       repo,
		writer:     writer,
		batchSize:  batchSize,
		interval:   interval,
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// Close закрывает Kafka writer
func (d *OutboxDispatcher) Close() error {
	return d.writer.Close()
}

// Start запускает dispatcher в фоновом режиме до отмены контекста
func (d *OutboxDispatcher) Start(ctx context.Context) error {
	d.logger.Info("starting outbox dispatcher",
		zap.Int("batch_size", d.batchSize),
		zap.Duration("interval", d.interval),
		zap.Int("max_retries", d.maxRetries),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	// Обрабатываем сразу при старте
	if err := d.processBatch(ctx); err != nil && ctx.Err() == nil {
		d.logger.Error("failed to process initial batch", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("outbox dispatcher context cancelled, stopping")
			return nil
		case <-ticker.C:
			if err := d.processBatch(ctx); err != nil && ctx.Err() == nil {
				d.logger.Error("failed to process batch", zap.Error(err))
			}
		}
	}
}

// processBatch обрабатывает батч pending событий
func (d *OutboxDispatcher) processBatch(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	events, err := d.repo.GetPendingOutboxEvents(ctx, d.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to get pending events: %w", err)
	}

	if len(events) == 0 {
		return nil
	}

	d.logger.Debug("processing outbox batch", zap.Int("count", len(events)))

	for _, event := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := d.processEvent(ctx, event); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Error("failed to process outbox event",
				zap.Error(err),
				zap.String("event_id", event.EventID),
				zap.String("topic", event.Topic),
			)
			// Продолжаем обработку следующих событий
		}
	}

	return nil
}

// processEvent публикует одно событие с retry и помечает его отправленным
func (d *OutboxDispatcher) processEvent(ctx context.Context, event repository.OutboxEvent) error {
	var lastErr error

	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		msg := kafka.Message{
			Topic: event.Topic,
			Key:   []byte(event.AggregateID), // order_id как key: порядок внутри заказа
			Value: event.Payload,
		}

		err := d.writer.WriteMessages(ctx, msg)
		if err == nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if markErr := d.repo.MarkOutboxEventSent(ctx, event.EventID); markErr != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				d.logger.Error("failed to mark outbox event as sent",
					zap.Error(markErr),
					zap.String("event_id", event.EventID),
				)
				return markErr
			}

			d.logger.Info("outbox event published",
				zap.String("event_id", event.EventID),
				zap.String("event_type", event.EventType),
				zap.String("topic", event.Topic),
				zap.String("aggregate_id", event.AggregateID),
				zap.Int("attempt", attempt),
			)
			return nil
		}

		lastErr = err
		d.logger.Warn("failed to publish outbox event",
			zap.Error(err),
			zap.String("event_id", event.EventID),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", d.maxRetries),
		)

		if attempt < d.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.backoff * time.Duration(attempt)):
			}
		}
	}

	return fmt.Errorf("publish failed after %d attempts: %w", d.maxRetries, lastErr)
}
