package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// DLQMessage сообщение в dead letter queue
type DLQMessage struct {
	OriginalTopic string    `json:"original_topic"`
	Payload       string    `json:"payload"`
	Error         string    `json:"error"`
	FailedAt      time.Time `json:"failed_at"`
	Attempts      int       `json:"attempts"`
}

// DLQPublisher публикует необработанные сообщения в DLQ топик
type DLQPublisher struct {
	logger *zap.Logger
	writer *kafka.Writer
	topic  string
}

// NewDLQPublisher создаёт новый DLQ publisher
func NewDLQPublisher(logger *zap.Logger, brokers []string, topic string) *DLQPublisher {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	return &DLQPublisher{
		logger: logger,
		writer: writer,
		topic:  topic,
	}
}

// Close закрывает Kafka writer
func (p *DLQPublisher) Close() error {
	return p.writer.Close()
}

// Publish отправляет сообщение в DLQ
func (p *DLQPublisher) Publish(ctx context.Context, originalTopic string, key, payload []byte, procErr error, attempts int) error {
	dlqMsg := DLQMessage{
		OriginalTopic: originalTopic,
		Payload:       string(payload),
		Error:         procErr.Error(),
		FailedAt:      time.Now().UTC(),
		Attempts:      attempts,
	}

	value, err := json.Marshal(dlqMsg)
	if err != nil {
		return fmt.Errorf("failed to marshal dlq message: %w", err)
	}

	msg := kafka.Message{
		Key:   key,
		Value: value,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to dlq: %w", err)
	}

	p.logger.Warn("message sent to dlq",
		zap.String("original_topic", originalTopic),
		zap.String("dlq_topic", p.topic),
		zap.Int("attempts", attempts),
		zap.String("error", procErr.Error()),
	)

	return nil
}
