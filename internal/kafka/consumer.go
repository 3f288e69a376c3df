package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/tradekeep/journal-service/internal/models"
)

// FillApplier applies broker fill executions to their trades
type FillApplier interface {
	// ExecutionExists reports whether an execution with the given broker
	// identifiers was already applied.
	ExecutionExists(ctx context.Context, orderID, source string) (bool, error)
	// ApplyExecution appends the execution to its trade through the
	// service mutation protocol.
	ApplyExecution(ctx context.Context, event models.FillExecutionEvent) error
}

// Consumer ingests broker fill executions from Kafka and applies them to
// trades. Deduplication runs on (order_id, source) so redelivered messages
// are harmless.
type Consumer struct {
	reader  *kafka.Reader
	applier FillApplier
	logger  *zap.Logger
}

// NewConsumer creates a new Kafka consumer for fill execution events
func NewConsumer(brokers []string, topic, groupID string, applier FillApplier, logger *zap.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: time.Second,
	})

	return &Consumer{
		reader:  reader,
		applier: applier,
		logger:  logger,
	}
}

// Start begins consuming messages until the context is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting fill consumer", zap.String("topic", c.reader.Config().Topic))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("fill consumer shutting down")
			return c.reader.Close()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil // context cancelled, normal shutdown
				}
				c.logger.Error("failed to read message", zap.Error(err))
				continue
			}

			if err := c.processMessage(ctx, msg); err != nil {
				c.logger.Error("failed to process message",
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
				// keep consuming; the message is logged, not retried
			}
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var event models.FillExecutionEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal fill event: %w", err)
	}

	if event.EventType != models.EventFillExecuted {
		c.logger.Debug("ignoring event type", zap.String("event_type", event.EventType))
		return nil
	}
	if event.OrderID == "" || event.Source == "" {
		return fmt.Errorf("fill event missing order_id or source")
	}

	exists, err := c.applier.ExecutionExists(ctx, event.OrderID, event.Source)
	if err != nil {
		return fmt.Errorf("failed to check for duplicate execution: %w", err)
	}
	if exists {
		c.logger.Debug("skipping duplicate execution",
			zap.String("order_id", event.OrderID),
			zap.String("source", event.Source))
		return nil
	}

	if err := c.applier.ApplyExecution(ctx, event); err != nil {
		return fmt.Errorf("failed to apply execution: %w", err)
	}

	c.logger.Info("applied fill execution",
		zap.Int("trade_id", event.TradeID),
		zap.String("kind", event.Kind),
		zap.String("order_id", event.OrderID))
	return nil
}
