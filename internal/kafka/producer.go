package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tradekeep/journal-service/internal/models"
)

// Producer publishes trade lifecycle events to Kafka. Downstream consumers
// (notification delivery, commentary generation) subscribe to the topic;
// this service never calls them directly.
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer creates a new Kafka producer for trade events
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}

	return &Producer{
		writer: writer,
		topic:  topic,
	}
}

// PublishTradeCreated publishes a trade created event
func (p *Producer) PublishTradeCreated(ctx context.Context, trade *models.Trade) error {
	return p.publish(ctx, models.EventTradeCreated, trade)
}

// PublishTradeUpdated publishes a trade updated event
func (p *Producer) PublishTradeUpdated(ctx context.Context, trade *models.Trade) error {
	return p.publish(ctx, models.EventTradeUpdated, trade)
}

// PublishTradeClosed publishes a trade closed event
func (p *Producer) PublishTradeClosed(ctx context.Context, trade *models.Trade) error {
	return p.publish(ctx, models.EventTradeClosed, trade)
}

// PublishTradeDeleted publishes a trade deleted event. Only identifiers are
// carried; the record no longer exists.
func (p *Producer) PublishTradeDeleted(ctx context.Context, userID string, tradeID int) error {
	event := models.TradeEvent{
		EventType: models.EventTradeDeleted,
		UserID:    userID,
		TradeID:   tradeID,
		Timestamp: time.Now(),
	}
	return p.write(ctx, tradeID, event)
}

func (p *Producer) publish(ctx context.Context, eventType string, trade *models.Trade) error {
	event := models.TradeEvent{
		EventType: eventType,
		UserID:    trade.UserID,
		TradeID:   trade.ID,
		Trade:     trade,
		Timestamp: time.Now(),
	}
	return p.write(ctx, trade.ID, event)
}

func (p *Producer) write(ctx context.Context, tradeID int, event models.TradeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.Itoa(tradeID)),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	return nil
}

// Close closes the Kafka producer
func (p *Producer) Close() error {
	return p.writer.Close()
}
