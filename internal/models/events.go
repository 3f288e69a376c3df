package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade lifecycle event types published to Kafka.
const (
	EventTradeCreated = "TRADE_CREATED"
	EventTradeUpdated = "TRADE_UPDATED"
	EventTradeClosed  = "TRADE_CLOSED"
	EventTradeDeleted = "TRADE_DELETED"
)

// EventFillExecuted is the broker-side execution event consumed from the
// fills topic.
const EventFillExecuted = "FILL_EXECUTED"

// TradeEvent represents a Kafka event for trade lifecycle changes.
type TradeEvent struct {
	EventType string    `json:"event_type"`
	UserID    string    `json:"user_id"`
	TradeID   int       `json:"trade_id"`
	Trade     *Trade    `json:"trade,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FillExecutionEvent represents a broker fill execution to be applied to an
// existing trade. OrderID and Source together deduplicate redelivery.
type FillExecutionEvent struct {
	EventType string          `json:"event_type"`
	OrderID   string          `json:"order_id"`
	Source    string          `json:"source"`
	TradeID   int             `json:"trade_id"`
	Kind      string          `json:"kind"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}
