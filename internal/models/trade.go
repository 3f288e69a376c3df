package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Trade direction constants
const (
	DirectionLong  = "LONG"
	DirectionShort = "SHORT"
)

// Trade class constants
const (
	ClassEquity = "EQUITY"
	ClassOption = "OPTION"
)

// Holding horizon constants (equity trades only)
const (
	HorizonDay   = "DAY"
	HorizonSwing = "SWING"
)

// Trade status constants. Status is derived from the fill set and is
// never set directly by a caller.
const (
	StatusOpen            = "OPEN"
	StatusPartiallyClosed = "PARTIALLY_CLOSED"
	StatusClosed          = "CLOSED"
)

// Fill kind constants
const (
	FillKindEntry = "ENTRY"
	FillKindExit  = "EXIT"
)

// Option contract type constants
const (
	ContractCall = "CALL"
	ContractPut  = "PUT"
)

// OptionContractMultiplier is the fixed share-equivalent of one option contract.
var OptionContractMultiplier = decimal.NewFromInt(100)

// FieldError reports a malformed value on a named field. Validation never
// coerces bad input into a default; it surfaces the field instead.
type FieldError struct {
	Field string
	Msg   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// Fill represents one entry or exit execution. Fills are immutable once
// recorded; an amendment replaces the fill wholesale.
type Fill struct {
	ID         int             `json:"id"`
	TradeID    int             `json:"trade_id"`
	Kind       string          `json:"kind"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	ExecutedAt time.Time       `json:"executed_at"`
	OrderID    string          `json:"order_id,omitempty"`
	Source     string          `json:"source,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ProfitLoss holds the realized result for the closed portion of a trade.
type ProfitLoss struct {
	Realized   decimal.Decimal `json:"realized"`
	Percentage decimal.Decimal `json:"percentage"`
	PerUnit    decimal.Decimal `json:"per_unit"`
}

// Greeks is a snapshot of option sensitivities at entry. Display-only.
type Greeks struct {
	Delta decimal.Decimal `json:"delta"`
	Gamma decimal.Decimal `json:"gamma"`
	Theta decimal.Decimal `json:"theta"`
	Vega  decimal.Decimal `json:"vega"`
	IV    decimal.Decimal `json:"iv"`
}

// OptionDetails is the option-specific variant payload. Required for OPTION
// trades, forbidden for EQUITY trades.
type OptionDetails struct {
	ContractType string          `json:"contract_type"`
	Strike       decimal.Decimal `json:"strike"`
	Expiration   time.Time       `json:"expiration"`
	Greeks       *Greeks         `json:"greeks,omitempty"`
}

// Trade is the journal aggregate a user tracks. Status and ProfitLoss are
// derived from Fills on every mutation and must never be written directly.
type Trade struct {
	ID         int            `json:"id"`
	UserID     string         `json:"user_id"`
	Symbol     string         `json:"symbol"`
	Direction  string         `json:"direction"`
	Class      string         `json:"trade_class"`
	Horizon    string         `json:"horizon,omitempty"`
	Option     *OptionDetails `json:"option,omitempty"`
	Fills      []Fill         `json:"fills"`
	Status     string         `json:"status"`
	ProfitLoss ProfitLoss     `json:"profit_loss"`
	Pattern    string         `json:"pattern,omitempty"`
	Session    string         `json:"session,omitempty"`
	Mistakes   []string       `json:"mistakes,omitempty"`
	Notes      string         `json:"notes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// NormalizeSymbol upper-cases and trims a ticker symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Validate checks the structural invariants of the trade record: legal enum
// values and class/variant consistency. Fill-level numeric and temporal
// rules are enforced by the engine before any derived field is written.
func (t *Trade) Validate() error {
	if t.UserID == "" {
		return &FieldError{Field: "user_id", Msg: "must not be empty"}
	}
	if NormalizeSymbol(t.Symbol) == "" {
		return &FieldError{Field: "symbol", Msg: "must not be empty"}
	}
	switch t.Direction {
	case DirectionLong, DirectionShort:
	default:
		return &FieldError{Field: "direction", Msg: "must be LONG or SHORT"}
	}
	switch t.Class {
	case ClassEquity:
		if t.Option != nil {
			return &FieldError{Field: "option", Msg: "not allowed on equity trades"}
		}
		switch t.Horizon {
		case HorizonDay, HorizonSwing:
		default:
			return &FieldError{Field: "horizon", Msg: "must be DAY or SWING for equity trades"}
		}
	case ClassOption:
		if t.Horizon != "" {
			return &FieldError{Field: "horizon", Msg: "only applies to equity trades"}
		}
		if t.Option == nil {
			return &FieldError{Field: "option", Msg: "required for option trades"}
		}
		switch t.Option.ContractType {
		case ContractCall, ContractPut:
		default:
			return &FieldError{Field: "option.contract_type", Msg: "must be CALL or PUT"}
		}
		if t.Option.Strike.IsNegative() {
			return &FieldError{Field: "option.strike", Msg: "must not be negative"}
		}
	default:
		return &FieldError{Field: "trade_class", Msg: "must be EQUITY or OPTION"}
	}
	return nil
}

// Multiplier returns the per-unit contract multiplier for the trade class.
func (t *Trade) Multiplier() decimal.Decimal {
	if t.Class == ClassOption {
		return OptionContractMultiplier
	}
	return decimal.NewFromInt(1)
}

// IsClosed reports whether every entered unit has been exited.
func (t *Trade) IsClosed() bool {
	return t.Status == StatusClosed
}

// FirstEntryTime returns the timestamp of the earliest entry fill, or the
// zero time if the trade has no entries.
func (t *Trade) FirstEntryTime() time.Time {
	var first time.Time
	for _, f := range t.Fills {
		if f.Kind == FillKindEntry && (first.IsZero() || f.ExecutedAt.Before(first)) {
			first = f.ExecutedAt
		}
	}
	return first
}

// LastExitTime returns the timestamp of the latest exit fill, or the zero
// time if the trade has no exits.
func (t *Trade) LastExitTime() time.Time {
	var last time.Time
	for _, f := range t.Fills {
		if f.Kind == FillKindExit && f.ExecutedAt.After(last) {
			last = f.ExecutedAt
		}
	}
	return last
}
