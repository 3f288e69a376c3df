package engine

import (
	"fmt"
	"time"

	"github.com/tradekeep/journal-service/internal/models"
)

// DefaultDayTradeWindow is the maximum gap between the first entry and the
// last exit of a DAY-horizon trade. An exit at exactly the window boundary
// is accepted.
const DefaultDayTradeWindow = 24 * time.Hour

// StateOptions carries caller-supplied policy for a state computation.
type StateOptions struct {
	// AllowExtendedWindow bypasses the day-trade window check. The caller
	// owns the business rule for when this is legitimate; the engine only
	// honors the flag.
	AllowExtendedWindow bool
	// DayTradeWindow overrides DefaultDayTradeWindow when positive.
	DayTradeWindow time.Duration
}

// TradeState is the derived pair written back to a trade after a fill
// mutation. Both fields come from the same computation so they can never
// disagree.
type TradeState struct {
	Status     string
	ProfitLoss models.ProfitLoss
}

// ComputeTradeState validates a trade's fill set and derives its status and
// realized P&L. The service layer invokes it explicitly on every fill
// insert, amendment or removal; transitions are symmetric, so deleting the
// sole exit of a CLOSED trade yields OPEN with zero P&L. On error the trade
// must be left untouched.
func ComputeTradeState(t *models.Trade, opts StateOptions) (TradeState, error) {
	if err := t.Validate(); err != nil {
		return TradeState{}, err
	}
	if err := validateFills(t.Fills); err != nil {
		return TradeState{}, err
	}
	if err := checkDayTradeWindow(t, opts); err != nil {
		return TradeState{}, err
	}

	res, err := ComputePnL(t.Fills, t.Direction, t.Multiplier())
	if err != nil {
		return TradeState{}, err
	}
	return TradeState{Status: res.Status, ProfitLoss: res.ProfitLoss}, nil
}

func validateFills(fills []models.Fill) error {
	hasEntry := false
	for i, f := range fills {
		switch f.Kind {
		case models.FillKindEntry:
			hasEntry = true
		case models.FillKindExit:
		default:
			return &models.FieldError{
				Field: fmt.Sprintf("fills[%d].kind", i),
				Msg:   "must be ENTRY or EXIT",
			}
		}
		if !f.Quantity.IsPositive() || f.Price.IsNegative() {
			return fmt.Errorf("fills[%d]: %w", i, ErrInvalidQuantity)
		}
		if f.ExecutedAt.IsZero() {
			return &models.FieldError{
				Field: fmt.Sprintf("fills[%d].executed_at", i),
				Msg:   "must be set",
			}
		}
	}
	if !hasEntry {
		return ErrNoEntryFill
	}
	return nil
}

func checkDayTradeWindow(t *models.Trade, opts StateOptions) error {
	if t.Horizon != models.HorizonDay || opts.AllowExtendedWindow {
		return nil
	}
	lastExit := t.LastExitTime()
	if lastExit.IsZero() {
		return nil
	}
	window := opts.DayTradeWindow
	if window <= 0 {
		window = DefaultDayTradeWindow
	}
	if lastExit.Sub(t.FirstEntryTime()) > window {
		return ErrDayTradeWindow
	}
	return nil
}
