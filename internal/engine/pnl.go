package engine

import (
	"github.com/shopspring/decimal"

	"github.com/tradekeep/journal-service/internal/models"
)

// PnLResult is the outcome of a realized P&L computation over a fill set.
type PnLResult struct {
	Status        string
	ProfitLoss    models.ProfitLoss
	EntryQuantity decimal.Decimal
	ExitQuantity  decimal.Decimal
	EntryValue    decimal.Decimal
	ExitValue     decimal.Decimal
}

var oneHundred = decimal.NewFromInt(100)

// ComputePnL derives the realized result for the closed portion of a
// position from its fill list. It is pure: the same fill list always yields
// the same result, with no hidden state, so it can be re-derived at any
// time. Realized P&L covers only the closed fraction of the position,
// weighted by quantity.
func ComputePnL(fills []models.Fill, direction string, multiplier decimal.Decimal) (PnLResult, error) {
	res := PnLResult{
		EntryQuantity: decimal.Zero,
		ExitQuantity:  decimal.Zero,
		EntryValue:    decimal.Zero,
		ExitValue:     decimal.Zero,
	}

	for _, f := range fills {
		value := f.Quantity.Mul(f.Price).Mul(multiplier)
		switch f.Kind {
		case models.FillKindEntry:
			res.EntryQuantity = res.EntryQuantity.Add(f.Quantity)
			res.EntryValue = res.EntryValue.Add(value)
		case models.FillKindExit:
			res.ExitQuantity = res.ExitQuantity.Add(f.Quantity)
			res.ExitValue = res.ExitValue.Add(value)
		}
	}

	if res.ExitQuantity.IsZero() {
		res.Status = models.StatusOpen
		res.ProfitLoss = models.ProfitLoss{
			Realized:   decimal.Zero,
			Percentage: decimal.Zero,
			PerUnit:    decimal.Zero,
		}
		return res, nil
	}

	if res.EntryQuantity.IsZero() || res.ExitQuantity.GreaterThan(res.EntryQuantity) {
		return res, ErrOverExit
	}

	closedFraction := res.ExitQuantity.Div(res.EntryQuantity)
	proportionalEntryValue := closedFraction.Mul(res.EntryValue)
	if proportionalEntryValue.IsZero() {
		return res, ErrZeroEntryValue
	}

	realized := res.ExitValue.Sub(proportionalEntryValue)
	if direction == models.DirectionShort {
		realized = proportionalEntryValue.Sub(res.ExitValue)
	}

	res.ProfitLoss = models.ProfitLoss{
		Realized:   realized,
		Percentage: realized.Div(proportionalEntryValue).Mul(oneHundred),
		PerUnit:    realized.Div(res.ExitQuantity),
	}

	if res.ExitQuantity.Equal(res.EntryQuantity) {
		res.Status = models.StatusClosed
	} else {
		res.Status = models.StatusPartiallyClosed
	}
	return res, nil
}
