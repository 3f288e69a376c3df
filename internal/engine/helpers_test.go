package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/tradekeep/journal-service/internal/models"
)

var testBase = time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)

func entryFill(qty, price float64, at time.Time) models.Fill {
	return models.Fill{
		Kind:       models.FillKindEntry,
		Quantity:   decimal.NewFromFloat(qty),
		Price:      decimal.NewFromFloat(price),
		ExecutedAt: at,
	}
}

func exitFill(qty, price float64, at time.Time) models.Fill {
	return models.Fill{
		Kind:       models.FillKindExit,
		Quantity:   decimal.NewFromFloat(qty),
		Price:      decimal.NewFromFloat(price),
		ExecutedAt: at,
	}
}

func equityTrade(direction, horizon string, fills ...models.Fill) *models.Trade {
	return &models.Trade{
		UserID:    "user-1",
		Symbol:    "AAPL",
		Direction: direction,
		Class:     models.ClassEquity,
		Horizon:   horizon,
		Fills:     fills,
	}
}

func optionTrade(direction string, fills ...models.Fill) *models.Trade {
	return &models.Trade{
		UserID:    "user-1",
		Symbol:    "AAPL",
		Direction: direction,
		Class:     models.ClassOption,
		Option: &models.OptionDetails{
			ContractType: models.ContractCall,
			Strike:       decimal.NewFromInt(180),
			Expiration:   testBase.AddDate(0, 1, 0),
		},
		Fills: fills,
	}
}

// closedSwing builds a fully closed swing trade exiting at the given time
// with the given realized P&L (entry at price 100, one unit).
func closedSwing(id int, realized float64, exitAt time.Time) *models.Trade {
	t := equityTrade(models.DirectionLong, models.HorizonSwing,
		entryFill(1, 100, exitAt.Add(-2*time.Hour)),
		exitFill(1, 100+realized, exitAt),
	)
	t.ID = id
	return t
}

func assertDecimal(t *testing.T, expected float64, actual decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.NewFromFloat(expected).Equal(actual),
		"expected %v, got %s", expected, actual)
}
