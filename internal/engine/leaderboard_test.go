package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradekeep/journal-service/internal/models"
)

func TestComputeLeaderboard(t *testing.T) {
	now := time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC)

	closedOption := func(id int, realized float64, exitAt time.Time) *models.Trade {
		// per-contract premium move of realized/100 so the multiplier
		// lands the trade exactly on the requested P&L
		tr := optionTrade(models.DirectionLong,
			entryFill(1, 5, exitAt.Add(-time.Hour)),
			exitFill(1, 5+realized/100, exitAt),
		)
		tr.ID = id
		return tr
	}

	t.Run("ranks users by total profit descending", func(t *testing.T) {
		users := []UserTrades{
			{UserID: "alice", Equity: []*models.Trade{closedSwing(1, 50, now.Add(-time.Hour))}},
			{UserID: "bob", Equity: []*models.Trade{closedSwing(2, 200, now.Add(-time.Hour))}},
			{UserID: "carol", Equity: []*models.Trade{closedSwing(3, -10, now.Add(-time.Hour))}},
		}

		entries, skipped, err := ComputeLeaderboard(users, WindowAll, now)
		require.NoError(t, err)
		require.Empty(t, skipped)
		require.Len(t, entries, 3)

		assert.Equal(t, "bob", entries[0].UserID)
		assert.Equal(t, 1, entries[0].Rank)
		assert.Equal(t, "alice", entries[1].UserID)
		assert.Equal(t, "carol", entries[2].UserID)
		assert.Equal(t, 3, entries[2].Rank)
	})

	t.Run("unions equity and option trades", func(t *testing.T) {
		users := []UserTrades{
			{
				UserID: "alice",
				Equity: []*models.Trade{closedSwing(1, 50, now.Add(-time.Hour))},
				Option: []*models.Trade{closedOption(2, 300, now.Add(-2*time.Hour))},
			},
		}

		entries, _, err := ComputeLeaderboard(users, WindowAll, now)
		require.NoError(t, err)

		assert.Equal(t, 2, entries[0].TotalTrades)
		assertDecimal(t, 350, entries[0].TotalProfit)
	})

	t.Run("zero-trade users appear with zero stats", func(t *testing.T) {
		users := []UserTrades{
			{UserID: "alice", Equity: []*models.Trade{closedSwing(1, 50, now.Add(-time.Hour))}},
			{UserID: "dormant"},
		}

		entries, _, err := ComputeLeaderboard(users, WindowAll, now)
		require.NoError(t, err)
		require.Len(t, entries, 2)

		assert.Equal(t, "dormant", entries[1].UserID)
		assert.Equal(t, 0, entries[1].TotalTrades)
		assert.True(t, entries[1].TotalProfit.IsZero())
	})

	t.Run("window excludes older exits", func(t *testing.T) {
		users := []UserTrades{
			{UserID: "alice", Equity: []*models.Trade{
				closedSwing(1, 500, now.AddDate(0, 0, -20)),
				closedSwing(2, 40, now.AddDate(0, 0, -2)),
			}},
		}

		entries, _, err := ComputeLeaderboard(users, WindowWeek, now)
		require.NoError(t, err)

		assert.Equal(t, 1, entries[0].TotalTrades)
		assertDecimal(t, 40, entries[0].TotalProfit)
	})

	t.Run("today window starts at UTC midnight", func(t *testing.T) {
		users := []UserTrades{
			{UserID: "alice", Equity: []*models.Trade{
				closedSwing(1, 10, now.Add(-10*time.Hour)),                   // 08:00 today
				closedSwing(2, 99, time.Date(2025, 6, 14, 23, 30, 0, 0, time.UTC)), // yesterday
			}},
		}

		entries, _, err := ComputeLeaderboard(users, WindowToday, now)
		require.NoError(t, err)

		assert.Equal(t, 1, entries[0].TotalTrades)
		assertDecimal(t, 10, entries[0].TotalProfit)
	})

	t.Run("ties keep input order", func(t *testing.T) {
		users := []UserTrades{
			{UserID: "first", Equity: []*models.Trade{closedSwing(1, 25, now.Add(-time.Hour))}},
			{UserID: "second", Equity: []*models.Trade{closedSwing(2, 25, now.Add(-2*time.Hour))}},
		}

		entries, _, err := ComputeLeaderboard(users, WindowAll, now)
		require.NoError(t, err)

		assert.Equal(t, "first", entries[0].UserID)
		assert.Equal(t, "second", entries[1].UserID)
	})

	t.Run("unknown window is rejected", func(t *testing.T) {
		_, _, err := ComputeLeaderboard(nil, "fortnight", now)
		var fieldErr *models.FieldError
		require.ErrorAs(t, err, &fieldErr)
		assert.Equal(t, "window", fieldErr.Field)
	})

	t.Run("empty user set yields an empty board", func(t *testing.T) {
		entries, skipped, err := ComputeLeaderboard(nil, WindowAll, now)
		require.NoError(t, err)
		assert.Empty(t, skipped)
		assert.Empty(t, entries)
	})
}

func TestWindowFilter(t *testing.T) {
	now := time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC)

	t.Run("all window is unbounded", func(t *testing.T) {
		filter, err := WindowFilter(WindowAll, now)
		require.NoError(t, err)
		assert.Nil(t, filter.From)
		assert.Nil(t, filter.To)
	})

	t.Run("month window anchors one month back", func(t *testing.T) {
		filter, err := WindowFilter(WindowMonth, now)
		require.NoError(t, err)
		require.NotNil(t, filter.From)
		assert.Equal(t, now.AddDate(0, -1, 0), *filter.From)
	})
}
