package engine

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradekeep/journal-service/internal/models"
)

// EquityPoint is one day on the cumulative equity curve.
type EquityPoint struct {
	Day      time.Time       `json:"day"`
	DailyPnL decimal.Decimal `json:"daily_pnl"`
	Equity   decimal.Decimal `json:"equity"`
	Drawdown decimal.Decimal `json:"drawdown"`
}

// DrawdownStreaks is the result of a drawdown and streak analysis over a
// user's closed trades.
type DrawdownStreaks struct {
	MaxDrawdown          decimal.Decimal `json:"max_drawdown"`
	CurrentDrawdown      decimal.Decimal `json:"current_drawdown"`
	LongestWinStreak     int             `json:"longest_win_streak"`
	CurrentWinStreak     int             `json:"current_win_streak"`
	MaxConsecutiveLosses int             `json:"max_consecutive_losses"`
	CurrentLossStreak    int             `json:"current_loss_streak"`
	EquityCurve          []EquityPoint   `json:"equity_curve"`
}

// ComputeDrawdownAndStreaks builds the running equity curve from closed
// trades and derives peak-to-trough drawdown and win/loss streaks.
// Trades are grouped by calendar day of exit (UTC) and each day's P&L is
// netted before any drawdown or streak logic runs, so trade order within a
// day cannot change the result. A net-zero day resets both streak counters.
func ComputeDrawdownAndStreaks(trades []*models.Trade, filter *StatsFilter) (DrawdownStreaks, []SkippedTrade) {
	out := DrawdownStreaks{
		MaxDrawdown:     decimal.Zero,
		CurrentDrawdown: decimal.Zero,
	}
	var skipped []SkippedTrade

	daily := make(map[time.Time]decimal.Decimal)
	for _, t := range trades {
		realized, ok, skip := closedPnL(t, filter)
		if skip != nil {
			skipped = append(skipped, *skip)
			continue
		}
		if !ok {
			continue
		}
		day := t.LastExitTime().UTC().Truncate(24 * time.Hour)
		daily[day] = daily[day].Add(realized)
	}

	days := make([]time.Time, 0, len(daily))
	for day := range daily {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	equity := decimal.Zero
	peak := decimal.Zero
	winStreak, lossStreak := 0, 0
	for _, day := range days {
		pnl := daily[day]
		equity = equity.Add(pnl)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		drawdown := peak.Sub(equity)
		if drawdown.GreaterThan(out.MaxDrawdown) {
			out.MaxDrawdown = drawdown
		}
		out.CurrentDrawdown = drawdown

		switch {
		case pnl.IsPositive():
			winStreak++
			lossStreak = 0
		case pnl.IsNegative():
			lossStreak++
			winStreak = 0
		default:
			winStreak, lossStreak = 0, 0
		}
		if winStreak > out.LongestWinStreak {
			out.LongestWinStreak = winStreak
		}
		if lossStreak > out.MaxConsecutiveLosses {
			out.MaxConsecutiveLosses = lossStreak
		}

		out.EquityCurve = append(out.EquityCurve, EquityPoint{
			Day:      day,
			DailyPnL: pnl,
			Equity:   equity,
			Drawdown: drawdown,
		})
	}
	out.CurrentWinStreak = winStreak
	out.CurrentLossStreak = lossStreak

	return out, skipped
}
