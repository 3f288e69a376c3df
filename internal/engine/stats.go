package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradekeep/journal-service/internal/models"
)

// StatsFilter restricts aggregation to trades whose last exit falls inside
// the half-open range [From, To). Nil bounds are unbounded.
type StatsFilter struct {
	From *time.Time
	To   *time.Time
}

// UserStats summarizes a user's closed trades. Zero-valued when the trade
// set is empty; an empty set is not an error.
type UserStats struct {
	TotalTrades     int             `json:"total_trades"`
	WinningTrades   int             `json:"winning_trades"`
	LosingTrades    int             `json:"losing_trades"`
	TotalProfit     decimal.Decimal `json:"total_profit"`
	WinRate         decimal.Decimal `json:"win_rate"`
	WinLossRatio    decimal.Decimal `json:"win_loss_ratio"`
	AvgWinningTrade decimal.Decimal `json:"avg_winning_trade"`
	AvgLosingTrade  decimal.Decimal `json:"avg_losing_trade"`
	ProfitFactor    decimal.Decimal `json:"profit_factor"`
}

// SkippedTrade is the diagnostic for a trade excluded from a batch
// computation. Malformed records never abort the whole batch; they are
// excluded and reported.
type SkippedTrade struct {
	TradeID int    `json:"trade_id"`
	Reason  string `json:"reason"`
}

// Breakdown grouping keys.
const (
	BreakdownByPattern = "pattern"
	BreakdownBySession = "session"
	BreakdownByHour    = "hour"
)

// GroupStats is one bucket of a categorical breakdown. SmallSample marks
// groups under the minimum sample threshold so recommendation views can
// skip them.
type GroupStats struct {
	Key string `json:"key"`
	UserStats
	SmallSample bool `json:"small_sample"`
}

// closedPnL recomputes a trade's realized P&L from its fills and reports
// whether the trade is fully closed. Stored derived fields are never
// trusted at aggregation time.
func closedPnL(t *models.Trade, filter *StatsFilter) (decimal.Decimal, bool, *SkippedTrade) {
	if err := t.Validate(); err != nil {
		return decimal.Zero, false, &SkippedTrade{TradeID: t.ID, Reason: err.Error()}
	}
	res, err := ComputePnL(t.Fills, t.Direction, t.Multiplier())
	if err != nil {
		return decimal.Zero, false, &SkippedTrade{TradeID: t.ID, Reason: err.Error()}
	}
	if res.Status != models.StatusClosed {
		return decimal.Zero, false, nil
	}
	if filter != nil {
		exit := t.LastExitTime()
		if filter.From != nil && exit.Before(*filter.From) {
			return decimal.Zero, false, nil
		}
		if filter.To != nil && !exit.Before(*filter.To) {
			return decimal.Zero, false, nil
		}
	}
	return res.ProfitLoss.Realized, true, nil
}

// ComputeUserStats aggregates closed trades into summary statistics.
// Realized P&L is recomputed from fills for every trade; open or
// partially-closed trades are ignored, malformed ones are skipped with a
// diagnostic.
func ComputeUserStats(trades []*models.Trade, filter *StatsFilter) (UserStats, []SkippedTrade) {
	stats := zeroStats()
	var skipped []SkippedTrade
	grossWins := decimal.Zero
	grossLosses := decimal.Zero

	for _, t := range trades {
		realized, ok, skip := closedPnL(t, filter)
		if skip != nil {
			skipped = append(skipped, *skip)
			continue
		}
		if !ok {
			continue
		}
		stats.TotalTrades++
		stats.TotalProfit = stats.TotalProfit.Add(realized)
		if realized.IsPositive() {
			stats.WinningTrades++
			grossWins = grossWins.Add(realized)
		} else {
			stats.LosingTrades++
			grossLosses = grossLosses.Add(realized.Abs())
		}
	}

	if stats.TotalTrades > 0 {
		stats.WinRate = decimal.NewFromInt(int64(stats.WinningTrades)).
			Div(decimal.NewFromInt(int64(stats.TotalTrades))).
			Mul(oneHundred)
	}
	if stats.WinningTrades > 0 {
		stats.AvgWinningTrade = grossWins.Div(decimal.NewFromInt(int64(stats.WinningTrades)))
	}
	if stats.LosingTrades > 0 {
		stats.AvgLosingTrade = grossLosses.Div(decimal.NewFromInt(int64(stats.LosingTrades)))
		stats.WinLossRatio = decimal.NewFromInt(int64(stats.WinningTrades)).
			Div(decimal.NewFromInt(int64(stats.LosingTrades)))
	} else {
		stats.WinLossRatio = decimal.NewFromInt(int64(stats.WinningTrades))
	}
	if grossLosses.IsPositive() {
		stats.ProfitFactor = grossWins.Div(grossLosses)
	}

	return stats, skipped
}

// ComputeBreakdown groups closed trades by the given key and computes the
// same metrics per group, sorted by descending win rate. minSample is a
// policy threshold: groups below it are returned but flagged SmallSample.
func ComputeBreakdown(trades []*models.Trade, key string, minSample int, filter *StatsFilter) ([]GroupStats, []SkippedTrade, error) {
	if key != BreakdownByPattern && key != BreakdownBySession && key != BreakdownByHour {
		return nil, nil, &models.FieldError{Field: "group_by", Msg: "must be pattern, session or hour"}
	}

	buckets := make(map[string][]*models.Trade)
	var order []string
	for _, t := range trades {
		k := groupKey(t, key)
		if _, seen := buckets[k]; !seen {
			order = append(order, k)
		}
		buckets[k] = append(buckets[k], t)
	}

	var groups []GroupStats
	var skipped []SkippedTrade
	for _, k := range order {
		stats, skip := ComputeUserStats(buckets[k], filter)
		skipped = append(skipped, skip...)
		if stats.TotalTrades == 0 {
			continue
		}
		groups = append(groups, GroupStats{
			Key:         k,
			UserStats:   stats,
			SmallSample: stats.TotalTrades < minSample,
		})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].WinRate.GreaterThan(groups[j].WinRate)
	})
	return groups, skipped, nil
}

// TopGroup returns the best-performing group that clears the sample
// threshold, or nil when every group is too small to recommend.
func TopGroup(groups []GroupStats) *GroupStats {
	for i := range groups {
		if !groups[i].SmallSample {
			return &groups[i]
		}
	}
	return nil
}

func groupKey(t *models.Trade, key string) string {
	switch key {
	case BreakdownByPattern:
		if t.Pattern == "" {
			return "UNTAGGED"
		}
		return t.Pattern
	case BreakdownBySession:
		if t.Session == "" {
			return "UNTAGGED"
		}
		return t.Session
	default:
		entry := t.FirstEntryTime()
		if entry.IsZero() {
			return "UNTAGGED"
		}
		return fmt.Sprintf("%02d", entry.UTC().Hour())
	}
}

func zeroStats() UserStats {
	return UserStats{
		TotalProfit:     decimal.Zero,
		WinRate:         decimal.Zero,
		WinLossRatio:    decimal.Zero,
		AvgWinningTrade: decimal.Zero,
		AvgLosingTrade:  decimal.Zero,
		ProfitFactor:    decimal.Zero,
	}
}
