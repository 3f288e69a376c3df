package engine

import (
	"sort"
	"time"

	"github.com/tradekeep/journal-service/internal/models"
)

// Leaderboard window constants.
const (
	WindowToday = "today"
	WindowWeek  = "week"
	WindowMonth = "month"
	WindowYear  = "year"
	WindowAll   = "all"
)

// UserTrades is one user's closed-trade feed for ranking, split by trade
// class the way the storage layer serves it. The ranker unions both sets.
type UserTrades struct {
	UserID string
	Equity []*models.Trade
	Option []*models.Trade
}

// LeaderboardEntry is one ranked row. Users with zero trades in the window
// keep their row with all-zero stats.
type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	UserID string `json:"user_id"`
	UserStats
}

// WindowFilter translates a leaderboard window into a stats filter anchored
// at now. An unknown window is a caller error.
func WindowFilter(window string, now time.Time) (*StatsFilter, error) {
	var from time.Time
	switch window {
	case WindowToday:
		from = now.UTC().Truncate(24 * time.Hour)
	case WindowWeek:
		from = now.AddDate(0, 0, -7)
	case WindowMonth:
		from = now.AddDate(0, -1, 0)
	case WindowYear:
		from = now.AddDate(-1, 0, 0)
	case WindowAll:
		return &StatsFilter{}, nil
	default:
		return nil, &models.FieldError{Field: "window", Msg: "must be today, week, month, year or all"}
	}
	return &StatsFilter{From: &from}, nil
}

// ComputeLeaderboard ranks users by total profit over the union of their
// equity and option closed trades inside the window. The sort is stable, so
// ties keep the input order; every user appears even with no trades.
func ComputeLeaderboard(users []UserTrades, window string, now time.Time) ([]LeaderboardEntry, []SkippedTrade, error) {
	filter, err := WindowFilter(window, now)
	if err != nil {
		return nil, nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(users))
	var skipped []SkippedTrade
	for _, u := range users {
		all := make([]*models.Trade, 0, len(u.Equity)+len(u.Option))
		all = append(all, u.Equity...)
		all = append(all, u.Option...)
		stats, skip := ComputeUserStats(all, filter)
		skipped = append(skipped, skip...)
		entries = append(entries, LeaderboardEntry{UserID: u.UserID, UserStats: stats})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TotalProfit.GreaterThan(entries[j].TotalProfit)
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, skipped, nil
}
