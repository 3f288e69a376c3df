package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tradekeep/journal-service/internal/database"
	"github.com/tradekeep/journal-service/internal/engine"
	"github.com/tradekeep/journal-service/internal/models"
)

// TradeStore is the persistence boundary the service depends on
type TradeStore interface {
	CreateTrade(ctx context.Context, t *models.Trade) error
	GetTradeByID(ctx context.Context, id int) (*models.Trade, error)
	ListUserTrades(ctx context.Context, userID string, opts database.ListOptions) ([]*models.Trade, error)
	ListClosedTradesSince(ctx context.Context, since time.Time) ([]*models.Trade, error)
	ListUserIDs(ctx context.Context) ([]string, error)
	ApplyFillChange(ctx context.Context, tradeID int, change database.FillChange, compute database.ComputeStateFunc) (*models.Trade, error)
	UpdateJournal(ctx context.Context, tradeID int, fields database.JournalFields) error
	DeleteTrade(ctx context.Context, id int) error
	FillExists(ctx context.Context, orderID, source string) (bool, error)
}

// EventPublisher emits trade lifecycle events to downstream consumers
type EventPublisher interface {
	PublishTradeCreated(ctx context.Context, trade *models.Trade) error
	PublishTradeUpdated(ctx context.Context, trade *models.Trade) error
	PublishTradeClosed(ctx context.Context, trade *models.Trade) error
	PublishTradeDeleted(ctx context.Context, userID string, tradeID int) error
}

// ReadCache is the injected TTL cache for computed views
type ReadCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	InvalidatePrefix(ctx context.Context, prefix string) error
}

// Options carries the service's policy knobs
type Options struct {
	// MinSample is the minimum group size for breakdown recommendations
	MinSample int
	// DayTradeWindow overrides the default 24h window when positive
	DayTradeWindow time.Duration
	// StatsTTL bounds how stale cached per-user views may get
	StatsTTL time.Duration
	// LeaderboardTTL bounds how stale the cached leaderboard may get
	LeaderboardTTL time.Duration
}

// Service owns the trade mutation protocol: every fill change recomputes
// status and P&L from scratch through the engine before anything is
// persisted, then publishes an event and invalidates cached views. The
// engine itself stays pure; all side effects live here.
type Service struct {
	store    TradeStore
	producer EventPublisher
	cache    ReadCache
	logger   *zap.Logger
	opts     Options
}

// New creates a trade service. producer and cache may be nil, in which case
// eventing and caching are skipped.
func New(store TradeStore, producer EventPublisher, cache ReadCache, logger *zap.Logger, opts Options) *Service {
	if opts.MinSample <= 0 {
		opts.MinSample = 3
	}
	if opts.StatsTTL <= 0 {
		opts.StatsTTL = 5 * time.Minute
	}
	if opts.LeaderboardTTL <= 0 {
		opts.LeaderboardTTL = time.Minute
	}
	return &Service{
		store:    store,
		producer: producer,
		cache:    cache,
		logger:   logger,
		opts:     opts,
	}
}

func (s *Service) stateOptions(allowExtended bool) engine.StateOptions {
	return engine.StateOptions{
		AllowExtendedWindow: allowExtended,
		DayTradeWindow:      s.opts.DayTradeWindow,
	}
}

// CreateTrade validates and persists a new trade with its initial fills.
// Status and P&L are derived before the insert so the stored record is
// never inconsistent.
func (s *Service) CreateTrade(ctx context.Context, t *models.Trade, allowExtended bool) error {
	t.Symbol = models.NormalizeSymbol(t.Symbol)
	s.warnOnOverride(allowExtended, 0, t.UserID)

	state, err := engine.ComputeTradeState(t, s.stateOptions(allowExtended))
	if err != nil {
		return err
	}
	t.Status = state.Status
	t.ProfitLoss = state.ProfitLoss

	if err := s.store.CreateTrade(ctx, t); err != nil {
		return err
	}

	s.publish(ctx, func(p EventPublisher) error { return p.PublishTradeCreated(ctx, t) })
	s.invalidateUser(ctx, t.UserID)
	return nil
}

// AddFill appends a fill to a trade and recomputes its state under the
// per-trade lock.
func (s *Service) AddFill(ctx context.Context, tradeID int, fill models.Fill, allowExtended bool) (*models.Trade, error) {
	return s.mutate(ctx, tradeID, database.FillChange{Op: database.FillOpAdd, Fill: &fill}, allowExtended)
}

// AmendFill replaces an existing fill's execution details
func (s *Service) AmendFill(ctx context.Context, tradeID, fillID int, fill models.Fill, allowExtended bool) (*models.Trade, error) {
	return s.mutate(ctx, tradeID, database.FillChange{Op: database.FillOpAmend, FillID: fillID, Fill: &fill}, allowExtended)
}

// RemoveFill deletes a fill. This may reopen a closed trade; the reverse
// transition recomputes exactly like the forward one.
func (s *Service) RemoveFill(ctx context.Context, tradeID, fillID int, allowExtended bool) (*models.Trade, error) {
	return s.mutate(ctx, tradeID, database.FillChange{Op: database.FillOpRemove, FillID: fillID}, allowExtended)
}

func (s *Service) mutate(ctx context.Context, tradeID int, change database.FillChange, allowExtended bool) (*models.Trade, error) {
	s.warnOnOverride(allowExtended, tradeID, "")

	var prevStatus string
	trade, err := s.store.ApplyFillChange(ctx, tradeID, change, func(t *models.Trade) (string, models.ProfitLoss, error) {
		prevStatus = t.Status
		state, err := engine.ComputeTradeState(t, s.stateOptions(allowExtended))
		if err != nil {
			return "", models.ProfitLoss{}, err
		}
		return state.Status, state.ProfitLoss, nil
	})
	if err != nil {
		return nil, err
	}

	if trade.Status == models.StatusClosed && prevStatus != models.StatusClosed {
		s.publish(ctx, func(p EventPublisher) error { return p.PublishTradeClosed(ctx, trade) })
	} else {
		s.publish(ctx, func(p EventPublisher) error { return p.PublishTradeUpdated(ctx, trade) })
	}
	s.invalidateUser(ctx, trade.UserID)
	return trade, nil
}

// UpdateJournal edits the descriptive tags of a trade. Tags feed the
// categorical breakdowns, so user views are invalidated, but no fill
// recompute is needed.
func (s *Service) UpdateJournal(ctx context.Context, tradeID int, fields database.JournalFields) (*models.Trade, error) {
	if err := s.store.UpdateJournal(ctx, tradeID, fields); err != nil {
		return nil, err
	}
	trade, err := s.store.GetTradeByID(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, func(p EventPublisher) error { return p.PublishTradeUpdated(ctx, trade) })
	s.invalidateUser(ctx, trade.UserID)
	return trade, nil
}

// DeleteTrade removes a trade. Deletion has no cascading computation: the
// trade simply stops contributing to future aggregations.
func (s *Service) DeleteTrade(ctx context.Context, tradeID int) error {
	trade, err := s.store.GetTradeByID(ctx, tradeID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTrade(ctx, tradeID); err != nil {
		return err
	}
	s.publish(ctx, func(p EventPublisher) error { return p.PublishTradeDeleted(ctx, trade.UserID, tradeID) })
	s.invalidateUser(ctx, trade.UserID)
	return nil
}

// GetTrade retrieves a trade with its fills
func (s *Service) GetTrade(ctx context.Context, tradeID int) (*models.Trade, error) {
	return s.store.GetTradeByID(ctx, tradeID)
}

// ListUserTrades retrieves one user's trades
func (s *Service) ListUserTrades(ctx context.Context, userID string, opts database.ListOptions) ([]*models.Trade, error) {
	return s.store.ListUserTrades(ctx, userID, opts)
}

// ExecutionExists reports whether a broker execution was already applied
func (s *Service) ExecutionExists(ctx context.Context, orderID, source string) (bool, error) {
	return s.store.FillExists(ctx, orderID, source)
}

// ApplyExecution appends a broker fill execution to its trade
func (s *Service) ApplyExecution(ctx context.Context, event models.FillExecutionEvent) error {
	fill := models.Fill{
		Kind:       event.Kind,
		Quantity:   event.Quantity,
		Price:      event.Price,
		ExecutedAt: event.Timestamp,
		OrderID:    event.OrderID,
		Source:     event.Source,
	}
	_, err := s.AddFill(ctx, event.TradeID, fill, false)
	return err
}

// StatsResult pairs a user's aggregate statistics with the diagnostics for
// any trades excluded from the computation.
type StatsResult struct {
	Stats   engine.UserStats      `json:"stats"`
	Skipped []engine.SkippedTrade `json:"skipped,omitempty"`
}

// GetUserStats computes (or serves from cache) a user's aggregate
// statistics over their closed trades.
func (s *Service) GetUserStats(ctx context.Context, userID string, filter *engine.StatsFilter) (*StatsResult, error) {
	key := userCacheKey(userID, "stats", filterSuffix(filter))
	var cached StatsResult
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	trades, err := s.loadClosedTrades(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	stats, skipped := engine.ComputeUserStats(trades, filter)
	result := &StatsResult{Stats: stats, Skipped: skipped}

	s.cacheSet(ctx, key, result, s.opts.StatsTTL)
	return result, nil
}

// BreakdownResult is a categorical breakdown plus the top recommendable
// group, if any clears the sample threshold.
type BreakdownResult struct {
	Groups  []engine.GroupStats   `json:"groups"`
	Top     *engine.GroupStats    `json:"top,omitempty"`
	Skipped []engine.SkippedTrade `json:"skipped,omitempty"`
}

// GetUserBreakdown computes per-group statistics keyed by pattern, session
// or entry hour.
func (s *Service) GetUserBreakdown(ctx context.Context, userID, groupBy string, filter *engine.StatsFilter) (*BreakdownResult, error) {
	key := userCacheKey(userID, "breakdown:"+groupBy, filterSuffix(filter))
	var cached BreakdownResult
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	trades, err := s.loadClosedTrades(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	groups, skipped, err := engine.ComputeBreakdown(trades, groupBy, s.opts.MinSample, filter)
	if err != nil {
		return nil, err
	}
	result := &BreakdownResult{Groups: groups, Top: engine.TopGroup(groups), Skipped: skipped}

	s.cacheSet(ctx, key, result, s.opts.StatsTTL)
	return result, nil
}

// StreaksResult pairs the drawdown/streak analysis with its diagnostics
type StreaksResult struct {
	Analysis engine.DrawdownStreaks `json:"analysis"`
	Skipped  []engine.SkippedTrade  `json:"skipped,omitempty"`
}

// GetDrawdownAndStreaks computes the equity-curve analysis for one user
func (s *Service) GetDrawdownAndStreaks(ctx context.Context, userID string) (*StreaksResult, error) {
	key := userCacheKey(userID, "streaks", "")
	var cached StreaksResult
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	trades, err := s.loadClosedTrades(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	analysis, skipped := engine.ComputeDrawdownAndStreaks(trades, nil)
	result := &StreaksResult{Analysis: analysis, Skipped: skipped}

	s.cacheSet(ctx, key, result, s.opts.StatsTTL)
	return result, nil
}

// LeaderboardResult is the ranked list for one window
type LeaderboardResult struct {
	Window  string                    `json:"window"`
	Entries []engine.LeaderboardEntry `json:"entries"`
	Skipped []engine.SkippedTrade     `json:"skipped,omitempty"`
}

// GetLeaderboard ranks every user by total profit over the window. Users
// with no trades in the window keep their row with zero stats.
func (s *Service) GetLeaderboard(ctx context.Context, window string) (*LeaderboardResult, error) {
	now := time.Now()
	filter, err := engine.WindowFilter(window, now)
	if err != nil {
		return nil, err
	}

	key := "leaderboard:" + window
	var cached LeaderboardResult
	if s.cacheGet(ctx, key, &cached) {
		return &cached, nil
	}

	userIDs, err := s.store.ListUserIDs(ctx)
	if err != nil {
		return nil, err
	}
	var since time.Time
	if filter.From != nil {
		since = *filter.From
	}
	trades, err := s.store.ListClosedTradesSince(ctx, since)
	if err != nil {
		return nil, err
	}

	byUser := make(map[string]*engine.UserTrades, len(userIDs))
	users := make([]engine.UserTrades, 0, len(userIDs))
	for _, id := range userIDs {
		byUser[id] = &engine.UserTrades{UserID: id}
	}
	for _, t := range trades {
		u, ok := byUser[t.UserID]
		if !ok {
			continue
		}
		if t.Class == models.ClassOption {
			u.Option = append(u.Option, t)
		} else {
			u.Equity = append(u.Equity, t)
		}
	}
	for _, id := range userIDs {
		users = append(users, *byUser[id])
	}

	entries, skipped, err := engine.ComputeLeaderboard(users, window, now)
	if err != nil {
		return nil, err
	}
	result := &LeaderboardResult{Window: window, Entries: entries, Skipped: skipped}

	s.cacheSet(ctx, key, result, s.opts.LeaderboardTTL)
	return result, nil
}

func (s *Service) loadClosedTrades(ctx context.Context, userID string, filter *engine.StatsFilter) ([]*models.Trade, error) {
	opts := database.ListOptions{ClosedOnly: true}
	if filter != nil {
		opts.From = filter.From
		opts.To = filter.To
	}
	return s.store.ListUserTrades(ctx, userID, opts)
}

func (s *Service) publish(ctx context.Context, fn func(EventPublisher) error) {
	if s.producer == nil {
		return
	}
	if err := fn(s.producer); err != nil {
		s.logger.Error("failed to publish trade event", zap.Error(err))
	}
}

func (s *Service) invalidateUser(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidatePrefix(ctx, "user:"+userID+":"); err != nil {
		s.logger.Error("failed to invalidate user cache", zap.String("user_id", userID), zap.Error(err))
	}
	if err := s.cache.InvalidatePrefix(ctx, "leaderboard:"); err != nil {
		s.logger.Error("failed to invalidate leaderboard cache", zap.Error(err))
	}
}

func (s *Service) cacheGet(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil {
		return false
	}
	hit, err := s.cache.GetJSON(ctx, key, dest)
	if err != nil {
		s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return hit
}

func (s *Service) cacheSet(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJSON(ctx, key, value, ttl); err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) warnOnOverride(allowExtended bool, tradeID int, userID string) {
	if !allowExtended {
		return
	}
	// the business rule for extending the window is owned by the caller;
	// every use is logged so overrides stay auditable
	s.logger.Warn("day-trade window override supplied",
		zap.Int("trade_id", tradeID),
		zap.String("user_id", userID))
}

func userCacheKey(userID, view, suffix string) string {
	return fmt.Sprintf("user:%s:%s:%s", userID, view, suffix)
}

func filterSuffix(filter *engine.StatsFilter) string {
	var from, to int64
	if filter != nil {
		if filter.From != nil {
			from = filter.From.Unix()
		}
		if filter.To != nil {
			to = filter.To.Unix()
		}
	}
	return fmt.Sprintf("%d-%d", from, to)
}
