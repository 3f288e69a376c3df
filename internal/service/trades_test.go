package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tradekeep/journal-service/internal/database"
	"github.com/tradekeep/journal-service/internal/engine"
	"github.com/tradekeep/journal-service/internal/models"
)

// mockStore implements TradeStore with overridable functions
type mockStore struct {
	trades map[int]*models.Trade

	createTradeFunc    func(ctx context.Context, t *models.Trade) error
	applyFillFunc      func(ctx context.Context, tradeID int, change database.FillChange, compute database.ComputeStateFunc) (*models.Trade, error)
	fillExistsFunc     func(ctx context.Context, orderID, source string) (bool, error)
	listUserTradesFunc func(ctx context.Context, userID string, opts database.ListOptions) ([]*models.Trade, error)
	listClosedFunc     func(ctx context.Context, since time.Time) ([]*models.Trade, error)
	listUserIDsFunc    func(ctx context.Context) ([]string, error)
	deletedIDs         []int
	journalUpdates     []int
}

func newMockStore() *mockStore {
	return &mockStore{trades: make(map[int]*models.Trade)}
}

func (m *mockStore) CreateTrade(ctx context.Context, t *models.Trade) error {
	if m.createTradeFunc != nil {
		return m.createTradeFunc(ctx, t)
	}
	t.ID = len(m.trades) + 1
	m.trades[t.ID] = t
	return nil
}

func (m *mockStore) GetTradeByID(ctx context.Context, id int) (*models.Trade, error) {
	t, ok := m.trades[id]
	if !ok {
		return nil, database.ErrTradeNotFound
	}
	return t, nil
}

func (m *mockStore) ListUserTrades(ctx context.Context, userID string, opts database.ListOptions) ([]*models.Trade, error) {
	if m.listUserTradesFunc != nil {
		return m.listUserTradesFunc(ctx, userID, opts)
	}
	var out []*models.Trade
	for _, t := range m.trades {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockStore) ListClosedTradesSince(ctx context.Context, since time.Time) ([]*models.Trade, error) {
	if m.listClosedFunc != nil {
		return m.listClosedFunc(ctx, since)
	}
	return nil, nil
}

func (m *mockStore) ListUserIDs(ctx context.Context) ([]string, error) {
	if m.listUserIDsFunc != nil {
		return m.listUserIDsFunc(ctx)
	}
	return nil, nil
}

func (m *mockStore) ApplyFillChange(ctx context.Context, tradeID int, change database.FillChange, compute database.ComputeStateFunc) (*models.Trade, error) {
	if m.applyFillFunc != nil {
		return m.applyFillFunc(ctx, tradeID, change, compute)
	}
	t, ok := m.trades[tradeID]
	if !ok {
		return nil, database.ErrTradeNotFound
	}
	switch change.Op {
	case database.FillOpAdd:
		t.Fills = append(t.Fills, *change.Fill)
	case database.FillOpRemove:
		kept := t.Fills[:0]
		for _, f := range t.Fills {
			if f.ID != change.FillID {
				kept = append(kept, f)
			}
		}
		t.Fills = kept
	case database.FillOpAmend:
		for i := range t.Fills {
			if t.Fills[i].ID == change.FillID {
				fill := *change.Fill
				fill.ID = change.FillID
				t.Fills[i] = fill
			}
		}
	}
	status, pl, err := compute(t)
	if err != nil {
		return nil, err
	}
	t.Status = status
	t.ProfitLoss = pl
	return t, nil
}

func (m *mockStore) UpdateJournal(ctx context.Context, tradeID int, fields database.JournalFields) error {
	if _, ok := m.trades[tradeID]; !ok {
		return database.ErrTradeNotFound
	}
	m.journalUpdates = append(m.journalUpdates, tradeID)
	return nil
}

func (m *mockStore) DeleteTrade(ctx context.Context, id int) error {
	if _, ok := m.trades[id]; !ok {
		return database.ErrTradeNotFound
	}
	delete(m.trades, id)
	m.deletedIDs = append(m.deletedIDs, id)
	return nil
}

func (m *mockStore) FillExists(ctx context.Context, orderID, source string) (bool, error) {
	if m.fillExistsFunc != nil {
		return m.fillExistsFunc(ctx, orderID, source)
	}
	return false, nil
}

// mockPublisher records every published event by name
type mockPublisher struct {
	events []string
}

func (m *mockPublisher) PublishTradeCreated(ctx context.Context, trade *models.Trade) error {
	m.events = append(m.events, models.EventTradeCreated)
	return nil
}

func (m *mockPublisher) PublishTradeUpdated(ctx context.Context, trade *models.Trade) error {
	m.events = append(m.events, models.EventTradeUpdated)
	return nil
}

func (m *mockPublisher) PublishTradeClosed(ctx context.Context, trade *models.Trade) error {
	m.events = append(m.events, models.EventTradeClosed)
	return nil
}

func (m *mockPublisher) PublishTradeDeleted(ctx context.Context, userID string, tradeID int) error {
	m.events = append(m.events, models.EventTradeDeleted)
	return nil
}

// mockCache records invalidated prefixes; reads always miss
type mockCache struct {
	invalidated []string
	sets        map[string]interface{}
}

func newMockCache() *mockCache {
	return &mockCache{sets: make(map[string]interface{})}
}

func (m *mockCache) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	return false, nil
}

func (m *mockCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.sets[key] = value
	return nil
}

func (m *mockCache) InvalidatePrefix(ctx context.Context, prefix string) error {
	m.invalidated = append(m.invalidated, prefix)
	return nil
}

func newTestService(store *mockStore, producer *mockPublisher, cache *mockCache) *Service {
	var p EventPublisher
	if producer != nil {
		p = producer
	}
	var c ReadCache
	if cache != nil {
		c = cache
	}
	return New(store, p, c, zap.NewNop(), Options{})
}

var svcBase = time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)

func openEquityTrade(userID string) *models.Trade {
	return &models.Trade{
		UserID:    userID,
		Symbol:    "AAPL",
		Direction: models.DirectionLong,
		Class:     models.ClassEquity,
		Horizon:   models.HorizonSwing,
		Fills: []models.Fill{
			{
				ID:         1,
				Kind:       models.FillKindEntry,
				Quantity:   decimal.NewFromInt(10),
				Price:      decimal.NewFromInt(100),
				ExecutedAt: svcBase,
			},
		},
	}
}

func TestCreateTrade(t *testing.T) {
	t.Run("derives status and publishes created event", func(t *testing.T) {
		store := newMockStore()
		producer := &mockPublisher{}
		cache := newMockCache()
		svc := newTestService(store, producer, cache)

		trade := openEquityTrade("user-1")
		trade.Symbol = "  aapl "
		err := svc.CreateTrade(context.Background(), trade, false)

		require.NoError(t, err)
		assert.Equal(t, "AAPL", trade.Symbol)
		assert.Equal(t, models.StatusOpen, trade.Status)
		assert.True(t, trade.ProfitLoss.Realized.IsZero())
		assert.Equal(t, []string{models.EventTradeCreated}, producer.events)
		assert.Contains(t, cache.invalidated, "user:user-1:")
		assert.Contains(t, cache.invalidated, "leaderboard:")
	})

	t.Run("rejects invalid trade without persisting", func(t *testing.T) {
		store := newMockStore()
		svc := newTestService(store, nil, nil)

		trade := openEquityTrade("user-1")
		trade.Direction = "SIDEWAYS"
		err := svc.CreateTrade(context.Background(), trade, false)

		require.Error(t, err)
		assert.Empty(t, store.trades)
	})
}

func TestAddFill(t *testing.T) {
	t.Run("closing fill publishes closed event", func(t *testing.T) {
		store := newMockStore()
		producer := &mockPublisher{}
		svc := newTestService(store, producer, nil)

		trade := openEquityTrade("user-1")
		trade.Status = models.StatusOpen
		store.trades[1] = trade
		trade.ID = 1

		exit := models.Fill{
			ID:         2,
			Kind:       models.FillKindExit,
			Quantity:   decimal.NewFromInt(10),
			Price:      decimal.NewFromInt(120),
			ExecutedAt: svcBase.Add(time.Hour),
		}
		updated, err := svc.AddFill(context.Background(), 1, exit, false)

		require.NoError(t, err)
		assert.Equal(t, models.StatusClosed, updated.Status)
		assert.True(t, decimal.NewFromInt(200).Equal(updated.ProfitLoss.Realized))
		assert.Equal(t, []string{models.EventTradeClosed}, producer.events)
	})

	t.Run("partial fill publishes updated event", func(t *testing.T) {
		store := newMockStore()
		producer := &mockPublisher{}
		svc := newTestService(store, producer, nil)

		trade := openEquityTrade("user-1")
		trade.Status = models.StatusOpen
		store.trades[1] = trade
		trade.ID = 1

		exit := models.Fill{
			ID:         2,
			Kind:       models.FillKindExit,
			Quantity:   decimal.NewFromInt(4),
			Price:      decimal.NewFromInt(120),
			ExecutedAt: svcBase.Add(time.Hour),
		}
		updated, err := svc.AddFill(context.Background(), 1, exit, false)

		require.NoError(t, err)
		assert.Equal(t, models.StatusPartiallyClosed, updated.Status)
		assert.Equal(t, []string{models.EventTradeUpdated}, producer.events)
	})

	t.Run("rejected fill leaves trade untouched", func(t *testing.T) {
		store := newMockStore()
		svc := newTestService(store, nil, nil)

		trade := openEquityTrade("user-1")
		trade.Status = models.StatusOpen
		store.trades[1] = trade
		trade.ID = 1

		overExit := models.Fill{
			ID:         2,
			Kind:       models.FillKindExit,
			Quantity:   decimal.NewFromInt(50),
			Price:      decimal.NewFromInt(120),
			ExecutedAt: svcBase.Add(time.Hour),
		}
		_, err := svc.AddFill(context.Background(), 1, overExit, false)

		require.ErrorIs(t, err, engine.ErrOverExit)
	})
}

func TestRemoveFill(t *testing.T) {
	t.Run("removing the closing fill reopens the trade", func(t *testing.T) {
		store := newMockStore()
		producer := &mockPublisher{}
		svc := newTestService(store, producer, nil)

		trade := openEquityTrade("user-1")
		trade.ID = 1
		trade.Fills = append(trade.Fills, models.Fill{
			ID:         2,
			Kind:       models.FillKindExit,
			Quantity:   decimal.NewFromInt(10),
			Price:      decimal.NewFromInt(120),
			ExecutedAt: svcBase.Add(time.Hour),
		})
		trade.Status = models.StatusClosed
		store.trades[1] = trade

		updated, err := svc.RemoveFill(context.Background(), 1, 2, false)

		require.NoError(t, err)
		assert.Equal(t, models.StatusOpen, updated.Status)
		assert.True(t, updated.ProfitLoss.Realized.IsZero())
		assert.True(t, updated.ProfitLoss.Percentage.IsZero())
		assert.Equal(t, []string{models.EventTradeUpdated}, producer.events)
	})
}

func TestDeleteTrade(t *testing.T) {
	t.Run("publishes deleted event and invalidates views", func(t *testing.T) {
		store := newMockStore()
		producer := &mockPublisher{}
		cache := newMockCache()
		svc := newTestService(store, producer, cache)

		trade := openEquityTrade("user-1")
		trade.ID = 1
		store.trades[1] = trade

		err := svc.DeleteTrade(context.Background(), 1)

		require.NoError(t, err)
		assert.Equal(t, []int{1}, store.deletedIDs)
		assert.Equal(t, []string{models.EventTradeDeleted}, producer.events)
		assert.Contains(t, cache.invalidated, "user:user-1:")
	})

	t.Run("missing trade returns not found", func(t *testing.T) {
		store := newMockStore()
		svc := newTestService(store, nil, nil)

		err := svc.DeleteTrade(context.Background(), 42)

		assert.ErrorIs(t, err, database.ErrTradeNotFound)
	})
}

func TestApplyExecution(t *testing.T) {
	t.Run("appends broker fill to its trade", func(t *testing.T) {
		store := newMockStore()
		svc := newTestService(store, nil, nil)

		trade := openEquityTrade("user-1")
		trade.ID = 1
		store.trades[1] = trade

		event := models.FillExecutionEvent{
			OrderID:   "ord-9",
			Source:    "broker-a",
			TradeID:   1,
			Kind:      models.FillKindExit,
			Quantity:  decimal.NewFromInt(10),
			Price:     decimal.NewFromInt(110),
			Timestamp: svcBase.Add(2 * time.Hour),
		}
		err := svc.ApplyExecution(context.Background(), event)

		require.NoError(t, err)
		assert.Equal(t, models.StatusClosed, store.trades[1].Status)
		assert.Equal(t, "ord-9", store.trades[1].Fills[1].OrderID)
	})
}

func TestGetUserStats(t *testing.T) {
	t.Run("computes stats from closed trades and caches the result", func(t *testing.T) {
		store := newMockStore()
		cache := newMockCache()
		svc := newTestService(store, nil, cache)

		closed := openEquityTrade("user-1")
		closed.ID = 1
		closed.Status = models.StatusClosed
		closed.Fills = append(closed.Fills, models.Fill{
			ID:         2,
			Kind:       models.FillKindExit,
			Quantity:   decimal.NewFromInt(10),
			Price:      decimal.NewFromInt(120),
			ExecutedAt: svcBase.Add(time.Hour),
		})
		store.trades[1] = closed

		result, err := svc.GetUserStats(context.Background(), "user-1", nil)

		require.NoError(t, err)
		assert.Equal(t, 1, result.Stats.TotalTrades)
		assert.True(t, decimal.NewFromInt(200).Equal(result.Stats.TotalProfit))
		assert.Contains(t, cache.sets, "user:user-1:stats:0-0")
	})
}

func TestGetLeaderboard(t *testing.T) {
	t.Run("includes users with no trades in window", func(t *testing.T) {
		store := newMockStore()
		svc := newTestService(store, nil, nil)

		closed := openEquityTrade("alice")
		closed.ID = 1
		closed.Status = models.StatusClosed
		closed.Fills = append(closed.Fills, models.Fill{
			ID:         2,
			Kind:       models.FillKindExit,
			Quantity:   decimal.NewFromInt(10),
			Price:      decimal.NewFromInt(120),
			ExecutedAt: svcBase.Add(time.Hour),
		})

		store.listUserIDsFunc = func(ctx context.Context) ([]string, error) {
			return []string{"alice", "bob"}, nil
		}
		store.listClosedFunc = func(ctx context.Context, since time.Time) ([]*models.Trade, error) {
			return []*models.Trade{closed}, nil
		}

		result, err := svc.GetLeaderboard(context.Background(), engine.WindowAll)

		require.NoError(t, err)
		require.Len(t, result.Entries, 2)
		assert.Equal(t, "alice", result.Entries[0].UserID)
		assert.Equal(t, 1, result.Entries[0].Rank)
		assert.Equal(t, "bob", result.Entries[1].UserID)
		assert.True(t, result.Entries[1].TotalProfit.IsZero())
	})

	t.Run("unknown window is rejected", func(t *testing.T) {
		store := newMockStore()
		svc := newTestService(store, nil, nil)

		_, err := svc.GetLeaderboard(context.Background(), "fortnight")

		require.Error(t, err)
		var fieldErr *models.FieldError
		assert.ErrorAs(t, err, &fieldErr)
	})
}
