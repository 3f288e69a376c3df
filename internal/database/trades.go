package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/tradekeep/journal-service/internal/models"
)

// Repository errors
var (
	ErrTradeNotFound = errors.New("trade not found")
	ErrFillNotFound  = errors.New("fill not found")
)

// FillOp identifies the kind of fill mutation applied to a trade.
type FillOp string

// Fill mutation operations
const (
	FillOpAdd    FillOp = "add"
	FillOpAmend  FillOp = "amend"
	FillOpRemove FillOp = "remove"
)

// FillChange describes one fill mutation. Fill is required for add and
// amend; FillID is required for amend and remove.
type FillChange struct {
	Op     FillOp
	FillID int
	Fill   *models.Fill
}

// ComputeStateFunc derives the trade's status and P&L from its mutated fill
// list. It runs inside the mutation transaction, before anything is
// written; returning an error aborts the whole change.
type ComputeStateFunc func(t *models.Trade) (status string, pl models.ProfitLoss, err error)

// ListOptions filters trade listings.
type ListOptions struct {
	From       *time.Time
	To         *time.Time
	ClosedOnly bool
	Limit      int
}

const tradeColumns = `
		id, user_id, symbol, direction, trade_class, horizon, status,
		realized, percentage, per_unit,
		contract_type, strike, expiration,
		greeks_delta, greeks_gamma, greeks_theta, greeks_vega, greeks_iv,
		pattern, session, mistakes, notes, created_at, updated_at`

// CreateTrade inserts a trade together with its initial fills. The caller
// must have derived status and profit/loss already; both are persisted
// atomically with the fills.
func (db *DB) CreateTrade(ctx context.Context, t *models.Trade) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO trades (
			user_id, symbol, direction, trade_class, horizon, status,
			realized, percentage, per_unit,
			contract_type, strike, expiration,
			greeks_delta, greeks_gamma, greeks_theta, greeks_vega, greeks_iv,
			pattern, session, mistakes, notes, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $22
		)
		RETURNING id, created_at
	`
	now := time.Now()
	opt := optionColumns(t.Option)
	err = tx.QueryRowContext(ctx, query,
		t.UserID, t.Symbol, t.Direction, t.Class, nullString(t.Horizon), t.Status,
		t.ProfitLoss.Realized, t.ProfitLoss.Percentage, t.ProfitLoss.PerUnit,
		opt.contractType, opt.strike, opt.expiration,
		opt.delta, opt.gamma, opt.theta, opt.vega, opt.iv,
		nullString(t.Pattern), nullString(t.Session), pq.Array(t.Mistakes), nullString(t.Notes), now,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	t.UpdatedAt = t.CreatedAt

	for i := range t.Fills {
		if err := insertFill(ctx, tx, t.ID, &t.Fills[i]); err != nil {
			return err
		}
		t.Fills[i].TradeID = t.ID
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit trade: %w", err)
	}
	return nil
}

// GetTradeByID retrieves a trade with its fills
func (db *DB) GetTradeByID(ctx context.Context, id int) (*models.Trade, error) {
	query := `SELECT` + tradeColumns + ` FROM trades WHERE id = $1`
	t, err := scanTrade(db.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	fills, err := db.loadFills(ctx, db.conn, id)
	if err != nil {
		return nil, err
	}
	t.Fills = fills
	return t, nil
}

// ListUserTrades retrieves one user's trades, newest first, with optional
// exit-date range and closed-only filters.
func (db *DB) ListUserTrades(ctx context.Context, userID string, opts ListOptions) ([]*models.Trade, error) {
	query := `SELECT` + tradeColumns + ` FROM trades WHERE user_id = $1`
	args := []interface{}{userID}
	if opts.ClosedOnly {
		query += ` AND status = 'CLOSED'`
	}
	if opts.From != nil {
		args = append(args, *opts.From)
		query += fmt.Sprintf(` AND id IN (SELECT trade_id FROM fills WHERE kind = 'EXIT' AND executed_at >= $%d)`, len(args))
	}
	if opts.To != nil {
		args = append(args, *opts.To)
		query += fmt.Sprintf(` AND id NOT IN (SELECT trade_id FROM fills WHERE kind = 'EXIT' AND executed_at >= $%d)`, len(args))
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	return db.scanTradesWithFills(ctx, rows, err)
}

// ListClosedTradesSince retrieves all users' closed trades whose last exit
// is at or after since. A zero since returns everything; this is the
// leaderboard feed.
func (db *DB) ListClosedTradesSince(ctx context.Context, since time.Time) ([]*models.Trade, error) {
	query := `SELECT` + tradeColumns + ` FROM trades WHERE status = 'CLOSED'`
	args := []interface{}{}
	if !since.IsZero() {
		args = append(args, since)
		query += ` AND id IN (SELECT trade_id FROM fills WHERE kind = 'EXIT' AND executed_at >= $1)`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	return db.scanTradesWithFills(ctx, rows, err)
}

// ListUserIDs returns every user that has recorded at least one trade
func (db *DB) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT DISTINCT user_id FROM trades ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// ApplyFillChange mutates a trade's fill set under a row lock. The trade
// row is locked for the duration of the transaction so concurrent fill
// edits on the same trade serialize instead of losing updates; compute runs
// on the mutated in-memory fill list and its derived values are written
// together with the fill change, or not at all.
func (db *DB) ApplyFillChange(ctx context.Context, tradeID int, change FillChange, compute ComputeStateFunc) (*models.Trade, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT` + tradeColumns + ` FROM trades WHERE id = $1 FOR UPDATE`
	t, err := scanTrade(tx.QueryRowContext(ctx, query, tradeID))
	if err != nil {
		return nil, err
	}
	fills, err := db.loadFills(ctx, tx, tradeID)
	if err != nil {
		return nil, err
	}
	t.Fills = fills

	switch change.Op {
	case FillOpAdd:
		f := *change.Fill
		f.TradeID = tradeID
		t.Fills = append(t.Fills, f)
	case FillOpAmend:
		idx := fillIndex(t.Fills, change.FillID)
		if idx < 0 {
			return nil, ErrFillNotFound
		}
		f := &t.Fills[idx]
		f.Kind = change.Fill.Kind
		f.Quantity = change.Fill.Quantity
		f.Price = change.Fill.Price
		f.ExecutedAt = change.Fill.ExecutedAt
	case FillOpRemove:
		idx := fillIndex(t.Fills, change.FillID)
		if idx < 0 {
			return nil, ErrFillNotFound
		}
		t.Fills = append(t.Fills[:idx], t.Fills[idx+1:]...)
	default:
		return nil, fmt.Errorf("unknown fill operation: %s", change.Op)
	}

	status, pl, err := compute(t)
	if err != nil {
		return nil, err
	}
	t.Status = status
	t.ProfitLoss = pl

	switch change.Op {
	case FillOpAdd:
		if err := insertFill(ctx, tx, tradeID, &t.Fills[len(t.Fills)-1]); err != nil {
			return nil, err
		}
	case FillOpAmend:
		res, err := tx.ExecContext(ctx,
			`UPDATE fills SET kind = $1, quantity = $2, price = $3, executed_at = $4 WHERE id = $5 AND trade_id = $6`,
			change.Fill.Kind, change.Fill.Quantity, change.Fill.Price, change.Fill.ExecutedAt, change.FillID, tradeID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to amend fill: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, ErrFillNotFound
		}
	case FillOpRemove:
		res, err := tx.ExecContext(ctx,
			`DELETE FROM fills WHERE id = $1 AND trade_id = $2`, change.FillID, tradeID)
		if err != nil {
			return nil, fmt.Errorf("failed to remove fill: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, ErrFillNotFound
		}
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx,
		`UPDATE trades SET status = $1, realized = $2, percentage = $3, per_unit = $4, updated_at = $5 WHERE id = $6`,
		t.Status, t.ProfitLoss.Realized, t.ProfitLoss.Percentage, t.ProfitLoss.PerUnit, now, tradeID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update trade state: %w", err)
	}
	t.UpdatedAt = now

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit fill change: %w", err)
	}
	return t, nil
}

// JournalFields are the descriptive tags a user can edit without touching
// the fill set. They never affect P&L.
type JournalFields struct {
	Pattern  string
	Session  string
	Mistakes []string
	Notes    string
}

// UpdateJournal updates a trade's descriptive tags
func (db *DB) UpdateJournal(ctx context.Context, tradeID int, fields JournalFields) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE trades SET pattern = $1, session = $2, mistakes = $3, notes = $4, updated_at = $5 WHERE id = $6`,
		nullString(fields.Pattern), nullString(fields.Session), pq.Array(fields.Mistakes), nullString(fields.Notes),
		time.Now(), tradeID,
	)
	if err != nil {
		return fmt.Errorf("failed to update journal fields: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTradeNotFound
	}
	return nil
}

// DeleteTrade removes a trade and its fills
func (db *DB) DeleteTrade(ctx context.Context, id int) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM trades WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete trade: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTradeNotFound
	}
	return nil
}

// FillExists checks whether a broker execution has already been recorded
func (db *DB) FillExists(ctx context.Context, orderID, source string) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM fills WHERE order_id = $1 AND source = $2)`,
		orderID, source,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check fill existence: %w", err)
	}
	return exists, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (db *DB) loadFills(ctx context.Context, q querier, tradeID int) ([]models.Fill, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, trade_id, kind, quantity, price, executed_at, order_id, source, created_at
		 FROM fills WHERE trade_id = $1 ORDER BY id ASC`, tradeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fills: %w", err)
	}
	defer rows.Close()
	return scanFills(rows)
}

func (db *DB) scanTradesWithFills(ctx context.Context, rows *sql.Rows, err error) ([]*models.Trade, error) {
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []*models.Trade
	byID := make(map[int]*models.Trade)
	var ids []int
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
		byID[t.ID] = t
		ids = append(ids, t.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trades: %w", err)
	}
	if len(ids) == 0 {
		return trades, nil
	}

	fillRows, err := db.conn.QueryContext(ctx,
		`SELECT id, trade_id, kind, quantity, price, executed_at, order_id, source, created_at
		 FROM fills WHERE trade_id = ANY($1) ORDER BY id ASC`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query fills: %w", err)
	}
	defer fillRows.Close()

	fills, err := scanFills(fillRows)
	if err != nil {
		return nil, err
	}
	for _, f := range fills {
		if t, ok := byID[f.TradeID]; ok {
			t.Fills = append(t.Fills, f)
		}
	}
	return trades, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row rowScanner) (*models.Trade, error) {
	var t models.Trade
	var horizon, contractType, strike sql.NullString
	var expiration sql.NullTime
	var delta, gamma, theta, vega, iv sql.NullString
	var pattern, session, notes sql.NullString
	var mistakes pq.StringArray

	err := row.Scan(
		&t.ID, &t.UserID, &t.Symbol, &t.Direction, &t.Class, &horizon, &t.Status,
		&t.ProfitLoss.Realized, &t.ProfitLoss.Percentage, &t.ProfitLoss.PerUnit,
		&contractType, &strike, &expiration,
		&delta, &gamma, &theta, &vega, &iv,
		&pattern, &session, &mistakes, &notes, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTradeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan trade: %w", err)
	}

	if horizon.Valid {
		t.Horizon = horizon.String
	}
	if pattern.Valid {
		t.Pattern = pattern.String
	}
	if session.Valid {
		t.Session = session.String
	}
	if notes.Valid {
		t.Notes = notes.String
	}
	t.Mistakes = []string(mistakes)

	if contractType.Valid {
		opt := &models.OptionDetails{ContractType: contractType.String}
		if strike.Valid {
			opt.Strike, _ = decimal.NewFromString(strike.String)
		}
		if expiration.Valid {
			opt.Expiration = expiration.Time
		}
		if delta.Valid || gamma.Valid || theta.Valid || vega.Valid || iv.Valid {
			g := &models.Greeks{}
			if delta.Valid {
				g.Delta, _ = decimal.NewFromString(delta.String)
			}
			if gamma.Valid {
				g.Gamma, _ = decimal.NewFromString(gamma.String)
			}
			if theta.Valid {
				g.Theta, _ = decimal.NewFromString(theta.String)
			}
			if vega.Valid {
				g.Vega, _ = decimal.NewFromString(vega.String)
			}
			if iv.Valid {
				g.IV, _ = decimal.NewFromString(iv.String)
			}
			opt.Greeks = g
		}
		t.Option = opt
	}

	return &t, nil
}

func scanFills(rows *sql.Rows) ([]models.Fill, error) {
	var fills []models.Fill
	for rows.Next() {
		var f models.Fill
		var orderID, source sql.NullString
		err := rows.Scan(&f.ID, &f.TradeID, &f.Kind, &f.Quantity, &f.Price, &f.ExecutedAt, &orderID, &source, &f.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		if orderID.Valid {
			f.OrderID = orderID.String
		}
		if source.Valid {
			f.Source = source.String
		}
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func insertFill(ctx context.Context, q execer, tradeID int, f *models.Fill) error {
	now := time.Now()
	err := q.QueryRowContext(ctx,
		`INSERT INTO fills (trade_id, kind, quantity, price, executed_at, order_id, source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		tradeID, f.Kind, f.Quantity, f.Price, f.ExecutedAt,
		nullString(f.OrderID), nullString(f.Source), now,
	).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("failed to insert fill: %w", err)
	}
	f.CreatedAt = now
	return nil
}

func fillIndex(fills []models.Fill, id int) int {
	for i := range fills {
		if fills[i].ID == id {
			return i
		}
	}
	return -1
}

type optionCols struct {
	contractType sql.NullString
	strike       sql.NullString
	expiration   sql.NullTime
	delta        sql.NullString
	gamma        sql.NullString
	theta        sql.NullString
	vega         sql.NullString
	iv           sql.NullString
}

func optionColumns(opt *models.OptionDetails) optionCols {
	var c optionCols
	if opt == nil {
		return c
	}
	c.contractType = sql.NullString{String: opt.ContractType, Valid: true}
	c.strike = sql.NullString{String: opt.Strike.String(), Valid: true}
	c.expiration = sql.NullTime{Time: opt.Expiration, Valid: !opt.Expiration.IsZero()}
	if opt.Greeks != nil {
		c.delta = sql.NullString{String: opt.Greeks.Delta.String(), Valid: true}
		c.gamma = sql.NullString{String: opt.Greeks.Gamma.String(), Valid: true}
		c.theta = sql.NullString{String: opt.Greeks.Theta.String(), Valid: true}
		c.vega = sql.NullString{String: opt.Greeks.Vega.String(), Valid: true}
		c.iv = sql.NullString{String: opt.Greeks.IV.String(), Valid: true}
	}
	return c
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
