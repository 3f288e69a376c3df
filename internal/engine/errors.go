package engine

import "errors"

// Validation errors surfaced before any derived field is written. The
// service layer must reject the mutation when one of these is returned;
// nothing partially-computed is ever stored.
var (
	// ErrNoEntryFill indicates a trade whose fill set contains no entry.
	ErrNoEntryFill = errors.New("trade requires at least one entry fill")
	// ErrInvalidQuantity indicates a fill with non-positive quantity or negative price.
	ErrInvalidQuantity = errors.New("fill quantity must be positive and price non-negative")
	// ErrOverExit indicates cumulative exits exceeding cumulative entries.
	ErrOverExit = errors.New("exit quantity exceeds entry quantity")
	// ErrDayTradeWindow indicates an exit outside the allowed window of a
	// DAY-horizon trade with no override supplied.
	ErrDayTradeWindow = errors.New("exit outside the day-trade window")
	// ErrZeroEntryValue indicates a percentage computation against a
	// zero-value closed fraction (zero-price entry).
	ErrZeroEntryValue = errors.New("closed fraction has zero entry value")
)
