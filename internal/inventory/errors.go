package inventory

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidQuantity indicates a zero or malformed quantity delta.
	ErrInvalidQuantity = errors.New("inventory: invalid quantity")
	// ErrInvalidUnitCost indicates a negative unit cost.
	ErrInvalidUnitCost = errors.New("inventory: invalid unit cost")
	// ErrInsufficientStock indicates available batch balances cannot cover a request.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrNegativeStock is the post-condition guard against driving a balance below zero.
	ErrNegativeStock = errors.New("inventory: operation would drive stock negative")
	// ErrSnapshotRefresh indicates the snapshot cache could not be refreshed.
	// It is always fatal to the transaction carrying the ledger write.
	ErrSnapshotRefresh = errors.New("inventory: snapshot refresh failed")
	// ErrSnapshotNotFound indicates a missing snapshot row.
	ErrSnapshotNotFound = errors.New("inventory: snapshot not found")
)

// InsufficientStockError reports requested versus available quantities so
// callers can render an actionable message. It unwraps to ErrInsufficientStock.
type InsufficientStockError struct {
	ItemID    int64
	BranchID  int64
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for item %d at branch %d: requested %s, available %s",
		e.ItemID, e.BranchID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }
