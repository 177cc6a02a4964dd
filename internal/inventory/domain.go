package inventory

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType enumerates supported inventory movements.
type TransactionType string

const (
	// TransactionTypePurchase represents goods received from a supplier.
	TransactionTypePurchase TransactionType = "PURCHASE"
	// TransactionTypeSale represents goods sold to a customer.
	TransactionTypeSale TransactionType = "SALE"
	// TransactionTypeAdjustIn is a positive manual correction.
	TransactionTypeAdjustIn TransactionType = "ADJUST_IN"
	// TransactionTypeAdjustOut is a negative manual correction.
	TransactionTypeAdjustOut TransactionType = "ADJUST_OUT"
	// TransactionTypeTransferOut deducts stock at the source branch.
	TransactionTypeTransferOut TransactionType = "TRANSFER_OUT"
	// TransactionTypeTransferIn credits stock at the destination branch.
	TransactionTypeTransferIn TransactionType = "TRANSFER_IN"
	// TransactionTypeOpening seeds the ledger with an opening balance.
	TransactionTypeOpening TransactionType = "OPENING"
	// TransactionTypeCount records a stock-take variance.
	TransactionTypeCount TransactionType = "COUNT"
)

// Movement is one append-only ledger row. QtyDelta is signed and always in
// base units; corrections are new rows, never edits.
type Movement struct {
	ID          int64
	ItemID      int64
	BranchID    int64
	QtyDelta    decimal.Decimal
	UnitCost    decimal.Decimal
	BatchNumber string
	ExpiryDate  *time.Time
	TxType      TransactionType
	RefModule   string
	RefID       string
	Note        string
	CreatedBy   int64
	CreatedAt   time.Time
}

// BatchKey identifies a batch group within one item/branch.
type BatchKey struct {
	BatchNumber string
	ExpiryDate  *time.Time
	UnitCost    decimal.Decimal
}

// BatchBalance is the net quantity of a batch group.
type BatchBalance struct {
	BatchNumber string
	ExpiryDate  *time.Time
	UnitCost    decimal.Decimal
	Available   decimal.Decimal
}

// Snapshot is the denormalized per item/branch cache. It is rebuildable from
// the ledger and must only ever change in the same transaction as a ledger
// write.
type Snapshot struct {
	ItemID     int64
	BranchID   int64
	Qty        decimal.Decimal
	NextExpiry *time.Time
	LastCost   decimal.Decimal
	UpdatedAt  time.Time
}

// Allocation is one slice of an allocation plan: take Qty base units from the
// identified batch. EntryID references the deduction movement written for it.
type Allocation struct {
	BatchNumber string
	ExpiryDate  *time.Time
	UnitCost    decimal.Decimal
	Qty         decimal.Decimal
	EntryID     int64
}

// MovementFilter restricts ListMovements.
type MovementFilter struct {
	ItemID   int64
	BranchID int64
	TxType   TransactionType
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// TotalStock sums every batch group, including groups that net to zero or
// below. It equals the sum of all ledger deltas for the pair.
func TotalStock(groups []BatchBalance) decimal.Decimal {
	total := decimal.Zero
	for _, g := range groups {
		total = total.Add(g.Available)
	}
	return total
}

// EligibleBatches filters to groups with strictly positive availability and,
// when asOf is non-zero, drops batches already expired at that instant.
// Expiry filtering is the caller's choice so past-dated reporting stays exact.
func EligibleBatches(groups []BatchBalance, asOf time.Time) []BatchBalance {
	var out []BatchBalance
	for _, g := range groups {
		if !g.Available.IsPositive() {
			continue
		}
		if !asOf.IsZero() && g.ExpiryDate != nil && g.ExpiryDate.Before(asOf) {
			continue
		}
		out = append(out, g)
	}
	return out
}

// SortFEFO orders batches earliest expiry first. Batches without an expiry
// sort last; ties break on batch number, then unit cost, so the same groups
// always yield the same plan. Cost is part of the group identity: the same
// batch received at two prices is two groups.
func SortFEFO(groups []BatchBalance) {
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if c := compareExpiry(a.ExpiryDate, b.ExpiryDate); c != 0 {
			return c < 0
		}
		if a.BatchNumber != b.BatchNumber {
			return a.BatchNumber < b.BatchNumber
		}
		return a.UnitCost.LessThan(b.UnitCost)
	})
}

func compareExpiry(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case a.Before(*b):
		return -1
	case a.After(*b):
		return 1
	default:
		return 0
	}
}

// SnapshotFrom derives the cache row for a pair from its batch groups.
// LastCost is supplied by the caller from the movement that triggered the
// refresh (or the latest ledger row during a rebuild).
func SnapshotFrom(itemID, branchID int64, groups []BatchBalance, lastCost decimal.Decimal, now time.Time) Snapshot {
	snap := Snapshot{
		ItemID:    itemID,
		BranchID:  branchID,
		Qty:       TotalStock(groups),
		LastCost:  lastCost,
		UpdatedAt: now,
	}
	for _, g := range groups {
		if !g.Available.IsPositive() || g.ExpiryDate == nil {
			continue
		}
		if snap.NextExpiry == nil || g.ExpiryDate.Before(*snap.NextExpiry) {
			exp := *g.ExpiryDate
			snap.NextExpiry = &exp
		}
	}
	return snap
}
