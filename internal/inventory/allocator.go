package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AllocateParams tags the deduction movements produced by an allocation.
type AllocateParams struct {
	TxType    TransactionType
	RefModule string
	RefID     string
	Note      string
	ActorID   int64

	// Now overrides the expiry cutoff, zero means time.Now().UTC().
	Now time.Time
}

// AllocateTx runs the earliest-expiry-first allocation inside an existing
// ledger transaction:
//
//  1. lock every row that can contribute to the pair's batch balances,
//  2. aggregate the locked rows into batch groups,
//  3. drop expired and non-positive groups,
//  4. order by expiry ascending (no expiry last, then batch number, then unit cost),
//  5. consume greedily, splitting the final batch,
//  6. append one negative movement per consumed batch at that batch's cost,
//  7. refresh the pair's snapshot.
//
// The same locked state always yields the same plan.
func AllocateTx(ctx context.Context, tx TxRepository, itemID, branchID int64, qtyBase decimal.Decimal, params AllocateParams) ([]Allocation, error) {
	if !qtyBase.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	now := params.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	groups, err := tx.BatchGroupsForUpdate(ctx, itemID, branchID)
	if err != nil {
		return nil, fmt.Errorf("lock batch groups: %w", err)
	}

	eligible := EligibleBatches(groups, now)
	SortFEFO(eligible)

	available := decimal.Zero
	for _, g := range eligible {
		available = available.Add(g.Available)
	}
	if available.LessThan(qtyBase) {
		return nil, &InsufficientStockError{
			ItemID:    itemID,
			BranchID:  branchID,
			Requested: qtyBase,
			Available: available,
		}
	}

	remaining := qtyBase
	var plan []Allocation
	lastCost := decimal.Zero
	for _, batch := range eligible {
		if remaining.IsZero() {
			break
		}
		take := decimal.Min(batch.Available, remaining)
		m := Movement{
			ItemID:      itemID,
			BranchID:    branchID,
			QtyDelta:    take.Neg(),
			UnitCost:    batch.UnitCost,
			BatchNumber: batch.BatchNumber,
			ExpiryDate:  batch.ExpiryDate,
			TxType:      params.TxType,
			RefModule:   params.RefModule,
			RefID:       params.RefID,
			Note:        params.Note,
			CreatedBy:   params.ActorID,
			CreatedAt:   now,
		}
		entryID, err := tx.InsertMovement(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("append deduction: %w", err)
		}
		plan = append(plan, Allocation{
			BatchNumber: batch.BatchNumber,
			ExpiryDate:  batch.ExpiryDate,
			UnitCost:    batch.UnitCost,
			Qty:         take,
			EntryID:     entryID,
		})
		lastCost = batch.UnitCost
		remaining = remaining.Sub(take)
	}

	for _, a := range plan {
		groups = applyDelta(groups, BatchKey{BatchNumber: a.BatchNumber, ExpiryDate: a.ExpiryDate, UnitCost: a.UnitCost}, a.Qty.Neg())
	}
	snap := SnapshotFrom(itemID, branchID, groups, lastCost, now)
	if err := tx.UpsertSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotRefresh, err)
	}
	return plan, nil
}

// applyDelta adjusts the matching batch group in place, adding a group when
// the key is new.
func applyDelta(groups []BatchBalance, key BatchKey, delta decimal.Decimal) []BatchBalance {
	for i := range groups {
		if groups[i].BatchNumber == key.BatchNumber &&
			sameExpiry(groups[i].ExpiryDate, key.ExpiryDate) &&
			groups[i].UnitCost.Equal(key.UnitCost) {
			groups[i].Available = groups[i].Available.Add(delta)
			return groups
		}
	}
	return append(groups, BatchBalance{
		BatchNumber: key.BatchNumber,
		ExpiryDate:  key.ExpiryDate,
		UnitCost:    key.UnitCost,
		Available:   delta,
	})
}

func sameExpiry(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
