package inventory

import (
	"context"
	"errors"
	"fmt"
)

// AppendTx writes one movement and refreshes the pair's snapshot inside an
// existing ledger transaction. This is the only write path into the ledger;
// rows are never updated or deleted afterwards.
func AppendTx(ctx context.Context, tx TxRepository, m Movement, allowNegative bool) (Movement, error) {
	if m.ItemID <= 0 || m.BranchID <= 0 {
		return Movement{}, errors.New("inventory: item and branch required")
	}
	if m.QtyDelta.IsZero() {
		return Movement{}, ErrInvalidQuantity
	}
	if m.UnitCost.IsNegative() {
		return Movement{}, ErrInvalidUnitCost
	}
	if m.TxType == "" {
		return Movement{}, errors.New("inventory: transaction type required")
	}

	groups, err := tx.BatchGroupsForUpdate(ctx, m.ItemID, m.BranchID)
	if err != nil {
		return Movement{}, err
	}
	newTotal := TotalStock(groups).Add(m.QtyDelta)
	if !allowNegative && newTotal.IsNegative() {
		return Movement{}, ErrNegativeStock
	}
	id, err := tx.InsertMovement(ctx, m)
	if err != nil {
		return Movement{}, err
	}
	m.ID = id
	groups = applyDelta(groups, BatchKey{BatchNumber: m.BatchNumber, ExpiryDate: m.ExpiryDate, UnitCost: m.UnitCost}, m.QtyDelta)
	snap := SnapshotFrom(m.ItemID, m.BranchID, groups, m.UnitCost, m.CreatedAt)
	if err := tx.UpsertSnapshot(ctx, snap); err != nil {
		return Movement{}, fmt.Errorf("%w: %v", ErrSnapshotRefresh, err)
	}
	return m, nil
}
