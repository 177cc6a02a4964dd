package inventory

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// memoryRepo mimics the PostgreSQL repository for service tests. Writers on
// the same (item, branch) pair serialise on a per-pair mutex held until the
// transaction ends, matching the advisory-lock behaviour of the real thing.
type memoryRepo struct {
	mu           sync.Mutex
	pairLocks    map[[2]int64]*sync.Mutex
	movements    []Movement
	snapshots    map[[2]int64]Snapshot
	nextID       int64
	failSnapshot bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		pairLocks: make(map[[2]int64]*sync.Mutex),
		snapshots: make(map[[2]int64]Snapshot),
	}
}

type memoryTx struct {
	repo   *memoryRepo
	held   map[[2]int64]*sync.Mutex
	staged []Movement
	snaps  map[[2]int64]Snapshot
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{
		repo:  r,
		held:  make(map[[2]int64]*sync.Mutex),
		snaps: make(map[[2]int64]Snapshot),
	}
	err := fn(ctx, tx)
	if err == nil {
		r.mu.Lock()
		r.movements = append(r.movements, tx.staged...)
		for pair, snap := range tx.snaps {
			r.snapshots[pair] = snap
		}
		r.mu.Unlock()
	}
	for _, lock := range tx.held {
		lock.Unlock()
	}
	return err
}

func (r *memoryRepo) pairLock(pair [2]int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.pairLocks[pair]
	if !ok {
		lock = &sync.Mutex{}
		r.pairLocks[pair] = lock
	}
	return lock
}

func (t *memoryTx) lockPair(pair [2]int64) {
	if _, held := t.held[pair]; held {
		return
	}
	lock := t.repo.pairLock(pair)
	lock.Lock()
	t.held[pair] = lock
}

func (t *memoryTx) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	t.repo.mu.Lock()
	t.repo.nextID++
	m.ID = t.repo.nextID
	t.repo.mu.Unlock()
	t.staged = append(t.staged, m)
	return m.ID, nil
}

func (t *memoryTx) BatchGroupsForUpdate(ctx context.Context, itemID, branchID int64) ([]BatchBalance, error) {
	t.lockPair([2]int64{itemID, branchID})
	return t.groups(itemID, branchID), nil
}

func (t *memoryTx) groups(itemID, branchID int64) []BatchBalance {
	var groups []BatchBalance
	for _, m := range t.visible(itemID, branchID) {
		groups = applyDelta(groups, BatchKey{BatchNumber: m.BatchNumber, ExpiryDate: m.ExpiryDate, UnitCost: m.UnitCost}, m.QtyDelta)
	}
	return groups
}

func (t *memoryTx) visible(itemID, branchID int64) []Movement {
	t.repo.mu.Lock()
	committed := make([]Movement, len(t.repo.movements))
	copy(committed, t.repo.movements)
	t.repo.mu.Unlock()

	var out []Movement
	for _, m := range append(committed, t.staged...) {
		if m.ItemID == itemID && m.BranchID == branchID {
			out = append(out, m)
		}
	}
	return out
}

func (t *memoryTx) SumMovements(ctx context.Context, itemID, branchID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, m := range t.visible(itemID, branchID) {
		total = total.Add(m.QtyDelta)
	}
	return total, nil
}

func (t *memoryTx) LastMovementCost(ctx context.Context, itemID, branchID int64) (decimal.Decimal, error) {
	visible := t.visible(itemID, branchID)
	if len(visible) == 0 {
		return decimal.Zero, nil
	}
	return visible[len(visible)-1].UnitCost, nil
}

func (t *memoryTx) UpsertSnapshot(ctx context.Context, snap Snapshot) error {
	if t.repo.failSnapshot {
		return errors.New("snapshot table unavailable")
	}
	t.snaps[[2]int64{snap.ItemID, snap.BranchID}] = snap
	return nil
}

func (r *memoryRepo) GetSnapshot(ctx context.Context, itemID, branchID int64) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.snapshots[[2]int64{itemID, branchID}]
	if !ok {
		return Snapshot{}, ErrSnapshotNotFound
	}
	return snap, nil
}

func (r *memoryRepo) SumMovements(ctx context.Context, itemID, branchID int64) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	for _, m := range r.movements {
		if m.ItemID == itemID && m.BranchID == branchID {
			total = total.Add(m.QtyDelta)
		}
	}
	return total, nil
}

func (r *memoryRepo) BatchGroups(ctx context.Context, itemID, branchID int64) ([]BatchBalance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var groups []BatchBalance
	for _, m := range r.movements {
		if m.ItemID == itemID && m.BranchID == branchID {
			groups = applyDelta(groups, BatchKey{BatchNumber: m.BatchNumber, ExpiryDate: m.ExpiryDate, UnitCost: m.UnitCost}, m.QtyDelta)
		}
	}
	return groups, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Movement
	for _, m := range r.movements {
		if m.ItemID != filter.ItemID || m.BranchID != filter.BranchID {
			continue
		}
		if filter.TxType != "" && m.TxType != filter.TxType {
			continue
		}
		if !filter.From.IsZero() && m.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !m.CreatedAt.Before(filter.To) {
			continue
		}
		out = append(out, m)
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memoryRepo) ListPairs(ctx context.Context) ([][2]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[[2]int64]bool)
	var pairs [][2]int64
	for _, m := range r.movements {
		pair := [2]int64{m.ItemID, m.BranchID}
		if !seen[pair] {
			seen[pair] = true
			pairs = append(pairs, pair)
		}
	}
	return pairs, nil
}

func (r *memoryRepo) allMovements() []Movement {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Movement, len(r.movements))
	copy(out, r.movements)
	return out
}
