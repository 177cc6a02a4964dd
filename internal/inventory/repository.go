package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists the movement ledger and snapshots in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the operations available inside one ledger transaction.
// There is deliberately no update or delete on movements.
type TxRepository interface {
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	BatchGroupsForUpdate(ctx context.Context, itemID, branchID int64) ([]BatchBalance, error)
	SumMovements(ctx context.Context, itemID, branchID int64) (decimal.Decimal, error)
	LastMovementCost(ctx context.Context, itemID, branchID int64) (decimal.Decimal, error)
	UpsertSnapshot(ctx context.Context, snap Snapshot) error
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds ledger operations to an externally managed pgx
// transaction. Used by consumers that span ledger writes and their own rows
// in a single transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside one read-committed transaction. Row
// exclusivity comes from the per-pair lock taken in BatchGroupsForUpdate.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (t *txRepository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	const q = `INSERT INTO inventory_movements
		(item_id, branch_id, qty_delta, unit_cost, batch_number, expiry_date,
		 tx_type, ref_module, ref_id, note, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`
	var id int64
	err := t.tx.QueryRow(ctx, q, m.ItemID, m.BranchID, m.QtyDelta, m.UnitCost,
		m.BatchNumber, m.ExpiryDate, m.TxType, m.RefModule, m.RefID, m.Note,
		m.CreatedBy, m.CreatedAt).Scan(&id)
	return id, err
}

// BatchGroupsForUpdate serialises writers on the (item, branch) pair and
// returns the net quantity per batch group, including groups at or below zero.
//
// The advisory lock covers the insert-only gap FOR UPDATE cannot: two first
// writers with no existing rows would otherwise both proceed. The row locks
// then guarantee a later reader observes every committed delta.
func (t *txRepository) BatchGroupsForUpdate(ctx context.Context, itemID, branchID int64) ([]BatchBalance, error) {
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, pairLockKey(itemID, branchID)); err != nil {
		return nil, err
	}
	if _, err := t.tx.Exec(ctx, `SELECT id FROM inventory_movements WHERE item_id = $1 AND branch_id = $2 FOR UPDATE`, itemID, branchID); err != nil {
		return nil, err
	}
	const q = `SELECT batch_number, expiry_date, unit_cost, SUM(qty_delta)
		FROM inventory_movements
		WHERE item_id = $1 AND branch_id = $2
		GROUP BY batch_number, expiry_date, unit_cost
		ORDER BY expiry_date ASC NULLS LAST, batch_number ASC, unit_cost ASC`
	rows, err := t.tx.Query(ctx, q, itemID, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []BatchBalance
	for rows.Next() {
		var g BatchBalance
		if err := rows.Scan(&g.BatchNumber, &g.ExpiryDate, &g.UnitCost, &g.Available); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// pairLockKey folds the pair into the 64-bit advisory lock key space: the
// item id in the high bits, the branch id in the low 32. Using the single-key
// form avoids the int4 overflow of the two-key form once BIGSERIAL ids pass
// 2^31.
func pairLockKey(itemID, branchID int64) int64 {
	return itemID<<32 | (branchID & 0xffffffff)
}

func (t *txRepository) SumMovements(ctx context.Context, itemID, branchID int64) (decimal.Decimal, error) {
	return sumMovements(ctx, t.tx, itemID, branchID)
}

func (t *txRepository) LastMovementCost(ctx context.Context, itemID, branchID int64) (decimal.Decimal, error) {
	const q = `SELECT unit_cost FROM inventory_movements
		WHERE item_id = $1 AND branch_id = $2
		ORDER BY created_at DESC, id DESC LIMIT 1`
	var cost decimal.Decimal
	err := t.tx.QueryRow(ctx, q, itemID, branchID).Scan(&cost)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	return cost, err
}

func (t *txRepository) UpsertSnapshot(ctx context.Context, snap Snapshot) error {
	const q = `INSERT INTO inventory_snapshots (item_id, branch_id, qty, next_expiry, last_cost, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (item_id, branch_id)
		DO UPDATE SET qty = EXCLUDED.qty, next_expiry = EXCLUDED.next_expiry,
			last_cost = EXCLUDED.last_cost, updated_at = EXCLUDED.updated_at`
	_, err := t.tx.Exec(ctx, q, snap.ItemID, snap.BranchID, snap.Qty, snap.NextExpiry, snap.LastCost, snap.UpdatedAt)
	return err
}

// GetSnapshot reads the cached balance for a pair.
func (r *Repository) GetSnapshot(ctx context.Context, itemID, branchID int64) (Snapshot, error) {
	const q = `SELECT item_id, branch_id, qty, next_expiry, last_cost, updated_at
		FROM inventory_snapshots WHERE item_id = $1 AND branch_id = $2`
	var s Snapshot
	err := r.pool.QueryRow(ctx, q, itemID, branchID).Scan(&s.ItemID, &s.BranchID, &s.Qty, &s.NextExpiry, &s.LastCost, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrSnapshotNotFound
		}
		return Snapshot{}, err
	}
	return s, nil
}

// SumMovements computes the authoritative balance directly from the ledger.
func (r *Repository) SumMovements(ctx context.Context, itemID, branchID int64) (decimal.Decimal, error) {
	return sumMovements(ctx, r.pool, itemID, branchID)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func sumMovements(ctx context.Context, q queryRower, itemID, branchID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(qty_delta), 0) FROM inventory_movements WHERE item_id = $1 AND branch_id = $2`, itemID, branchID).Scan(&total)
	return total, err
}

// BatchGroups reads batch balances without locking, for reporting paths.
func (r *Repository) BatchGroups(ctx context.Context, itemID, branchID int64) ([]BatchBalance, error) {
	const q = `SELECT batch_number, expiry_date, unit_cost, SUM(qty_delta)
		FROM inventory_movements
		WHERE item_id = $1 AND branch_id = $2
		GROUP BY batch_number, expiry_date, unit_cost
		ORDER BY expiry_date ASC NULLS LAST, batch_number ASC, unit_cost ASC`
	rows, err := r.pool.Query(ctx, q, itemID, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []BatchBalance
	for rows.Next() {
		var g BatchBalance
		if err := rows.Scan(&g.BatchNumber, &g.ExpiryDate, &g.UnitCost, &g.Available); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// ListMovements returns ledger rows in creation order, optionally narrowed by
// transaction type and posting window.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	q := `SELECT id, item_id, branch_id, qty_delta, unit_cost, batch_number, expiry_date,
		tx_type, ref_module, ref_id, note, created_by, created_at
		FROM inventory_movements WHERE item_id = $1 AND branch_id = $2`
	args := []any{filter.ItemID, filter.BranchID}
	if filter.TxType != "" {
		args = append(args, filter.TxType)
		q += fmt.Sprintf(` AND tx_type = $%d`, len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		q += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		q += fmt.Sprintf(` AND created_at < $%d`, len(args))
	}
	q += ` ORDER BY created_at ASC, id ASC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit, filter.Offset)
	q += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ItemID, &m.BranchID, &m.QtyDelta, &m.UnitCost,
			&m.BatchNumber, &m.ExpiryDate, &m.TxType, &m.RefModule, &m.RefID, &m.Note,
			&m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// ListPairs returns every (item, branch) pair present in the ledger.
// Used by the snapshot rebuild job.
func (r *Repository) ListPairs(ctx context.Context) ([][2]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT item_id, branch_id FROM inventory_movements ORDER BY item_id, branch_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs [][2]int64
	for rows.Next() {
		var itemID, branchID int64
		if err := rows.Scan(&itemID, &branchID); err != nil {
			return nil, err
		}
		pairs = append(pairs, [2]int64{itemID, branchID})
	}
	return pairs, rows.Err()
}
