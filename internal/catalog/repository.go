package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrItemNotFound indicates a missing item row.
var ErrItemNotFound = errors.New("catalog: item not found")

// ErrBranchNotFound indicates a missing branch row.
var ErrBranchNotFound = errors.New("catalog: branch not found")

// Repository persists catalog data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	const q = `SELECT id, sku, name, base_unit, wholesale_unit, supplier_unit,
		pack_to_base_factor, supplier_pack_factor, active, created_at, updated_at
		FROM items WHERE id = $1`
	var it Item
	err := r.pool.QueryRow(ctx, q, id).Scan(&it.ID, &it.SKU, &it.Name, &it.BaseUnit,
		&it.WholesaleUnit, &it.SupplierUnit, &it.PackToBaseFactor, &it.SupplierPackFactor,
		&it.Active, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return it, nil
}

func (r *Repository) ListItems(ctx context.Context, activeOnly bool) ([]Item, error) {
	q := `SELECT id, sku, name, base_unit, wholesale_unit, supplier_unit,
		pack_to_base_factor, supplier_pack_factor, active, created_at, updated_at
		FROM items`
	if activeOnly {
		q += ` WHERE active`
	}
	q += ` ORDER BY sku`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.SKU, &it.Name, &it.BaseUnit, &it.WholesaleUnit,
			&it.SupplierUnit, &it.PackToBaseFactor, &it.SupplierPackFactor, &it.Active,
			&it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *Repository) CreateItem(ctx context.Context, it Item) (Item, error) {
	const q = `INSERT INTO items (sku, name, base_unit, wholesale_unit, supplier_unit,
		pack_to_base_factor, supplier_pack_factor, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, it.SKU, it.Name, it.BaseUnit, it.WholesaleUnit,
		it.SupplierUnit, it.PackToBaseFactor, it.SupplierPackFactor, it.Active).
		Scan(&it.ID, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return Item{}, err
	}
	return it, nil
}

func (r *Repository) UpdateItem(ctx context.Context, it Item) error {
	const q = `UPDATE items SET sku=$2, name=$3, base_unit=$4, wholesale_unit=$5,
		supplier_unit=$6, pack_to_base_factor=$7, supplier_pack_factor=$8, active=$9,
		updated_at=NOW() WHERE id=$1`
	tag, err := r.pool.Exec(ctx, q, it.ID, it.SKU, it.Name, it.BaseUnit, it.WholesaleUnit,
		it.SupplierUnit, it.PackToBaseFactor, it.SupplierPackFactor, it.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// UpdateItemWithFactorGuard applies the update only while no non-opening
// movement exists for the item. The guard lives in the UPDATE's predicate, so
// a movement posted between reading the item and writing it cannot slip a
// factor change past the freeze.
func (r *Repository) UpdateItemWithFactorGuard(ctx context.Context, it Item) error {
	const q = `UPDATE items SET sku=$2, name=$3, base_unit=$4, wholesale_unit=$5,
		supplier_unit=$6, pack_to_base_factor=$7, supplier_pack_factor=$8, active=$9,
		updated_at=NOW()
		WHERE id=$1 AND NOT EXISTS (
			SELECT 1 FROM inventory_movements WHERE item_id = $1 AND tx_type <> 'OPENING'
		)`
	tag, err := r.pool.Exec(ctx, q, it.ID, it.SKU, it.Name, it.BaseUnit, it.WholesaleUnit,
		it.SupplierUnit, it.PackToBaseFactor, it.SupplierPackFactor, it.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		posted, err := r.HasPostedMovements(ctx, it.ID)
		if err != nil {
			return err
		}
		if posted {
			return ErrFactorsLocked
		}
		return ErrItemNotFound
	}
	return nil
}

// HasPostedMovements reports whether any ledger entry beyond the opening
// balance exists for the item. Conversion factors are frozen once this is true.
func (r *Repository) HasPostedMovements(ctx context.Context, itemID int64) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM inventory_movements WHERE item_id = $1 AND tx_type <> 'OPENING'
	)`
	var exists bool
	if err := r.pool.QueryRow(ctx, q, itemID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *Repository) GetBranch(ctx context.Context, id int64) (Branch, error) {
	const q = `SELECT id, code, name, active, created_at FROM branches WHERE id = $1`
	var b Branch
	err := r.pool.QueryRow(ctx, q, id).Scan(&b.ID, &b.Code, &b.Name, &b.Active, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Branch{}, ErrBranchNotFound
		}
		return Branch{}, err
	}
	return b, nil
}

func (r *Repository) ListBranches(ctx context.Context) ([]Branch, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, active, created_at FROM branches ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var branches []Branch
	for rows.Next() {
		var b Branch
		if err := rows.Scan(&b.ID, &b.Code, &b.Name, &b.Active, &b.CreatedAt); err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

func (r *Repository) CreateBranch(ctx context.Context, b Branch) (Branch, error) {
	const q = `INSERT INTO branches (code, name, active) VALUES ($1, $2, $3) RETURNING id, created_at`
	if err := r.pool.QueryRow(ctx, q, b.Code, b.Name, b.Active).Scan(&b.ID, &b.CreatedAt); err != nil {
		return Branch{}, err
	}
	return b, nil
}
