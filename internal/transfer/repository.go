package transfer

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
)

// Repository persists transfers and receipts in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transfer operations inside one transaction, plus the
// ledger operations bound to the same transaction so completion and receipt
// confirmation stay atomic across both.
type TxRepository interface {
	Inventory() inventory.TxRepository
	GetTransferForUpdate(ctx context.Context, id uuid.UUID) (Request, error)
	MarkTransferCompleted(ctx context.Context, id uuid.UUID) error
	InsertReceipt(ctx context.Context, rec Receipt) error
	GetReceiptForUpdate(ctx context.Context, id uuid.UUID) (Receipt, error)
	MarkReceiptReceived(ctx context.Context, id uuid.UUID, receivedBy int64) error
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside one read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("transfer repository not initialised")
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

func (t *txRepository) Inventory() inventory.TxRepository {
	return inventory.NewTxRepository(t.tx)
}

// CreateTransfer inserts a DRAFT transfer with its lines.
func (r *Repository) CreateTransfer(ctx context.Context, req Request) (Request, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Request{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const q = `INSERT INTO transfer_requests (id, code, source_branch_id, dest_branch_id, status, note, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`
	if err := tx.QueryRow(ctx, q, req.ID, req.Code, req.SourceBranchID, req.DestBranchID,
		req.Status, req.Note, req.CreatedBy).Scan(&req.CreatedAt); err != nil {
		return Request{}, err
	}
	if err := insertLines(ctx, tx, req.ID, req.Lines); err != nil {
		return Request{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Request{}, err
	}
	return r.GetTransfer(ctx, req.ID)
}

// ReplaceLines swaps the line set of a draft transfer.
func (r *Repository) ReplaceLines(ctx context.Context, transferID uuid.UUID, lines []Line) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM transfer_lines WHERE transfer_id = $1`, transferID); err != nil {
		return err
	}
	if err := insertLines(ctx, tx, transferID, lines); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertLines(ctx context.Context, tx pgx.Tx, transferID uuid.UUID, lines []Line) error {
	for _, line := range lines {
		_, err := tx.Exec(ctx, `INSERT INTO transfer_lines (transfer_id, item_id, qty, unit) VALUES ($1, $2, $3, $4)`,
			transferID, line.ItemID, line.Qty, line.Unit)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetTransfer loads a transfer with its lines.
func (r *Repository) GetTransfer(ctx context.Context, id uuid.UUID) (Request, error) {
	return getTransfer(ctx, r.pool, id, false)
}

func (t *txRepository) GetTransferForUpdate(ctx context.Context, id uuid.UUID) (Request, error) {
	return getTransfer(ctx, t.tx, id, true)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getTransfer(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (Request, error) {
	query := `SELECT id, code, source_branch_id, dest_branch_id, status, note, created_by, created_at, completed_at
		FROM transfer_requests WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var req Request
	err := q.QueryRow(ctx, query, id).Scan(&req.ID, &req.Code, &req.SourceBranchID,
		&req.DestBranchID, &req.Status, &req.Note, &req.CreatedBy, &req.CreatedAt, &req.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrTransferNotFound
		}
		return Request{}, err
	}

	rows, err := q.Query(ctx, `SELECT id, transfer_id, item_id, qty, unit FROM transfer_lines WHERE transfer_id = $1 ORDER BY id`, id)
	if err != nil {
		return Request{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.TransferID, &line.ItemID, &line.Qty, &line.Unit); err != nil {
			return Request{}, err
		}
		req.Lines = append(req.Lines, line)
	}
	return req, rows.Err()
}

func (t *txRepository) MarkTransferCompleted(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `UPDATE transfer_requests SET status = $2, completed_at = NOW() WHERE id = $1 AND status = $3`,
		id, StatusCompleted, StatusDraft)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotDraft
	}
	return nil
}

func (t *txRepository) InsertReceipt(ctx context.Context, rec Receipt) error {
	const q = `INSERT INTO receipts (id, transfer_id, dest_branch_id, status) VALUES ($1, $2, $3, $4)`
	if _, err := t.tx.Exec(ctx, q, rec.ID, rec.TransferID, rec.DestBranchID, rec.Status); err != nil {
		return err
	}
	for _, line := range rec.Lines {
		_, err := t.tx.Exec(ctx, `INSERT INTO receipt_lines (receipt_id, item_id, batch_number, expiry_date, unit_cost, qty, source_entry_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rec.ID, line.ItemID, line.BatchNumber, line.ExpiryDate, line.UnitCost, line.Qty, line.SourceEntryID)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetReceipt loads a receipt with its lines.
func (r *Repository) GetReceipt(ctx context.Context, id uuid.UUID) (Receipt, error) {
	return getReceipt(ctx, r.pool, id, false)
}

func (t *txRepository) GetReceiptForUpdate(ctx context.Context, id uuid.UUID) (Receipt, error) {
	return getReceipt(ctx, t.tx, id, true)
}

func getReceipt(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (Receipt, error) {
	query := `SELECT id, transfer_id, dest_branch_id, status, created_at, received_at, received_by
		FROM receipts WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var rec Receipt
	err := q.QueryRow(ctx, query, id).Scan(&rec.ID, &rec.TransferID, &rec.DestBranchID,
		&rec.Status, &rec.CreatedAt, &rec.ReceivedAt, &rec.ReceivedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Receipt{}, ErrReceiptNotFound
		}
		return Receipt{}, err
	}

	rows, err := q.Query(ctx, `SELECT id, receipt_id, item_id, batch_number, expiry_date, unit_cost, qty, source_entry_id
		FROM receipt_lines WHERE receipt_id = $1 ORDER BY id`, id)
	if err != nil {
		return Receipt{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line ReceiptLine
		if err := rows.Scan(&line.ID, &line.ReceiptID, &line.ItemID, &line.BatchNumber,
			&line.ExpiryDate, &line.UnitCost, &line.Qty, &line.SourceEntryID); err != nil {
			return Receipt{}, err
		}
		rec.Lines = append(rec.Lines, line)
	}
	return rec, rows.Err()
}

func (t *txRepository) MarkReceiptReceived(ctx context.Context, id uuid.UUID, receivedBy int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE receipts SET status = $2, received_at = NOW(), received_by = $3 WHERE id = $1 AND status = $4`,
		id, ReceiptReceived, receivedBy, ReceiptPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyReceived
	}
	return nil
}
