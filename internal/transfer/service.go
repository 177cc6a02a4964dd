package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/catalog"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/uom"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CreateTransfer(ctx context.Context, req Request) (Request, error)
	ReplaceLines(ctx context.Context, transferID uuid.UUID, lines []Line) error
	GetTransfer(ctx context.Context, id uuid.UUID) (Request, error)
	GetReceipt(ctx context.Context, id uuid.UUID) (Receipt, error)
}

// ItemSource resolves items for unit conversion.
type ItemSource interface {
	GetItem(ctx context.Context, id int64) (catalog.Item, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the transfer state machine on top of the ledger.
type Service struct {
	repo        RepositoryPort
	items       ItemSource
	audit       AuditPort
	events      inventory.Publisher
	idempotency *shared.IdempotencyStore
	logger      *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, items ItemSource, audit AuditPort, events inventory.Publisher, idem *shared.IdempotencyStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, items: items, audit: audit, events: events, idempotency: idem, logger: logger}
}

// CreateInput describes a new draft transfer.
type CreateInput struct {
	Code           string
	SourceBranchID int64
	DestBranchID   int64
	Note           string
	Lines          []LineInput
	ActorID        int64
}

// LineInput is one requested line in the caller's unit.
type LineInput struct {
	ItemID int64
	Qty    decimal.Decimal
	Unit   string
}

// Create opens a DRAFT transfer.
func (s *Service) Create(ctx context.Context, input CreateInput) (Request, error) {
	if input.SourceBranchID <= 0 || input.DestBranchID <= 0 {
		return Request{}, errors.New("transfer: source and destination branch required")
	}
	if input.SourceBranchID == input.DestBranchID {
		return Request{}, ErrSameBranch
	}
	lines, err := buildLines(input.Lines)
	if err != nil {
		return Request{}, err
	}
	req := Request{
		ID:             uuid.New(),
		Code:           input.Code,
		SourceBranchID: input.SourceBranchID,
		DestBranchID:   input.DestBranchID,
		Status:         StatusDraft,
		Note:           input.Note,
		Lines:          lines,
		CreatedBy:      input.ActorID,
	}
	if req.Code == "" {
		req.Code = fmt.Sprintf("TRF-%d", time.Now().UTC().UnixNano())
	}
	return s.repo.CreateTransfer(ctx, req)
}

// UpdateLines replaces the line set of a draft transfer.
func (s *Service) UpdateLines(ctx context.Context, transferID uuid.UUID, inputs []LineInput) (Request, error) {
	existing, err := s.repo.GetTransfer(ctx, transferID)
	if err != nil {
		return Request{}, err
	}
	if !existing.CanEdit() {
		return Request{}, ErrNotDraft
	}
	lines, err := buildLines(inputs)
	if err != nil {
		return Request{}, err
	}
	if err := s.repo.ReplaceLines(ctx, transferID, lines); err != nil {
		return Request{}, err
	}
	return s.repo.GetTransfer(ctx, transferID)
}

// Get loads a transfer.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Request, error) {
	return s.repo.GetTransfer(ctx, id)
}

// GetReceipt loads a receipt.
func (s *Service) GetReceipt(ctx context.Context, id uuid.UUID) (Receipt, error) {
	return s.repo.GetReceipt(ctx, id)
}

// Complete is the only transition out of DRAFT and is terminal. In one
// transaction it converts every line to base units, allocates
// earliest-expiry-first at the source, writes the deduction entries and
// snapshot, creates the PENDING receipt mirroring the allocated batches, and
// verifies no affected source balance went negative. Any failure rolls back
// the whole step.
func (s *Service) Complete(ctx context.Context, transferID uuid.UUID, actorID int64) (Request, Receipt, error) {
	idemKey := shared.IdempotencyKey("transfer", "complete", transferID.String())
	insertedKey := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idemKey, "transfer"); err != nil {
			return Request{}, Receipt{}, err
		}
		insertedKey = true
	}

	now := time.Now().UTC()
	receipt := Receipt{
		ID:     uuid.New(),
		Status: ReceiptPending,
	}
	var deducted []inventory.Movement

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetTransferForUpdate(ctx, transferID)
		if err != nil {
			return err
		}
		if req.Status != StatusDraft {
			return ErrNotDraft
		}
		if req.SourceBranchID == req.DestBranchID {
			return ErrSameBranch
		}
		if len(req.Lines) == 0 {
			return ErrNoLines
		}
		receipt.TransferID = req.ID
		receipt.DestBranchID = req.DestBranchID

		invTx := tx.Inventory()
		affected := make(map[int64]struct{})
		for _, line := range req.Lines {
			item, err := s.items.GetItem(ctx, line.ItemID)
			if err != nil {
				return fmt.Errorf("resolve item %d: %w", line.ItemID, err)
			}
			qtyBase, err := uom.ToBase(item, line.Qty, line.Unit)
			if err != nil {
				return err
			}
			plan, err := inventory.AllocateTx(ctx, invTx, line.ItemID, req.SourceBranchID, qtyBase, inventory.AllocateParams{
				TxType:    inventory.TransactionTypeTransferOut,
				RefModule: "transfer",
				RefID:     req.ID.String(),
				Note:      fmt.Sprintf("transfer %s to branch %d", req.Code, req.DestBranchID),
				ActorID:   actorID,
				Now:       now,
			})
			if err != nil {
				return err
			}
			for _, a := range plan {
				receipt.Lines = append(receipt.Lines, ReceiptLine{
					ReceiptID:     receipt.ID,
					ItemID:        line.ItemID,
					BatchNumber:   a.BatchNumber,
					ExpiryDate:    a.ExpiryDate,
					UnitCost:      a.UnitCost,
					Qty:           a.Qty,
					SourceEntryID: a.EntryID,
				})
				deducted = append(deducted, inventory.Movement{
					ItemID:      line.ItemID,
					BranchID:    req.SourceBranchID,
					QtyDelta:    a.Qty.Neg(),
					UnitCost:    a.UnitCost,
					BatchNumber: a.BatchNumber,
					ExpiryDate:  a.ExpiryDate,
					TxType:      inventory.TransactionTypeTransferOut,
					RefID:       req.ID.String(),
					CreatedAt:   now,
				})
			}
			affected[line.ItemID] = struct{}{}
		}

		// Post-condition: no affected source balance may end up negative.
		for itemID := range affected {
			total, err := invTx.SumMovements(ctx, itemID, req.SourceBranchID)
			if err != nil {
				return err
			}
			if total.IsNegative() {
				return inventory.ErrNegativeStock
			}
		}

		if err := tx.InsertReceipt(ctx, receipt); err != nil {
			return err
		}
		return tx.MarkTransferCompleted(ctx, req.ID)
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, idemKey)
		}
		return Request{}, Receipt{}, err
	}

	s.recordAudit(ctx, actorID, "transfer:complete", transferID.String(), map[string]any{
		"receipt_id": receipt.ID.String(),
		"lines":      len(receipt.Lines),
	})
	for _, m := range deducted {
		s.publish(ctx, m)
	}

	req, err := s.repo.GetTransfer(ctx, transferID)
	if err != nil {
		return Request{}, Receipt{}, err
	}
	rec, err := s.repo.GetReceipt(ctx, receipt.ID)
	if err != nil {
		return Request{}, Receipt{}, err
	}
	return req, rec, nil
}

// ConfirmReceipt is the only transition out of PENDING. It locks the receipt
// row, rejects an already-received receipt, credits the destination with the
// exact batch identities and costs deducted at the source, refreshes the
// destination snapshot and flips the status, all in one transaction.
func (s *Service) ConfirmReceipt(ctx context.Context, receiptID uuid.UUID, actorID int64) (Receipt, error) {
	now := time.Now().UTC()
	var credited []inventory.Movement

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetReceiptForUpdate(ctx, receiptID)
		if err != nil {
			return err
		}
		if rec.Status == ReceiptReceived {
			return fmt.Errorf("%w: receipt %s is %s", ErrAlreadyReceived, rec.ID, rec.Status)
		}

		invTx := tx.Inventory()
		for _, line := range rec.Lines {
			m, err := inventory.AppendTx(ctx, invTx, inventory.Movement{
				ItemID:      line.ItemID,
				BranchID:    rec.DestBranchID,
				QtyDelta:    line.Qty,
				UnitCost:    line.UnitCost,
				BatchNumber: line.BatchNumber,
				ExpiryDate:  line.ExpiryDate,
				TxType:      inventory.TransactionTypeTransferIn,
				RefModule:   "transfer",
				RefID:       rec.TransferID.String(),
				Note:        "transfer receipt",
				CreatedBy:   actorID,
				CreatedAt:   now,
			}, false)
			if err != nil {
				return err
			}
			credited = append(credited, m)
		}
		return tx.MarkReceiptReceived(ctx, rec.ID, actorID)
	})
	if err != nil {
		return Receipt{}, err
	}

	s.recordAudit(ctx, actorID, "transfer:receive", receiptID.String(), map[string]any{
		"movements": len(credited),
	})
	for _, m := range credited {
		s.publish(ctx, m)
	}
	return s.repo.GetReceipt(ctx, receiptID)
}

func buildLines(inputs []LineInput) ([]Line, error) {
	if len(inputs) == 0 {
		return nil, ErrNoLines
	}
	lines := make([]Line, 0, len(inputs))
	for i, in := range inputs {
		if in.ItemID <= 0 {
			return nil, fmt.Errorf("transfer: line %d: item required", i+1)
		}
		if !in.Qty.IsPositive() {
			return nil, fmt.Errorf("transfer: line %d: quantity must be positive", i+1)
		}
		if in.Unit == "" {
			return nil, fmt.Errorf("transfer: line %d: unit required", i+1)
		}
		lines = append(lines, Line{ItemID: in.ItemID, Qty: in.Qty, Unit: in.Unit})
	}
	return lines, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "transfer",
		EntityID: entityID,
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
}

func (s *Service) publish(ctx context.Context, m inventory.Movement) {
	if s.events == nil {
		return
	}
	if err := s.events.MovementPosted(ctx, inventory.MovementEventFrom(m)); err != nil {
		s.logger.Warn("publish movement event", slog.Any("error", err))
	}
}
