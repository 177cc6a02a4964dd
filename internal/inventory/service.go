package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/catalog"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/uom"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSnapshot(ctx context.Context, itemID, branchID int64) (Snapshot, error)
	SumMovements(ctx context.Context, itemID, branchID int64) (decimal.Decimal, error)
	BatchGroups(ctx context.Context, itemID, branchID int64) ([]BatchBalance, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	ListPairs(ctx context.Context) ([][2]int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ItemSource resolves items for unit conversion on the import path.
type ItemSource interface {
	GetItem(ctx context.Context, id int64) (catalog.Item, error)
}

// Service coordinates ledger, balance and allocation operations.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	events   Publisher
	items    ItemSource
	logger   *slog.Logger
	allowNeg bool
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, events Publisher, items ItemSource, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, events: events, items: items, logger: logger, allowNeg: cfg.AllowNegativeStock}
}

// AppendInput describes one ledger append. QtyDelta must already be in base
// units; callers convert through the uom package first.
type AppendInput struct {
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
	ActorID     int64
}

// Append writes one movement and refreshes the pair's snapshot in the same
// transaction. The ledger never moves without the snapshot, and vice versa.
func (s *Service) Append(ctx context.Context, input AppendInput) (Movement, error) {
	now := time.Now().UTC()
	m := Movement{
		ItemID:      input.ItemID,
		BranchID:    input.BranchID,
		QtyDelta:    input.QtyDelta,
		UnitCost:    input.UnitCost,
		BatchNumber: input.BatchNumber,
		ExpiryDate:  input.ExpiryDate,
		TxType:      input.TxType,
		RefModule:   input.RefModule,
		RefID:       input.RefID,
		Note:        input.Note,
		CreatedBy:   input.ActorID,
		CreatedAt:   now,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		written, err := AppendTx(ctx, tx, m, s.allowNeg)
		if err != nil {
			return err
		}
		m = written
		return nil
	})
	if err != nil {
		return Movement{}, err
	}

	s.recordAudit(ctx, input.ActorID, fmt.Sprintf("inventory:%s", input.TxType), m)
	s.publish(ctx, m)
	return m, nil
}

// Allocate reserves and deducts stock earliest-expiry-first inside its own
// transaction. See AllocateTx for the algorithm.
func (s *Service) Allocate(ctx context.Context, itemID, branchID int64, qtyBase decimal.Decimal, params AllocateParams) ([]Allocation, error) {
	if itemID <= 0 || branchID <= 0 {
		return nil, errors.New("inventory: item and branch required")
	}
	if params.TxType == "" {
		params.TxType = TransactionTypeSale
	}
	if params.Now.IsZero() {
		params.Now = time.Now().UTC()
	}
	var plan []Allocation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		plan, err = AllocateTx(ctx, tx, itemID, branchID, qtyBase, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, params.ActorID, "inventory:allocate", Movement{
		ItemID:   itemID,
		BranchID: branchID,
		QtyDelta: qtyBase.Neg(),
		TxType:   params.TxType,
		RefID:    params.RefID,
	})
	for _, a := range plan {
		s.publish(ctx, Movement{
			ItemID:      itemID,
			BranchID:    branchID,
			QtyDelta:    a.Qty.Neg(),
			UnitCost:    a.UnitCost,
			BatchNumber: a.BatchNumber,
			ExpiryDate:  a.ExpiryDate,
			TxType:      params.TxType,
			RefID:       params.RefID,
			CreatedAt:   params.Now,
		})
	}
	return plan, nil
}

// CurrentStock serves the cached snapshot when present and falls back to the
// authoritative ledger sum. The transactional-refresh invariant keeps the two
// identical after every committed write.
func (s *Service) CurrentStock(ctx context.Context, itemID, branchID int64) (decimal.Decimal, error) {
	snap, err := s.repo.GetSnapshot(ctx, itemID, branchID)
	if err == nil {
		return snap.Qty, nil
	}
	if !errors.Is(err, ErrSnapshotNotFound) {
		return decimal.Decimal{}, err
	}
	return s.repo.SumMovements(ctx, itemID, branchID)
}

// BatchBalances lists positive batch groups. A non-zero asOf additionally
// excludes batches expired at that instant; the zero value keeps every
// positive group for as-of-date reporting.
func (s *Service) BatchBalances(ctx context.Context, itemID, branchID int64, asOf time.Time) ([]BatchBalance, error) {
	groups, err := s.repo.BatchGroups(ctx, itemID, branchID)
	if err != nil {
		return nil, err
	}
	eligible := EligibleBatches(groups, asOf)
	SortFEFO(eligible)
	return eligible, nil
}

// ListMovements lists ledger rows in creation order.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.ItemID <= 0 || filter.BranchID <= 0 {
		return nil, errors.New("inventory: item and branch required")
	}
	return s.repo.ListMovements(ctx, filter)
}

// RebuildSnapshot recomputes one pair's snapshot by replaying the ledger.
// Recovery path for cache corruption; safe to run at any time.
func (s *Service) RebuildSnapshot(ctx context.Context, itemID, branchID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		groups, err := tx.BatchGroupsForUpdate(ctx, itemID, branchID)
		if err != nil {
			return err
		}
		lastCost, err := tx.LastMovementCost(ctx, itemID, branchID)
		if err != nil {
			return err
		}
		snap := SnapshotFrom(itemID, branchID, groups, lastCost, time.Now().UTC())
		if err := tx.UpsertSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("%w: %v", ErrSnapshotRefresh, err)
		}
		return nil
	})
}

// RebuildAllSnapshots replays every pair present in the ledger.
func (s *Service) RebuildAllSnapshots(ctx context.Context) (int, error) {
	pairs, err := s.repo.ListPairs(ctx)
	if err != nil {
		return 0, err
	}
	for _, pair := range pairs {
		if err := s.RebuildSnapshot(ctx, pair[0], pair[1]); err != nil {
			return 0, fmt.Errorf("rebuild snapshot item=%d branch=%d: %w", pair[0], pair[1], err)
		}
	}
	return len(pairs), nil
}

// OpeningLine is one row of an opening-balance import, in the caller's unit.
type OpeningLine struct {
	ItemID      int64
	BranchID    int64
	Qty         decimal.Decimal
	Unit        string
	UnitCost    decimal.Decimal
	BatchNumber string
	ExpiryDate  *time.Time
}

// ImportOpeningBalances converts each line to base units and appends OPENING
// movements. Import never updates existing rows and never bypasses unit
// conversion.
func (s *Service) ImportOpeningBalances(ctx context.Context, lines []OpeningLine, actorID int64) ([]Movement, error) {
	if s.items == nil {
		return nil, errors.New("inventory: item source not configured")
	}
	movements := make([]Movement, 0, len(lines))
	for i, line := range lines {
		item, err := s.items.GetItem(ctx, line.ItemID)
		if err != nil {
			return nil, fmt.Errorf("opening line %d: %w", i+1, err)
		}
		qtyBase, err := uom.ToBase(item, line.Qty, line.Unit)
		if err != nil {
			return nil, fmt.Errorf("opening line %d: %w", i+1, err)
		}
		m, err := s.Append(ctx, AppendInput{
			ItemID:      line.ItemID,
			BranchID:    line.BranchID,
			QtyDelta:    qtyBase,
			UnitCost:    line.UnitCost,
			BatchNumber: line.BatchNumber,
			ExpiryDate:  line.ExpiryDate,
			TxType:      TransactionTypeOpening,
			RefModule:   "import",
			Note:        "opening balance import",
			ActorID:     actorID,
		})
		if err != nil {
			return nil, fmt.Errorf("opening line %d: %w", i+1, err)
		}
		movements = append(movements, m)
	}
	return movements, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, m Movement) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "inventory_movement",
		EntityID: fmt.Sprintf("%d:%d", m.ItemID, m.BranchID),
		Meta: map[string]any{
			"item_id":   m.ItemID,
			"branch_id": m.BranchID,
			"qty_delta": m.QtyDelta.String(),
			"batch":     m.BatchNumber,
			"ref_id":    m.RefID,
		},
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
}

func (s *Service) publish(ctx context.Context, m Movement) {
	if s.events == nil {
		return
	}
	if err := s.events.MovementPosted(ctx, MovementEventFrom(m)); err != nil {
		s.logger.Warn("publish movement event", slog.Any("error", err))
	}
}
