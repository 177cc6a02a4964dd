package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
)

// memoryStore backs transfer and ledger state for service tests. WithTx holds
// a single mutex for the whole transaction, matching the serialisation the
// row and advisory locks provide in PostgreSQL; writes stage in the tx and
// apply only on success.
type memoryStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	transfers map[uuid.UUID]Request
	receipts  map[uuid.UUID]Receipt
	movements []inventory.Movement
	snapshots map[[2]int64]inventory.Snapshot
	nextID    int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		transfers: make(map[uuid.UUID]Request),
		receipts:  make(map[uuid.UUID]Receipt),
		snapshots: make(map[[2]int64]inventory.Snapshot),
	}
}

type memoryTx struct {
	store *memoryStore

	stagedMovements []inventory.Movement
	stagedSnaps     map[[2]int64]inventory.Snapshot
	stagedReceipts  []Receipt
	completed       []uuid.UUID
	received        map[uuid.UUID]int64
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memoryTx{
		store:       s,
		stagedSnaps: make(map[[2]int64]inventory.Snapshot),
		received:    make(map[uuid.UUID]int64),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.movements = append(s.movements, tx.stagedMovements...)
	for pair, snap := range tx.stagedSnaps {
		s.snapshots[pair] = snap
	}
	for _, rec := range tx.stagedReceipts {
		s.receipts[rec.ID] = rec
	}
	now := time.Now().UTC()
	for _, id := range tx.completed {
		req := s.transfers[id]
		req.Status = StatusCompleted
		req.CompletedAt = &now
		s.transfers[id] = req
	}
	for id, by := range tx.received {
		rec := s.receipts[id]
		rec.Status = ReceiptReceived
		rec.ReceivedAt = &now
		rec.ReceivedBy = by
		s.receipts[id] = rec
	}
	return nil
}

func (t *memoryTx) Inventory() inventory.TxRepository { return t }

func (t *memoryTx) GetTransferForUpdate(ctx context.Context, id uuid.UUID) (Request, error) {
	return t.store.GetTransfer(ctx, id)
}

func (t *memoryTx) MarkTransferCompleted(ctx context.Context, id uuid.UUID) error {
	req, err := t.store.GetTransfer(ctx, id)
	if err != nil {
		return err
	}
	if req.Status != StatusDraft {
		return ErrNotDraft
	}
	t.completed = append(t.completed, id)
	return nil
}

func (t *memoryTx) InsertReceipt(ctx context.Context, rec Receipt) error {
	for i := range rec.Lines {
		rec.Lines[i].ID = int64(i + 1)
	}
	rec.CreatedAt = time.Now().UTC()
	t.stagedReceipts = append(t.stagedReceipts, rec)
	return nil
}

func (t *memoryTx) GetReceiptForUpdate(ctx context.Context, id uuid.UUID) (Receipt, error) {
	return t.store.GetReceipt(ctx, id)
}

func (t *memoryTx) MarkReceiptReceived(ctx context.Context, id uuid.UUID, receivedBy int64) error {
	rec, err := t.store.GetReceipt(ctx, id)
	if err != nil {
		return err
	}
	if rec.Status != ReceiptPending {
		return ErrAlreadyReceived
	}
	t.received[id] = receivedBy
	return nil
}

func (t *memoryTx) InsertMovement(ctx context.Context, m inventory.Movement) (int64, error) {
	t.store.mu.Lock()
	t.store.nextID++
	m.ID = t.store.nextID
	t.store.mu.Unlock()
	t.stagedMovements = append(t.stagedMovements, m)
	return m.ID, nil
}

func (t *memoryTx) visible(itemID, branchID int64) []inventory.Movement {
	t.store.mu.Lock()
	committed := make([]inventory.Movement, len(t.store.movements))
	copy(committed, t.store.movements)
	t.store.mu.Unlock()

	var out []inventory.Movement
	for _, m := range append(committed, t.stagedMovements...) {
		if m.ItemID == itemID && m.BranchID == branchID {
			out = append(out, m)
		}
	}
	return out
}

func (t *memoryTx) BatchGroupsForUpdate(ctx context.Context, itemID, branchID int64) ([]inventory.BatchBalance, error) {
	var groups []inventory.BatchBalance
	for _, m := range t.visible(itemID, branchID) {
		groups = addDelta(groups, m)
	}
	return groups, nil
}

func addDelta(groups []inventory.BatchBalance, m inventory.Movement) []inventory.BatchBalance {
	for i := range groups {
		if groups[i].BatchNumber == m.BatchNumber && sameTime(groups[i].ExpiryDate, m.ExpiryDate) && groups[i].UnitCost.Equal(m.UnitCost) {
			groups[i].Available = groups[i].Available.Add(m.QtyDelta)
			return groups
		}
	}
	return append(groups, inventory.BatchBalance{
		BatchNumber: m.BatchNumber,
		ExpiryDate:  m.ExpiryDate,
		UnitCost:    m.UnitCost,
		Available:   m.QtyDelta,
	})
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
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

func (t *memoryTx) UpsertSnapshot(ctx context.Context, snap inventory.Snapshot) error {
	t.stagedSnaps[[2]int64{snap.ItemID, snap.BranchID}] = snap
	return nil
}

func (s *memoryStore) CreateTransfer(ctx context.Context, req Request) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req.CreatedAt = time.Now().UTC()
	for i := range req.Lines {
		req.Lines[i].ID = int64(i + 1)
		req.Lines[i].TransferID = req.ID
	}
	s.transfers[req.ID] = req
	return copyTransfer(req), nil
}

func (s *memoryStore) ReplaceLines(ctx context.Context, transferID uuid.UUID, lines []Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.transfers[transferID]
	if !ok {
		return ErrTransferNotFound
	}
	for i := range lines {
		lines[i].ID = int64(i + 1)
		lines[i].TransferID = transferID
	}
	req.Lines = lines
	s.transfers[transferID] = req
	return nil
}

func (s *memoryStore) GetTransfer(ctx context.Context, id uuid.UUID) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.transfers[id]
	if !ok {
		return Request{}, ErrTransferNotFound
	}
	return copyTransfer(req), nil
}

func (s *memoryStore) GetReceipt(ctx context.Context, id uuid.UUID) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.receipts[id]
	if !ok {
		return Receipt{}, ErrReceiptNotFound
	}
	return copyReceipt(rec), nil
}

func copyTransfer(req Request) Request {
	out := req
	out.Lines = append([]Line(nil), req.Lines...)
	return out
}

func copyReceipt(rec Receipt) Receipt {
	out := rec
	out.Lines = append([]ReceiptLine(nil), rec.Lines...)
	return out
}

func (s *memoryStore) seedMovement(m inventory.Movement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m.ID = s.nextID
	s.movements = append(s.movements, m)
}

func (s *memoryStore) branchTotal(itemID, branchID int64) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, m := range s.movements {
		if m.ItemID == itemID && m.BranchID == branchID {
			total = total.Add(m.QtyDelta)
		}
	}
	return total
}

func (s *memoryStore) movementCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.movements)
}
