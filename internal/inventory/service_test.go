package inventory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/catalog"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/uom"
)

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []MovementEvent
}

func (p *recordingPublisher) MovementPosted(ctx context.Context, evt MovementEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

type staticItems struct {
	items map[int64]catalog.Item
}

func (s *staticItems) GetItem(ctx context.Context, id int64) (catalog.Item, error) {
	item, ok := s.items[id]
	if !ok {
		return catalog.Item{}, catalog.ErrItemNotFound
	}
	return item, nil
}

func newTestService(repo *memoryRepo) (*Service, *recordingAudit, *recordingPublisher) {
	audit := &recordingAudit{}
	events := &recordingPublisher{}
	items := &staticItems{items: map[int64]catalog.Item{
		1: {
			ID:                 1,
			SKU:                "PARA-500",
			BaseUnit:           "tablet",
			WholesaleUnit:      "strip",
			SupplierUnit:       "box",
			PackToBaseFactor:   decimal.NewFromInt(10),
			SupplierPackFactor: decimal.NewFromInt(12),
		},
	}}
	svc := NewService(repo, audit, events, items, nil, ServiceConfig{})
	return svc, audit, events
}

func TestAppendRefreshesSnapshotAtomically(t *testing.T) {
	repo := newMemoryRepo()
	svc, audit, events := newTestService(repo)
	ctx := context.Background()

	m, err := svc.Append(ctx, AppendInput{
		ItemID:      1,
		BranchID:    1,
		QtyDelta:    decimal.NewFromInt(25),
		UnitCost:    decimal.RequireFromString("4.50"),
		BatchNumber: "LOT-1",
		ExpiryDate:  datePtr(2027, time.March, 1),
		TxType:      TransactionTypePurchase,
		ActorID:     7,
	})
	require.NoError(t, err)
	require.NotZero(t, m.ID)

	snap, err := repo.GetSnapshot(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, snap.Qty.Equal(decimal.NewFromInt(25)))
	require.True(t, snap.LastCost.Equal(decimal.RequireFromString("4.50")))
	require.NotNil(t, snap.NextExpiry)

	sum, err := repo.SumMovements(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, snap.Qty.Equal(sum))

	require.Len(t, audit.logs, 1)
	require.Len(t, events.events, 1)
	require.Equal(t, "25", events.events[0].QtyDelta)
}

func TestAppendRejectsNegativeBalance(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Append(ctx, AppendInput{
		ItemID:   1,
		BranchID: 1,
		QtyDelta: decimal.NewFromInt(-1),
		TxType:   TransactionTypeSale,
	})
	require.ErrorIs(t, err, ErrNegativeStock)
	require.Empty(t, repo.allMovements())
}

func TestAppendAllowsNegativeWhenConfigured(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil, nil, ServiceConfig{AllowNegativeStock: true})

	_, err := svc.Append(context.Background(), AppendInput{
		ItemID:   1,
		BranchID: 1,
		QtyDelta: decimal.NewFromInt(-3),
		TxType:   TransactionTypeAdjustOut,
	})
	require.NoError(t, err)

	sum, err := repo.SumMovements(context.Background(), 1, 1)
	require.NoError(t, err)
	require.True(t, sum.Equal(decimal.NewFromInt(-3)))
}

func TestAppendRollsBackWhenSnapshotRefreshFails(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo)
	repo.failSnapshot = true

	_, err := svc.Append(context.Background(), AppendInput{
		ItemID:   1,
		BranchID: 1,
		QtyDelta: decimal.NewFromInt(10),
		TxType:   TransactionTypePurchase,
	})
	require.ErrorIs(t, err, ErrSnapshotRefresh)

	// The ledger write must not survive without its snapshot refresh.
	require.Empty(t, repo.allMovements())
	_, err = repo.GetSnapshot(context.Background(), 1, 1)
	require.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestAppendValidation(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Append(ctx, AppendInput{ItemID: 1, BranchID: 1, TxType: TransactionTypePurchase})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Append(ctx, AppendInput{
		ItemID:   1,
		BranchID: 1,
		QtyDelta: decimal.NewFromInt(1),
		UnitCost: decimal.NewFromInt(-2),
		TxType:   TransactionTypePurchase,
	})
	require.ErrorIs(t, err, ErrInvalidUnitCost)
}

func TestCurrentStockPrefersSnapshot(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	seedBatch(t, repo, 1, 1, "LOT-1", datePtr(2027, time.March, 1), 40, "3")

	qty, err := svc.CurrentStock(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, qty.Equal(decimal.NewFromInt(40)))
}

func TestCurrentStockFallsBackToLedgerSum(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	seedBatch(t, repo, 1, 1, "LOT-1", datePtr(2027, time.March, 1), 40, "3")
	repo.mu.Lock()
	delete(repo.snapshots, [2]int64{1, 1})
	repo.mu.Unlock()

	qty, err := svc.CurrentStock(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, qty.Equal(decimal.NewFromInt(40)))
}

func TestRebuildSnapshotRepairsCorruption(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	seedBatch(t, repo, 1, 1, "LOT-1", datePtr(2027, time.March, 1), 40, "3")
	seedBatch(t, repo, 2, 1, "LOT-9", nil, 6, "5")

	repo.mu.Lock()
	repo.snapshots[[2]int64{1, 1}] = Snapshot{ItemID: 1, BranchID: 1, Qty: decimal.NewFromInt(999)}
	repo.mu.Unlock()

	count, err := svc.RebuildAllSnapshots(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	snap, err := repo.GetSnapshot(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, snap.Qty.Equal(decimal.NewFromInt(40)))
}

func TestConcurrentAllocationsSerialiseOnPair(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	seedBatch(t, repo, 1, 1, "ONLY", datePtr(2027, time.March, 1), 5, "10")

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Allocate(ctx, 1, 1, decimal.NewFromInt(5), AllocateParams{TxType: TransactionTypeSale})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, insufficient int
	for err := range results {
		switch {
		case err == nil:
			successes++
		default:
			require.ErrorIs(t, err, ErrInsufficientStock)
			var details *InsufficientStockError
			require.ErrorAs(t, err, &details)
			require.True(t, details.Available.Equal(decimal.Zero))
			insufficient++
		}
	}
	require.Equal(t, 1, successes)
	require.Equal(t, 1, insufficient)

	sum, err := repo.SumMovements(ctx, 1, 1)
	require.NoError(t, err)
	require.True(t, sum.IsZero())
}

func TestImportOpeningBalancesConvertsUnits(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	movements, err := svc.ImportOpeningBalances(ctx, []OpeningLine{
		{ItemID: 1, BranchID: 1, Qty: decimal.RequireFromString("2.5"), Unit: "strip", UnitCost: decimal.NewFromInt(4), BatchNumber: "OPEN-1"},
		{ItemID: 1, BranchID: 2, Qty: decimal.NewFromInt(1), Unit: "box", UnitCost: decimal.NewFromInt(4), BatchNumber: "OPEN-2"},
	}, 3)
	require.NoError(t, err)
	require.Len(t, movements, 2)

	require.True(t, movements[0].QtyDelta.Equal(decimal.NewFromInt(25)))
	require.Equal(t, TransactionTypeOpening, movements[0].TxType)
	require.True(t, movements[1].QtyDelta.Equal(decimal.NewFromInt(120)))
}

func TestImportOpeningBalancesRejectsUnknownUnit(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo)

	_, err := svc.ImportOpeningBalances(context.Background(), []OpeningLine{
		{ItemID: 1, BranchID: 1, Qty: decimal.NewFromInt(1), Unit: "pallet"},
	}, 3)
	require.ErrorIs(t, err, uom.ErrUnknownUnit)
	require.Empty(t, repo.allMovements())
}

func TestBatchBalancesAsOfFiltering(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	seedBatch(t, repo, 1, 1, "OLD", datePtr(2024, time.January, 1), 5, "2")
	seedBatch(t, repo, 1, 1, "NEW", datePtr(2025, time.June, 1), 8, "2")

	all, err := svc.BatchBalances(ctx, 1, 1, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	asOf := time.Date(2024, time.December, 1, 0, 0, 0, 0, time.UTC)
	live, err := svc.BatchBalances(ctx, 1, 1, asOf)
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.Equal(t, "NEW", live[0].BatchNumber)
}

func TestListMovementsDateRange(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, _ := newTestService(repo)
	ctx := context.Background()

	days := []time.Time{
		time.Date(2025, time.January, 10, 8, 0, 0, 0, time.UTC),
		time.Date(2025, time.January, 15, 8, 0, 0, 0, time.UTC),
		time.Date(2025, time.January, 20, 8, 0, 0, 0, time.UTC),
	}
	for i, day := range days {
		seedMovement(t, repo, Movement{
			ItemID:      1,
			BranchID:    1,
			QtyDelta:    decimal.NewFromInt(int64(i + 1)),
			UnitCost:    decimal.NewFromInt(5),
			BatchNumber: "LOT",
			TxType:      TransactionTypePurchase,
			CreatedAt:   day,
		})
	}

	ranged, err := svc.ListMovements(ctx, MovementFilter{
		ItemID:   1,
		BranchID: 1,
		From:     time.Date(2025, time.January, 12, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2025, time.January, 20, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	require.True(t, ranged[0].QtyDelta.Equal(decimal.NewFromInt(2)))

	open, err := svc.ListMovements(ctx, MovementFilter{
		ItemID:   1,
		BranchID: 1,
		From:     time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, open, 2)
}

func TestAllocateEventsCarryPostingTime(t *testing.T) {
	repo := newMemoryRepo()
	svc, _, events := newTestService(repo)
	ctx := context.Background()

	seedBatch(t, repo, 1, 1, "LOT-A", datePtr(2025, time.March, 1), 10, "4")

	posted := time.Date(2025, time.January, 5, 9, 30, 0, 0, time.UTC)
	_, err := svc.Allocate(ctx, 1, 1, decimal.NewFromInt(6), AllocateParams{
		TxType: TransactionTypeSale,
		RefID:  "SO-77",
		Now:    posted,
	})
	require.NoError(t, err)

	require.Len(t, events.events, 1)
	require.Equal(t, posted, events.events[0].PostedAt)

	events.events = nil
	_, err = svc.Allocate(ctx, 1, 1, decimal.NewFromInt(1), AllocateParams{TxType: TransactionTypeSale})
	require.NoError(t, err)
	require.Len(t, events.events, 1)
	require.False(t, events.events[0].PostedAt.IsZero())
}
