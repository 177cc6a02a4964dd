package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSnapshotRebuild replays the ledger into the snapshot cache.
	TaskSnapshotRebuild = "inventory:snapshot_rebuild"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "shared:idempotency_cleanup"
)

// SnapshotRebuildPayload selects what to rebuild. Zero values mean every pair.
type SnapshotRebuildPayload struct {
	ItemID   int64 `json:"item_id,omitempty"`
	BranchID int64 `json:"branch_id,omitempty"`
}

// NewSnapshotRebuildTask constructs an Asynq task.
func NewSnapshotRebuildTask(payload SnapshotRebuildPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSnapshotRebuild, data), nil
}

// SnapshotRebuilder is the slice of the inventory service the task needs.
type SnapshotRebuilder interface {
	RebuildSnapshot(ctx context.Context, itemID, branchID int64) error
	RebuildAllSnapshots(ctx context.Context) (int, error)
}

// NewSnapshotRebuildHandler processes TaskSnapshotRebuild tasks.
func NewSnapshotRebuildHandler(svc SnapshotRebuilder, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SnapshotRebuildPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.ItemID > 0 && payload.BranchID > 0 {
			if err := svc.RebuildSnapshot(ctx, payload.ItemID, payload.BranchID); err != nil {
				return err
			}
			logger.Info("snapshot rebuilt",
				slog.Int64("item_id", payload.ItemID),
				slog.Int64("branch_id", payload.BranchID))
			return nil
		}
		count, err := svc.RebuildAllSnapshots(ctx)
		if err != nil {
			return err
		}
		logger.Info("snapshots rebuilt", slog.Int("pairs", count))
		return nil
	}
}

// NewIdempotencyCleanupHandler prunes keys older than retention.
func NewIdempotencyCleanupHandler(store *shared.IdempotencyStore, retention time.Duration, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		pruned, err := store.Cleanup(ctx, retention)
		if err != nil {
			return err
		}
		logger.Info("idempotency keys pruned",
			slog.Int64("pruned", pruned),
			slog.Duration("retention", retention))
		return nil
	}
}

// compile-time check that the inventory service satisfies the task port.
var _ SnapshotRebuilder = (*inventory.Service)(nil)
