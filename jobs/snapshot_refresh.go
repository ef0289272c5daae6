package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RefreshOrderSnapshots rebuilds the materialized view behind the order
// proposal queries.
func RefreshOrderSnapshots(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if pool == nil {
		return nil
	}
	if _, err := pool.Exec(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY order_snapshot`); err != nil {
		if logger != nil {
			logger.Error("refresh order_snapshot", slog.Any("error", err))
		}
		return err
	}
	if logger != nil {
		logger.Info("refreshed order_snapshot", slog.String("job", "snapshot_refresh"))
	}
	return nil
}

// SnapshotRefreshJob handles the scheduled refresh task.
type SnapshotRefreshJob struct {
	Pool   *pgxpool.Pool
	Logger *slog.Logger
}

// Handle executes one TaskSnapshotRefresh task.
func (j *SnapshotRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SnapshotRefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	return RefreshOrderSnapshots(ctx, j.Pool, j.Logger)
}
