package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RunStore records each reconcile invocation in the local database so the
// API can report run history and queued imports can be polled.
type RunStore struct {
	pool *pgxpool.Pool
}

func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

const (
	RunPending = "pending"
	RunDone    = "done"
	RunFailed  = "failed"
)

// Create opens a run row in pending state.
func (s *RunStore) Create(ctx context.Context, id uuid.UUID, sourceFile, supplierName string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO import_run (id, source_file, supplier, status, started_at)
		 VALUES ($1, $2, $3, $4, now())`,
		id, sourceFile, supplierName, RunPending)
	if err != nil {
		return fmt.Errorf("reconcile: create run: %w", err)
	}
	return nil
}

// Finish closes a run with its outcome and the stats JSON.
func (s *RunStore) Finish(ctx context.Context, id uuid.UUID, status string, stats []byte, runErr string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE import_run
		 SET status = $2, stats = $3, error = NULLIF($4, ''), finished_at = now()
		 WHERE id = $1`,
		id, status, stats, runErr)
	if err != nil {
		return fmt.Errorf("reconcile: finish run: %w", err)
	}
	return nil
}

// Get fetches one run by id; nil when unknown.
func (s *RunStore) Get(ctx context.Context, id uuid.UUID) (*ImportRun, error) {
	var run ImportRun
	err := s.pool.QueryRow(ctx,
		`SELECT id, source_file, COALESCE(supplier,''), status, COALESCE(stats,'{}'::jsonb),
		        COALESCE(error,''), started_at, finished_at
		 FROM import_run WHERE id = $1`, id).
		Scan(&run.ID, &run.SourceFile, &run.Supplier, &run.Status, &run.Stats,
			&run.Error, &run.StartedAt, &run.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reconcile: get run: %w", err)
	}
	return &run, nil
}
