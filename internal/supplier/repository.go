package supplier

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the pgx subset shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgRepository struct {
	db DBTX
}

// NewRepository returns a partner Repository over the given handle.
func NewRepository(db DBTX) Repository {
	return &pgRepository{db: db}
}

func (r *pgRepository) FindByNormalizedName(ctx context.Context, normalized string) (string, error) {
	var code string
	err := r.db.QueryRow(ctx,
		`SELECT code FROM supplier
		 WHERE TRIM(REPLACE(REPLACE(REPLACE(UPPER(name), 'D.O.O.', ''), 'DOO', ''), '.', '')) = $1
		 LIMIT 1`, normalized).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("supplier: exact lookup: %w", err)
	}
	return code, nil
}

func (r *pgRepository) FindByNameLike(ctx context.Context, fragment string) (string, error) {
	var code string
	err := r.db.QueryRow(ctx,
		`SELECT code FROM supplier WHERE name ILIKE '%' || $1 || '%' LIMIT 1`, fragment).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("supplier: fuzzy lookup: %w", err)
	}
	return code, nil
}
