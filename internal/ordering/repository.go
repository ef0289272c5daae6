package ordering

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the query surface shared by pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Snapshot is one article's replenishment figures as captured by the
// nightly stock refresh.
type Snapshot struct {
	ArticleCode  string
	Name         string
	SupplierCode string
	Stock        float64
	Inflow       float64
	MonthlyAvg   float64
	Outgoing     float64
	MinStock     float64
	MOQ          int
}

// Repository reads replenishment snapshots.
type Repository interface {
	SnapshotsBySupplier(ctx context.Context, supplierCode string) ([]Snapshot, error)
}

type pgRepository struct {
	db DBTX
}

// NewRepository builds the snapshot reader over the given connection.
func NewRepository(db DBTX) Repository { return &pgRepository{db: db} }

func (r *pgRepository) SnapshotsBySupplier(ctx context.Context, supplierCode string) ([]Snapshot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT article_code, name, supplier_code,
		       stock, inflow, monthly_avg, outgoing, min_stock, moq
		FROM order_snapshot
		WHERE supplier_code = $1
		ORDER BY article_code`, supplierCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.ArticleCode, &s.Name, &s.SupplierCode,
			&s.Stock, &s.Inflow, &s.MonthlyAvg, &s.Outgoing, &s.MinStock, &s.MOQ); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
