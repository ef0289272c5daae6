package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DBTX is the subset of pgx satisfied by both *pgxpool.Pool and pgx.Tx.
// The resolver runs inside the reconciler's transaction, so every method
// takes whichever handle the caller owns.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides article master-data access.
type Repository interface {
	FindByBarcode(ctx context.Context, barcode string) (*Article, error)
	FindByStrippedBarcode(ctx context.Context, stripped string) (*Article, error)
	FindByAlias(ctx context.Context, barcode string) (*Article, error)
	FindByCode(ctx context.Context, code string) (*Article, error)
	SearchByNamePrefix(ctx context.Context, prefix string, limit int) ([]Article, error)
	NextCode(ctx context.Context) (string, error)
	Insert(ctx context.Context, a Article) error
	AddAlias(ctx context.Context, code, barcode string) error
	LastMarginPct(ctx context.Context, code string) (*decimal.Decimal, error)
}

type pgRepository struct {
	db DBTX
}

// NewRepository returns a Repository over the given pool or transaction.
func NewRepository(db DBTX) Repository {
	return &pgRepository{db: db}
}

const articleColumns = `code, name, unit, type, vat_class, COALESCE(barcode,''), COALESCE(note,''),
	COALESCE(pack_size,1), COALESCE(min_stock,0), COALESCE(margin_pct,0)`

func (r *pgRepository) scanArticle(row pgx.Row) (*Article, error) {
	var a Article
	err := row.Scan(&a.Code, &a.Name, &a.Unit, &a.Type, &a.VATClass,
		&a.Barcode, &a.Note, &a.PackSize, &a.MinStock, &a.MarginPct)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: scan article: %w", err)
	}
	return &a, nil
}

func (r *pgRepository) FindByBarcode(ctx context.Context, barcode string) (*Article, error) {
	return r.scanArticle(r.db.QueryRow(ctx,
		`SELECT `+articleColumns+` FROM catalog_article WHERE barcode = $1 LIMIT 1`, barcode))
}

func (r *pgRepository) FindByStrippedBarcode(ctx context.Context, stripped string) (*Article, error) {
	return r.scanArticle(r.db.QueryRow(ctx,
		`SELECT `+articleColumns+` FROM catalog_article WHERE LTRIM(barcode, '0') = $1 LIMIT 1`, stripped))
}

func (r *pgRepository) FindByAlias(ctx context.Context, barcode string) (*Article, error) {
	return r.scanArticle(r.db.QueryRow(ctx,
		`SELECT `+articleColumnsPrefixed("a")+`
		 FROM article_alias al
		 JOIN catalog_article a ON a.code = al.code
		 WHERE al.alt_barcode = $1 LIMIT 1`, barcode))
}

func (r *pgRepository) FindByCode(ctx context.Context, code string) (*Article, error) {
	return r.scanArticle(r.db.QueryRow(ctx,
		`SELECT `+articleColumns+` FROM catalog_article WHERE code = $1 LIMIT 1`, code))
}

func (r *pgRepository) SearchByNamePrefix(ctx context.Context, prefix string, limit int) ([]Article, error) {
	if prefix == "" {
		return nil, nil
	}
	// Fold diacritics the same way NameNormalizer does before stripping,
	// otherwise stored names like "ČAJ" lose their first letter and never
	// match the normalized probe.
	rows, err := r.db.Query(ctx,
		`SELECT `+articleColumns+`
		 FROM catalog_article
		 WHERE UPPER(REGEXP_REPLACE(TRANSLATE(name, 'ŠĐČĆŽšđčćž', 'SDCCZsdccz'), '[^A-Za-z0-9 ]', '', 'g')) LIKE '%' || $1 || '%'
		 ORDER BY code
		 LIMIT $2`, prefix, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: search by name: %w", err)
	}
	defer rows.Close()

	var out []Article
	for rows.Next() {
		var a Article
		if err := rows.Scan(&a.Code, &a.Name, &a.Unit, &a.Type, &a.VATClass,
			&a.Barcode, &a.Note, &a.PackSize, &a.MinStock, &a.MarginPct); err != nil {
			return nil, fmt.Errorf("catalog: scan search row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// NextCode allocates the next free generated code above the legacy range.
func (r *pgRepository) NextCode(ctx context.Context) (string, error) {
	var next int64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(code::bigint), $1) + 1 FROM catalog_article WHERE code ~ '^\d+$'`,
		int64(codeBase)).Scan(&next)
	if err != nil {
		return "", fmt.Errorf("catalog: next code: %w", err)
	}
	return fmt.Sprintf("%d", next), nil
}

func (r *pgRepository) Insert(ctx context.Context, a Article) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO catalog_article
		   (code, name, unit, type, vat_class, barcode, note, pack_size, min_stock, margin_pct)
		 VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7,$8,$9,$10)`,
		a.Code, a.Name, a.Unit, a.Type, a.VATClass, a.Barcode, a.Note, a.PackSize, a.MinStock, a.MarginPct)
	if err != nil {
		return fmt.Errorf("catalog: insert article %s: %w", a.Code, err)
	}
	return nil
}

func (r *pgRepository) AddAlias(ctx context.Context, code, barcode string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO article_alias (code, alt_barcode) VALUES ($1, $2)
		 ON CONFLICT (alt_barcode) DO NOTHING`, code, barcode)
	if err != nil {
		return fmt.Errorf("catalog: add alias %s for %s: %w", barcode, code, err)
	}
	return nil
}

// LastMarginPct reads the margin of the most recent purchase line carrying
// a positive margin for this article.
func (r *pgRepository) LastMarginPct(ctx context.Context, code string) (*decimal.Decimal, error) {
	var m decimal.Decimal
	err := r.db.QueryRow(ctx,
		`SELECT margin_pct FROM invoice_line
		 WHERE article_code = $1 AND margin_pct > 0
		 ORDER BY id DESC LIMIT 1`, code).Scan(&m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: last margin for %s: %w", code, err)
	}
	return &m, nil
}

func articleColumnsPrefixed(alias string) string {
	return alias + `.code, ` + alias + `.name, ` + alias + `.unit, ` + alias + `.type, ` +
		alias + `.vat_class, COALESCE(` + alias + `.barcode,''), COALESCE(` + alias + `.note,''),
		COALESCE(` + alias + `.pack_size,1), COALESCE(` + alias + `.min_stock,0), COALESCE(` + alias + `.margin_pct,0)`
}
