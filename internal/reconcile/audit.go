package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditStore writes price-preservation decisions to the local database.
// It always targets the local pool, never the document target: the audit
// trail must survive even when documents go somewhere else, and an audit
// row may outlive a rolled-back main transaction. That asymmetry is
// deliberate — over-logging a price-change intent beats losing it.
type AuditStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewAuditStore(pool *pgxpool.Pool, log *slog.Logger) *AuditStore {
	return &AuditStore{pool: pool, log: log}
}

// RecordPriceDecision persists one preservation decision.
func (s *AuditStore) RecordPriceDecision(ctx context.Context, rec AuditRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_audit
		   (document_id, article_code, computed_price, final_price, last_purchase_price,
		    new_purchase_price, discount_pct, vat_pct, margin_used, action_tag)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rec.DocumentID, rec.ArticleCode, rec.ComputedMP, rec.FinalMP, rec.LastNet,
		rec.NewNet, rec.DiscountPct, rec.VATPct, rec.MarginUsed, string(rec.Action))
	if err != nil {
		return fmt.Errorf("reconcile: audit write: %w", err)
	}
	s.log.Debug("price decision audited",
		slog.String("article", rec.ArticleCode),
		slog.String("action", string(rec.Action)))
	return nil
}
