package ordering

import (
	"context"
	"log/slog"
)

// urgentCoverDays flags articles whose stock covers fewer days of
// average demand than this.
const urgentCoverDays = 5.0

// Proposal is one suggested order line.
type Proposal struct {
	ArticleCode string  `json:"article_code"`
	Name        string  `json:"name"`
	Stock       float64 `json:"stock"`
	AvgDaily    float64 `json:"avg_daily"`
	CoverDays   float64 `json:"cover_days"`
	MinStock    float64 `json:"min_stock"`
	TargetStock float64 `json:"target_stock"`
	Quantity    int     `json:"qty_to_order"`
	Urgent      bool    `json:"urgent"`
}

// Service turns replenishment snapshots into order proposals.
type Service struct {
	repo Repository
	log  *slog.Logger
}

// NewService wires the proposal service.
func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// Proposals computes order proposals for one supplier. Articles with
// nothing to order are dropped; the rest carry cover-days and an urgency
// flag so the buyer can triage.
func (s *Service) Proposals(ctx context.Context, supplierCode string, mode TargetMode) ([]Proposal, error) {
	snaps, err := s.repo.SnapshotsBySupplier(ctx, supplierCode)
	if err != nil {
		return nil, err
	}

	opts := DefaultPolicyOptions()
	if mode != "" {
		opts.TargetMode = mode
	}

	proposals := make([]Proposal, 0, len(snaps))
	for _, snap := range snaps {
		res := ComputeOrderQty(PolicyInput{
			Stock:      snap.Stock,
			Inflow:     snap.Inflow,
			MonthlyAvg: snap.MonthlyAvg,
			Outgoing:   snap.Outgoing,
			MinStock:   snap.MinStock,
			MOQ:        snap.MOQ,
		}, opts)
		if res.Quantity == 0 {
			continue
		}

		avgDaily := snap.MonthlyAvg / 30
		coverDays := 0.0
		if avgDaily > 0 {
			coverDays = snap.Stock / avgDaily
		}
		proposals = append(proposals, Proposal{
			ArticleCode: snap.ArticleCode,
			Name:        snap.Name,
			Stock:       snap.Stock,
			AvgDaily:    avgDaily,
			CoverDays:   coverDays,
			MinStock:    snap.MinStock,
			TargetStock: res.TargetStock,
			Quantity:    res.Quantity,
			Urgent:      avgDaily > 0 && coverDays < urgentCoverDays,
		})
	}

	s.log.Debug("order proposals computed",
		slog.String("supplier", supplierCode),
		slog.String("mode", string(opts.TargetMode)),
		slog.Int("proposals", len(proposals)))
	return proposals, nil
}
