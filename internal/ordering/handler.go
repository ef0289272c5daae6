package ordering

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wellonapharm/smart/internal/platform/httpx"
)

// Handler exposes order proposals over HTTP.
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler wires the ordering endpoints.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

// MountRoutes registers the ordering routes on the given router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/proposals", h.handleProposals)
}

func (h *Handler) handleProposals(w http.ResponseWriter, r *http.Request) {
	supplier := strings.TrimSpace(r.URL.Query().Get("supplier"))
	if supplier == "" {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "supplier query parameter is required")
		return
	}
	mode := TargetMode(r.URL.Query().Get("mode"))
	switch mode {
	case "", ModeIzlaz, ModeMesMuj, ModeMax:
	default:
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "mode must be izlaz, mes_muj or max")
		return
	}

	proposals, err := h.svc.Proposals(r.Context(), supplier, mode)
	if err != nil {
		h.log.Error("order proposals failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		writeCSV(w, proposals)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"supplier":  supplier,
		"proposals": proposals,
		"total":     len(proposals),
	})
}

// writeCSV emits the two-column order file the wholesale portals accept.
func writeCSV(w http.ResponseWriter, proposals []Proposal) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="porosi.csv"`)
	fmt.Fprintln(w, "Sifra;Kolicina")
	for _, p := range proposals {
		fmt.Fprintf(w, "%s;%d\n", p.ArticleCode, p.Quantity)
	}
}
