package reconcile

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/wellonapharm/smart/internal/invoice"
	"github.com/wellonapharm/smart/internal/platform/httpx"
)

// Enqueuer hands an invoice payload to the background queue. Implemented
// by the jobs client.
type Enqueuer interface {
	EnqueueInvoiceImport(ctx context.Context, xml []byte, sourceFile string, opts Options) (string, error)
}

// Handler exposes the import API.
type Handler struct {
	parser     *invoice.Parser
	reconciler *Reconciler
	runs       *RunStore
	queue      Enqueuer // nil when the queue is not wired
	validate   *validator.Validate
	log        *slog.Logger

	allowAutoCreate  bool
	autoNivelizacija bool
}

// NewHandler builds the import handler. queue may be nil; the enqueue
// endpoint then responds 503.
func NewHandler(parser *invoice.Parser, reconciler *Reconciler, runs *RunStore, queue Enqueuer, allowAutoCreate, autoNivelizacija bool, log *slog.Logger) *Handler {
	return &Handler{
		parser:           parser,
		reconciler:       reconciler,
		runs:             runs,
		queue:            queue,
		validate:         validator.New(),
		log:              log,
		allowAutoCreate:  allowAutoCreate,
		autoNivelizacija: autoNivelizacija,
	}
}

// MountRoutes registers the import endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleImport)
	r.Post("/enqueue", h.handleEnqueue)
	r.Get("/{id}", h.handleGetRun)
}

type importRequest struct {
	XML        string `json:"xml" validate:"required,base64"`
	SourceFile string `json:"source_file"`
}

// readPayload accepts either a multipart upload (field "file") or a JSON
// body with base64 XML.
func (h *Handler) readPayload(r *http.Request) ([]byte, string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, fh, err := r.FormFile("file")
		if err != nil {
			return nil, "", fmt.Errorf("%w: missing multipart file field", httpx.ErrValidation)
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, "", fmt.Errorf("read upload: %w", err)
		}
		return data, fh.Filename, nil
	}

	var req importRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return nil, "", fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	if err := h.validate.Struct(req); err != nil {
		return nil, "", fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	data, err := base64.StdEncoding.DecodeString(req.XML)
	if err != nil {
		return nil, "", fmt.Errorf("%w: xml is not valid base64", httpx.ErrValidation)
	}
	return data, req.SourceFile, nil
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	data, sourceFile, err := h.readPayload(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	header, lines, err := h.parser.ParseBytes(data)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrUnprocessable, err))
		return
	}

	opts := Options{
		DryRun:           r.URL.Query().Get("dry_run") == "1",
		AllowAutoCreate:  h.allowAutoCreate,
		AutoNivelizacija: h.autoNivelizacija,
		SourceFile:       sourceFile,
	}
	result, err := h.reconciler.Reconcile(r.Context(), header, lines, opts)
	if err != nil {
		h.log.Error("reconcile failed",
			slog.String("invoice", header.InvoiceNumber), slog.Any("error", err))
		switch {
		case errors.Is(err, ErrSafetyGate):
			httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrForbidden, err))
		case errors.Is(err, ErrNoHeader):
			httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		default:
			httpx.RespondError(w, err)
		}
		return
	}

	status := http.StatusCreated
	if result.Status == StatusReused || opts.DryRun {
		status = http.StatusOK
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "background imports are not enabled")
		return
	}
	data, sourceFile, err := h.readPayload(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	taskID, err := h.queue.EnqueueInvoiceImport(r.Context(), data, sourceFile, Options{
		AllowAutoCreate:  h.allowAutoCreate,
		AutoNivelizacija: h.autoNivelizacija,
		SourceFile:       sourceFile,
	})
	if err != nil {
		h.log.Error("enqueue failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: malformed run id", httpx.ErrValidation))
		return
	}
	run, err := h.runs.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if run == nil {
		httpx.RespondError(w, fmt.Errorf("%w: run %s", httpx.ErrNotFound, id))
		return
	}
	httpx.JSON(w, http.StatusOK, run)
}
