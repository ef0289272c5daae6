package reconcile

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/wellonapharm/smart/internal/invoice"
)

const legacyInvoiceXML = `<?xml version="1.0" encoding="UTF-8"?>
<Dokument>
  <Broj>2024-001234</Broj>
  <Datum>2024-03-15</Datum>
  <Dobavljac><Naziv>SOPHARMA TRADING D.O.O.</Naziv></Dobavljac>
  <Stavke>
    <Stavka>
      <Sifra>S100</Sifra>
      <GTIN>3800010641234</GTIN>
      <Naziv>ANALGIN 500MG TABLET A20</Naziv>
      <Kolicina>10</Kolicina>
      <CenaFakturna>100</CenaFakturna>
      <RabatProcenat>10</RabatProcenat>
      <PorezProcenat>10</PorezProcenat>
    </Stavka>
  </Stavke>
</Dokument>`

type fakeEnqueuer struct {
	lastSource string
	lastXML    []byte
}

func (f *fakeEnqueuer) EnqueueInvoiceImport(_ context.Context, xml []byte, sourceFile string, _ Options) (string, error) {
	f.lastXML = xml
	f.lastSource = sourceFile
	return "task-123", nil
}

func newTestHandler(t *testing.T, queue Enqueuer) (*Handler, *memoryDocs) {
	t.Helper()
	docs := newMemoryDocs()
	arts := newMemoryArticles()
	seedArticles(arts)
	r, _ := testReconciler(docs, arts, nil, false)
	parser := invoice.NewParser(decimal.NewFromInt(10))
	return NewHandler(parser, r, nil, queue, true, false, r.log), docs
}

func importBody(t *testing.T, xml, sourceFile string) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"xml":         base64.StdEncoding.EncodeToString([]byte(xml)),
		"source_file": sourceFile,
	})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func mountTestRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/imports", h.MountRoutes)
	return r
}

func TestHandleImportCreates(t *testing.T) {
	h, docs := newTestHandler(t, nil)
	router := mountTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/api/imports", importBody(t, legacyInvoiceXML, "faktura.xml"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var result Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, StatusCreated, result.Status)
	require.Equal(t, 1, result.LinesInserted)
	require.NotNil(t, result.DocumentID)
	require.Len(t, docs.headers, 1)
}

func TestHandleImportDryRun(t *testing.T) {
	h, docs := newTestHandler(t, nil)
	router := mountTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/api/imports?dry_run=1", importBody(t, legacyInvoiceXML, ""))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Nil(t, result.DocumentID)
	require.Empty(t, docs.headers)
}

func TestHandleImportReusedReturns200(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	router := mountTestRouter(h)

	for i, want := range []int{http.StatusCreated, http.StatusOK} {
		req := httptest.NewRequest(http.MethodPost, "/api/imports", importBody(t, legacyInvoiceXML, ""))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, want, rec.Code, "request %d", i+1)
	}
}

func TestHandleImportRejectsBadBase64(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	router := mountTestRouter(h)

	body, _ := json.Marshal(map[string]string{"xml": "not-base64!!"})
	req := httptest.NewRequest(http.MethodPost, "/api/imports", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleImportRejectsMalformedXML(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	router := mountTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/api/imports", importBody(t, "<Dokument><Broj>", ""))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandleEnqueue(t *testing.T) {
	queue := &fakeEnqueuer{}
	h, _ := newTestHandler(t, queue)
	router := mountTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/api/imports/enqueue", importBody(t, legacyInvoiceXML, "faktura.xml"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"task_id":"task-123"}`, rec.Body.String())
	require.Equal(t, "faktura.xml", queue.lastSource)
	require.Equal(t, []byte(legacyInvoiceXML), queue.lastXML)
}

func TestHandleEnqueueWithoutQueue(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	router := mountTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/api/imports/enqueue", importBody(t, legacyInvoiceXML, ""))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleGetRunRejectsBadID(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	router := mountTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/api/imports/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
