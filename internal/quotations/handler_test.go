package quotations

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charterdesk/charterdesk/internal/workflow"
)

func newTestRouter(t *testing.T) (*fixture, http.Handler) {
	t.Helper()
	f := newFixture(t)
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), f.svc)
	r := chi.NewRouter()
	h.MountRoutes(r)
	h.MountPublicRoutes(r)
	return f, r
}

func do(router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ActorHeader, "staff:ken")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

const createBody = `{
	"title": "Airport transfer",
	"customer_name": "Aiko Tanaka",
	"customer_email": "aiko@example.com",
	"discount_percentage": "10",
	"promotion_discount": "500",
	"tax_percentage": "10",
	"items": [{"description": "Narita to Shinjuku", "unit_price": "10000", "quantity": "1"}]
}`

func TestHandlerCreateAndShow(t *testing.T) {
	f, router := newTestRouter(t)

	rec := do(router, http.MethodPost, "/quotations", createBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created Quotation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, created.TotalAmount.Equal(dec("9350")))
	assert.Equal(t, "staff:ken", created.CreatedBy)

	rec = do(router, http.MethodGet, "/quotations/"+created.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.QuoteNumber)
	assert.Len(t, f.repo.quotations, 1)
}

func TestHandlerCreateValidation(t *testing.T) {
	_, router := newTestRouter(t)

	rec := do(router, http.MethodPost, "/quotations", `{"title":"x","customer_name":"y","customer_email":"not-an-email"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "CustomerEmail")

	rec = do(router, http.MethodPost, "/quotations", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/quotations", `{"title":"x","customer_name":"y","customer_email":"a@b.co","pickup_time":"25:99"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerPriceNotFound(t *testing.T) {
	_, router := newTestRouter(t)
	body := `{"title":"x","customer_name":"y","customer_email":"a@b.co","vehicle_id":"` + uuid.NewString() + `","duration_hours":5}`

	rec := do(router, http.MethodPost, "/quotations", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandlerNotFoundAndBadID(t *testing.T) {
	_, router := newTestRouter(t)

	rec := do(router, http.MethodGet, "/quotations/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(router, http.MethodGet, "/quotations/nope", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerInvalidTransitionIsConflict(t *testing.T) {
	f, router := newTestRouter(t)
	q := f.create(t, itemsRequest())

	rec := do(router, http.MethodPost, "/quotations/"+q.ID.String()+"/approve", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerDeliveryFailureIsBadGateway(t *testing.T) {
	f, router := newTestRouter(t)
	q := f.create(t, itemsRequest())
	f.notifier.err = errBoom

	rec := do(router, http.MethodPost, "/quotations/"+q.ID.String()+"/send", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandlerWorkflowAndList(t *testing.T) {
	f, router := newTestRouter(t)
	q := f.sent(t)
	f.create(t, itemsRequest())

	rec := do(router, http.MethodGet, "/quotations/"+q.ID.String()+"/workflow", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tl workflow.Timeline
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tl))
	require.NotNil(t, tl.Current)
	assert.Equal(t, workflow.StepApproval, *tl.Current)

	rec = do(router, http.MethodGet, "/quotations?status=sent", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)

	rec = do(router, http.MethodGet, "/quotations?date_from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerInvoicePDF(t *testing.T) {
	f, router := newTestRouter(t)
	q := f.sent(t)
	rec := do(router, http.MethodPost, "/quotations/"+q.ID.String()+"/approve", `{"notes":"ok"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(router, http.MethodPost, "/quotations/"+q.ID.String()+"/invoice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "invoice-"+q.QuoteNumber+".pdf")
}

func TestHandlerMarkPaidValidatesMethod(t *testing.T) {
	f, router := newTestRouter(t)
	q := f.sent(t)
	do(router, http.MethodPost, "/quotations/"+q.ID.String()+"/approve", "")

	rec := do(router, http.MethodPost, "/quotations/"+q.ID.String()+"/mark-paid", `{"method":"barter"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/quotations/"+q.ID.String()+"/mark-paid", `{"method":"bank_transfer"}`)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHandlerQuoteAccess(t *testing.T) {
	f, router := newTestRouter(t)
	q := f.sent(t)

	rec := do(router, http.MethodGet, "/quote-access/garbage", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(router, http.MethodPost, "/quotations/"+q.ID.String()+"/access-link", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var link AccessLink
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &link))

	rec = do(router, http.MethodGet, "/quote-access/"+link.Token, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, http.MethodPost, "/quote-access/"+link.Token+"/reject", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/quote-access/"+link.Token+"/reject", `{"reason":"Too expensive"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	stored, err := f.svc.Get(context.Background(), q.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, stored.Status)
}

func TestHandlerDelete(t *testing.T) {
	f, router := newTestRouter(t)
	q := f.create(t, itemsRequest())

	rec := do(router, http.MethodDelete, "/quotations/"+q.ID.String(), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(router, http.MethodDelete, "/quotations/"+q.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
