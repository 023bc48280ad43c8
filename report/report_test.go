package report

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charterdesk/charterdesk/internal/pricing"
	"github.com/charterdesk/charterdesk/internal/quotations"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleQuotation() *quotations.Quotation {
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	pickup := time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)
	clock := pricing.MustClock("23:30")
	phone := "+81 90 1234 5678"
	return &quotations.Quotation{
		ID:                 uuid.New(),
		QuoteNumber:        "QN-20240501-00001",
		Title:              "Airport transfer",
		Status:             quotations.StatusSent,
		CustomerName:       "Aiko Tanaka",
		CustomerEmail:      "aiko@example.com",
		CustomerPhone:      &phone,
		PickupDate:         &pickup,
		PickupTime:         &clock,
		Currency:           "JPY",
		DiscountPercentage: dec("10"),
		PromotionDiscount:  dec("500"),
		TaxPercentage:      dec("10"),
		CreatedAt:          created,
		ExpiresAt:          created.Add(72 * time.Hour),
		Items: []quotations.ServiceItem{{
			Description:              "Narita to Shinjuku",
			UnitPrice:                dec("8000"),
			Quantity:                 dec("1"),
			TimeAdjustmentPercentage: dec("25"),
		}},
	}
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "JPY 9,350", Money(dec("9350"), "JPY"))
	assert.Equal(t, "JPY 1,234,567", Money(dec("1234567.4"), "jpy"))
	assert.Equal(t, "USD 1,234.50", Money(dec("1234.5"), "USD"))
	assert.Equal(t, "USD -500.00", Money(dec("-500"), "USD"))
	assert.Equal(t, "EUR 0.00", Money(decimal.Zero, "EUR"))
}

func TestClientRenderHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/forms/chromium/convert/html", r.URL.Path)
		assert.Contains(t, r.Header.Get("Content-Type"), "multipart/form-data")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		assert.Equal(t, "8.27", r.FormValue("paperWidth"))
		file, _, err := r.FormFile("files")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		html, _ := io.ReadAll(file)
		assert.Contains(t, string(html), "hello")
		_, _ = w.Write([]byte("MOCK-PDF"))
	}))
	defer srv.Close()

	pdf, err := NewClient(srv.URL+"/", srv.Client()).RenderHTML(context.Background(), "<p>hello</p>")
	require.NoError(t, err)
	assert.Equal(t, "MOCK-PDF", string(pdf))
}

func TestClientRenderHTMLErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "chromium crashed", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, srv.Client()).RenderHTML(context.Background(), "<p/>")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "chromium crashed")

	_, err = NewClient("", nil).RenderHTML(context.Background(), "<p/>")
	assert.Error(t, err)
}

type captureConverter struct {
	html string
}

func (c *captureConverter) RenderHTML(_ context.Context, html string) ([]byte, error) {
	c.html = html
	return []byte("%PDF-1.7"), nil
}

func TestQuotationRendererBuildsDocument(t *testing.T) {
	conv := &captureConverter{}
	r, err := NewQuotationRenderer(conv, time.UTC)
	require.NoError(t, err)

	pdf, err := r.RenderQuotation(context.Background(), sampleQuotation())
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(pdf))

	html := conv.html
	assert.Contains(t, html, "QN-20240501-00001")
	assert.Contains(t, html, "Aiko Tanaka")
	assert.Contains(t, html, "Fri 3 May 2024 23:30")
	assert.Contains(t, html, "Time of day adjustment +25%")
	assert.Contains(t, html, "JPY 10,000")
	assert.Contains(t, html, "JPY -1,000")
	assert.Contains(t, html, "JPY -500")
	assert.Contains(t, html, "JPY 9,350")
	assert.Contains(t, html, "4 May 2024 09:00")
}

func TestQuotationRendererEscapesInput(t *testing.T) {
	r, err := NewQuotationRenderer(&captureConverter{}, nil)
	require.NoError(t, err)
	q := sampleQuotation()
	q.Title = "<script>alert(1)</script>"

	html, err := r.BuildHTML(q)
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>alert(1)</script>")
	assert.Contains(t, html, "&lt;script&gt;")
}

func TestInvoiceRenderer(t *testing.T) {
	r := NewInvoiceRenderer(Issuer{Name: "Charterdesk Tours", Email: "billing@charterdesk.test"}, time.UTC)
	q := sampleQuotation()
	paid := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	q.PaymentCompletedAt = &paid

	pdf, err := r.RenderInvoice(context.Background(), q)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(pdf), "%PDF-"))
	assert.Greater(t, len(pdf), 500)
	assert.Equal(t, "INV-QN-20240501-00001", InvoiceNumber(q))
}

func TestHandlerHealth(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"up"}`))
	}))
	defer up.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := chi.NewRouter()
	NewHandler(NewClient(up.URL, up.Client()), logger).MountRoutes(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	down := chi.NewRouter()
	NewHandler(NewClient("http://127.0.0.1:1", nil), logger).MountRoutes(down)
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
