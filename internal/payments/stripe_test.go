package payments

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v74"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinorAmount(t *testing.T) {
	jpy, err := MinorAmount(decimal.RequireFromString("9350"), "JPY")
	require.NoError(t, err)
	assert.EqualValues(t, 9350, jpy)

	usd, err := MinorAmount(decimal.RequireFromString("12.345"), "USD")
	require.NoError(t, err)
	assert.EqualValues(t, 1235, usd)

	_, err = MinorAmount(decimal.Zero, "USD")
	assert.Error(t, err)
}

func TestDisabledLinker(t *testing.T) {
	l := NewStripeLinker(Config{})
	assert.False(t, l.Enabled())

	_, err := l.CreatePaymentLink(context.Background(), LinkRequest{Amount: decimal.NewFromInt(1), Currency: "JPY"})
	assert.True(t, errors.Is(err, ErrDisabled))
}

func TestCreatePaymentLink(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/checkout/sessions") {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_123","object":"checkout.session","url":"https://checkout.stripe.test/cs_test_123","expires_at":1714640400}`))
	}))
	t.Cleanup(srv.Close)

	backends := &stripe.Backends{
		API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(srv.URL),
			HTTPClient:        srv.Client(),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		}),
	}
	l := NewStripeLinker(Config{
		SecretKey:  "sk_test_dummy",
		SuccessURL: "https://charterdesk.test/paid",
		CancelURL:  "https://charterdesk.test/cancelled",
		Backends:   backends,
	})

	link, err := l.CreatePaymentLink(context.Background(), LinkRequest{
		Reference:     "8d1e5c2a-0000-4000-8000-000000000001",
		Description:   "Quotation QN-20240501-00001",
		Amount:        decimal.RequireFromString("9350"),
		Currency:      "JPY",
		CustomerEmail: "guest@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_123", link.ID)
	assert.Equal(t, "https://checkout.stripe.test/cs_test_123", link.URL)
	assert.EqualValues(t, 1714640400, link.ExpiresAt.Unix())

	require.NotNil(t, form)
	assert.Equal(t, "payment", form.Get("mode"))
	assert.Equal(t, "9350", form.Get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "jpy", form.Get("line_items[0][price_data][currency]"))
	assert.Equal(t, "guest@example.com", form.Get("customer_email"))
	assert.Equal(t, "8d1e5c2a-0000-4000-8000-000000000001", form.Get("metadata[quotation_id]"))
}
