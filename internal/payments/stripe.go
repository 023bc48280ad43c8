// Package payments creates hosted payment links for approved quotations.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"github.com/charterdesk/charterdesk/internal/pricing"
)

// ErrDisabled is returned when no provider key is configured.
var ErrDisabled = errors.New("payments: provider not configured")

type LinkRequest struct {
	Reference     string
	Description   string
	Amount        decimal.Decimal
	Currency      string
	CustomerEmail string
}

type Link struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Config struct {
	SecretKey  string
	SuccessURL string
	CancelURL  string
	// Backends overrides the Stripe API endpoint, mainly for tests.
	Backends *stripe.Backends
}

// StripeLinker creates Stripe Checkout sessions in payment mode.
type StripeLinker struct {
	api        *client.API
	successURL string
	cancelURL  string
}

func NewStripeLinker(cfg Config) *StripeLinker {
	if cfg.SecretKey == "" {
		return &StripeLinker{}
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, cfg.Backends)
	return &StripeLinker{api: api, successURL: cfg.SuccessURL, cancelURL: cfg.CancelURL}
}

// Enabled reports whether links can be created.
func (l *StripeLinker) Enabled() bool {
	return l != nil && l.api != nil
}

// CreatePaymentLink opens a checkout session for the full amount.
func (l *StripeLinker) CreatePaymentLink(ctx context.Context, req LinkRequest) (Link, error) {
	if !l.Enabled() {
		return Link{}, ErrDisabled
	}
	unitAmount, err := MinorAmount(req.Amount, req.Currency)
	if err != nil {
		return Link{}, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(l.successURL),
		CancelURL:         stripe.String(l.cancelURL),
		ClientReferenceID: stripe.String(req.Reference),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(req.Currency)),
				UnitAmount: stripe.Int64(unitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.Description),
				},
			},
		}},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.AddMetadata("quotation_id", req.Reference)
	params.Context = ctx

	sess, err := l.api.CheckoutSessions.New(params)
	if err != nil {
		return Link{}, fmt.Errorf("payments: create checkout session: %w", err)
	}
	link := Link{ID: sess.ID, URL: sess.URL}
	if sess.ExpiresAt > 0 {
		link.ExpiresAt = time.Unix(sess.ExpiresAt, 0).UTC()
	}
	return link, nil
}

// MinorAmount converts an amount to the currency's smallest unit.
func MinorAmount(amount decimal.Decimal, currency string) (int64, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("payments: amount must be positive, got %s", amount)
	}
	units := pricing.MinorUnits(currency)
	return amount.Shift(int32(units)).Round(0).IntPart(), nil
}
