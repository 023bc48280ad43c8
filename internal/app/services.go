package app

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/charterdesk/charterdesk/internal/magiclink"
	"github.com/charterdesk/charterdesk/internal/payments"
	"github.com/charterdesk/charterdesk/internal/pricing"
	"github.com/charterdesk/charterdesk/internal/quotations"
	"github.com/charterdesk/charterdesk/report"
)

// ServiceDeps are the connections and collaborators shared by the API and the worker.
type ServiceDeps struct {
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Notifier   quotations.Notifier
	Registerer prometheus.Registerer
	HTTPClient *http.Client
}

// Services is the assembled domain layer.
type Services struct {
	Pricing    *pricing.Service
	Quotations *quotations.Service
	Gotenberg  *report.Client
}

// NewServices builds the pricing and quotation services from configuration.
func NewServices(cfg *Config, deps ServiceDeps, logger *slog.Logger) (*Services, error) {
	loc := cfg.Location()

	var priceCache pricing.Cache
	switch {
	case cfg.PricingCacheBackend == "redis" && deps.Redis != nil:
		priceCache = pricing.NewRedisCache(deps.Redis, cfg.PricingCacheTTL)
	default:
		if cfg.PricingCacheBackend == "redis" {
			logger.Warn("redis unavailable, pricing cache falls back to memory")
		}
		priceCache = pricing.NewMemoryCache(cfg.PricingCacheTTL, nil)
	}
	pricingService := pricing.NewService(pricing.NewRepository(deps.Pool), priceCache, pricing.ServiceConfig{
		DefaultCurrency: cfg.DefaultCurrency,
		Metrics:         pricing.NewMetrics(deps.Registerer),
		Logger:          logger.With(slog.String("component", "pricing")),
	})

	links, err := magiclink.NewIssuer(cfg.MagicLinkSecret, cfg.MagicLinkTTL, cfg.CompanyName)
	if err != nil {
		return nil, fmt.Errorf("magic link issuer: %w", err)
	}

	gotenberg := report.NewClient(cfg.GotenbergURL, deps.HTTPClient)
	documents, err := report.NewQuotationRenderer(gotenberg, loc)
	if err != nil {
		return nil, err
	}
	invoices := report.NewInvoiceRenderer(report.Issuer{
		Name:    cfg.CompanyName,
		Address: cfg.CompanyAddress,
		Email:   cfg.CompanyEmail,
	}, loc)

	var linker quotations.PaymentLinker
	stripeLinker := payments.NewStripeLinker(payments.Config{
		SecretKey:  cfg.StripeSecretKey,
		SuccessURL: cfg.PaymentSuccessURL,
		CancelURL:  cfg.PaymentCancelURL,
	})
	if stripeLinker.Enabled() {
		linker = stripeLinker
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set, payment links disabled")
	}

	quotationService := quotations.NewService(quotations.ServiceParams{
		Repo:            quotations.NewRepository(deps.Pool),
		Pricer:          pricingService,
		Notifier:        deps.Notifier,
		Payments:        linker,
		Documents:       documents,
		Invoices:        invoices,
		Links:           links,
		Logger:          logger.With(slog.String("component", "quotations")),
		Validity:        cfg.QuotationValidity,
		ReminderWindow:  cfg.ReminderWindow,
		PublicBaseURL:   cfg.PublicBaseURL,
		DefaultCurrency: cfg.DefaultCurrency,
		Location:        loc,
	})

	return &Services{Pricing: pricingService, Quotations: quotationService, Gotenberg: gotenberg}, nil
}
