package pricing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// CatalogKey is the cache key of the full catalogue snapshot.
const CatalogKey = "catalog:v1"

// PriceRequest asks for a quotation price. Items win over the single-service fields.
type PriceRequest struct {
	Items       []Item      `json:"items"`
	Adjustments Adjustments `json:"adjustments"`
	Service     *Query      `json:"service,omitempty"`
	// PickupAt selects the time-of-day rule for the single-service fallback.
	PickupAt *time.Time `json:"pickup_at,omitempty"`
	Currency string     `json:"currency,omitempty"`
}

// Quote is a priced request.
type Quote struct {
	Breakdown   Breakdown `json:"breakdown"`
	Currency    string    `json:"currency"`
	BasePrice   *Price    `json:"base_price,omitempty"`
	AppliedRule *TimeRule `json:"applied_rule,omitempty"`
}

// Service prices quotations against the catalogue.
type Service struct {
	source          Source
	cache           Cache
	strategies      []Strategy
	defaultCurrency string
	metrics         *Metrics
	logger          *slog.Logger
}

// ServiceConfig collects optional service settings.
type ServiceConfig struct {
	Strategies      []Strategy
	DefaultCurrency string
	Metrics         *Metrics
	Logger          *slog.Logger
}

// NewService constructs the pricing service. The cache is required so callers choose its TTL.
func NewService(source Source, cache Cache, cfg ServiceConfig) *Service {
	if cfg.Strategies == nil {
		cfg.Strategies = DefaultStrategies()
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "JPY"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		source:          source,
		cache:           cache,
		strategies:      cfg.Strategies,
		defaultCurrency: cfg.DefaultCurrency,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
	}
}

// Catalog returns the cached snapshot.
func (s *Service) Catalog(ctx context.Context) (Catalog, error) {
	if s.source == nil {
		return Catalog{}, errors.New("pricing: catalogue source not configured")
	}
	return s.cache.Fetch(ctx, CatalogKey, s.source.LoadCatalog)
}

// InvalidateCatalog drops the cached snapshot.
func (s *Service) InvalidateCatalog(ctx context.Context) error {
	return s.cache.Invalidate(ctx, CatalogKey)
}

// LookupBasePrice resolves a catalogue price for one service.
func (s *Service) LookupBasePrice(ctx context.Context, q Query) (Price, error) {
	cat, err := s.Catalog(ctx)
	if err != nil {
		return Price{}, err
	}
	price, err := Lookup(cat, q, s.strategies)
	if err != nil {
		s.metrics.observeNotFound()
		s.logger.Warn("pricing lookup failed",
			slog.String("service_type_id", q.ServiceTypeID.String()),
			slog.String("vehicle_id", q.VehicleID.String()),
			slog.Int("duration_hours", q.DurationHours),
		)
		return Price{}, err
	}
	s.metrics.observeLookup(price.Strategy)
	return price, nil
}

// Price computes a quote from explicit items, or from the catalogue when no items are given.
func (s *Service) Price(ctx context.Context, req PriceRequest) (Quote, error) {
	currency := req.Currency
	if currency == "" {
		currency = s.defaultCurrency
	}
	if len(req.Items) == 0 && (req.Service == nil || req.Service.empty()) {
		return Quote{}, ErrEmptyRequest
	}
	if len(req.Items) > 0 {
		b, err := Calculate(req.Items, req.Adjustments)
		if err != nil {
			return Quote{}, err
		}
		return Quote{Breakdown: b, Currency: currency}, nil
	}
	return s.priceService(ctx, *req.Service, req.PickupAt, req.Adjustments, currency)
}

func (s *Service) priceService(ctx context.Context, q Query, pickupAt *time.Time, adj Adjustments, currency string) (Quote, error) {
	if err := adj.Validate(); err != nil {
		return Quote{}, err
	}
	cat, err := s.Catalog(ctx)
	if err != nil {
		return Quote{}, err
	}
	price, err := Lookup(cat, q, s.strategies)
	if err != nil {
		s.metrics.observeNotFound()
		return Quote{}, err
	}
	s.metrics.observeLookup(price.Strategy)
	if price.Currency != "" {
		currency = price.Currency
	}

	item := Item{UnitPrice: price.Amount, Quantity: decimal.NewFromInt(1)}
	quote := Quote{Currency: currency, BasePrice: &price}
	if pickupAt != nil {
		scope := Scope{CategoryID: q.CategoryID, ServiceTypeID: q.ServiceTypeID}
		if rule, ok := SelectRule(cat.TimeRules, *pickupAt, scope); ok {
			item.TimeAdjustmentPercentage = rule.AdjustmentPercentage
			quote.AppliedRule = &rule
		}
	}

	quote.Breakdown, err = Calculate([]Item{item}, adj)
	if err != nil {
		return Quote{}, err
	}
	return quote, nil
}
