package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charterdesk/charterdesk/internal/observability"
)

func validConfig() *Config {
	return &Config{
		AppEnv:              "development",
		AppTimezone:         "Asia/Tokyo",
		PricingCacheBackend: "memory",
		PricingCacheTTL:     30 * time.Second,
		QuotationValidity:   72 * time.Hour,
		ReminderWindow:      24 * time.Hour,
		MagicLinkSecret:     strings.Repeat("s", 32),
		RateLimitPerMin:     120,
		AppRequestTimeout:   5 * time.Second,
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("MAGIC_LINK_SECRET", strings.Repeat("k", 40))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 30*time.Second, cfg.PricingCacheTTL)
	assert.Equal(t, 72*time.Hour, cfg.QuotationValidity)
	assert.Equal(t, 24*time.Hour, cfg.ReminderWindow)
	assert.Equal(t, "@hourly", cfg.ReminderScanCron)
	assert.Equal(t, "JPY", cfg.DefaultCurrency)
	assert.Equal(t, "Asia/Tokyo", cfg.Location().String())
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRequiresMagicLinkSecret(t *testing.T) {
	t.Setenv("MAGIC_LINK_SECRET", "")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"short secret":  func(c *Config) { c.MagicLinkSecret = "short" },
		"cache backend": func(c *Config) { c.PricingCacheBackend = "memcached" },
		"cache ttl":     func(c *Config) { c.PricingCacheTTL = 0 },
		"window":        func(c *Config) { c.ReminderWindow = 96 * time.Hour },
		"bad timezone":  func(c *Config) { c.AppTimezone = "Mars/Olympus" },
		"zero validity": func(c *Config) { c.QuotationValidity = 0 },
	}
	require.NoError(t, validConfig().Validate())
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "warn"})
	logger.Info("hidden")
	logger.Warn("shown", slog.String("quotation_id", "q1"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "q1", entry["quotation_id"])
}

func TestInTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "true")
	RefreshTestMode()
	assert.True(t, InTestMode())

	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	assert.False(t, InTestMode())
}

func newTestRouter(checkers map[string]Pinger) http.Handler {
	return NewRouter(RouterParams{
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:            validConfig(),
		Metrics:           observability.NewMetrics(),
		ReadinessCheckers: checkers,
	})
}

func TestRouterHealthAndSecurityHeaders(t *testing.T) {
	router := newTestRouter(nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
}

func TestRouterNotFoundIsProblem(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestRouterReadiness(t *testing.T) {
	up := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	newTestRouter(map[string]Pinger{"postgres": up}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"postgres":"up"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	newTestRouter(map[string]Pinger{"postgres": up, "redis": down}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"postgres":"up","redis":"down"}`, rec.Body.String())
}

func TestRouterExposesMetrics(t *testing.T) {
	router := newTestRouter(nil)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `charterdesk_http_requests_total{code="200",route="/healthz"} 1`)
}
