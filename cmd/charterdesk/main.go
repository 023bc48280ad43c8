package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/charterdesk/charterdesk/cmd/charterdesk/cli"
	"github.com/charterdesk/charterdesk/internal/app"
	"github.com/charterdesk/charterdesk/internal/observability"
	"github.com/charterdesk/charterdesk/internal/platform/cache"
	"github.com/charterdesk/charterdesk/internal/platform/db"
	"github.com/charterdesk/charterdesk/internal/platform/idempotency"
	"github.com/charterdesk/charterdesk/internal/pricing"
	"github.com/charterdesk/charterdesk/internal/quotations"
	"github.com/charterdesk/charterdesk/jobs"
	"github.com/charterdesk/charterdesk/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobsCommand(ctx, cfg, os.Args[2:]))
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	var (
		redisClient *redis.Client
		idemStore   *idempotency.Store
	)
	redisClient, err = cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Warn("redis unavailable", slog.Any("error", err))
	} else {
		idemStore = idempotency.NewStore(redisClient, cfg.IdempotencyTTL)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	services, err := app.NewServices(cfg, app.ServiceDeps{
		Pool:       dbpool,
		Redis:      redisClient,
		Notifier:   jobClient,
		Registerer: metrics.Registerer(),
	}, logger)
	if err != nil {
		logger.Error("init services", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	checkers := map[string]app.Pinger{"postgres": dbpool}
	if redisClient != nil {
		checkers["redis"] = app.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		QuotationHandler:  quotations.NewHandler(logger, services.Quotations),
		PricingHandler:    pricing.NewHandler(logger, services.Pricing),
		ReportHandler:     report.NewHandler(services.Gotenberg, logger),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
		Idempotency:       idemStore,
		ReadinessCheckers: checkers,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func runJobsCommand(ctx context.Context, cfg *app.Config, args []string) int {
	c := cli.NewJobsCLI(cfg.RedisAddr)
	defer c.Close()
	return c.Run(ctx, args, os.Stdout, os.Stderr)
}

