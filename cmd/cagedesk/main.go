package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/cagedesk/cagedesk/internal/app"
	"github.com/cagedesk/cagedesk/internal/cage"
	"github.com/cagedesk/cagedesk/internal/credit"
	"github.com/cagedesk/cagedesk/internal/observability"
	"github.com/cagedesk/cagedesk/internal/platform/cache"
	"github.com/cagedesk/cagedesk/internal/platform/db"
	"github.com/cagedesk/cagedesk/internal/session"
	"github.com/cagedesk/cagedesk/internal/shared"
	"github.com/cagedesk/cagedesk/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, summaries will be recomputed", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	metrics := observability.NewMetrics()
	validate := validator.New()

	summaryCache := session.NewCache(redisClient, cfg.SummaryCacheTTL)

	sessionRepo := session.NewRepository(dbpool)
	sessionService := session.NewService(sessionRepo, auditLogger, summaryCache)
	sessionHandler := session.NewHandler(logger, sessionService, validate)

	creditRepo := credit.NewRepository(dbpool)
	creditService := credit.NewService(creditRepo, auditLogger, summaryCache)
	creditHandler := credit.NewHandler(logger, creditService, validate)

	cageRepo := cage.NewRepository(dbpool)
	cageService := cage.NewService(cageRepo, auditLogger, idempotencyStore, metrics, summaryCache)
	cageHandler := cage.NewHandler(logger, cageService, validate)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, jobsClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionHandler: sessionHandler,
		CreditHandler:  creditHandler,
		CageHandler:    cageHandler,
		JobsHandler:    jobsHandler,
		Pool:           dbpool,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
