package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/IstiakDeveloper/gosto-khor/cmd/gostokhor/cli"
	"github.com/IstiakDeveloper/gosto-khor/internal/app"
	"github.com/IstiakDeveloper/gosto-khor/internal/members"
	"github.com/IstiakDeveloper/gosto-khor/internal/observability"
	"github.com/IstiakDeveloper/gosto-khor/internal/organizations"
	"github.com/IstiakDeveloper/gosto-khor/internal/platform/cache"
	"github.com/IstiakDeveloper/gosto-khor/internal/platform/db"
	"github.com/IstiakDeveloper/gosto-khor/internal/reports"
	reporthttp "github.com/IstiakDeveloper/gosto-khor/internal/reports/http"
	"github.com/IstiakDeveloper/gosto-khor/internal/shared"
	"github.com/IstiakDeveloper/gosto-khor/internal/somiti"
	"github.com/IstiakDeveloper/gosto-khor/jobs"
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

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := cli.Run(ctx, cfg.RedisAddr, os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	orgService := organizations.NewService(organizations.NewRepository(dbpool), auditLogger, organizations.ServiceConfig{
		FreeTier:         cfg.FreeTier(),
		ExpiringSoonDays: cfg.ExpiringSoonDays,
		BcryptCost:       cfg.BcryptCost,
		Logger:           logger,
	})

	reportService := reports.NewService(
		reports.NewRepository(dbpool),
		reports.NewCache(redisClient, cfg.ReportCacheTTL),
		metrics,
		logger,
	)

	somitiService := somiti.NewService(somiti.NewRepository(dbpool), somiti.ServiceConfig{
		Audit:       auditLogger,
		Idempotency: idempotencyStore,
		Limits:      orgService,
		Cache:       reportService,
		Metrics:     metrics,
		Logger:      logger,
	})

	memberService := members.NewService(members.NewRepository(dbpool), orgService, auditLogger, cfg.PhoneRegion, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		Metrics:             metrics,
		Authenticator:       orgService,
		OrganizationHandler: organizations.NewHandler(logger, orgService),
		SomitiHandler:       somiti.NewHandler(logger, somitiService),
		MemberHandler:       members.NewHandler(logger, memberService),
		ReportHandler:       reporthttp.NewHandler(logger, reportService),
		JobHandler:          jobs.NewHandler(inspector, logger),
		Checks: map[string]app.Pinger{
			"postgres": dbpool,
			"redis":    redisPinger{redisClient},
		},
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
