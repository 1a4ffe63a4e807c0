package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/IstiakDeveloper/gosto-khor/internal/app"
	"github.com/IstiakDeveloper/gosto-khor/internal/organizations"
	"github.com/IstiakDeveloper/gosto-khor/internal/platform/cache"
	"github.com/IstiakDeveloper/gosto-khor/internal/platform/db"
	"github.com/IstiakDeveloper/gosto-khor/internal/reports"
	"github.com/IstiakDeveloper/gosto-khor/internal/shared"
	"github.com/IstiakDeveloper/gosto-khor/internal/somiti"
	"github.com/IstiakDeveloper/gosto-khor/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	orgService := organizations.NewService(organizations.NewRepository(pool), auditLogger, organizations.ServiceConfig{
		FreeTier: cfg.FreeTier(),
		Logger:   logger,
	})
	reportService := reports.NewService(reports.NewRepository(pool), reports.NewCache(redisClient, cfg.ReportCacheTTL), nil, logger)
	somitiService := somiti.NewService(somiti.NewRepository(pool), somiti.ServiceConfig{
		Audit:       auditLogger,
		Idempotency: idempotencyStore,
		Limits:      orgService,
		Cache:       reportService,
		Logger:      logger,
		CatchUpDays: cfg.AccrualCatchUpDays,
	})

	loc := cfg.Location()
	accrueJob := jobs.NewAccrueDueJob(somitiService, reportService, logger, nil).InLocation(loc)
	warmupJob := jobs.NewReportsWarmupJob(reportService, logger, nil)
	cleanupJob := jobs.NewIdempotencyCleanupJob(idempotencyStore, cfg.IdempotencyRetention, logger, nil)

	accrueTask, err := jobs.NewAccrueDueTask(jobs.AccrueDuePayload{})
	if err != nil {
		logger.Error("build accrual task", slog.Any("error", err))
		os.Exit(1)
	}
	warmupTask, err := jobs.NewReportsWarmupTask()
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(jobs.IdempotencyCleanupPayload{})
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Location:    loc,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAccrueDue, Handler: accrueJob.Handle},
			{Type: jobs.TaskReportsWarmup, Handler: warmupJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.AccrualCron, Task: accrueTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.ReportWarmupCron, Task: warmupTask},
			{Spec: cfg.IdempotencyCleanupCron, Task: cleanupTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
