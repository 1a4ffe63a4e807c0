package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/IstiakDeveloper/gosto-khor/internal/jobs"
)

// Warmer prebuilds reports into the cache.
type Warmer interface {
	Warm(ctx context.Context) (int, error)
}

// ReportsWarmupJob pre-populates the report cache for active organizations.
type ReportsWarmupJob struct {
	Reports Warmer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Timeout time.Duration
}

// NewReportsWarmupJob wires dependencies for the warmup handler.
func NewReportsWarmupJob(reports Warmer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReportsWarmupJob {
	return &ReportsWarmupJob{Reports: reports, Logger: logger, Metrics: metrics, Timeout: 2 * time.Minute}
}

// Handle processes TaskReportsWarmup tasks.
func (j *ReportsWarmupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Reports == nil {
		return errors.New("reports warmup: handler not configured")
	}
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskReportsWarmup)
	logger := loggerFor(j.Logger, TaskReportsWarmup)
	started := time.Now()

	warmed, err := j.Reports.Warm(ctx)
	metricsOrDefault(j.Metrics).AddItems(TaskReportsWarmup, warmed)
	if err != nil {
		logger.Error("warm reports", slog.Int("organizations", warmed), slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("completed reports warmup", slog.Int("organizations", warmed), slog.Duration("duration", time.Since(started)))
	return tracker.End(nil)
}
