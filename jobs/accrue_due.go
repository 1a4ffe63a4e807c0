package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/IstiakDeveloper/gosto-khor/internal/jobs"
	"github.com/IstiakDeveloper/gosto-khor/internal/somiti"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Accruer is the slice of the somiti service the accrual job drives.
type Accruer interface {
	AccrueDue(ctx context.Context, asOf time.Time) ([]somiti.AccrualResult, error)
}

// CacheBumper invalidates cached reports after ledger changes.
type CacheBumper interface {
	Bump(ctx context.Context) error
}

// AccrueDueJob applies the scheduled accrual for one day.
type AccrueDueJob struct {
	Somitis Accruer
	Reports CacheBumper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewAccrueDueJob wires dependencies for the accrual handler.
func NewAccrueDueJob(somitis Accruer, reports CacheBumper, logger *slog.Logger, metrics *jobmetrics.Metrics) *AccrueDueJob {
	return &AccrueDueJob{
		Somitis: somitis,
		Reports: reports,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// InLocation makes "today" follow the calendar of loc rather than UTC.
func (j *AccrueDueJob) InLocation(loc *time.Location) *AccrueDueJob {
	if loc != nil {
		j.clock = func() time.Time { return time.Now().In(loc) }
	}
	return j
}

// Handle processes TaskAccrueDue tasks.
func (j *AccrueDueJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Somitis == nil {
		return errors.New("accrue due: handler not configured")
	}
	var payload AccrueDuePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	asOf := j.now()
	if payload.Date != "" {
		parsed, err := time.Parse("2006-01-02", payload.Date)
		if err != nil {
			return asynq.SkipRetry
		}
		asOf = parsed
	}

	tracker := metricsOrDefault(j.Metrics).Track(TaskAccrueDue)
	logger := loggerFor(j.Logger, TaskAccrueDue).With(slog.String("date", asOf.Format("2006-01-02")))
	logger.Info("starting due accrual")

	results, err := j.Somitis.AccrueDue(ctx, asOf)
	accrued := 0
	for _, res := range results {
		accrued += res.Accrued
	}
	metricsOrDefault(j.Metrics).AddItems(TaskAccrueDue, accrued)
	if accrued > 0 && j.Reports != nil {
		if bumpErr := j.Reports.Bump(ctx); bumpErr != nil {
			logger.Warn("bump report cache", slog.Any("error", bumpErr))
		}
	}
	if err != nil {
		logger.Error("due accrual failed", slog.Int("somitis", len(results)), slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("completed due accrual", slog.Int("somitis", len(results)), slog.Int("accrued", accrued))
	return tracker.End(nil)
}

func (j *AccrueDueJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func metricsOrDefault(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}

func loggerFor(logger *slog.Logger, job string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(slog.String("job", job))
}
