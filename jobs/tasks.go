package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAccrueDue accrues the day's occasion for every active somiti.
	TaskAccrueDue = "somiti:accrue-due"
	// TaskReportsWarmup prebuilds dashboard reports per organization.
	TaskReportsWarmup = "reports:warmup"
	// TaskIdempotencyCleanup purges expired collection idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency-cleanup"
)

// AccrueDuePayload selects the occasion to accrue. An empty Date means the
// worker's current day.
type AccrueDuePayload struct {
	Date string `json:"date,omitempty"`
}

// ReportsWarmupPayload is empty; a warmup covers every active organization.
type ReportsWarmupPayload struct{}

// IdempotencyCleanupPayload overrides the retention window when set.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours,omitempty"`
}

// NewAccrueDueTask constructs the accrual task.
func NewAccrueDueTask(payload AccrueDuePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAccrueDue, data, asynq.MaxRetry(3), asynq.Timeout(10*time.Minute)), nil
}

// NewReportsWarmupTask constructs the report warmup task.
func NewReportsWarmupTask() (*asynq.Task, error) {
	data, err := json.Marshal(ReportsWarmupPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReportsWarmup, data, asynq.MaxRetry(1)), nil
}

// NewIdempotencyCleanupTask constructs the key purge task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.MaxRetry(1)), nil
}
