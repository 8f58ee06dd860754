package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconcileSweep recomputes outstanding-credit aggregates from rows.
	TaskReconcileSweep = "reconcile:sweep"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// ReconcileSweepPayload carries scheduling metadata for the nightly sweep.
type ReconcileSweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	// Concurrency bounds parallel player reconciliations; zero means default.
	Concurrency int `json:"concurrency,omitempty"`
}

// NewReconcileSweepTask constructs an Asynq task for the reconciliation sweep.
func NewReconcileSweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcileSweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileSweep, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload sets the retention window for idempotency keys.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs an Asynq task pruning old keys.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
