package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/cagedesk/cagedesk/internal/credit"
	jobmetrics "github.com/cagedesk/cagedesk/internal/jobs"
	"github.com/cagedesk/cagedesk/internal/observability"
)

const defaultSweepConcurrency = 4

// Reconciler recomputes outstanding-credit aggregates from their rows.
// Implemented by the credit service.
type Reconciler interface {
	ListProfileIDs(ctx context.Context) ([]int64, error)
	ReconcilePlayer(ctx context.Context, playerID int64) (*credit.Drift, error)
	ReconcileSession(ctx context.Context, sessionID int64) (*credit.Drift, error)
}

// SessionSource lists sessions the sweep must cover.
type SessionSource interface {
	ListOpenIDs(ctx context.Context) ([]int64, error)
}

// ReconcileSweepJob walks every player profile and open session, recomputing
// stored aggregates and correcting any drift against the credit rows.
type ReconcileSweepJob struct {
	Reconciler Reconciler
	Sessions   SessionSource
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	Obs        *observability.Metrics
}

// NewReconcileSweepJob initialises the sweep handler.
func NewReconcileSweepJob(rec Reconciler, sessions SessionSource, logger *slog.Logger, metrics *jobmetrics.Metrics, obs *observability.Metrics) *ReconcileSweepJob {
	return &ReconcileSweepJob{Reconciler: rec, Sessions: sessions, Logger: logger, Metrics: metrics, Obs: obs}
}

// Handle executes the sweep.
func (j *ReconcileSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Reconciler == nil {
		return errors.New("reconcile sweep: handler not configured")
	}
	var payload ReconcileSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	concurrency := payload.Concurrency
	if concurrency <= 0 {
		concurrency = defaultSweepConcurrency
	}

	tracker := j.Metrics.Track(TaskReconcileSweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Time("scheduled_for", payload.ScheduledFor))
	logger.Info("starting reconciliation sweep")

	var corrected atomic.Int64

	playerIDs, err := j.Reconciler.ListProfileIDs(ctx)
	if err != nil {
		resultErr = err
		logger.Error("list players", slog.Any("error", err))
		return resultErr
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, id := range playerIDs {
		g.Go(func() error {
			drift, err := j.Reconciler.ReconcilePlayer(gctx, id)
			if err != nil {
				return err
			}
			if drift != nil {
				corrected.Add(1)
				j.Metrics.AddDrifts("player", id, 1)
				j.Obs.ObserveDriftCorrection()
				logger.Warn("player aggregate drift corrected",
					slog.Int64("player_id", id),
					slog.Float64("stored", drift.Stored),
					slog.Float64("computed", drift.Computed))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		resultErr = err
		logger.Error("player sweep failed", slog.Any("error", err))
		return resultErr
	}

	if j.Sessions != nil {
		sessionIDs, err := j.Sessions.ListOpenIDs(ctx)
		if err != nil {
			resultErr = err
			logger.Error("list open sessions", slog.Any("error", err))
			return resultErr
		}
		for _, id := range sessionIDs {
			drift, err := j.Reconciler.ReconcileSession(ctx, id)
			if err != nil {
				resultErr = err
				logger.Error("session reconcile failed", slog.Int64("session_id", id), slog.Any("error", err))
				return resultErr
			}
			if drift != nil {
				corrected.Add(1)
				j.Metrics.AddDrifts("session", id, 1)
				j.Obs.ObserveDriftCorrection()
				logger.Warn("session aggregate drift corrected",
					slog.Int64("session_id", id),
					slog.Float64("stored", drift.Stored),
					slog.Float64("computed", drift.Computed))
			}
		}
	}

	logger.Info("reconciliation sweep complete",
		slog.Int("players", len(playerIDs)),
		slog.Int64("corrected", corrected.Load()))
	return nil
}

func (j *ReconcileSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

// IdempotencyPruner deletes stale idempotency keys.
type IdempotencyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob prunes idempotency keys past their retention window.
type IdempotencyCleanupJob struct {
	Store   IdempotencyPruner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob initialises the cleanup handler.
func NewIdempotencyCleanupJob(store IdempotencyPruner, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle executes the cleanup.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Retention <= 0 {
		payload.Retention = 7 * 24 * time.Hour
	}

	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	err := j.Store.Cleanup(ctx, payload.Retention)
	if err != nil {
		j.log().Error("idempotency cleanup failed", slog.Any("error", err))
	} else {
		j.log().Info("idempotency cleanup complete", slog.Duration("retention", payload.Retention))
	}
	return tracker.End(err)
}

func (j *IdempotencyCleanupJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
