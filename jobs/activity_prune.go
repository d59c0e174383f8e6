package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/srecha/srecha-invoice/internal/activity"
	jobmetrics "github.com/srecha/srecha-invoice/internal/jobs"
	"github.com/srecha/srecha-invoice/internal/shared"
)

const (
	pruneLockTTL = 15 * time.Minute
	// IdempotencyKeyTTL is how long a claimed Idempotency-Key blocks replays.
	IdempotencyKeyTTL = 7 * 24 * time.Hour
)

// Pruner deletes old activity log entries.
type Pruner interface {
	Prune(ctx context.Context, daysToKeep int) (activity.PruneResult, error)
}

// KeyCleaner drops expired idempotency claims. *shared.IdempotencyStore implements it.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ActivityPruneJob runs activity log retention. Concurrent runs are
// serialised through a Redis lock; a run that finds the lock held is a no-op.
type ActivityPruneJob struct {
	Pruner      Pruner
	Redis       *redis.Client
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	DefaultDays int
	// Keys is optional; when set each run also expires idempotency claims.
	Keys KeyCleaner
}

// NewActivityPruneJob constructs the job handler.
func NewActivityPruneJob(pruner Pruner, client *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics, defaultDays int) *ActivityPruneJob {
	if defaultDays <= 0 {
		defaultDays = activity.DefaultRetentionDays
	}
	return &ActivityPruneJob{Pruner: pruner, Redis: client, Logger: logger, Metrics: metrics, DefaultDays: defaultDays}
}

// Handle executes the retention run.
func (j *ActivityPruneJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Pruner == nil || j.Redis == nil {
		return errors.New("activity prune: dependencies not configured")
	}
	var payload ActivityPrunePayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("decode payload: %w", asynq.SkipRetry)
		}
	}
	days := payload.DaysToKeep
	if days == 0 {
		days = j.DefaultDays
	}

	tracker := j.Metrics.Track(TaskActivityPrune)
	defer func() {
		err = tracker.End(err)
	}()

	lock, err := shared.AcquireLock(ctx, j.Redis, shared.ActivityPruneLockKey, pruneLockTTL)
	if errors.Is(err, shared.ErrLockHeld) {
		j.log().Info("activity prune already running")
		return nil
	}
	if err != nil {
		return fmt.Errorf("acquire prune lock: %w", err)
	}
	defer func() {
		if rerr := lock.Release(context.WithoutCancel(ctx)); rerr != nil {
			j.log().Warn("release prune lock", slog.Any("error", rerr))
		}
	}()

	result, err := j.Pruner.Prune(ctx, days)
	if err != nil {
		if errors.Is(err, shared.ErrValidation) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	j.Metrics.AddPruned(result.DeletedCount)
	j.log().Info("activity prune finished",
		slog.Int("days_to_keep", result.DaysToKeep),
		slog.Int64("deleted", result.DeletedCount),
		slog.Time("cutoff", result.CutoffDate))

	if j.Keys != nil {
		removed, err := j.Keys.Cleanup(ctx, IdempotencyKeyTTL)
		if err != nil {
			j.log().Warn("idempotency key cleanup", slog.Any("error", err))
			return nil
		}
		j.log().Info("idempotency keys expired", slog.Int64("deleted", removed))
	}
	return nil
}

func (j *ActivityPruneJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
