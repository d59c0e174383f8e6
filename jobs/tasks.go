package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskActivityPrune deletes activity log entries older than the retention window.
	TaskActivityPrune = "activity:prune"

	pruneTimeout = 10 * time.Minute
	pruneRetries = 3
)

// ActivityPrunePayload carries the retention window in days. Zero selects
// the worker's configured default.
type ActivityPrunePayload struct {
	DaysToKeep int `json:"days_to_keep"`
}

// NewActivityPruneTask constructs an Asynq task.
func NewActivityPruneTask(daysToKeep int) (*asynq.Task, error) {
	data, err := json.Marshal(ActivityPrunePayload{DaysToKeep: daysToKeep})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskActivityPrune, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(pruneRetries),
		asynq.Timeout(pruneTimeout),
	), nil
}
