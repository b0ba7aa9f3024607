// Package types holds the wire-level data model shared across the task
// runner: task requests and results, the lifecycle event stream, metrics,
// and container image cache entries.
package types

import "time"

// TaskStatus is the final classification of a finished task.
type TaskStatus string

const (
	StatusSuccess     TaskStatus = "success"
	StatusFailed      TaskStatus = "failed"
	StatusKilled      TaskStatus = "killed"
	StatusTTLExceeded TaskStatus = "ttl-exceeded"
)

// TaskRequest is the record handed back by the coordinator's long-poll.
type TaskRequest struct {
	ID               string            `json:"id"`
	ProjectID        string            `json:"project_id"`
	StorageDir       string            `json:"storage_dir"`
	ContainerImage   string            `json:"container_image"`
	Simulator        string            `json:"simulator"`
	ExtraParams      map[string]any    `json:"extra_params"`
	TimeToLiveSecs   *float64          `json:"time_to_live_seconds,omitempty"`
	SubmittedAt      *time.Time        `json:"submitted_at,omitempty"`
	InputResources   []string          `json:"input_resources,omitempty"`
}

// HasTTL reports whether the request carries a time-to-live budget.
func (t *TaskRequest) HasTTL() bool {
	return t.TimeToLiveSecs != nil && *t.TimeToLiveSecs > 0
}

// TTL returns the request's time-to-live as a Duration, or zero if unset.
func (t *TaskRequest) TTL() time.Duration {
	if !t.HasTTL() {
		return 0
	}
	return time.Duration(*t.TimeToLiveSecs * float64(time.Second))
}

// TaskResult is the final summary produced by the handler for a task.
type TaskResult struct {
	Status   TaskStatus
	ExitCode int
	Metrics  map[MetricName]float64
}
