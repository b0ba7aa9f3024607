package apiclient

import (
	"context"
	"time"

	"github.com/inductiva/task-runner/internal/retry"
	"github.com/inductiva/task-runner/internal/types"
)

// PostTaskMetricRetried posts a metric, making up to 5 attempts in all
// with short backoff. Failures are logged
// but never propagated — a lost metric does not affect task outcome.
func (c *Client) PostTaskMetricRetried(ctx context.Context, taskID string, name types.MetricName, value float64) {
	err := retry.Do(func() error {
		return c.PostTaskMetric(ctx, taskID, name, value)
	}, retry.Attempts(5), retry.Delay(200*time.Millisecond), retry.MaxJitter(200*time.Millisecond))

	if err != nil {
		log.WithError(err).WithFields(map[string]any{
			"task_id": taskID,
			"metric":  name,
		}).Warn("giving up posting task metric")
	}
}
