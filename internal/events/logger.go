// Package events implements the Event Logger (§4.5): retried publication of
// lifecycle events with server-relative elapsed-time correction, grounded
// on original_source's inductiva_api/events/logger.py combined with the
// teacher's retry package.
package events

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inductiva/task-runner/internal/retry"
	"github.com/inductiva/task-runner/internal/types"
)

var log = logrus.WithField("source", "events")

// SetLogger overrides the package logger.
func SetLogger(logger *logrus.Entry) {
	fields := log.Data
	log = logger.WithFields(fields)
}

// Publisher is the subset of apiclient.Client the logger depends on.
type Publisher interface {
	LogEvent(ctx context.Context, event *types.Event) error
}

// Logger publishes events, recomputing the elapsed-since-first-attempt
// field before every retry so the server can reconstruct the true
// occurrence time even across retried publishes (§3 invariant, §9 "Elapsed
// time correction").
type Logger struct {
	publisher Publisher
	runnerID  string
	attempts  uint
	delay     time.Duration
}

// New builds a Logger that publishes through pub as runnerID.
func New(pub Publisher, runnerID string) *Logger {
	return &Logger{
		publisher: pub,
		runnerID:  runnerID,
		attempts:  20,
		delay:     500 * time.Millisecond,
	}
}

// Publish sends one event, retrying until it succeeds or the attempt
// budget (effectively "forever" at the default 20 attempts with backoff)
// is exhausted. The failure is logged, never propagated: losing a single
// event must not abort the task that produced it.
func (l *Logger) Publish(ctx context.Context, eventType types.EventType, taskID string, body any) {
	firstAttempt := time.Now()

	err := retry.Do(func() error {
		event := &types.Event{
			Type:              eventType,
			TaskID:            taskID,
			RunnerID:          l.runnerID,
			OccurredAt:        firstAttempt,
			ElapsedSinceFirst: time.Since(firstAttempt).Seconds(),
			Body:              body,
		}
		return l.publisher.LogEvent(ctx, event)
	}, retry.Attempts(l.attempts), retry.Delay(l.delay), retry.MaxJitter(l.delay),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).WithFields(logrus.Fields{
				"task_id": taskID,
				"event":   eventType,
				"attempt": n + 1,
			}).Warn("retrying event publish")
		}))

	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"task_id": taskID,
			"event":   eventType,
		}).Error("giving up publishing event; server-side state may diverge")
	}
}
