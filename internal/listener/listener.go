// Package listener implements the Message Listener (§4.6): long-polls the
// API for control messages addressed to the in-flight task and feeds a
// bounded channel consumed by the Cancellation Core. Grounded on the
// watch-loop-with-retry-on-failure shape of pkg/kata-monitor's
// startPodCacheUpdater.
package listener

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("source", "listener")

// SetLogger overrides the package logger.
func SetLogger(logger *logrus.Entry) {
	fields := log.Data
	log = logger.WithFields(fields)
}

// Source is the long-poll primitive the listener depends on.
type Source interface {
	ReceiveTaskMessage(ctx context.Context, taskID string, blockS float64) (message string, ok bool, err error)
}

const (
	// Kill is pushed by the API when an operator requests cancellation.
	Kill = "kill"
	// Done is the sentinel message that ends Run at task end (§4.6); it
	// is not forwarded onto Messages.
	Done = "done"

	defaultBlockSeconds = 30.0
	errorBackoff        = 2 * time.Second
)

// Listener long-polls for messages about one task and forwards them to
// Messages until Stop is called or a Done message is observed.
type Listener struct {
	source Source
	taskID string

	Messages chan string

	mu         sync.Mutex
	cancelPoll context.CancelFunc

	stop chan struct{}
	done chan struct{}
}

// New builds a Listener for taskID, polling through source.
func New(source Source, taskID string) *Listener {
	return &Listener{
		source:   source,
		taskID:   taskID,
		Messages: make(chan string, 16),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run polls until Stop is called, forwarding every non-empty message onto
// Messages. Call in its own goroutine.
func (l *Listener) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-l.stop:
			return
		default:
		}

		msg, ok, err := l.poll(ctx)
		if err != nil {
			log.WithError(err).WithField("task_id", l.taskID).Warn("receive_task_message failed, retrying")
			select {
			case <-time.After(errorBackoff):
			case <-l.stop:
				return
			}
			continue
		}
		if !ok || msg == "" {
			continue
		}
		if msg == Done {
			return
		}

		select {
		case l.Messages <- msg:
		case <-l.stop:
			return
		}
	}
}

func (l *Listener) poll(ctx context.Context) (string, bool, error) {
	pollCtx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancelPoll = cancel
	l.mu.Unlock()
	defer cancel()

	return l.source.ReceiveTaskMessage(pollCtx, l.taskID, defaultBlockSeconds)
}

// Stop signals Run to exit, cancels any in-flight long-poll so Run does
// not wait out the remaining block_s, and blocks until Run has returned.
func (l *Listener) Stop() {
	close(l.stop)

	l.mu.Lock()
	cancel := l.cancelPoll
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	<-l.done
}
