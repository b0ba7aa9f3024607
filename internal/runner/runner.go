// Package runner implements the Main Loop (§4.13): registration,
// machine-group resolution, the idle-aware task fetch loop, and the
// signal-driven termination handler. Grounded on the teacher's
// cli/main.go setupSignalHandler combined with sandbox.go's
// fetch-and-dispatch loop shape, generalized to HTTP long-poll instead of
// containerd events.
package runner

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/inductiva/task-runner/internal/apiclient"
	"github.com/inductiva/task-runner/internal/metrics"
	"github.com/inductiva/task-runner/internal/types"
)

var log = logrus.WithField("source", "runner")

// SetLogger overrides the package logger.
func SetLogger(logger *logrus.Entry) {
	fields := log.Data
	log = logger.WithFields(fields)
}

const (
	blockSeconds     = 30.0
	noContentBackoff = 500 * time.Millisecond
	internalErrBackoff = 5 * time.Second
)

// TaskHandler drives one task's full lifecycle; satisfied by
// *handler.Handler.
type TaskHandler interface {
	Handle(ctx context.Context, req *types.TaskRequest) (types.TaskResult, error)
	RequestInterrupt() string
}

// Publisher publishes lifecycle events not tied to a specific task, such
// as TaskRunnerTerminated; satisfied by *events.Logger via its Publish
// method, narrowed to the runner-level shape used here.
type Publisher interface {
	Publish(ctx context.Context, eventType types.EventType, taskID string, body any)
}

// API is the subset of apiclient.Client the Main Loop drives directly.
type API interface {
	RegisterTaskRunner(ctx context.Context, info apiclient.RegisterTaskRunnerInfo) (*types.RunnerRegistration, error)
	KillMachine(ctx context.Context) (int, error)
	GetTask(ctx context.Context, blockS float64) (*apiclient.TaskPollResult, error)
	RunnerID() string
}

// Options configures a Runner.
type Options struct {
	API            API
	Handler        TaskHandler
	Publisher      Publisher
	Metrics        *metrics.Registry
	RegisterInfo   apiclient.RegisterTaskRunnerInfo
	MaxIdleTimeout time.Duration
	MetricsAddr    string // empty disables the local /metrics HTTP server
}

// Runner drives the Main Loop for one process's lifetime.
type Runner struct {
	opts Options

	runnerID string

	terminateOnce sync.Once
	terminated    chan struct{}
}

// New builds a Runner; call Start to register and Run to enter the fetch
// loop.
func New(opts Options) *Runner {
	return &Runner{
		opts:       opts,
		terminated: make(chan struct{}),
	}
}

// Start registers this process with the coordinator (§4.13's startup
// step). Must succeed before Run is called.
func (r *Runner) Start(ctx context.Context) error {
	reg, err := r.opts.API.RegisterTaskRunner(ctx, r.opts.RegisterInfo)
	if err != nil {
		return errors.Wrap(err, "registering task runner")
	}
	r.runnerID = reg.RunnerID
	return nil
}

// Run installs signal handlers and drives the fetch loop until the
// runner decides to exit: idle timeout, explicit termination from the
// API, or a terminating signal. Blocks until exit.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.installSignalHandler(cancel)

	if r.opts.MetricsAddr != "" && r.opts.Metrics != nil {
		go r.serveMetrics()
	}

	idleSince := time.Now()

	for {
		select {
		case <-r.terminated:
			return nil
		default:
		}

		if r.opts.MaxIdleTimeout > 0 && time.Since(idleSince) >= r.opts.MaxIdleTimeout {
			status, err := r.opts.API.KillMachine(ctx)
			if err != nil {
				log.WithError(err).Warn("kill_machine request failed, continuing loop")
			} else if status == http.StatusUnprocessableEntity {
				// refused; keep running.
			} else {
				r.terminate(ctx, "idle_timeout", "", nil)
				return nil
			}
		}

		result, err := r.opts.API.GetTask(ctx, blockSeconds)
		if err != nil {
			var termErr *apiclient.ExecuterTerminationError
			if errors.As(err, &termErr) {
				r.terminate(ctx, termErr.Reason, termErr.Detail, nil)
				return nil
			}
			log.WithError(err).Warn("get_task failed, retrying")
			if !sleepOrDone(ctx, internalErrBackoff) {
				return nil
			}
			continue
		}

		switch result.Outcome {
		case apiclient.TaskPollSuccess:
			r.opts.Metrics.SetIdle(false)
			taskResult, handleErr := r.opts.Handler.Handle(ctx, result.Task)
			if handleErr != nil {
				log.WithError(handleErr).WithField("task_id", result.Task.ID).Warn("task handling reported cleanup errors")
			}
			r.opts.Metrics.RecordTaskFinished(taskResult.ExitCode)
			r.opts.Metrics.SetIdle(true)
			idleSince = time.Now()
		case apiclient.TaskPollNoContent:
			if !sleepOrDone(ctx, noContentBackoff) {
				return nil
			}
		case apiclient.TaskPollInternalError:
			if !sleepOrDone(ctx, internalErrBackoff) {
				return nil
			}
		}
	}
}

// installSignalHandler arranges for SIGINT/SIGTERM to invoke the
// termination handler exactly once (§4.13).
func (r *Runner) installSignalHandler(cancelFetch context.CancelFunc) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("received termination signal")

		stoppedTask := r.opts.Handler.RequestInterrupt()
		var stopped []string
		if stoppedTask != "" {
			stopped = []string{stoppedTask}
		}
		r.terminate(context.Background(), "signal", sig.String(), stopped)
		cancelFetch()
	}()
}

// terminate publishes TaskRunnerTerminated exactly once and marks the
// loop for exit.
func (r *Runner) terminate(ctx context.Context, reason, detail string, stoppedTasks []string) {
	r.terminateOnce.Do(func() {
		r.opts.Publisher.Publish(ctx, types.EventTaskRunnerTerminated, "", &types.TaskRunnerTerminatedBody{
			Reason:       reason,
			Detail:       detail,
			StoppedTasks: stoppedTasks,
		})
		close(r.terminated)
	})
}

func (r *Runner) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.opts.Metrics.Handler())
	if err := http.ListenAndServe(r.opts.MetricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Warn("metrics server stopped")
	}
}

// sleepOrDone sleeps for d unless ctx is canceled first; returns false if
// ctx was canceled.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
