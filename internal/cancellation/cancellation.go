// Package cancellation implements the Cancellation Core (§4.9): a single
// coordinator multiplexing three independent stop sources (external kill,
// TTL expiry, runner shutdown) onto one idempotent subprocess termination,
// and recording which one actually fired. Grounded on spec.md §9's
// explicit redesign note ("atomic compare-and-set, not mutex-guarded
// boolean") combined with the teacher's channel-based worker coordination
// idiom used throughout virtcontainers' sandbox monitor goroutines.
package cancellation

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Command is a value pushed onto the coordinator's queue.
type Command string

const (
	// Kill is pushed when an operator requests cancellation (§4.9.1).
	Kill Command = "kill"
	// Interrupt is pushed by the runner's termination handler on
	// SIGINT/SIGTERM (§4.9.3).
	Interrupt Command = "interrupt"
	// Done is pushed by the handler once the task's commands have
	// finished (or the task failed before running them), telling the
	// coordinator to stop observing.
	Done Command = "done"
)

// Terminator is the single idempotent side effect every stop source
// converges on; satisfied by *supervisor.Supervisor.
type Terminator interface {
	Terminate() bool
}

// Outcome records which stop source, if any, actually terminated the
// task, for the handler's step 9 status computation (§4.10).
type Outcome struct {
	mu          sync.Mutex
	taskKilled  bool
	ttlExceeded bool
}

// TaskKilled reports whether an external kill terminated the task. A
// shutdown interrupt never sets it.
func (o *Outcome) TaskKilled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.taskKilled
}

// TTLExceeded reports whether the TTL timer terminated the task.
func (o *Outcome) TTLExceeded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ttlExceeded
}

func (o *Outcome) setKilled() {
	o.mu.Lock()
	o.taskKilled = true
	o.mu.Unlock()
}

func (o *Outcome) setTTLExceeded() {
	o.mu.Lock()
	o.ttlExceeded = true
	o.mu.Unlock()
}

// Coordinator is the single consumer of the command queue (§4.9). Queue
// and Outcome are exported so producers (Listener, TTL timer, runner
// termination handler) can be wired independently of this package.
type Coordinator struct {
	terminator Terminator
	queue      chan Command
	Outcome    *Outcome

	started chan struct{}
	once    sync.Once
}

// New builds a Coordinator. queueSize bounds the command queue; callers
// typically use a small buffer (e.g. 4) since at most three distinct stop
// sources exist.
func New(terminator Terminator, queueSize int) *Coordinator {
	return &Coordinator{
		terminator: terminator,
		queue:      make(chan Command, queueSize),
		Outcome:    &Outcome{},
		started:    make(chan struct{}),
	}
}

// Push enqueues a command for the coordinator to act on. Safe to call
// concurrently from multiple stop sources; non-blocking as long as the
// queue isn't saturated, which it cannot be under the documented
// three-source usage.
func (c *Coordinator) Push(cmd Command) {
	c.queue <- cmd
}

// Run drains the command queue, converging kill/interrupt onto
// terminator.Terminate(), until a Done command arrives or ctx is
// canceled. It always returns after observing Done (§4.9's draining
// guarantee) so the handler can rely on Run returning as part of its
// teardown sequence. Call Started() only after launching Run in its own
// goroutine, to satisfy the ordering guarantee that TaskWorkStarted
// precedes the coordinator observing stop sources.
func (c *Coordinator) Run(ctx context.Context) {
	c.once.Do(func() { close(c.started) })
	for {
		select {
		case cmd := <-c.queue:
			switch cmd {
			case Kill:
				if c.terminator.Terminate() {
					c.Outcome.setKilled()
				}
			case Interrupt:
				c.terminator.Terminate()
			case Done:
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Started returns a channel closed once Run has begun observing the
// queue, so callers can assert the §4.9 ordering guarantee in tests.
func (c *Coordinator) Started() <-chan struct{} {
	return c.started
}

// TTLTimer schedules a one-shot direct Terminate call (recorded as
// ttl_exceeded, not task_killed) after d elapses, unless stopped first;
// it does not go through the coordinator's queue.
// Grounded on the same one-shot-timer shape spec.md §4.9.2 describes.
type TTLTimer struct {
	timer *time.Timer
}

// StartTTLTimer arms a timer that, if it fires before Stop is called,
// calls terminator.Terminate() and records ttl_exceeded iff it actually
// terminated something.
func StartTTLTimer(d time.Duration, terminator Terminator, outcome *Outcome) *TTLTimer {
	t := &TTLTimer{}
	t.timer = time.AfterFunc(d, func() {
		if terminator.Terminate() {
			outcome.setTTLExceeded()
		}
	})
	return t
}

// Stop disarms the timer; safe to call after it has already fired.
func (t *TTLTimer) Stop() {
	t.timer.Stop()
}

// RunInGroup runs the Coordinator's goroutine inside an errgroup,
// matching the teacher's idiom for bounded worker goroutines.
func RunInGroup(ctx context.Context, g *errgroup.Group, c *Coordinator) {
	g.Go(func() error {
		c.Run(ctx)
		return nil
	})
}
