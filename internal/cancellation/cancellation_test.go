package cancellation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTerminator mimics supervisor.Supervisor.Terminate's idempotence:
// true on the first call, false on every subsequent one.
type fakeTerminator struct {
	called int32
}

func (f *fakeTerminator) Terminate() bool {
	return atomic.CompareAndSwapInt32(&f.called, 0, 1)
}

func startCoordinator(t *testing.T, c *Coordinator) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()
	<-c.Started()

	select {
	case <-done:
		t.Fatal("coordinator returned before Done was pushed")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestKillSetsTaskKilledOnFirstTerminate(t *testing.T) {
	term := &fakeTerminator{}
	c := New(term, 4)
	startCoordinator(t, c)

	c.Push(Kill)
	c.Push(Done)

	require.Eventually(t, c.Outcome.TaskKilled, time.Second, time.Millisecond)
	require.False(t, c.Outcome.TTLExceeded())
}

func TestInterruptNeverSetsTaskKilled(t *testing.T) {
	term := &fakeTerminator{}
	c := New(term, 4)
	startCoordinator(t, c)

	c.Push(Interrupt)
	c.Push(Done)

	time.Sleep(20 * time.Millisecond)
	require.False(t, c.Outcome.TaskKilled())
}

func TestAtMostOneOutcomeFlagIsSet(t *testing.T) {
	term := &fakeTerminator{}
	c := New(term, 4)
	startCoordinator(t, c)

	// Kill wins the race; a subsequent TTL firing must observe
	// Terminate() already having run and must not also set ttl_exceeded.
	c.Push(Kill)
	require.Eventually(t, c.Outcome.TaskKilled, time.Second, time.Millisecond)
	if term.Terminate() {
		c.Outcome.setTTLExceeded()
	}
	c.Push(Done)

	require.False(t, c.Outcome.TTLExceeded())
}

func TestTTLTimerFiresAndSetsTTLExceeded(t *testing.T) {
	term := &fakeTerminator{}
	outcome := &Outcome{}

	timer := StartTTLTimer(10*time.Millisecond, term, outcome)
	defer timer.Stop()

	require.Eventually(t, outcome.TTLExceeded, time.Second, time.Millisecond)
}

func TestTTLTimerStopPreventsFiring(t *testing.T) {
	term := &fakeTerminator{}
	outcome := &Outcome{}

	timer := StartTTLTimer(20*time.Millisecond, term, outcome)
	timer.Stop()

	time.Sleep(50 * time.Millisecond)
	require.False(t, outcome.TTLExceeded())
}
