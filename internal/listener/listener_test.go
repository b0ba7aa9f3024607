package listener

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	messages chan string
}

func (f *fakeSource) ReceiveTaskMessage(ctx context.Context, _ string, _ float64) (string, bool, error) {
	select {
	case msg := <-f.messages:
		return msg, true, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

func TestListenerForwardsKillMessage(t *testing.T) {
	src := &fakeSource{messages: make(chan string, 1)}
	l := New(src, "task-1")

	go l.Run(context.Background())
	src.messages <- Kill

	select {
	case msg := <-l.Messages:
		require.Equal(t, Kill, msg)
	case <-time.After(time.Second):
		t.Fatal("expected kill message to be forwarded")
	}

	l.Stop()
}

func TestListenerStopUnblocksInFlightPoll(t *testing.T) {
	src := &fakeSource{messages: make(chan string)}
	l := New(src, "task-1")

	go l.Run(context.Background())
	time.Sleep(20 * time.Millisecond) // ensure Run is blocked in poll

	stopped := make(chan struct{})
	go func() {
		l.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not unblock the in-flight long poll")
	}
}
