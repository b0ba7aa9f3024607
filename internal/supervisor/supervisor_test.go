package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type collectingSink struct {
	lines []string
}

func (c *collectingSink) WriteLine(line string) error {
	c.lines = append(c.lines, line)
	return nil
}

func TestRunWaitExitCode(t *testing.T) {
	stdout := &collectingSink{}
	s := New(Options{
		Argv:       []string{"sh", "-c", "echo hello; exit 3"},
		StdoutSink: stdout,
	})

	require.NoError(t, s.Run())
	code, err := s.Wait(50*time.Millisecond, nil)
	require.NoError(t, err)
	require.Equal(t, 3, code)
	require.Contains(t, stdout.lines, "hello")
}

func TestTerminateIdempotent(t *testing.T) {
	s := New(Options{
		Argv:           []string{"sleep", "30"},
		SigkillDelay:   50 * time.Millisecond,
		SigtermTimeout: 2 * time.Second,
		CheckInterval:  10 * time.Millisecond,
	})
	require.NoError(t, s.Run())

	done := make(chan struct{})
	go func() {
		_, _ = s.Wait(50*time.Millisecond, nil)
		close(done)
	}()

	first := s.Terminate()
	second := s.Terminate()

	require.True(t, first)
	require.False(t, second)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("process was not terminated in time")
	}
}

func TestTerminateEscalatesToSigkill(t *testing.T) {
	// A process that ignores SIGTERM must be killed by SIGKILL within
	// sigterm-timeout.
	s := New(Options{
		Argv:           []string{"sh", "-c", "trap '' TERM; sleep 30"},
		SigkillDelay:   100 * time.Millisecond,
		SigtermTimeout: 3 * time.Second,
		CheckInterval:  10 * time.Millisecond,
	})
	require.NoError(t, s.Run())

	done := make(chan int, 1)
	go func() {
		code, _ := s.Wait(50*time.Millisecond, nil)
		done <- code
	}()

	require.True(t, s.Terminate())

	select {
	case code := <-done:
		require.Less(t, code, 0, "expected a negative (signaled) exit code")
	case <-time.After(4 * time.Second):
		t.Fatal("process ignoring SIGTERM was not force-killed in time")
	}
}
