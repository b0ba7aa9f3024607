package handler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/inductiva/task-runner/internal/commands"
	"github.com/inductiva/task-runner/internal/events"
	"github.com/inductiva/task-runner/internal/listener"
	"github.com/inductiva/task-runner/internal/mpi"
	"github.com/inductiva/task-runner/internal/types"
)

// fakeResolver always resolves to a no-op local path.
type fakeResolver struct{}

func (fakeResolver) Get(ctx context.Context, ref string) (*types.ContainerImageEntry, error) {
	return &types.ContainerImageEntry{LocalPath: "/bin", SizeBytes: 1, Source: types.ImageSourceLocal}, nil
}

// fakeStore stands in for the artifact store without touching the network.
type fakeStore struct {
	uploadErr     error
	downloadDelay time.Duration
}

func (f fakeStore) DownloadInput(ctx context.Context, taskID, destPath string) (float64, int64, error) {
	if f.downloadDelay > 0 {
		time.Sleep(f.downloadDelay)
	}
	return 0.01, 10, nil
}

func (f fakeStore) UploadOutput(ctx context.Context, taskID, outputDir string) (float64, int64, error) {
	if f.uploadErr != nil {
		return 0, 0, f.uploadErr
	}
	return 0.01, 20, nil
}

// fakeSource never pushes any control messages unless told to.
type fakeSource struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeSource) push(msg string) {
	f.mu.Lock()
	f.messages = append(f.messages, msg)
	f.mu.Unlock()
}

func (f *fakeSource) ReceiveTaskMessage(ctx context.Context, _ string, _ float64) (string, bool, error) {
	f.mu.Lock()
	if len(f.messages) > 0 {
		msg := f.messages[0]
		f.messages = f.messages[1:]
		f.mu.Unlock()
		return msg, true, nil
	}
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return "", false, nil
	}
}

type fakeUnblocker struct{}

func (fakeUnblocker) UnblockTaskMessageListeners(ctx context.Context, taskID string) error { return nil }

type fakeMetrics struct {
	mu   sync.Mutex
	posts []types.MetricName
}

func (f *fakeMetrics) PostTaskMetricRetried(ctx context.Context, taskID string, name types.MetricName, value float64) {
	f.mu.Lock()
	f.posts = append(f.posts, name)
	f.mu.Unlock()
}

type fakePublisher struct {
	mu     sync.Mutex
	events []types.EventType
}

func (f *fakePublisher) LogEvent(ctx context.Context, event *types.Event) error {
	f.mu.Lock()
	f.events = append(f.events, event.Type)
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) has(t types.EventType) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == t {
			return true
		}
	}
	return false
}

func (f *fakePublisher) count(t types.EventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == t {
			n++
		}
	}
	return n
}

func newTestHandler(t *testing.T, src *fakeSource, store ArtifactStore) (*Handler, *fakePublisher) {
	t.Helper()
	pub := &fakePublisher{}
	logger := events.New(pub, "runner-1")
	registry := commands.NewRegistry()

	h := New(Options{
		WorkDir:       t.TempDir(),
		RunnerID:      "runner-1",
		Resolver:      fakeResolver{},
		Store:         store,
		Messages:      src,
		Unblocker:     fakeUnblocker{},
		Metrics:       &fakeMetrics{},
		Publisher:     logger,
		Registry:      registry,
		MPIConfig:     mpi.Config{},
		SigkillDelay:  50 * time.Millisecond,
		CheckInterval: 5 * time.Millisecond,
	})
	h.skipContainer = true
	return h, pub
}

// S1: happy path.
func TestHandleHappyPath(t *testing.T) {
	src := &fakeSource{}
	h, pub := newTestHandler(t, src, fakeStore{})

	req := &types.TaskRequest{
		ID:        "task-1",
		Simulator: "tester",
		ExtraParams: map[string]any{
			"sleep_seconds": 0,
		},
	}

	result, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, types.StatusSuccess, result.Status)
	require.True(t, pub.has(types.EventTaskPickedUp))
	require.True(t, pub.has(types.EventTaskWorkStarted))
	require.True(t, pub.has(types.EventTaskWorkFinished))
	require.True(t, pub.has(types.EventTaskOutputUploaded))
	require.False(t, pub.has(types.EventTaskKilled))
}

// An observer registration arriving mid-task does not affect task status.
// The observer polls every 5s, so this 1s task ends before its first check
// and ObserverTriggered is not asserted here.
func TestHandleObserverRegistrationDoesNotAffectStatus(t *testing.T) {
	src := &fakeSource{}
	h, _ := newTestHandler(t, src, fakeStore{})

	req := &types.TaskRequest{
		ID:        "task-7",
		Simulator: "tester",
		ExtraParams: map[string]any{
			"sleep_seconds": 1,
		},
	}

	watchPath := filepath.Join(h.workDir, "task-7", "artifacts", "ready.txt")
	go func() {
		time.Sleep(10 * time.Millisecond)
		src.push(`{"observer_id":"obs-1","observer_type":"file_exists","file_path":"` + watchPath + `"}`)
		time.Sleep(10 * time.Millisecond)
		_ = os.WriteFile(watchPath, []byte("done"), 0o644)
	}()

	result, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, types.StatusSuccess, result.Status)
}

// S2: TTL exceeded.
func TestHandleTTLExceeded(t *testing.T) {
	src := &fakeSource{}
	h, _ := newTestHandler(t, src, fakeStore{})

	ttl := 0.01
	req := &types.TaskRequest{
		ID:             "task-2",
		Simulator:      "tester",
		TimeToLiveSecs: &ttl,
		ExtraParams: map[string]any{
			"sleep_seconds": 5,
		},
	}

	result, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, types.StatusTTLExceeded, result.Status)
}

// S3: killed during computation.
func TestHandleKilledDuringComputation(t *testing.T) {
	src := &fakeSource{}
	h, pub := newTestHandler(t, src, fakeStore{})

	req := &types.TaskRequest{
		ID:        "task-3",
		Simulator: "tester",
		ExtraParams: map[string]any{
			"sleep_seconds": 5,
		},
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		src.push("kill")
	}()

	result, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, types.StatusKilled, result.Status)
	require.Equal(t, 1, pub.count(types.EventTaskWorkStarted))
}

// S4: a kill message arrives via the Message Listener while the input is
// still downloading, i.e. before TaskWorkStarted — no TaskWorkStarted, a
// single TaskKilled, no TaskOutputUploaded. The download delay gives the
// listener's forwarding goroutine a chance to observe the kill before the
// handler's post-download check runs.
func TestHandleKilledBeforeComputation(t *testing.T) {
	src := &fakeSource{}
	src.push(listener.Kill)
	h, pub := newTestHandler(t, src, fakeStore{downloadDelay: 20 * time.Millisecond})

	req := &types.TaskRequest{ID: "task-4", Simulator: "tester"}
	result, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, types.StatusKilled, result.Status)
	require.Equal(t, 1, pub.count(types.EventTaskKilled))
	require.False(t, pub.has(types.EventTaskWorkStarted))
	require.False(t, pub.has(types.EventTaskOutputUploaded))
}

// S5: failed command (non-zero exit).
func TestHandleFailedCommand(t *testing.T) {
	src := &fakeSource{}
	h, pub := newTestHandler(t, src, fakeStore{})

	req := &types.TaskRequest{
		ID:        "task-5",
		Simulator: "tester",
		ExtraParams: map[string]any{
			"fail": true,
		},
	}

	result, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, types.StatusFailed, result.Status)
	require.True(t, pub.has(types.EventTaskOutputUploaded))
}

// S6: runner shutdown with a task in flight — RequestInterrupt mirrors
// the termination handler's interruption path and must not set
// task_killed.
func TestHandleRunnerShutdownInterrupt(t *testing.T) {
	src := &fakeSource{}
	h, _ := newTestHandler(t, src, fakeStore{})

	req := &types.TaskRequest{
		ID:        "task-6",
		Simulator: "tester",
		ExtraParams: map[string]any{
			"sleep_seconds": 5,
		},
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		taskID := h.RequestInterrupt()
		require.Equal(t, "task-6", taskID)
	}()

	result, err := h.Handle(context.Background(), req)
	require.NoError(t, err)
	require.NotEqual(t, types.StatusKilled, result.Status)
}
