package runner

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/inductiva/task-runner/internal/apiclient"
	"github.com/inductiva/task-runner/internal/metrics"
	"github.com/inductiva/task-runner/internal/types"
)

type fakeAPI struct {
	mu        sync.Mutex
	tasks     []*apiclient.TaskPollResult
	killCalls int
	killResp  int
}

func (f *fakeAPI) RegisterTaskRunner(ctx context.Context, info apiclient.RegisterTaskRunnerInfo) (*types.RunnerRegistration, error) {
	return &types.RunnerRegistration{RunnerID: "runner-1"}, nil
}

func (f *fakeAPI) KillMachine(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killCalls++
	return f.killResp, nil
}

func (f *fakeAPI) GetTask(ctx context.Context, blockS float64) (*apiclient.TaskPollResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tasks) == 0 {
		return &apiclient.TaskPollResult{Outcome: apiclient.TaskPollNoContent}, nil
	}
	r := f.tasks[0]
	f.tasks = f.tasks[1:]
	return r, nil
}

func (f *fakeAPI) RunnerID() string { return "runner-1" }

type fakeHandler struct {
	handled []string
}

func (f *fakeHandler) Handle(ctx context.Context, req *types.TaskRequest) (types.TaskResult, error) {
	f.handled = append(f.handled, req.ID)
	return types.TaskResult{Status: types.StatusSuccess}, nil
}

func (f *fakeHandler) RequestInterrupt() string { return "" }

type fakePublisher struct {
	mu     sync.Mutex
	events []types.EventType
}

func (f *fakePublisher) Publish(ctx context.Context, eventType types.EventType, taskID string, body any) {
	f.mu.Lock()
	f.events = append(f.events, eventType)
	f.mu.Unlock()
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

func TestRunHandlesATaskThenIdlesOut(t *testing.T) {
	api := &fakeAPI{tasks: []*apiclient.TaskPollResult{
		{Task: &types.TaskRequest{ID: "t1"}, Outcome: apiclient.TaskPollSuccess},
	}}
	h := &fakeHandler{}
	pub := &fakePublisher{}

	r := New(Options{
		API:            api,
		Handler:        h,
		Publisher:      pub,
		Metrics:        metrics.New(),
		MaxIdleTimeout: 30 * time.Millisecond,
	})

	require.NoError(t, r.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		_ = r.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit on idle timeout")
	}

	require.Equal(t, []string{"t1"}, h.handled)
	require.True(t, pub.has(types.EventTaskRunnerTerminated))
}

func TestRunRetriesWhenKillMachineRefused(t *testing.T) {
	api := &fakeAPI{killResp: http.StatusUnprocessableEntity}
	h := &fakeHandler{}
	pub := &fakePublisher{}

	r := New(Options{
		API:            api,
		Handler:        h,
		Publisher:      pub,
		Metrics:        metrics.New(),
		MaxIdleTimeout: 10 * time.Millisecond,
	})
	require.NoError(t, r.Start(context.Background()))

	// Each no-content poll backs off 500ms, so the second kill request
	// goes out at about 1s.
	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	_ = r.Run(ctx)

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Greater(t, api.killCalls, 1)
	require.False(t, pub.has(types.EventTaskRunnerTerminated))
}

func TestResolveMachineGroupUsesIDWhenGiven(t *testing.T) {
	id, err := ResolveMachineGroup(context.Background(), nil, "mg-1", "", false)
	require.NoError(t, err)
	require.Equal(t, "mg-1", id)
}

type fakeMGAPI struct {
	foundID string
	created string
}

func (f *fakeMGAPI) GetStartedMachineGroupIDByName(ctx context.Context, name string) (string, error) {
	return f.foundID, nil
}

func (f *fakeMGAPI) CreateLocalMachineGroup(ctx context.Context, name string) (string, error) {
	return f.created, nil
}

func TestResolveMachineGroupFindsByName(t *testing.T) {
	api := &fakeMGAPI{foundID: "mg-2"}
	id, err := ResolveMachineGroup(context.Background(), api, "", "my-group", false)
	require.NoError(t, err)
	require.Equal(t, "mg-2", id)
}

func TestResolveMachineGroupCreatesLocalWhenMissing(t *testing.T) {
	api := &fakeMGAPI{created: "mg-local"}
	id, err := ResolveMachineGroup(context.Background(), api, "", "", true)
	require.NoError(t, err)
	require.Equal(t, "mg-local", id)
}

func TestResolveMachineGroupFailsWithoutLocalMode(t *testing.T) {
	api := &fakeMGAPI{}
	_, err := ResolveMachineGroup(context.Background(), api, "", "", false)
	require.Error(t, err)
}

func TestBuildRegisterInfoFillsLocalModeDefaults(t *testing.T) {
	info, err := BuildRegisterInfo("", "", "mg-1", "", true)
	require.NoError(t, err)
	require.Equal(t, "local-mode-name", info.HostName)
	require.Equal(t, "local-mode-id", info.HostID)
}

func TestBuildRegisterInfoFailsWithoutHostIdentityOutsideLocalMode(t *testing.T) {
	_, err := BuildRegisterInfo("", "", "mg-1", "", false)
	require.Error(t, err)
}
