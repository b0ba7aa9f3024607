package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerReportsIdleByDefault(t *testing.T) {
	r := New()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	require.Contains(t, w.Body.String(), "task_runner_idle 1")
}

func TestSetIdleFalseReportsInFlight(t *testing.T) {
	r := New()
	r.SetIdle(false)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)

	require.Contains(t, w.Body.String(), "task_runner_idle 0")
	require.Contains(t, w.Body.String(), "task_runner_tasks_in_flight 1")
}

func TestRecordTaskFinishedUpdatesExitCode(t *testing.T) {
	r := New()
	r.RecordTaskFinished(1)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)

	require.Contains(t, w.Body.String(), "task_runner_last_exit_code 1")
	require.Contains(t, w.Body.String(), "task_runner_tasks_handled_total 1")
}
