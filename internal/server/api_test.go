package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaustavdm/watchme/internal/history"
	"github.com/kaustavdm/watchme/internal/modules"
	"github.com/kaustavdm/watchme/internal/results"
	"github.com/kaustavdm/watchme/internal/tasks"
	"github.com/kaustavdm/watchme/internal/types"
)

type memoryHistory struct {
	cycles []types.CycleSummary
}

func (m *memoryHistory) ListCycles(_ context.Context, limit int) ([]types.CycleSummary, error) {
	if limit > len(m.cycles) {
		limit = len(m.cycles)
	}
	return m.cycles[:limit], nil
}

func (m *memoryHistory) GetCycle(_ context.Context, id string) (*types.CycleSummary, error) {
	for i := range m.cycles {
		if m.cycles[i].ID == id {
			return &m.cycles[i], nil
		}
	}
	return nil, history.ErrNotFound
}

func newTestServer(t *testing.T, hist CycleHistory) (*APIServer, *modules.Scheduler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := tasks.NewRegistry()
	registry.Register(tasks.Definition{
		Type: "echo",
		New: func(spec types.TaskSpec) (tasks.Func, error) {
			return func(context.Context, map[string]string) (any, error) {
				return spec.Param("text", "hello"), nil
			}, nil
		},
	})

	worker := modules.NewWorker(results.NewWriter(t.TempDir(), nil), nil)
	scheduler := modules.NewScheduler(nil, registry, worker, modules.SchedulerOptions{Workers: 2}, nil)
	reporter := modules.NewReporter(nil, nil, nil)
	scheduler.OnResult(reporter.Observe)

	return NewAPIServer(":0", scheduler, reporter, hist, nil), scheduler
}

func do(s *APIServer, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	s.Handler().ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, data any) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, data))
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil)
	resp := do(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "healthy")
}

func TestTaskLifecycle(t *testing.T) {
	s, _ := newTestServer(t, nil)

	resp := do(s, http.MethodPost, "/tasks", `{"name":"task-hello","type":"echo","params":{"TEXT":"hi"}}`)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = do(s, http.MethodPost, "/tasks", `{"name":"task-hello","type":"echo"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = do(s, http.MethodPost, "/tasks", `{"name":"task-x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = do(s, http.MethodPost, "/tasks", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	var view TaskView
	resp = do(s, http.MethodGet, "/tasks/task-hello", "")
	require.Equal(t, http.StatusOK, resp.Code)
	decode(t, resp, &view)
	assert.Equal(t, "hi", view.Params["text"])
	assert.True(t, view.Active)

	var views []TaskView
	resp = do(s, http.MethodGet, "/tasks", "")
	require.Equal(t, http.StatusOK, resp.Code)
	decode(t, resp, &views)
	assert.Len(t, views, 1)

	assert.Equal(t, http.StatusOK, do(s, http.MethodDelete, "/tasks/task-hello", "").Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodDelete, "/tasks/task-hello", "").Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/tasks/task-hello", "").Code)
}

func TestRunCycle(t *testing.T) {
	s, scheduler := newTestServer(t, nil)
	require.NoError(t, scheduler.AddTask(types.NewTaskSpec("task-hello", "echo", nil)))

	resp := do(s, http.MethodPost, "/runs", "")
	require.Equal(t, http.StatusOK, resp.Code)

	var summary types.CycleSummary
	decode(t, resp, &summary)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, types.TaskStatusCompleted, summary.Results[0].Status)
	assert.Equal(t, []string{"task-hello/result.txt"}, summary.Results[0].Files)

	var view TaskView
	decode(t, do(s, http.MethodGet, "/tasks/task-hello", ""), &view)
	assert.Equal(t, types.TaskStatusCompleted, view.State)

	var runs []types.CycleSummary
	decode(t, do(s, http.MethodGet, "/runs", ""), &runs)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.ID, runs[0].ID)

	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/runs/"+summary.ID, "").Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/runs/unknown", "").Code)

	var metrics map[string]modules.TaskMetrics
	decode(t, do(s, http.MethodGet, "/metrics", ""), &metrics)
	require.Len(t, metrics, 1)
	for _, m := range metrics {
		assert.Equal(t, 1, m.CompletedTasks)
	}
}

func TestCreateTaskRejectsUnknownType(t *testing.T) {
	s, scheduler := newTestServer(t, nil)
	require.NoError(t, scheduler.AddTask(types.NewTaskSpec("task-hello", "echo", nil)))

	resp := do(s, http.MethodPost, "/tasks", `{"name":"task-odd","type":"unknown"}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "unknown task type")
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/tasks/task-odd", "").Code)

	resp = do(s, http.MethodPost, "/runs", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var summary types.CycleSummary
	decode(t, resp, &summary)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, types.TaskStatusCompleted, summary.Results[0].Status)
}

func TestCreateTaskWithInvalidParamsIsSkipped(t *testing.T) {
	s, _ := newTestServer(t, nil)

	resp := do(s, http.MethodPost, "/tasks", `{"name":"task-csv","type":"echo","params":{"save_as":"csv"}}`)
	require.Equal(t, http.StatusCreated, resp.Code)
	var view TaskView
	decode(t, resp, &view)
	assert.False(t, view.Valid)

	resp = do(s, http.MethodPost, "/runs", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var summary types.CycleSummary
	decode(t, resp, &summary)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, types.TaskStatusSkipped, summary.Results[0].Status)
}

func TestRunsFromHistory(t *testing.T) {
	hist := &memoryHistory{cycles: []types.CycleSummary{{ID: "c2"}, {ID: "c1"}}}
	s, _ := newTestServer(t, hist)

	var runs []types.CycleSummary
	decode(t, do(s, http.MethodGet, "/runs?limit=1", ""), &runs)
	require.Len(t, runs, 1)
	assert.Equal(t, "c2", runs[0].ID)

	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodGet, "/runs?limit=zero", "").Code)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/runs/c1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/runs/c9", "").Code)
}

func TestMetricsUnavailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewAPIServer(":0", nil, nil, nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(s, http.MethodGet, "/metrics", "").Code)
}
