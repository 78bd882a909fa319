package tasks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaustavdm/watchme/internal/results"
	"github.com/kaustavdm/watchme/internal/types"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/text", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello " + r.Header.Get("X-Token")))
	})
	mux.HandleFunc("/data.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"id":1},{"id":2}],"meta":{"count":2,"total":9007199254740993}}`))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func resolveURLs(t *testing.T, params map[string]string) *Runner {
	t.Helper()
	runner, err := DefaultRegistry().Resolve(types.NewTaskSpec("task-url", "urls", params))
	require.NoError(t, err)
	return runner
}

func TestURLsGetContents(t *testing.T) {
	srv := newTestServer(t)
	res := resolveURLs(t, map[string]string{"url": srv.URL + "/text", "header_X-Token": "abc"}).Execute(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, "hello abc", res.Value)
}

func TestURLsNotFoundIsEmptyResult(t *testing.T) {
	srv := newTestServer(t)
	res := resolveURLs(t, map[string]string{"url": srv.URL + "/missing"}).Execute(context.Background())

	assert.NoError(t, res.Err)
	assert.Nil(t, res.Value)
}

func TestURLsGetJSONWithSelection(t *testing.T) {
	srv := newTestServer(t)

	res := resolveURLs(t, map[string]string{"url": srv.URL + "/data.json", "func": funcGetJSON}).Execute(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, map[string]any{"count": json.Number("2"), "total": json.Number("9007199254740993")},
		res.Value.(map[string]any)["meta"])

	res = resolveURLs(t, map[string]string{
		"url":       srv.URL + "/data.json",
		"func":      funcGetJSON,
		"json_path": "items.#.id",
	}).Execute(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, []any{json.Number("1"), json.Number("2")}, res.Value)

	res = resolveURLs(t, map[string]string{
		"url":       srv.URL + "/data.json",
		"func":      funcGetJSON,
		"json_path": "nope",
	}).Execute(context.Background())
	assert.NoError(t, res.Err)
	assert.Nil(t, res.Value)
}

func TestURLsDownload(t *testing.T) {
	srv := newTestServer(t)
	res := resolveURLs(t, map[string]string{"url": srv.URL + "/data.json", "func": funcDownload}).Execute(context.Background())
	require.NoError(t, res.Err)

	path, ok := res.Value.(string)
	require.True(t, ok)
	t.Cleanup(func() { os.RemoveAll(filepath.Dir(path)) })

	assert.Equal(t, "data.json", filepath.Base(path))
	assert.True(t, strings.HasPrefix(filepath.Base(filepath.Dir(path)), results.ScratchDirPrefix))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"count":2`)
}

func TestURLsUnreachableIsExecutionFailure(t *testing.T) {
	srv := newTestServer(t)
	url := srv.URL + "/text"
	srv.Close()

	res := resolveURLs(t, map[string]string{"url": url}).Execute(context.Background())
	assert.ErrorIs(t, res.Err, types.ErrExecution)
}

func TestSystemTask(t *testing.T) {
	r := DefaultRegistry()
	runner, err := r.Resolve(types.NewTaskSpec("task-sys", "system", map[string]string{"func": "memory_usage"}))
	require.NoError(t, err)

	res := runner.Execute(context.Background())
	require.NoError(t, res.Err)
	assert.Contains(t, res.Value.(map[string]any), "num_gc")

	_, err = r.Resolve(types.NewTaskSpec("task-sys", "system", map[string]string{"func": "disk"}))
	assert.ErrorIs(t, err, types.ErrValidation)
}
