package modules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaustavdm/watchme/internal/types"
)

type memoryRecorder struct {
	saved  []types.CycleSummary
	cutoff time.Time
	err    error
}

func (m *memoryRecorder) SaveCycle(_ context.Context, summary types.CycleSummary) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, summary)
	return nil
}

func (m *memoryRecorder) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	m.cutoff = cutoff
	return 0, m.err
}

func TestReporterObserveAggregatesDaily(t *testing.T) {
	r := NewReporter(nil, nil, nil)
	day := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	r.Observe(types.TaskResult{TaskID: "a", Status: types.TaskStatusCompleted, Timestamp: day, Duration: 1, Files: []string{"a/result.txt"}})
	r.Observe(types.TaskResult{TaskID: "b", Status: types.TaskStatusFailed, Timestamp: day, Duration: 3})
	r.Observe(types.TaskResult{TaskID: "c", Status: types.TaskStatusSkipped, Timestamp: day.AddDate(0, 0, 1)})

	metrics := r.GetMetrics()
	require.Len(t, metrics, 2)

	m := metrics["2026-10-19"]
	assert.Equal(t, 2, m.TotalTasks)
	assert.Equal(t, 1, m.CompletedTasks)
	assert.Equal(t, 1, m.FailedTasks)
	assert.Equal(t, 1, m.FilesWritten)
	assert.InDelta(t, 2.0, m.AverageDuration, 1e-9)
	assert.Equal(t, 1, metrics["2026-10-20"].SkippedTasks)
}

func TestReporterPrune(t *testing.T) {
	r := NewReporter(nil, nil, nil)
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

	r.Observe(types.TaskResult{Status: types.TaskStatusCompleted, Timestamp: now.AddDate(0, 0, -40)})
	r.Observe(types.TaskResult{Status: types.TaskStatusCompleted, Timestamp: now.AddDate(0, 0, -2)})
	r.prune(now)

	metrics := r.GetMetrics()
	assert.Len(t, metrics, 1)
	assert.Contains(t, metrics, now.AddDate(0, 0, -2).Format("2006-01-02"))
}

func TestReporterPrunesHistory(t *testing.T) {
	store := &memoryRecorder{}
	r := NewReporter(nil, store, nil)
	r.SetRetention(7)

	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	r.prune(now)
	assert.Equal(t, now.AddDate(0, 0, -7), store.cutoff)
}

func TestReporterRecordCycle(t *testing.T) {
	store := &memoryRecorder{}
	r := NewReporter(nil, store, nil)

	r.RecordCycle(types.CycleSummary{ID: "c1"})
	require.Len(t, store.saved, 1)
	assert.Equal(t, "c1", store.saved[0].ID)

	store.err = errors.New("database is locked")
	assert.NotPanics(t, func() { r.RecordCycle(types.CycleSummary{ID: "c2"}) })
	assert.Len(t, store.saved, 1)

	assert.NotPanics(t, func() { NewReporter(nil, nil, nil).RecordCycle(types.CycleSummary{ID: "c3"}) })
}

func TestReporterStartWithoutNATS(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewReporter(nil, nil, nil)
	require.NoError(t, r.Start(ctx))
	assert.NoError(t, r.Stop())
}
