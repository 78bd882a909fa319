package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaustavdm/watchme/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "db", "history.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleCycle(id string, started time.Time) types.CycleSummary {
	return types.CycleSummary{
		ID:       id,
		Watcher:  "watcher",
		Started:  started,
		Finished: started.Add(2 * time.Second),
		Results: []types.TaskResult{
			{CycleID: id, TaskID: "task-a", Type: "urls", Status: types.TaskStatusCompleted,
				Files: []string{"task-a/result.txt"}, Timestamp: started.Add(time.Second), Duration: 0.5},
			{CycleID: id, TaskID: "task-b", Type: "system", Status: types.TaskStatusFailed,
				Warnings: []string{"mixed-type list"}, Timestamp: started.Add(time.Second), Error: "execution failure"},
		},
	}
}

func TestSaveAndGetCycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 10, 19, 8, 0, 0, 123, time.UTC)

	want := sampleCycle("c1", started)
	require.NoError(t, st.SaveCycle(ctx, want))

	got, err := st.GetCycle(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	_, err = st.GetCycle(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveCycleReplaces(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	c := sampleCycle("c1", time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC))
	require.NoError(t, st.SaveCycle(ctx, c))

	c.Results = c.Results[:1]
	require.NoError(t, st.SaveCycle(ctx, c))

	got, err := st.GetCycle(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, got.Results, 1)
}

func TestListCyclesNewestFirstAndPrune(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"c1", "c2", "c3"} {
		require.NoError(t, st.SaveCycle(ctx, sampleCycle(id, base.AddDate(0, 0, i))))
	}

	cycles, err := st.ListCycles(ctx, 2)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, "c3", cycles[0].ID)
	assert.Equal(t, "c2", cycles[1].ID)
	assert.Len(t, cycles[0].Results, 2)

	n, err := st.Prune(ctx, base.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	cycles, err = st.ListCycles(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, cycles, 2)
}
