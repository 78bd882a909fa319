package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskErrorKinds(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(ErrPersistence, "task-a", cause)

	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrExecution)
	assert.Equal(t, `persistence failure: task "task-a": disk full`, err.Error())

	wrapped := fmt.Errorf("cycle: %w", Errorf(ErrConfiguration, "task-b", "unknown type %q", "ftp"))
	assert.ErrorIs(t, wrapped, ErrConfiguration)
	assert.Contains(t, wrapped.Error(), `unknown type "ftp"`)

	assert.Nil(t, Wrap(ErrExecution, "x", nil))
}

func TestNewTaskSpecLowercasesKeys(t *testing.T) {
	spec := NewTaskSpec("task-a", "urls", map[string]string{"URL": "http://x", "File_Name": "a.txt"})

	assert.Equal(t, "http://x", spec.Param("url", ""))
	assert.Equal(t, "a.txt", spec.Param("file_name", ""))
	assert.Equal(t, "json", spec.Param("save_as", "json"))
	assert.True(t, spec.Active)
}

func TestCycleSummaryCount(t *testing.T) {
	s := CycleSummary{Results: []TaskResult{
		{TaskID: "a", Status: TaskStatusCompleted},
		{TaskID: "b", Status: TaskStatusFailed},
		{TaskID: "c", Status: TaskStatusCompleted},
	}}
	assert.Equal(t, 2, s.Count(TaskStatusCompleted))
	assert.Equal(t, 1, s.Count(TaskStatusFailed))
	assert.Equal(t, 0, s.Count(TaskStatusSkipped))
	assert.True(t, IsTerminal(TaskStatusSkipped))
	assert.False(t, IsTerminal(TaskStatusRunning))
}
