package types

import (
	"strings"
	"time"
)

// TaskSpec describes one configured task of a watcher. Name doubles as the
// task's unique resource identifier and repository subdirectory.
type TaskSpec struct {
	Name   string            `json:"name" yaml:"name"`
	Type   string            `json:"type" yaml:"type"`
	Params map[string]string `json:"params" yaml:"params"`
	Active bool              `json:"active" yaml:"active"`
	Valid  bool              `json:"valid" yaml:"-"`
}

// NewTaskSpec copies params with lower-cased keys.
func NewTaskSpec(name, typ string, params map[string]string) TaskSpec {
	p := make(map[string]string, len(params))
	for k, v := range params {
		p[strings.ToLower(k)] = v
	}
	return TaskSpec{Name: name, Type: typ, Params: p, Active: true}
}

// Param returns the value of key, or def when unset.
func (t TaskSpec) Param(key, def string) string {
	if v, ok := t.Params[key]; ok && v != "" {
		return v
	}
	return def
}

// TaskResult is the terminal outcome of one task within a cycle.
type TaskResult struct {
	CycleID   string    `json:"cycle_id"`
	TaskID    string    `json:"task_id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Files     []string  `json:"files,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Duration  float64   `json:"duration"`
	Error     string    `json:"error,omitempty"`
}

// CycleSummary aggregates every task outcome of one scheduler cycle.
type CycleSummary struct {
	ID       string       `json:"id"`
	Watcher  string       `json:"watcher"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
	Results  []TaskResult `json:"results"`
}

// Count returns how many results ended in status.
func (c CycleSummary) Count(status string) int {
	n := 0
	for _, r := range c.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}

// Possible task statuses
const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
	TaskStatusSkipped   = "skipped"
)

// IsTerminal reports whether status ends a task's cycle.
func IsTerminal(status string) bool {
	switch status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}
