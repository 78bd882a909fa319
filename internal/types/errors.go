package types

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration aborts a whole cycle before scheduling.
	ErrConfiguration = errors.New("configuration error")
	// ErrValidation excludes a single task from the cycle.
	ErrValidation  = errors.New("validation failure")
	ErrExecution   = errors.New("execution failure")
	ErrPersistence = errors.New("persistence failure")
	ErrTimeout     = errors.New("deadline exceeded")
)

// TaskError attaches a failure kind and task name to an underlying cause.
type TaskError struct {
	Kind error
	Task string
	Msg  string
	Err  error
}

func (e *TaskError) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Task != "" {
		msg = fmt.Sprintf("%s: task %q", msg, e.Task)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches against the failure kind so errors.Is(err, ErrValidation) works.
func (e *TaskError) Is(target error) bool { return e.Kind == target }

func (e *TaskError) Unwrap() error { return e.Err }

// Errorf builds a TaskError of the given kind.
func Errorf(kind error, task, format string, args ...any) error {
	return &TaskError{Kind: kind, Task: task, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds a TaskError of the given kind around err. Nil err yields nil.
func Wrap(kind error, task string, err error) error {
	if err == nil {
		return nil
	}
	return &TaskError{Kind: kind, Task: task, Err: err}
}
