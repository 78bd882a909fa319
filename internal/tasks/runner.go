package tasks

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/kaustavdm/watchme/internal/results"
	"github.com/kaustavdm/watchme/internal/types"
)

// Parameters shared by every task type.
const (
	ParamFileName    = "file_name"
	ParamSaveAs      = "save_as"
	ParamWriteFormat = "write_format"
	ParamActive      = "active"
	ParamTimeout     = "timeout"
)

// ExecutionResult is the raw outcome of one execution. Err is set only when
// the executable faulted; a nil Value with nil Err is a reported empty result.
type ExecutionResult struct {
	Task  string
	Value any
	Err   error
}

// Runner binds a validated spec to its executable.
type Runner struct {
	spec types.TaskSpec
	fn   Func
}

// NewRunner wraps fn without registry validation. Intended for callers that
// construct tasks programmatically.
func NewRunner(spec types.TaskSpec, fn Func) *Runner {
	spec.Valid = true
	return &Runner{spec: spec, fn: fn}
}

func (r *Runner) Name() string { return r.spec.Name }

func (r *Runner) Type() string { return r.spec.Type }

func (r *Runner) Spec() types.TaskSpec { return r.spec }

// Parameters returns a copy of the task parameters.
func (r *Runner) Parameters() map[string]string {
	out := make(map[string]string, len(r.spec.Params))
	for k, v := range r.spec.Params {
		out[k] = v
	}
	return out
}

// Active reports whether the task should run. Tasks are active unless the
// spec or the active parameter says otherwise.
func (r *Runner) Active() bool {
	if !r.spec.Active {
		return false
	}
	if v := r.spec.Params[ParamActive]; v != "" {
		b, err := strconv.ParseBool(v)
		return err == nil && b
	}
	return true
}

// Timeout is the per-task execution limit, zero when unset.
func (r *Runner) Timeout() time.Duration {
	d, err := time.ParseDuration(r.spec.Params[ParamTimeout])
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// Hints returns the classifier hints carried by the task parameters.
func (r *Runner) Hints() results.Hints {
	return results.Hints{
		FileName: r.spec.Params[ParamFileName],
		SaveAs:   r.spec.Params[ParamSaveAs],
		Binary:   r.spec.Params[ParamWriteFormat] == "wb",
	}
}

// Execute runs the task. Errors and panics from the executable are returned
// in the result, never propagated.
func (r *Runner) Execute(ctx context.Context) (res ExecutionResult) {
	res.Task = r.spec.Name
	defer func() {
		if p := recover(); p != nil {
			res.Value = nil
			res.Err = types.Wrap(types.ErrExecution, r.spec.Name, fmt.Errorf("panic: %v\n%s", p, debug.Stack()))
		}
	}()

	v, err := r.fn(ctx, r.Parameters())
	if err != nil {
		return ExecutionResult{Task: r.spec.Name, Err: types.Wrap(types.ErrExecution, r.spec.Name, err)}
	}
	res.Value = v
	return res
}
