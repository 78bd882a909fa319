package modules

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kaustavdm/watchme/internal/results"
	"github.com/kaustavdm/watchme/internal/tasks"
	"github.com/kaustavdm/watchme/internal/types"
)

// Worker runs one task's pipeline: execute, classify, write.
type Worker struct {
	writer *results.Writer
	prober results.Prober
	logger *zap.Logger
}

func NewWorker(writer *results.Writer, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		writer: writer,
		prober: results.OSProber{},
		logger: logger.Named("worker"),
	}
}

// Process executes runner and persists its result. If ctx ends before the
// executable returns, the task is abandoned: its eventual result is dropped
// and the returned TaskResult is failed with the context's reason.
func (w *Worker) Process(ctx context.Context, cycleID string, runner *tasks.Runner) types.TaskResult {
	startTime := time.Now()
	result := types.TaskResult{
		CycleID: cycleID,
		TaskID:  runner.Name(),
		Type:    runner.Type(),
	}
	log := w.logger.With(zap.String("cycle", cycleID), zap.String("task", runner.Name()))

	taskCtx := ctx
	if d := runner.Timeout(); d > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	log.Debug("executing task", zap.String("type", runner.Type()))

	done := make(chan tasks.ExecutionResult, 1)
	go func() {
		done <- runner.Execute(taskCtx)
	}()

	var exec tasks.ExecutionResult
	select {
	case exec = <-done:
	case <-taskCtx.Done():
		err := abandoned(runner.Name(), taskCtx.Err())
		log.Warn("task abandoned", zap.Error(err))
		return finish(result, startTime, types.TaskStatusFailed, err)
	}

	if exec.Err != nil {
		log.Error("task execution failed", zap.Error(exec.Err))
		return finish(result, startTime, types.TaskStatusFailed, exec.Err)
	}

	plan := results.Classify(results.Sniff(exec.Value, w.prober), runner.Hints())
	result.Warnings = plan.Warnings
	for _, warning := range plan.Warnings {
		log.Warn("result classification", zap.String("warning", warning))
	}
	if plan.Empty() {
		log.Info("task reported an empty result")
		return finish(result, startTime, types.TaskStatusCompleted, nil)
	}

	files, err := w.writer.Write(runner.Name(), plan)
	result.Files = files
	if err != nil {
		err = types.Wrap(types.ErrPersistence, runner.Name(), err)
		log.Error("persisting task result failed", zap.Error(err), zap.Strings("files", files))
		return finish(result, startTime, types.TaskStatusFailed, err)
	}

	log.Info("task completed", zap.Strings("files", files))
	return finish(result, startTime, types.TaskStatusCompleted, nil)
}

func finish(result types.TaskResult, start time.Time, status string, err error) types.TaskResult {
	endTime := time.Now()
	result.Status = status
	result.Timestamp = endTime
	result.Duration = endTime.Sub(start).Seconds()
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

func abandoned(task string, cause error) error {
	if errors.Is(cause, context.DeadlineExceeded) {
		return types.Wrap(types.ErrTimeout, task, cause)
	}
	return types.Wrap(types.ErrExecution, task, cause)
}
