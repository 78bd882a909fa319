package modules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kaustavdm/watchme/internal/tasks"
	"github.com/kaustavdm/watchme/internal/types"
)

const (
	SubjectTaskStatus = "task.status"
	SubjectCycle      = "watcher.cycle"
)

// ErrCycleRunning is returned when a cycle is requested while another one of
// the same watcher is still in progress.
var ErrCycleRunning = errors.New("a cycle is already running")

// Publisher is the subset of *nats.Conn the scheduler needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// SchedulerOptions configures a Scheduler. Zero values pick defaults.
type SchedulerOptions struct {
	Watcher  string
	Workers  int
	Deadline time.Duration
	// Schedule is a cron spec with a seconds field; empty disables periodic runs.
	Schedule string
}

type Scheduler struct {
	nc       Publisher
	registry *tasks.Registry
	worker   *Worker
	opts     SchedulerOptions

	tasks  map[string]types.TaskSpec
	states map[string]string
	last   *types.CycleSummary
	mutex  sync.RWMutex

	running sync.Mutex
	cron    *cron.Cron

	resultHooks []func(types.TaskResult)
	cycleHooks  []func(types.CycleSummary)

	logger *zap.Logger
}

// NewScheduler builds a scheduler. nc may be nil to disable event publishing.
func NewScheduler(nc Publisher, registry *tasks.Registry, worker *Worker, opts SchedulerOptions, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Watcher == "" {
		opts.Watcher = "watcher"
	}
	return &Scheduler{
		nc:       nc,
		registry: registry,
		worker:   worker,
		opts:     opts,
		tasks:    make(map[string]types.TaskSpec),
		states:   make(map[string]string),
		logger:   logger.Named("scheduler"),
	}
}

// OnResult registers a hook called with every terminal task result. Hooks
// may be called concurrently.
func (s *Scheduler) OnResult(fn func(types.TaskResult)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.resultHooks = append(s.resultHooks, fn)
}

// OnCycle registers a hook called with every finished cycle summary.
func (s *Scheduler) OnCycle(fn func(types.CycleSummary)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.cycleHooks = append(s.cycleHooks, fn)
}

// Start registers the periodic trigger if a schedule is configured.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.opts.Schedule == "" {
		s.logger.Info("no schedule configured, cycles run on demand")
		return nil
	}

	s.cron = cron.New(cron.WithSeconds())
	if _, err := s.cron.AddFunc(s.opts.Schedule, func() { s.trigger(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule watcher %s: %w", s.opts.Watcher, err)
	}
	s.cron.Start()
	s.logger.Info("watcher scheduled", zap.String("watcher", s.opts.Watcher), zap.String("schedule", s.opts.Schedule))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) trigger(ctx context.Context) {
	summary, err := s.RunCycle(ctx)
	switch {
	case errors.Is(err, ErrCycleRunning):
		s.logger.Warn("skipping scheduled cycle, previous cycle still running")
	case err != nil:
		s.logger.Error("scheduled cycle aborted", zap.Error(err))
	default:
		s.logger.Info("scheduled cycle finished",
			zap.String("cycle", summary.ID),
			zap.Int("completed", summary.Count(types.TaskStatusCompleted)),
			zap.Int("failed", summary.Count(types.TaskStatusFailed)),
			zap.Int("skipped", summary.Count(types.TaskStatusSkipped)))
	}
}

// Stop halts the periodic trigger and waits for a running cycle to finish.
func (s *Scheduler) Stop() error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	return nil
}

// AddTask registers a task spec. Names must be unique within the watcher and
// specs that fail with a configuration error are rejected. Specs with invalid
// parameter values are kept and skipped at run time.
func (s *Scheduler) AddTask(task types.TaskSpec) error {
	if task.Name == "" {
		return types.Errorf(types.ErrConfiguration, "", "task name is required")
	}
	_, err := s.registry.Resolve(task)
	if errors.Is(err, types.ErrConfiguration) {
		return err
	}
	task.Valid = err == nil

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.tasks[task.Name]; exists {
		return types.Errorf(types.ErrConfiguration, task.Name, "duplicate task name")
	}
	s.tasks[task.Name] = task
	return nil
}

// RemoveTask drops a task spec; it reports whether the task existed.
func (s *Scheduler) RemoveTask(name string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, ok := s.tasks[name]
	delete(s.tasks, name)
	delete(s.states, name)
	return ok
}

// GetTasks returns the registered specs ordered by name.
func (s *Scheduler) GetTasks() []types.TaskSpec {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tasks := make([]types.TaskSpec, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	return tasks
}

// GetTask returns one spec and its latest state.
func (s *Scheduler) GetTask(name string) (types.TaskSpec, string, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	task, ok := s.tasks[name]
	return task, s.states[name], ok
}

// States returns a copy of the latest per-task states.
func (s *Scheduler) States() map[string]string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	cp := make(map[string]string, len(s.states))
	for k, v := range s.states {
		cp[k] = v
	}
	return cp
}

// LastCycle returns the most recent summary, or nil before the first cycle.
func (s *Scheduler) LastCycle() *types.CycleSummary {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.last
}

// RunCycle runs every active, valid task once and blocks until all of them
// are terminal. A configuration error aborts the cycle before any task runs.
func (s *Scheduler) RunCycle(ctx context.Context) (*types.CycleSummary, error) {
	if !s.running.TryLock() {
		return nil, ErrCycleRunning
	}
	defer s.running.Unlock()

	summary := &types.CycleSummary{
		ID:      uuid.NewString(),
		Watcher: s.opts.Watcher,
		Started: time.Now(),
	}
	log := s.logger.With(zap.String("cycle", summary.ID))

	runners, skipped, err := s.resolve(summary.ID)
	if err != nil {
		log.Error("cycle aborted before scheduling", zap.Error(err))
		return nil, err
	}

	cycleCtx := ctx
	if s.opts.Deadline > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, s.opts.Deadline)
		defer cancel()
	}

	s.mutex.Lock()
	for _, r := range skipped {
		s.states[r.TaskID] = types.TaskStatusSkipped
	}
	for _, r := range runners {
		s.states[r.Name()] = types.TaskStatusPending
	}
	s.mutex.Unlock()

	for _, r := range skipped {
		s.notify(r)
	}

	log.Info("cycle started", zap.Int("tasks", len(runners)), zap.Int("skipped", len(skipped)), zap.Int("workers", s.opts.Workers))

	outcomes := make([]types.TaskResult, len(runners))
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i, runner := range runners {
		i, runner := i, runner
		g.Go(func() error {
			outcomes[i] = s.runOne(cycleCtx, summary.ID, runner)
			return nil
		})
	}
	_ = g.Wait()

	summary.Results = append(skipped, outcomes...)
	summary.Finished = time.Now()

	s.mutex.Lock()
	s.last = summary
	hooks := append([]func(types.CycleSummary){}, s.cycleHooks...)
	s.mutex.Unlock()

	for _, fn := range hooks {
		fn(*summary)
	}
	s.publish(SubjectCycle, summary)

	log.Info("cycle finished",
		zap.Int("completed", summary.Count(types.TaskStatusCompleted)),
		zap.Int("failed", summary.Count(types.TaskStatusFailed)),
		zap.Int("skipped", summary.Count(types.TaskStatusSkipped)),
		zap.Duration("elapsed", summary.Finished.Sub(summary.Started)))
	return summary, nil
}

// resolve turns the registered specs into runners. Validation failures and
// inactive tasks become skipped results.
func (s *Scheduler) resolve(cycleID string) ([]*tasks.Runner, []types.TaskResult, error) {
	var (
		runners []*tasks.Runner
		skipped []types.TaskResult
	)
	for _, spec := range s.GetTasks() {
		runner, err := s.registry.Resolve(spec)
		switch {
		case errors.Is(err, types.ErrConfiguration):
			return nil, nil, err
		case err != nil:
			s.logger.Warn("task excluded from cycle", zap.String("task", spec.Name), zap.Error(err))
			skipped = append(skipped, skip(cycleID, spec, err.Error()))
		case !runner.Active():
			skipped = append(skipped, skip(cycleID, spec, "inactive"))
		default:
			runners = append(runners, runner)
		}
	}
	return runners, skipped, nil
}

func skip(cycleID string, spec types.TaskSpec, reason string) types.TaskResult {
	return types.TaskResult{
		CycleID:   cycleID,
		TaskID:    spec.Name,
		Type:      spec.Type,
		Status:    types.TaskStatusSkipped,
		Timestamp: time.Now(),
		Error:     reason,
	}
}

func (s *Scheduler) runOne(ctx context.Context, cycleID string, runner *tasks.Runner) types.TaskResult {
	var result types.TaskResult
	from := types.TaskStatusPending
	if err := ctx.Err(); err != nil {
		// The deadline passed before a worker slot became free.
		result = finish(types.TaskResult{CycleID: cycleID, TaskID: runner.Name(), Type: runner.Type()},
			time.Now(), types.TaskStatusFailed, abandoned(runner.Name(), err))
	} else {
		s.transition(runner.Name(), types.TaskStatusPending, types.TaskStatusRunning)
		from = types.TaskStatusRunning
		result = s.worker.Process(ctx, cycleID, runner)
	}

	s.transition(runner.Name(), from, result.Status)
	s.notify(result)
	return result
}

// transition moves a task between states, logging disallowed moves.
func (s *Scheduler) transition(name, from, to string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	cur := s.states[name]
	if cur != from || !allowedTransition(from, to) {
		s.logger.Error("invalid task state transition",
			zap.String("task", name), zap.String("current", cur), zap.String("from", from), zap.String("to", to))
	}
	s.states[name] = to
}

func allowedTransition(from, to string) bool {
	switch from {
	case types.TaskStatusPending:
		return to == types.TaskStatusRunning || to == types.TaskStatusFailed
	case types.TaskStatusRunning:
		return to == types.TaskStatusCompleted || to == types.TaskStatusFailed
	default:
		return false
	}
}

func (s *Scheduler) notify(result types.TaskResult) {
	s.mutex.RLock()
	hooks := append([]func(types.TaskResult){}, s.resultHooks...)
	s.mutex.RUnlock()

	for _, fn := range hooks {
		fn(result)
	}
	s.publish(SubjectTaskStatus, result)
}

func (s *Scheduler) publish(subject string, v any) {
	if s.nc == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("failed to encode event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := s.nc.Publish(subject, data); err != nil {
		s.logger.Error("failed to publish event", zap.String("subject", subject), zap.Error(err))
	}
}
