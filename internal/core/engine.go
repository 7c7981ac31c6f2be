package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Archiver receives terminal tasks before cleanup deletes them. A nil
// archiver disables archival.
type Archiver interface {
	Archive(ctx context.Context, task *AgentTask) error
}

// Config carries the engine's tunables. Zero values fall back to defaults
// in NewEngine.
type Config struct {
	// TickInterval is the clock driver's period.
	TickInterval time.Duration

	// Timezone is the engine's reference timezone for "today" boundaries
	// and for schedules that do not carry their own. Empty means UTC.
	Timezone string

	// MaxFailureRatePercent is the health ceiling: the engine reports
	// unhealthy once failed/(completed+failed) exceeds it.
	MaxFailureRatePercent float64

	// MaxConcurrent bounds how many dispatched tasks run at once.
	MaxConcurrent int

	// Evaluator computes cron recurrences. Nil means CronEvaluator.
	Evaluator Evaluator

	// Runner executes dispatched tasks. Nil means StubRunner.
	Runner Runner

	// Archiver, when set, receives terminal tasks before cleanup deletes them.
	Archiver Archiver

	// Clock returns the current time. Nil means time.Now. Tests inject a
	// fixed clock here.
	Clock func() time.Time
}

const (
	defaultTickInterval   = time.Second
	defaultMaxFailureRate = 25.0
	defaultMaxConcurrent  = 4
)

// Engine owns the task store, the clock driver, and the listener set.
// Construct one per process (or per test); there is no package-level state.
//
// All mutations are serialized through mu, whether they originate from an
// external caller or from the tick loop, so the engine is single-writer.
// Reads go through TaskStore snapshots and may run concurrently.
type Engine struct {
	cfg    Config
	loc    *time.Location
	store  *TaskStore
	bus    *eventBus
	eval   Evaluator
	runner Runner
	logger *slog.Logger
	now    func() time.Time

	mu           sync.Mutex
	agents       map[AgentType]string
	lastActivity *time.Time

	lifeMu   sync.Mutex
	running  bool
	stop     chan struct{}
	wg       sync.WaitGroup
	runCtx   context.Context
	cancel   context.CancelFunc
	tickBusy atomic.Bool
	sem      chan struct{}
}

// NewEngine constructs an engine from cfg. It returns an error only for an
// unloadable reference timezone.
func NewEngine(cfg Config, logger *slog.Logger) (*Engine, error) {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.MaxFailureRatePercent <= 0 {
		cfg.MaxFailureRatePercent = defaultMaxFailureRate
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.Evaluator == nil {
		cfg.Evaluator = CronEvaluator{}
	}
	if cfg.Runner == nil {
		cfg.Runner = StubRunner{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:    cfg,
		loc:    loc,
		store:  NewTaskStore(),
		bus:    newEventBus(logger),
		eval:   cfg.Evaluator,
		runner: cfg.Runner,
		logger: logger,
		now:    func() time.Time { return cfg.Clock().UTC() },
		agents: make(map[AgentType]string),
		sem:    make(chan struct{}, cfg.MaxConcurrent),
	}, nil
}

// Evaluator exposes the engine's cron evaluator for preview surfaces.
func (e *Engine) Evaluator() Evaluator { return e.eval }

// Location returns the engine's reference timezone.
func (e *Engine) Location() *time.Location { return e.loc }

// ScheduleTask validates the request, creates a pending task, and — when
// the request carries a cron expression — an active schedule for it.
// Invalid requests fail with a wrapped ValidationError.
func (e *Engine) ScheduleTask(req TaskRequest) (*AgentTask, error) {
	if err := e.validateRequest(req); err != nil {
		return nil, fmt.Errorf("task scheduling failed: %w", err)
	}
	now := e.now()
	task := &AgentTask{
		ID:             NewID(),
		Name:           req.Name,
		Description:    req.Description,
		Status:         TaskStatusPending,
		Priority:       req.Priority,
		AgentType:      req.AgentType,
		Progress:       0,
		Logs:           []LogEntry{},
		CreatedAt:      now,
		UpdatedAt:      now,
		ScheduledAt:    cloneTime(req.ScheduledAt),
		CronExpression: req.CronExpression,
		Timezone:       req.Timezone,
	}

	e.mu.Lock()
	e.store.PutTask(task)
	if req.CronExpression != "" {
		next, err := e.eval.NextRunAfter(req.CronExpression, e.scheduleTZ(req.Timezone), now)
		if err != nil {
			// validateRequest already parsed the expression; only a
			// bad timezone reaches here.
			e.store.DeleteTask(task.ID)
			e.mu.Unlock()
			return nil, fmt.Errorf("task scheduling failed: %w", err)
		}
		e.store.PutSchedule(&Schedule{
			ID:             NewID(),
			TaskID:         task.ID,
			CronExpression: req.CronExpression,
			Timezone:       req.Timezone,
			IsActive:       true,
			NextRun:        next,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}
	e.touchLocked(now)
	e.mu.Unlock()

	e.bus.emit(Event{Type: EventTaskCreated, TaskID: task.ID, Task: task.Clone()})
	e.logger.Info("task scheduled", "task_id", task.ID, "agent_type", string(task.AgentType), "priority", string(task.Priority))
	return task, nil
}

// ScheduleBatchTasks applies ScheduleTask to each request in order. A
// failing request does not roll back earlier creations; the returned slice
// holds the tasks that were created, in input order, and the error joins
// every per-request failure.
func (e *Engine) ScheduleBatchTasks(reqs []TaskRequest) ([]*AgentTask, error) {
	tasks := make([]*AgentTask, 0, len(reqs))
	var errs []error
	for i, req := range reqs {
		task, err := e.ScheduleTask(req)
		if err != nil {
			errs = append(errs, fmt.Errorf("request %d: %w", i, err))
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, errors.Join(errs...)
}

func (e *Engine) validateRequest(req TaskRequest) error {
	if req.Name == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if req.Description == "" {
		return &ValidationError{Field: "description", Reason: "required"}
	}
	if !req.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: "must be one of low, medium, high, urgent"}
	}
	if !req.AgentType.Valid() {
		return &ValidationError{Field: "agent_type", Reason: "unknown agent type"}
	}
	if req.CronExpression != "" {
		if err := e.eval.Validate(req.CronExpression); err != nil {
			return &ValidationError{Field: "cron_expression", Reason: err.Error()}
		}
	}
	return nil
}

// scheduleTZ resolves the timezone a schedule is evaluated in.
func (e *Engine) scheduleTZ(tz string) string {
	if tz != "" {
		return tz
	}
	return e.cfg.Timezone
}

// GetTasks returns a snapshot of all tasks in creation order.
func (e *Engine) GetTasks() []*AgentTask { return e.store.ListTasks() }

// GetTask returns a snapshot of one task, or ErrTaskNotFound.
func (e *Engine) GetTask(id string) (*AgentTask, error) { return e.store.GetTask(id) }

// GetTasksByStatus returns a snapshot of tasks with the given status.
func (e *Engine) GetTasksByStatus(s TaskStatus) []*AgentTask { return e.store.ListTasksByStatus(s) }

// GetTasksByAgentType returns a snapshot of tasks with the given agent type.
func (e *Engine) GetTasksByAgentType(a AgentType) []*AgentTask {
	return e.store.ListTasksByAgentType(a)
}

// GetTasksByPriority returns a snapshot of tasks with the given priority.
func (e *Engine) GetTasksByPriority(p Priority) []*AgentTask { return e.store.ListTasksByPriority(p) }

// GetSchedules returns a snapshot of all schedules.
func (e *Engine) GetSchedules() []*Schedule { return e.store.ListSchedules() }

// mutate loads the task, applies fn under the writer lock, stores the
// result when fn accepts, and returns the post-mutation snapshot. It
// returns false for unknown IDs and for rejected transitions, so mutation
// entry points can be probed without raising.
func (e *Engine) mutate(id string, fn func(*AgentTask) bool) (*AgentTask, bool) {
	e.mu.Lock()
	t, err := e.store.GetTask(id)
	if err != nil {
		e.mu.Unlock()
		return nil, false
	}
	if !fn(t) {
		e.mu.Unlock()
		return nil, false
	}
	e.store.PutTask(t)
	e.touchLocked(e.now())
	e.mu.Unlock()
	return t, true
}

// StartTask moves a pending task to running.
func (e *Engine) StartTask(id string) bool {
	t, ok := e.mutate(id, func(t *AgentTask) bool { return startTask(t, e.now()) })
	if !ok {
		return false
	}
	e.bus.emit(Event{Type: EventTaskUpdated, TaskID: id, Task: t})
	return true
}

// PauseTask moves a running task back to pending, keeping StartedAt.
func (e *Engine) PauseTask(id string) bool {
	t, ok := e.mutate(id, func(t *AgentTask) bool { return pauseTask(t, e.now()) })
	if !ok {
		return false
	}
	e.bus.emit(Event{Type: EventTaskUpdated, TaskID: id, Task: t})
	return true
}

// ResumeTask moves a previously started pending task back to running.
func (e *Engine) ResumeTask(id string) bool {
	t, ok := e.mutate(id, func(t *AgentTask) bool { return resumeTask(t, e.now()) })
	if !ok {
		return false
	}
	e.bus.emit(Event{Type: EventTaskUpdated, TaskID: id, Task: t})
	return true
}

// RetryTask requeues a failed task, resetting progress and clearing the
// terminal timestamp. Returns false for any non-failed task.
func (e *Engine) RetryTask(id string) bool {
	t, ok := e.mutate(id, func(t *AgentTask) bool { return retryTask(t, e.now()) })
	if !ok {
		return false
	}
	e.bus.emit(Event{Type: EventTaskUpdated, TaskID: id, Task: t})
	return true
}

// CancelTask cancels a pending, running, or failed task. Cancelling a cron
// template also deactivates its schedule so no further instances spawn.
func (e *Engine) CancelTask(id string) bool {
	t, ok := e.mutate(id, func(t *AgentTask) bool { return cancelTask(t, e.now()) })
	if !ok {
		return false
	}
	e.deactivateSchedulesFor(id)
	e.bus.emit(Event{Type: EventTaskCancelled, TaskID: id, Task: t})
	return true
}

// CompleteTask marks a running task completed. Used by runners.
func (e *Engine) CompleteTask(id string) bool {
	t, ok := e.mutate(id, func(t *AgentTask) bool { return completeTask(t, e.now()) })
	if !ok {
		return false
	}
	e.bus.emit(Event{Type: EventTaskCompleted, TaskID: id, Task: t})
	return true
}

// FailTask marks a running task failed, recording reason in its log. Used
// by runners.
func (e *Engine) FailTask(id, reason string) bool {
	t, ok := e.mutate(id, func(t *AgentTask) bool { return failTask(t, e.now(), reason) })
	if !ok {
		return false
	}
	e.bus.emit(Event{Type: EventTaskFailed, TaskID: id, Task: t, Error: reason})
	return true
}

// SetProgress updates the progress percentage of a running task.
func (e *Engine) SetProgress(id string, pct int) bool {
	t, ok := e.mutate(id, func(t *AgentTask) bool { return setProgress(t, e.now(), pct) })
	if !ok {
		return false
	}
	e.bus.emit(Event{Type: EventTaskUpdated, TaskID: id, Task: t})
	return true
}

func (e *Engine) deactivateSchedulesFor(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, sc := range e.store.ListSchedules() {
		if sc.TaskID == taskID && sc.IsActive {
			sc.IsActive = false
			sc.UpdatedAt = e.now()
			e.store.PutSchedule(sc)
		}
	}
}

// PauseAllTasks pauses every running task and returns the count affected.
func (e *Engine) PauseAllTasks() int {
	count := 0
	for _, t := range e.store.ListTasksByStatus(TaskStatusRunning) {
		if e.PauseTask(t.ID) {
			count++
		}
	}
	return count
}

// ResumeAllTasks resumes every paused task — pending with a prior
// StartedAt — and returns the count affected. Tasks that were never
// started stay pending.
func (e *Engine) ResumeAllTasks() int {
	count := 0
	for _, t := range e.store.ListTasksByStatus(TaskStatusPending) {
		if t.StartedAt == nil {
			continue
		}
		if e.ResumeTask(t.ID) {
			count++
		}
	}
	return count
}

// CleanupOldTasks deletes completed and cancelled tasks whose terminal
// timestamp is older than retentionDays, returning the count deleted.
// Failed tasks are retained for visibility until retried or cancelled.
// When an archiver is configured, each task is archived first; a task
// whose archival fails is kept.
func (e *Engine) CleanupOldTasks(retentionDays int) int {
	if retentionDays < 0 {
		return 0
	}
	now := e.now()
	cutoff := now.AddDate(0, 0, -retentionDays)

	var victims []*AgentTask
	for _, t := range e.store.ListTasks() {
		if t.Status != TaskStatusCompleted && t.Status != TaskStatusCancelled {
			continue
		}
		if t.CompletedAt == nil || !t.CompletedAt.Before(cutoff) {
			continue
		}
		victims = append(victims, t)
	}

	count := 0
	for _, t := range victims {
		if e.cfg.Archiver != nil {
			if err := e.cfg.Archiver.Archive(context.Background(), t); err != nil {
				e.logger.Error("archive task before cleanup", "task_id", t.ID, "err", err)
				continue
			}
		}
		if err := e.store.DeleteTask(t.ID); err == nil {
			count++
		}
	}
	if count > 0 {
		e.mu.Lock()
		e.touchLocked(now)
		e.mu.Unlock()
		e.logger.Info("cleanup removed old tasks", "count", count, "retention_days", retentionDays)
	}
	return count
}

// Subscribe registers a lifecycle listener and returns its handle.
func (e *Engine) Subscribe(fn Listener) int { return e.bus.subscribe(fn) }

// Unsubscribe removes a listener by handle. Unknown handles are a no-op.
func (e *Engine) Unsubscribe(id int) { e.bus.unsubscribe(id) }

// InitializeAgents registers the six agent types as idle. Called once at
// daemon startup before orchestration begins.
func (e *Engine) InitializeAgents() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range AgentTypes() {
		e.agents[a] = "idle"
	}
	e.logger.Info("agents initialized", "count", len(e.agents))
}

// StartOrchestration starts the clock driver. Safe to call when already
// running.
func (e *Engine) StartOrchestration() {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.running {
		return
	}
	e.stop = make(chan struct{})
	e.runCtx, e.cancel = context.WithCancel(context.Background())
	e.running = true
	e.wg.Add(1)
	go e.run(e.stop)
	e.logger.Info("orchestration started", "tick_interval", e.cfg.TickInterval.String())
}

// StopOrchestration stops the clock driver and returns once no further
// tick can fire. In-flight runner work is cancelled via context.
func (e *Engine) StopOrchestration() {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if !e.running {
		return
	}
	close(e.stop)
	e.cancel()
	e.wg.Wait()
	e.running = false
	e.logger.Info("orchestration stopped")
}

// IsRunning reports whether the clock driver is active.
func (e *Engine) IsRunning() bool {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	return e.running
}

func (e *Engine) run(stop chan struct{}) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}

// Tick runs one evaluation pass: fire due schedules, then dispatch due
// pending tasks. Ticks never overlap; if the previous pass is still in
// flight the new tick is skipped, not queued.
func (e *Engine) Tick() {
	if !e.tickBusy.CompareAndSwap(false, true) {
		return
	}
	defer e.tickBusy.Store(false)
	now := e.now()
	e.fireDueSchedules(now)
	e.dispatchDueTasks(now)
}

// fireDueSchedules spawns a fresh task instance for every active schedule
// whose next_run has passed. The template task is never reset; each firing
// creates a new task that copies the template's metadata. next_run is
// advanced before the instance is visible, so a schedule cannot fire twice
// for the same due instant even under irregular ticks.
func (e *Engine) fireDueSchedules(now time.Time) {
	var created []*AgentTask

	e.mu.Lock()
	for _, sc := range e.store.ListSchedules() {
		if !sc.IsActive || sc.NextRun.After(now) {
			continue
		}
		template, err := e.store.GetTask(sc.TaskID)
		if err != nil {
			e.logger.Warn("schedule references missing task, deactivating", "schedule_id", sc.ID, "task_id", sc.TaskID)
			sc.IsActive = false
			sc.UpdatedAt = now
			e.store.PutSchedule(sc)
			continue
		}

		next, err := e.eval.NextRunAfter(sc.CronExpression, e.scheduleTZ(sc.Timezone), now)
		if err != nil {
			e.logger.Error("schedule recurrence evaluation failed, deactivating", "schedule_id", sc.ID, "err", err)
			sc.IsActive = false
			sc.UpdatedAt = now
			e.store.PutSchedule(sc)
			continue
		}
		sc.NextRun = next
		sc.UpdatedAt = now
		e.store.PutSchedule(sc)

		instance := &AgentTask{
			ID:          NewID(),
			Name:        template.Name,
			Description: template.Description,
			Status:      TaskStatusPending,
			Priority:    template.Priority,
			AgentType:   template.AgentType,
			Progress:    0,
			Logs:        []LogEntry{},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		instance.appendLog(now, LogInfo, fmt.Sprintf("spawned by schedule %s", sc.ID))
		e.store.PutTask(instance)
		created = append(created, instance)
	}
	if len(created) > 0 {
		e.touchLocked(now)
	}
	e.mu.Unlock()

	for _, t := range created {
		e.bus.emit(Event{Type: EventTaskCreated, TaskID: t.ID, Task: t})
		e.logger.Info("schedule fired", "task_id", t.ID, "agent_type", string(t.AgentType))
	}
}

// dispatchDueTasks starts due pending tasks and hands them to the runner,
// highest priority first. A task is due when it has never been started and
// either has no scheduled time or its scheduled time has passed. Paused
// tasks (pending with StartedAt set) and cron templates are not dispatched.
func (e *Engine) dispatchDueTasks(now time.Time) {
	due := make([]*AgentTask, 0)
	for _, t := range e.store.ListTasksByStatus(TaskStatusPending) {
		if t.StartedAt != nil || t.CronExpression != "" {
			continue
		}
		if t.ScheduledAt != nil && t.ScheduledAt.After(now) {
			continue
		}
		due = append(due, t)
	}
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].Priority.rank() != due[j].Priority.rank() {
			return due[i].Priority.rank() > due[j].Priority.rank()
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})

	for _, t := range due {
		select {
		case e.sem <- struct{}{}:
		default:
			return // runner pool saturated; next tick picks up the rest
		}
		if !e.StartTask(t.ID) {
			<-e.sem
			continue
		}
		task, err := e.store.GetTask(t.ID)
		if err != nil {
			<-e.sem
			continue
		}
		go e.runTask(task)
	}
}

func (e *Engine) runTask(task *AgentTask) {
	defer func() { <-e.sem }()
	ctx := e.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := e.runner.Run(ctx, task); err != nil {
		e.FailTask(task.ID, err.Error())
		return
	}
	e.CompleteTask(task.ID)
}

// touchLocked records mutation activity; callers hold e.mu.
func (e *Engine) touchLocked(now time.Time) {
	t := now
	e.lastActivity = &t
}
