package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mender/logging"
)

// Options configures a Coordinator
type Options struct {
	MaxConcurrent    int              // concurrent agent executions (default: 2)
	StopGrace        time.Duration    // how long Stop waits for in-flight executions
	TaskDeadline     time.Duration    // per-task deadline enforced by the watchdog, 0 disables
	WatchdogInterval time.Duration    // watchdog sweep interval
	LateResultPolicy LateResultPolicy // what late agent results do to timed_out tasks
	Recorder         Recorder         // optional sink for terminal task snapshots
	EventBuffer      int              // per-subscriber event buffer
	Logger           *logging.Logger
}

// DefaultOptions returns the options used when none are given
func DefaultOptions() Options {
	return Options{
		MaxConcurrent:    2,
		StopGrace:        10 * time.Second,
		WatchdogInterval: 5 * time.Second,
		LateResultPolicy: FirstWriteWins,
	}
}

// Coordinator owns the agent registry and the task manager and dispatches
// assigned tasks to agents asynchronously.
type Coordinator struct {
	registry  *Registry
	tasks     *TaskManager
	events    *EventBus
	logger    *logging.Logger
	opts      Options
	semaphore chan struct{} // bounds concurrent agent executions
	inFlight  atomic.Int64

	mu      sync.Mutex
	running bool
	rootCtx context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup // executions of the current run
}

// NewCoordinator creates a stopped coordinator
func NewCoordinator(opts Options) *Coordinator {
	defaults := DefaultOptions()
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaults.MaxConcurrent
	}
	if opts.LateResultPolicy == "" {
		opts.LateResultPolicy = defaults.LateResultPolicy
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	events := NewEventBus(opts.EventBuffer, opts.Logger.Named("events"))
	tmOpts := []TaskManagerOption{
		WithEventBus(events),
		WithLateResultPolicy(opts.LateResultPolicy),
		WithTaskDeadline(opts.TaskDeadline),
		WithTaskLogger(opts.Logger.Named("tasks")),
	}
	if opts.Recorder != nil {
		tmOpts = append(tmOpts, WithRecorder(opts.Recorder))
	}

	return &Coordinator{
		registry:  NewRegistry(),
		tasks:     NewTaskManager(tmOpts...),
		events:    events,
		logger:    opts.Logger,
		opts:      opts,
		semaphore: make(chan struct{}, opts.MaxConcurrent),
	}
}

// Registry returns the agent registry
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// TaskManager returns the task manager
func (c *Coordinator) TaskManager() *TaskManager {
	return c.tasks
}

// Events returns the lifecycle event bus
func (c *Coordinator) Events() *EventBus {
	return c.events
}

// IsRunning reports whether Start completed and Stop has not been called
func (c *Coordinator) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Start makes the coordinator accept agents and tasks. Calling it on a
// running coordinator is a no-op.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	c.rootCtx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.wg = &sync.WaitGroup{}
	c.running = true

	if c.opts.TaskDeadline > 0 && c.opts.WatchdogInterval > 0 {
		go c.tasks.RunWatchdog(c.rootCtx, c.opts.WatchdogInterval)
	}

	c.logger.Info(ctx, "coordinator started",
		zap.Int("max_concurrent", c.opts.MaxConcurrent),
		zap.String("late_result_policy", string(c.opts.LateResultPolicy)))
	return nil
}

// Stop signals cancellation to in-flight executions, waits for them up to
// the stop grace period (or until ctx ends) and cancels every task that is
// still pending. Executions that outlive the grace period are logged and
// abandoned. Calling Stop on a stopped coordinator is a no-op.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel, wg := c.cancel, c.wg
	c.mu.Unlock()

	cancel()

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	var grace <-chan time.Time
	if c.opts.StopGrace > 0 {
		timer := time.NewTimer(c.opts.StopGrace)
		defer timer.Stop()
		grace = timer.C
	} else {
		closed := make(chan time.Time)
		close(closed)
		grace = closed
	}

	select {
	case <-drained:
	case <-grace:
		c.logger.Warn(ctx, "stop grace period elapsed, abandoning executions",
			zap.Int64("in_flight", c.inFlight.Load()),
			zap.Duration("grace", c.opts.StopGrace))
	case <-ctx.Done():
		c.logger.Warn(ctx, "stop interrupted, abandoning executions",
			zap.Int64("in_flight", c.inFlight.Load()),
			zap.Error(ctx.Err()))
	}

	n := c.tasks.CancelPending("coordinator stopped")
	c.logger.Info(ctx, "coordinator stopped", zap.Int("cancelled_tasks", n))
	return nil
}

// RegisterAgent adds agent under name. The coordinator must be running.
func (c *Coordinator) RegisterAgent(name string, agent Agent) error {
	if agent == nil {
		return &AgentError{Agent: name, Err: ErrInvalidAgent, Msg: "nil agent"}
	}
	if name == "" {
		name = agent.Name()
	}
	if !c.IsRunning() {
		return &AgentError{Agent: name, Err: ErrNotRunning}
	}
	if err := c.registry.Register(name, agent); err != nil {
		return err
	}

	c.logger.Info(logging.WithAgent(context.Background(), name), "agent registered",
		zap.Strings("capabilities", agent.Capabilities()))
	c.events.Publish(Event{Type: EventAgentRegistered, Agent: name})
	return nil
}

// UnregisterAgent removes an agent. Its in-flight tasks keep running.
func (c *Coordinator) UnregisterAgent(name string) error {
	if err := c.registry.Unregister(name); err != nil {
		return err
	}
	c.logger.Info(logging.WithAgent(context.Background(), name), "agent unregistered")
	c.events.Publish(Event{Type: EventAgentRemoved, Agent: name})
	return nil
}

// CreateTask allocates a task in created status
func (c *Coordinator) CreateTask(taskType string, payload any) (string, error) {
	if !c.IsRunning() {
		return "", ErrNotRunning
	}
	return c.tasks.Create(taskType, payload), nil
}

// AssignTask binds a created task to a running agent and schedules its
// execution. It returns once the execution is scheduled.
func (c *Coordinator) AssignTask(taskID, agentName string) error {
	task, err := c.tasks.Get(taskID)
	if err != nil {
		return err
	}
	reg, err := c.registry.lookup(agentName)
	if err != nil {
		return err
	}
	agent := reg.agent
	if task.Status != TaskCreated {
		return invalidTransition("assign", taskID, task.Status, TaskAssigned)
	}
	if state := agent.State(); state != StateRunning {
		return &AgentError{Agent: agentName, Err: ErrAgentNotRunning, Msg: string(state)}
	}
	if !Supports(agent, task.Type) {
		return &AgentError{Agent: agentName, Err: ErrCapabilityMismatch, Msg: task.Type}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return ErrNotRunning
	}

	execCtx, cancel := context.WithCancel(c.rootCtx)
	if err := c.tasks.assign(taskID, agentName, cancel); err != nil {
		cancel()
		return err
	}

	c.wg.Add(1)
	c.inFlight.Add(1)
	ExecutionsInFlight.Inc()
	go c.execute(execCtx, cancel, c.wg, taskID, agentName, reg)

	c.logger.Debug(logging.WithAgent(logging.WithTaskID(context.Background(), taskID), agentName), "task assigned",
		zap.String("type", task.Type))
	return nil
}

// execute runs one assignment. Every agent outcome, panics included, ends
// in complete; nothing escapes into the coordinator.
func (c *Coordinator) execute(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup, taskID, name string, reg *registration) {
	defer wg.Done()
	defer cancel()
	defer func() {
		c.inFlight.Add(-1)
		ExecutionsInFlight.Dec()
	}()

	ctx = logging.WithAgent(logging.WithTaskID(ctx, taskID), name)

	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		c.tasks.abandon(taskID, "execution not started")
		return
	}

	if err := c.tasks.MarkRunning(taskID); err != nil {
		// A waiter may have timed the task out while it was queued; the agent
		// still runs so its result can be kept.
		if t, gerr := c.tasks.Get(taskID); gerr != nil || t.Status != TaskTimedOut {
			c.tasks.abandon(taskID, "execution not started")
			return
		}
	}

	task, err := c.tasks.Get(taskID)
	if err != nil {
		c.tasks.abandon(taskID, "task evicted")
		return
	}

	c.registry.taskStarted(reg)
	start := time.Now()
	result, runErr := c.runAgent(ctx, name, reg.agent, &task)
	elapsed := time.Since(start)

	status, result := outcome(result, runErr, name)
	c.registry.taskFinished(reg, status == TaskSucceeded, elapsed)

	if runErr != nil {
		c.logger.Warn(ctx, "agent execution failed", zap.Error(runErr), zap.Duration("elapsed", elapsed))
	}
	if err := c.tasks.complete(taskID, status, result); err != nil {
		c.logger.Debug(ctx, "could not record agent result", zap.Error(err))
	}
}

func (c *Coordinator) runAgent(ctx context.Context, name string, agent Agent, task *Task) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			AgentPanics.WithLabelValues(name).Inc()
			c.logger.Error(ctx, "agent panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			result = nil
			err = &AgentError{Agent: name, Err: ErrAgentExecution, Msg: fmt.Sprintf("panic: %v", r)}
		}
	}()

	return agent.Run(ctx, task)
}

// outcome maps an agent's return values to a terminal status and result
func outcome(result *Result, err error, name string) (TaskStatus, *Result) {
	switch {
	case err != nil:
		if !errors.Is(err, ErrAgentExecution) {
			err = &AgentError{Agent: name, Err: ErrAgentExecution, Msg: err.Error()}
		}
		if result == nil {
			result = Failed(err.Error())
		} else {
			result.Success = false
			result.Errors = append(result.Errors, err.Error())
		}
	case result == nil:
		result = Failed("agent returned no result")
	}

	if result.Agent == "" {
		result.Agent = name
	}
	if result.Success {
		return TaskSucceeded, result
	}
	return TaskFailed, result
}

// GetResult waits for a task result; see TaskManager.GetResult
func (c *Coordinator) GetResult(ctx context.Context, taskID string, timeout time.Duration) (*Result, error) {
	return c.tasks.GetResult(ctx, taskID, timeout)
}

// CancelTask cancels a non-terminal task and its execution
func (c *Coordinator) CancelTask(taskID, reason string) error {
	return c.tasks.Cancel(taskID, reason)
}

// Task returns a snapshot of a task
func (c *Coordinator) Task(taskID string) (Task, error) {
	return c.tasks.Get(taskID)
}

// Tasks returns snapshots of all tasks
func (c *Coordinator) Tasks() []Task {
	return c.tasks.List()
}

// Agents returns information about registered agents
func (c *Coordinator) Agents() []AgentInfo {
	return c.registry.ListInfo()
}

// Health summarizes the coordinator for status reporting
type Health struct {
	Running  bool               `json:"running"`
	Agents   int                `json:"agents"`
	InFlight int64              `json:"in_flight"`
	Tasks    map[TaskStatus]int `json:"tasks"`
	Events   EventStats         `json:"events"`
}

// Health returns a point-in-time summary of agents, tasks and events
func (c *Coordinator) Health() Health {
	return Health{
		Running:  c.IsRunning(),
		Agents:   len(c.registry.Names()),
		InFlight: c.inFlight.Load(),
		Tasks:    c.tasks.Stats(),
		Events:   c.events.Stats(),
	}
}

// Submit creates a task, assigns it to the first running agent that accepts
// its type and waits up to timeout for the result. The task id is returned
// even when waiting fails.
func (c *Coordinator) Submit(ctx context.Context, taskType string, payload any, timeout time.Duration) (string, *Result, error) {
	capable := c.registry.FindCapable(taskType)
	if len(capable) == 0 {
		return "", nil, &AgentError{Agent: "*", Err: ErrUnknownAgent, Msg: "no running agent accepts " + taskType}
	}

	taskID, err := c.CreateTask(taskType, payload)
	if err != nil {
		return "", nil, err
	}
	if err := c.AssignTask(taskID, capable[0]); err != nil {
		return taskID, nil, err
	}

	result, err := c.GetResult(ctx, taskID, timeout)
	return taskID, result, err
}
