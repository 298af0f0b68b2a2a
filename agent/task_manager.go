package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mender/logging"
)

// LateResultPolicy decides what happens to an agent result that arrives
// after its task was already marked timed_out.
type LateResultPolicy string

const (
	// FirstWriteWins keeps timed_out and stores the agent result as LateResult
	FirstWriteWins LateResultPolicy = "first_write_wins"

	// LatestWriteWins lets the executing agent's completion replace timed_out
	LatestWriteWins LateResultPolicy = "latest_write_wins"
)

// ParseLateResultPolicy parses a policy name; empty means FirstWriteWins
func ParseLateResultPolicy(s string) (LateResultPolicy, error) {
	switch LateResultPolicy(s) {
	case "", FirstWriteWins:
		return FirstWriteWins, nil
	case LatestWriteWins:
		return LatestWriteWins, nil
	}
	return "", fmt.Errorf("unknown late result policy %q", s)
}

// Recorder receives a snapshot every time a task reaches a terminal status
// or its terminal record changes (late results).
type Recorder interface {
	RecordTask(ctx context.Context, task Task) error
}

type taskEntry struct {
	task Task

	done    chan struct{} // closed on the first terminal transition
	settled chan struct{} // closed once no execution can report back anymore

	isSettled bool
	executing bool
	cancel    context.CancelFunc
	waiters   int
	retrieved bool
}

// TaskManager owns the task table: creation, status transitions, results
// and timeout-bounded retrieval. All mutations happen under one mutex.
type TaskManager struct {
	mu       sync.Mutex
	tasks    map[string]*taskEntry
	policy   LateResultPolicy
	deadline time.Duration
	recorder Recorder
	events   *EventBus
	logger   *logging.Logger
	now      func() time.Time
}

// TaskManagerOption configures a TaskManager
type TaskManagerOption func(*TaskManager)

// WithLateResultPolicy sets how late agent results are handled
func WithLateResultPolicy(p LateResultPolicy) TaskManagerOption {
	return func(m *TaskManager) { m.policy = p }
}

// WithTaskDeadline gives every new task a deadline enforced by the watchdog
func WithTaskDeadline(d time.Duration) TaskManagerOption {
	return func(m *TaskManager) { m.deadline = d }
}

// WithRecorder persists terminal task snapshots
func WithRecorder(r Recorder) TaskManagerOption {
	return func(m *TaskManager) { m.recorder = r }
}

// WithEventBus publishes task lifecycle events on bus
func WithEventBus(bus *EventBus) TaskManagerOption {
	return func(m *TaskManager) { m.events = bus }
}

// WithTaskLogger sets the logger
func WithTaskLogger(l *logging.Logger) TaskManagerOption {
	return func(m *TaskManager) { m.logger = l }
}

// NewTaskManager creates an empty task table
func NewTaskManager(opts ...TaskManagerOption) *TaskManager {
	m := &TaskManager{
		tasks:  make(map[string]*taskEntry),
		policy: FirstWriteWins,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the late result policy in effect
func (m *TaskManager) Policy() LateResultPolicy {
	return m.policy
}

// Create allocates a task in created status and returns its id
func (m *TaskManager) Create(taskType string, payload any) string {
	now := m.now()
	task := Task{
		ID:        uuid.New().String(),
		Type:      taskType,
		Payload:   payload,
		Status:    TaskCreated,
		CreatedAt: now,
	}
	if m.deadline > 0 {
		d := now.Add(m.deadline)
		task.Deadline = &d
	}

	m.mu.Lock()
	m.tasks[task.ID] = &taskEntry{
		task:    task,
		done:    make(chan struct{}),
		settled: make(chan struct{}),
	}
	m.mu.Unlock()

	m.events.Publish(taskEvent(EventTaskCreated, task, now))
	TasksCreated.WithLabelValues(taskType).Inc()
	m.logger.Debug(logging.WithTaskID(context.Background(), task.ID), "task created", zap.String("type", taskType))

	return task.ID
}

// MarkAssigned records agentName as the task's single assignee
func (m *TaskManager) MarkAssigned(taskID, agentName string) error {
	return m.assign(taskID, agentName, nil)
}

// assign moves a created task to assigned. A non-nil cancel marks the task
// as bound to an execution that will report back through complete.
func (m *TaskManager) assign(taskID, agentName string, cancel context.CancelFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.tasks[taskID]
	if !ok {
		return unknownTask("assign", taskID)
	}
	if e.task.Status != TaskCreated || e.task.AssignedTo != "" {
		return invalidTransition("assign", taskID, e.task.Status, TaskAssigned)
	}

	now := m.now()
	e.task.Status = TaskAssigned
	e.task.AssignedTo = agentName
	e.task.AssignedAt = &now
	if cancel != nil {
		e.executing = true
		e.cancel = cancel
	}
	m.events.Publish(taskEvent(EventTaskAssigned, e.task, now))
	return nil
}

// MarkRunning moves an assigned task to running
func (m *TaskManager) MarkRunning(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.tasks[taskID]
	if !ok {
		return unknownTask("start", taskID)
	}
	if !CanTransition(e.task.Status, TaskRunning) {
		return invalidTransition("start", taskID, e.task.Status, TaskRunning)
	}

	now := m.now()
	e.task.Status = TaskRunning
	e.task.StartedAt = &now
	m.events.Publish(taskEvent(EventTaskStarted, e.task, now))
	return nil
}

// MarkTerminal moves a task to a terminal status with its result
func (m *TaskManager) MarkTerminal(taskID string, status TaskStatus, result *Result) error {
	if !IsTerminal(status) {
		return &TaskError{TaskID: taskID, Op: "complete", Err: ErrInvalidTransition, Msg: fmt.Sprintf("%s is not terminal", status)}
	}

	m.mu.Lock()
	e, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return unknownTask("complete", taskID)
	}
	if !CanTransition(e.task.Status, status) {
		from := e.task.Status
		m.mu.Unlock()
		return invalidTransition("complete", taskID, from, status)
	}
	snap := m.finishLocked(e, status, result)
	m.mu.Unlock()

	m.afterFinish(snap, true)
	return nil
}

// complete is the execution wrapper's report. Unlike MarkTerminal it never
// fails on an already terminal task: the result is applied or kept as a
// late result according to the policy.
func (m *TaskManager) complete(taskID string, status TaskStatus, result *Result) error {
	m.mu.Lock()
	e, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return unknownTask("complete", taskID)
	}
	m.settle(e)

	cur := e.task.Status
	switch {
	case !IsTerminal(cur):
		if !CanTransition(cur, status) {
			m.mu.Unlock()
			return invalidTransition("complete", taskID, cur, status)
		}
		snap := m.finishLocked(e, status, result)
		m.mu.Unlock()
		m.afterFinish(snap, true)
		return nil

	case cur == TaskTimedOut && m.policy == LatestWriteWins:
		now := m.now()
		stampResult(result, taskID, now)
		e.task.Status = status
		e.task.Result = result
		e.task.CompletedAt = &now
		snap := e.task.snapshot()
		m.mu.Unlock()

		LateResults.WithLabelValues(string(m.policy), "true").Inc()
		m.logger.Info(logging.WithTaskID(context.Background(), taskID), "late result replaced timed_out",
			zap.String("status", string(status)))
		m.afterFinish(snap, false)
		return nil

	default:
		stampResult(result, taskID, m.now())
		e.task.LateResult = result
		snap := e.task.snapshot()
		m.mu.Unlock()

		LateResults.WithLabelValues(string(m.policy), "false").Inc()
		m.logger.Debug(logging.WithTaskID(context.Background(), taskID), "late result kept for diagnostics",
			zap.String("status", string(cur)))
		m.events.Publish(taskEvent(EventTaskLateResult, snap, m.now()))
		m.record(snap)
		return nil
	}
}

// abandon settles an execution that never invoked its agent. A task that is
// not terminal yet is cancelled with reason.
func (m *TaskManager) abandon(taskID, reason string) {
	m.mu.Lock()
	e, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if IsTerminal(e.task.Status) {
		m.settle(e)
		m.mu.Unlock()
		return
	}
	snap := m.finishLocked(e, TaskCancelled, Failed("cancelled: "+reason))
	m.settle(e)
	m.mu.Unlock()

	m.afterFinish(snap, true)
}

// settle marks that no execution can report back anymore. Caller holds m.mu.
func (m *TaskManager) settle(e *taskEntry) {
	if !e.isSettled {
		e.isSettled = true
		close(e.settled)
	}
}

func stampResult(result *Result, taskID string, now time.Time) {
	if result == nil {
		return
	}
	if result.TaskID == "" {
		result.TaskID = taskID
	}
	if result.CompletedAt.IsZero() {
		result.CompletedAt = now
	}
}

// finishLocked applies a terminal status. Caller holds m.mu and has
// validated the transition.
func (m *TaskManager) finishLocked(e *taskEntry, status TaskStatus, result *Result) Task {
	now := m.now()
	stampResult(result, e.task.ID, now)

	e.task.Status = status
	e.task.Result = result
	e.task.CompletedAt = &now
	close(e.done)
	if !e.executing {
		m.settle(e)
	}
	return e.task.snapshot()
}

func (m *TaskManager) afterFinish(task Task, count bool) {
	if count {
		TasksFinished.WithLabelValues(task.Type, string(task.Status)).Inc()
		if task.AssignedAt != nil {
			TaskDuration.WithLabelValues(task.Type, string(task.Status)).Observe(task.Duration().Seconds())
		}
	}
	ctx := logging.WithTaskID(context.Background(), task.ID)
	m.logger.Info(ctx, "task finished",
		zap.String("type", task.Type),
		zap.String("status", string(task.Status)),
		zap.String("agent", task.AssignedTo),
		zap.Duration("duration", task.Duration()))
	m.events.Publish(taskEvent(terminalEvent(task.Status), task, m.now()))
	m.record(task)
}

func (m *TaskManager) record(task Task) {
	if m.recorder == nil {
		return
	}
	ctx := logging.WithTaskID(context.Background(), task.ID)
	if err := m.recorder.RecordTask(ctx, task); err != nil {
		m.logger.Warn(ctx, "failed to record task", zap.Error(err))
	}
}

// GetResult suspends until the task is terminal or timeout elapses. On
// timeout the task moves to timed_out (once, whoever gets there first) and
// a *TimeoutError is returned. A non-positive timeout waits until ctx ends.
//
// Succeeded and failed tasks both return their result with a nil error;
// callers inspect Result.Success. Cancelled tasks return ErrCancelled.
func (m *TaskManager) GetResult(ctx context.Context, taskID string, timeout time.Duration) (*Result, error) {
	start := time.Now()

	m.mu.Lock()
	e, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return nil, unknownTask("get_result", taskID)
	}
	e.waiters++
	done, settled := e.done, e.settled
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		e.waiters--
		m.mu.Unlock()
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-done:
	case <-expired:
		return m.expire(e, time.Since(start))
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.Lock()
	if e.task.Status == TaskTimedOut && m.policy == LatestWriteWins && !e.isSettled {
		m.mu.Unlock()
		select {
		case <-settled:
		case <-expired:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		m.mu.Lock()
	}
	res, err := m.outcomeLocked(e, time.Since(start))
	m.mu.Unlock()
	return res, err
}

// expire times out a waiter. If the task is not yet terminal it is moved to
// timed_out; otherwise the existing outcome is returned.
func (m *TaskManager) expire(e *taskEntry, waited time.Duration) (*Result, error) {
	m.mu.Lock()
	if IsTerminal(e.task.Status) {
		res, err := m.outcomeLocked(e, waited)
		m.mu.Unlock()
		return res, err
	}
	snap := m.finishLocked(e, TaskTimedOut, Failed(fmt.Sprintf("no result within %s", waited)))
	e.retrieved = true
	m.mu.Unlock()

	m.logger.Warn(logging.WithTaskID(context.Background(), snap.ID), "task timed out",
		zap.Duration("waited", waited), zap.String("agent", snap.AssignedTo))
	m.afterFinish(snap, true)

	return nil, &TimeoutError{TaskID: snap.ID, Status: TaskTimedOut, Waited: waited}
}

func (m *TaskManager) outcomeLocked(e *taskEntry, waited time.Duration) (*Result, error) {
	e.retrieved = true
	switch e.task.Status {
	case TaskSucceeded, TaskFailed:
		return e.task.Result, nil
	case TaskTimedOut:
		return nil, &TimeoutError{TaskID: e.task.ID, Status: TaskTimedOut, Waited: waited}
	case TaskCancelled:
		return e.task.Result, &TaskError{TaskID: e.task.ID, Op: "get_result", Err: ErrCancelled}
	}
	return nil, &TaskError{TaskID: e.task.ID, Op: "get_result", Err: ErrInvalidTransition, Msg: "task not terminal"}
}

// Cancel moves a non-terminal task to cancelled and cancels its execution
func (m *TaskManager) Cancel(taskID, reason string) error {
	m.mu.Lock()
	e, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return unknownTask("cancel", taskID)
	}
	if IsTerminal(e.task.Status) {
		from := e.task.Status
		m.mu.Unlock()
		return invalidTransition("cancel", taskID, from, TaskCancelled)
	}
	cancel := e.cancel
	snap := m.finishLocked(e, TaskCancelled, Failed("cancelled: "+reason))
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.afterFinish(snap, true)
	return nil
}

// CancelPending cancels every non-terminal task and returns how many it hit
func (m *TaskManager) CancelPending(reason string) int {
	m.mu.Lock()
	ids := make([]string, 0)
	for id, e := range m.tasks {
		if !IsTerminal(e.task.Status) {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, id := range ids {
		if err := m.Cancel(id, reason); err == nil {
			n++
		}
	}
	return n
}

// ExpireOverdue times out non-terminal tasks whose deadline passed
func (m *TaskManager) ExpireOverdue() int {
	now := m.now()

	m.mu.Lock()
	expired := make([]Task, 0)
	for _, e := range m.tasks {
		if IsTerminal(e.task.Status) || e.task.Deadline == nil || now.Before(*e.task.Deadline) {
			continue
		}
		expired = append(expired, m.finishLocked(e, TaskTimedOut, Failed("deadline exceeded")))
	}
	m.mu.Unlock()

	for _, snap := range expired {
		m.logger.Warn(logging.WithTaskID(context.Background(), snap.ID), "task deadline exceeded",
			zap.String("agent", snap.AssignedTo))
		m.afterFinish(snap, true)
	}
	return len(expired)
}

// RunWatchdog sweeps for overdue tasks every interval until ctx is done
func (m *TaskManager) RunWatchdog(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ExpireOverdue()
		}
	}
}

// Get returns a snapshot of a task
func (m *TaskManager) Get(taskID string) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.tasks[taskID]
	if !ok {
		return Task{}, unknownTask("get", taskID)
	}
	return e.task.snapshot(), nil
}

// List returns snapshots of all tasks ordered by creation time
func (m *TaskManager) List() []Task {
	m.mu.Lock()
	tasks := make([]Task, 0, len(m.tasks))
	for _, e := range m.tasks {
		tasks = append(tasks, e.task.snapshot())
	}
	m.mu.Unlock()

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks
}

// Stats counts tasks per status
func (m *TaskManager) Stats() map[TaskStatus]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := make(map[TaskStatus]int)
	for _, e := range m.tasks {
		stats[e.task.Status]++
	}
	return stats
}

// Evict removes a terminal task. Tasks with suspended waiters are never
// evicted; unretrieved results or in-flight executions require force.
func (m *TaskManager) Evict(taskID string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.tasks[taskID]
	if !ok {
		return unknownTask("evict", taskID)
	}
	switch {
	case !IsTerminal(e.task.Status):
		return &TaskError{TaskID: taskID, Op: "evict", Err: ErrTaskInUse, Msg: "task not finished"}
	case e.waiters > 0:
		return &TaskError{TaskID: taskID, Op: "evict", Err: ErrTaskInUse, Msg: "waiters suspended"}
	case !force && !e.retrieved:
		return &TaskError{TaskID: taskID, Op: "evict", Err: ErrTaskInUse, Msg: "result not retrieved"}
	case !force && !e.isSettled:
		return &TaskError{TaskID: taskID, Op: "evict", Err: ErrTaskInUse, Msg: "execution still in flight"}
	}
	delete(m.tasks, taskID)
	return nil
}

// Prune evicts retrieved, settled tasks that finished more than olderThan ago
func (m *TaskManager) Prune(olderThan time.Duration) int {
	cutoff := m.now().Add(-olderThan)

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, e := range m.tasks {
		if !IsTerminal(e.task.Status) || e.waiters > 0 || !e.retrieved || !e.isSettled {
			continue
		}
		if e.task.CompletedAt != nil && e.task.CompletedAt.Before(cutoff) {
			delete(m.tasks, id)
			n++
		}
	}
	return n
}
