package agent

import (
	"context"
	"time"
)

// Agent is an independently started/stopped worker the Coordinator can
// dispatch tasks to. The Coordinator never starts or stops agents itself.
type Agent interface {
	// Name returns the agent's own name (registration may use a different key)
	Name() string

	// Capabilities returns the task types this agent accepts (empty = any)
	Capabilities() []string

	// State returns the agent's current lifecycle state
	State() LifecycleState

	// Start brings the agent to StateRunning
	Start(ctx context.Context) error

	// Stop brings the agent back to StateStopped
	Stop(ctx context.Context) error

	// Run executes a task and returns the result
	Run(ctx context.Context, task *Task) (*Result, error)
}

// LifecycleState is the lifecycle of an agent
type LifecycleState string

const (
	StateStopped  LifecycleState = "stopped"
	StateStarting LifecycleState = "starting"
	StateRunning  LifecycleState = "running"
	StateStopping LifecycleState = "stopping"
	StateError    LifecycleState = "error"
)

// TaskStatus represents the status of a task
type TaskStatus string

const (
	TaskCreated   TaskStatus = "created"
	TaskAssigned  TaskStatus = "assigned"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskTimedOut  TaskStatus = "timed_out"
	TaskCancelled TaskStatus = "cancelled"
)

// AllStatuses returns every task status in lifecycle order
func AllStatuses() []TaskStatus {
	return []TaskStatus{TaskCreated, TaskAssigned, TaskRunning, TaskSucceeded, TaskFailed, TaskTimedOut, TaskCancelled}
}

// Task is a unit of work tracked by the TaskManager. Values handed out by
// the manager are snapshots; mutating them has no effect on the table.
type Task struct {
	ID          string     `json:"id"`
	Type        string     `json:"type"`
	Payload     any        `json:"payload"`
	Status      TaskStatus `json:"status"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	Result      *Result    `json:"result,omitempty"`
	LateResult  *Result    `json:"late_result,omitempty"` // agent result that arrived after timed_out/cancelled
	CreatedAt   time.Time  `json:"created_at"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

// Duration returns the time from assignment (or creation) to completion.
// Zero while the task is not terminal.
func (t Task) Duration() time.Duration {
	if t.CompletedAt == nil {
		return 0
	}
	start := t.CreatedAt
	if t.AssignedAt != nil {
		start = *t.AssignedAt
	}
	return t.CompletedAt.Sub(start)
}

// Result is the tagged outcome of a task: either Succeeded(payload) or
// Failed(errors). Payload's concrete type is defined by the task type's
// contract and is read back with PayloadAs.
type Result struct {
	TaskID      string         `json:"task_id"`
	Success     bool           `json:"success"`
	Payload     any            `json:"payload,omitempty"`
	Errors      []string       `json:"errors,omitempty"`
	Agent       string         `json:"agent,omitempty"`
	CompletedAt time.Time      `json:"completed_at"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Succeeded builds a successful result carrying payload
func Succeeded(payload any) *Result {
	return &Result{
		Success: true,
		Payload: payload,
	}
}

// Failed builds a failed result carrying error messages
func Failed(errs ...string) *Result {
	return &Result{
		Success: false,
		Errors:  errs,
	}
}

// WithPayload attaches a partial payload to a result (useful on Failed)
func (r *Result) WithPayload(payload any) *Result {
	r.Payload = payload
	return r
}

// PayloadAs returns the result payload as T. It accepts both T and *T
// payloads so agents may return either.
func PayloadAs[T any](r *Result) (T, bool) {
	var zero T
	if r == nil || r.Payload == nil {
		return zero, false
	}
	switch p := r.Payload.(type) {
	case T:
		return p, true
	case *T:
		if p == nil {
			return zero, false
		}
		return *p, true
	}
	return zero, false
}

// AgentInfo provides information about a registered agent
type AgentInfo struct {
	Name           string        `json:"name"`
	AgentName      string        `json:"agent_name"`
	Capabilities   []string      `json:"capabilities"`
	State          string        `json:"state"`
	RegisteredAt   time.Time     `json:"registered_at"`
	ActiveTasks    int           `json:"active_tasks"`
	TasksCompleted int           `json:"tasks_completed"`
	TasksFailed    int           `json:"tasks_failed"`
	TotalRunTime   time.Duration `json:"total_run_time"`
	LastActivity   *time.Time    `json:"last_activity,omitempty"`
}

// AverageRunTime returns the mean run time over finished tasks
func (i AgentInfo) AverageRunTime() time.Duration {
	n := i.TasksCompleted + i.TasksFailed
	if n == 0 {
		return 0
	}
	return i.TotalRunTime / time.Duration(n)
}
