package agent

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidTransition  = errors.New("invalid task transition")
	ErrUnknownTask        = errors.New("unknown task")
	ErrUnknownAgent       = errors.New("unknown agent")
	ErrInvalidAgent       = errors.New("invalid agent")
	ErrDuplicateName      = errors.New("agent already registered")
	ErrNotRunning         = errors.New("coordinator not running")
	ErrAgentNotRunning    = errors.New("agent not running")
	ErrCapabilityMismatch = errors.New("agent does not accept task type")
	ErrTimeout            = errors.New("timed out waiting for task result")
	ErrCancelled          = errors.New("task cancelled")
	ErrAgentExecution     = errors.New("agent execution failed")
	ErrTaskInUse          = errors.New("task still in use")
)

// TaskError represents an error related to a task operation
type TaskError struct {
	TaskID string
	Op     string
	Err    error
	Msg    string
}

func (e *TaskError) Error() string {
	msg := "task " + e.TaskID + ": " + e.Op + ": " + e.Err.Error()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	return msg
}

func (e *TaskError) Unwrap() error { return e.Err }

// TimeoutError is returned by GetResult when the wait budget elapsed. The
// task id stays valid so callers can inspect the task afterwards.
type TimeoutError struct {
	TaskID string
	Status TaskStatus
	Waited time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s: %s after %s (status %s)", e.TaskID, ErrTimeout, e.Waited, e.Status)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// AgentError represents an error related to a registered agent
type AgentError struct {
	Agent string
	Err   error
	Msg   string
}

func (e *AgentError) Error() string {
	msg := "agent '" + e.Agent + "': " + e.Err.Error()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	return msg
}

func (e *AgentError) Unwrap() error { return e.Err }

func unknownTask(op, id string) error {
	return &TaskError{TaskID: id, Op: op, Err: ErrUnknownTask}
}

func invalidTransition(op, id string, from, to TaskStatus) error {
	return &TaskError{
		TaskID: id,
		Op:     op,
		Err:    ErrInvalidTransition,
		Msg:    fmt.Sprintf("%s -> %s", from, to),
	}
}
