package agent

import "time"

// IsTerminal reports whether the status is terminal (finished)
func IsTerminal(s TaskStatus) bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskTimedOut, TaskCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a task may move from one status to another.
// Terminal statuses accept nothing.
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case TaskCreated:
		return to == TaskAssigned || to == TaskTimedOut || to == TaskCancelled
	case TaskAssigned:
		return to == TaskRunning || to == TaskFailed || to == TaskTimedOut || to == TaskCancelled
	case TaskRunning:
		return IsTerminal(to)
	default:
		return false
	}
}

// IsFinished reports whether the task reached a terminal status
func (t Task) IsFinished() bool {
	return IsTerminal(t.Status)
}

// Succeeded reports whether the task finished successfully
func (t Task) Succeeded() bool {
	return t.Status == TaskSucceeded
}

func cloneTime(tm *time.Time) *time.Time {
	if tm == nil {
		return nil
	}
	c := *tm
	return &c
}

// snapshot returns a copy of t that shares no time pointers with it
func (t *Task) snapshot() Task {
	c := *t
	c.AssignedAt = cloneTime(t.AssignedAt)
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.Deadline = cloneTime(t.Deadline)
	return c
}
