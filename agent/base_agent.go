package agent

import (
	"context"
	"fmt"
	"sync"
)

// BaseAgent provides the lifecycle half of the Agent interface. Concrete
// agents embed it and implement Run.
type BaseAgent struct {
	name         string
	capabilities []string

	mu      sync.RWMutex
	state   LifecycleState
	lastErr error
	onStart func(ctx context.Context) error
	onStop  func(ctx context.Context) error
}

// NewBaseAgent creates a stopped base agent
func NewBaseAgent(name string, capabilities ...string) *BaseAgent {
	return &BaseAgent{
		name:         name,
		capabilities: capabilities,
		state:        StateStopped,
	}
}

// Name returns the agent name
func (a *BaseAgent) Name() string {
	return a.name
}

// Capabilities returns the task types this agent accepts
func (a *BaseAgent) Capabilities() []string {
	caps := make([]string, len(a.capabilities))
	copy(caps, a.capabilities)
	return caps
}

// State returns the lifecycle state
func (a *BaseAgent) State() LifecycleState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Err returns the error that put the agent into StateError, if any
func (a *BaseAgent) Err() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastErr
}

// OnStart sets a hook run while the agent is starting
func (a *BaseAgent) OnStart(fn func(ctx context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onStart = fn
}

// OnStop sets a hook run while the agent is stopping
func (a *BaseAgent) OnStop(fn func(ctx context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onStop = fn
}

// Start moves the agent to running. A failing start hook leaves the agent
// in StateError.
func (a *BaseAgent) Start(ctx context.Context) error {
	a.mu.Lock()
	switch a.state {
	case StateRunning:
		a.mu.Unlock()
		return nil
	case StateStarting, StateStopping:
		state := a.state
		a.mu.Unlock()
		return fmt.Errorf("agent %s is %s", a.name, state)
	}
	a.state = StateStarting
	hook := a.onStart
	a.mu.Unlock()

	return a.transition(ctx, hook, StateRunning)
}

// Stop moves the agent to stopped
func (a *BaseAgent) Stop(ctx context.Context) error {
	a.mu.Lock()
	switch a.state {
	case StateStopped:
		a.mu.Unlock()
		return nil
	case StateStarting, StateStopping:
		state := a.state
		a.mu.Unlock()
		return fmt.Errorf("agent %s is %s", a.name, state)
	}
	a.state = StateStopping
	hook := a.onStop
	a.mu.Unlock()

	return a.transition(ctx, hook, StateStopped)
}

func (a *BaseAgent) transition(ctx context.Context, hook func(context.Context) error, target LifecycleState) error {
	var err error
	if hook != nil {
		err = hook(ctx)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err != nil {
		a.state = StateError
		a.lastErr = err
		return fmt.Errorf("agent %s: %w", a.name, err)
	}
	a.state = target
	a.lastErr = nil
	return nil
}

// RunFunc is the execution entry point of a FuncAgent
type RunFunc func(ctx context.Context, task *Task) (*Result, error)

// FuncAgent adapts a plain function to the Agent interface
type FuncAgent struct {
	*BaseAgent
	run RunFunc
}

// NewFuncAgent creates a stopped agent that runs fn
func NewFuncAgent(name string, fn RunFunc, capabilities ...string) *FuncAgent {
	return &FuncAgent{
		BaseAgent: NewBaseAgent(name, capabilities...),
		run:       fn,
	}
}

// Run executes the task
func (a *FuncAgent) Run(ctx context.Context, task *Task) (*Result, error) {
	return a.run(ctx, task)
}
