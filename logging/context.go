package logging

import (
	"context"

	"go.uber.org/zap"
)

type taskCtxKey struct{}
type agentCtxKey struct{}
type runCtxKey struct{}

// WithTaskID attaches a task id to ctx for log correlation.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskCtxKey{}, taskID)
}

// WithAgent attaches the executing agent's registration name to ctx.
func WithAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, agentCtxKey{}, agent)
}

// WithRunID attaches a pipeline run id to ctx.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// TaskIDFromContext returns the task id set by WithTaskID, or "".
func TaskIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(taskCtxKey{}).(string)
	return id
}

// AgentFromContext returns the agent name set by WithAgent, or "".
func AgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(agentCtxKey{}).(string)
	return name
}

// RunIDFromContext returns the run id set by WithRunID, or "".
func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runCtxKey{}).(string)
	return id
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 3)
	if id := RunIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("run_id", id))
	}
	if id := TaskIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("task_id", id))
	}
	if name := AgentFromContext(ctx); name != "" {
		fields = append(fields, zap.String("agent", name))
	}
	return fields
}
