// Package setup wires the configured components of mender together.
package setup

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mender/agent"
	"mender/config"
	"mender/logging"
	"mender/mcp"
	"mender/pipeline"
	"mender/store"
)

// Bootstrap contains all initialized components
type Bootstrap struct {
	Config      *config.Config
	Logger      *logging.Logger
	Store       *store.Store
	MCPClient   *mcp.Client
	Coordinator *agent.Coordinator
	Agents      []agent.Agent
	Runner      *pipeline.Runner
}

// Initialize builds the task history store, MCP client, coordinator and
// stage agents. Optional components that fail to come up are logged and
// left nil; a coordinator or agent failure aborts initialization.
func Initialize(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Bootstrap, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	b := &Bootstrap{Config: cfg, Logger: logger}

	b.Store = InitializeStore(ctx, cfg, logger)
	b.MCPClient = InitializeMCPClient(ctx, cfg, logger)

	opts, err := CoordinatorOptions(cfg, b.Store, logger)
	if err != nil {
		b.Cleanup(ctx)
		return nil, err
	}
	b.Coordinator = agent.NewCoordinator(opts)
	if err := b.Coordinator.Start(ctx); err != nil {
		b.Cleanup(ctx)
		return nil, fmt.Errorf("failed to start coordinator: %w", err)
	}

	var caller mcp.Caller
	if b.MCPClient != nil {
		caller = b.MCPClient
	}
	b.Agents, err = InitializeAgents(ctx, cfg, b.Coordinator, caller, logger)
	if err != nil {
		b.Cleanup(ctx)
		return nil, err
	}

	b.Runner = NewRunner(cfg, b.Coordinator, logger)
	return b, nil
}

// CoordinatorOptions converts the coordinator config section. history may
// be nil to disable task recording.
func CoordinatorOptions(cfg *config.Config, history *store.Store, logger *logging.Logger) (agent.Options, error) {
	policy, err := agent.ParseLateResultPolicy(cfg.Coordinator.LateResultPolicy)
	if err != nil {
		return agent.Options{}, err
	}

	opts := agent.DefaultOptions()
	opts.MaxConcurrent = cfg.Coordinator.MaxConcurrent
	opts.StopGrace = cfg.Coordinator.StopGrace
	opts.TaskDeadline = cfg.Coordinator.TaskDeadline
	opts.WatchdogInterval = cfg.Coordinator.WatchdogInterval
	opts.LateResultPolicy = policy
	opts.Logger = logger
	if history != nil {
		opts.Recorder = history
	}
	return opts, nil
}

// TriageEngine builds the issue triage engine from the triage config section
func TriageEngine(cfg *config.Config) *pipeline.TriageEngine {
	rules := make(map[string]pipeline.Rule, len(cfg.Triage.Rules))
	for typ, r := range cfg.Triage.Rules {
		rules[typ] = pipeline.Rule{Category: r.Category, Strategy: r.Strategy}
	}
	return pipeline.NewTriageEngine(
		pipeline.WithRules(rules),
		pipeline.WithSkipTypes(cfg.Triage.SkipTypes...),
		pipeline.WithConfidenceThreshold(cfg.Triage.ConfidenceThreshold),
	)
}

// NewRunner creates the pipeline runner for the configured stage agents
func NewRunner(cfg *config.Config, coord pipeline.Coordinator, logger *logging.Logger) *pipeline.Runner {
	return pipeline.NewRunner(coord,
		pipeline.WithTimeouts(pipeline.Timeouts{
			Detect:   cfg.Coordinator.DetectTimeout,
			Fix:      cfg.Coordinator.FixTimeout,
			Validate: cfg.Coordinator.ValidateTimeout,
		}),
		pipeline.WithAgents(
			agentName(cfg.Agents.Detection, pipeline.DetectorName),
			agentName(cfg.Agents.Fix, pipeline.FixerName),
			agentName(cfg.Agents.Validation, pipeline.ValidatorName),
		),
		pipeline.WithValidation(pipeline.ValidateOptions{
			MinCoverage: cfg.Validation.MinCoverage,
			Race:        cfg.Validation.Race,
		}, cfg.Validation.TestTypes...),
		pipeline.WithTriage(TriageEngine(cfg)),
		pipeline.WithLogger(logger.Named("pipeline")),
	)
}

// Cleanup gracefully shuts down all components in reverse order
func (b *Bootstrap) Cleanup(ctx context.Context) {
	if b.Coordinator != nil {
		if err := b.Coordinator.Stop(ctx); err != nil {
			b.Logger.Warn(ctx, "failed to stop coordinator", zap.Error(err))
		}
	}
	for i := len(b.Agents) - 1; i >= 0; i-- {
		if err := b.Agents[i].Stop(ctx); err != nil {
			b.Logger.Warn(ctx, "failed to stop agent", zap.String("agent", b.Agents[i].Name()), zap.Error(err))
		}
	}
	if b.MCPClient != nil {
		b.MCPClient.Close()
	}
	if b.Store != nil {
		if err := b.Store.Close(); err != nil {
			b.Logger.Warn(ctx, "failed to close task history", zap.Error(err))
		}
	}
}
