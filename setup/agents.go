package setup

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mender/agent"
	"mender/agent/agents"
	"mender/config"
	"mender/logging"
	"mender/mcp"
	"mender/pipeline"
)

// InitializeAgents creates, starts and registers the enabled stage agents.
// caller may be nil, in which case MCP backed detection tools are skipped.
func InitializeAgents(ctx context.Context, cfg *config.Config, coord *agent.Coordinator, caller mcp.Caller, logger *logging.Logger) ([]agent.Agent, error) {
	var created []agent.Agent

	if cfg.Agents.Detection.Enabled {
		name := agentName(cfg.Agents.Detection, pipeline.DetectorName)
		created = append(created, agents.NewDetectionAgent(name, cfg.Detection, caller, logger))
	}
	if cfg.Agents.Fix.Enabled {
		name := agentName(cfg.Agents.Fix, pipeline.FixerName)
		created = append(created, agents.NewFixAgent(name, cfg.Fix, logger))
	}
	if cfg.Agents.Validation.Enabled {
		name := agentName(cfg.Agents.Validation, pipeline.ValidatorName)
		created = append(created, agents.NewValidationAgent(name, cfg.Validation, logger))
	}

	var started []agent.Agent
	for _, a := range created {
		if err := a.Start(ctx); err != nil {
			stopAll(ctx, started)
			return nil, fmt.Errorf("failed to start agent %s: %w", a.Name(), err)
		}
		started = append(started, a)

		if err := coord.RegisterAgent(a.Name(), a); err != nil {
			stopAll(ctx, started)
			return nil, fmt.Errorf("failed to register agent %s: %w", a.Name(), err)
		}
		logger.Debug(ctx, "agent registered", zap.String("agent", a.Name()), zap.Strings("capabilities", a.Capabilities()))
	}

	return started, nil
}

func stopAll(ctx context.Context, started []agent.Agent) {
	for i := len(started) - 1; i >= 0; i-- {
		_ = started[i].Stop(ctx)
	}
}

func agentName(cfg config.AgentConfig, fallback string) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return fallback
}
