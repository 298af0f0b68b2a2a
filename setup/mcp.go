package setup

import (
	"context"

	"go.uber.org/zap"

	"mender/config"
	"mender/logging"
	"mender/mcp"
)

// InitializeMCPClient creates and initializes the MCP client. It returns
// nil when MCP is disabled or no server could be reached.
func InitializeMCPClient(ctx context.Context, cfg *config.Config, logger *logging.Logger) *mcp.Client {
	if !cfg.MCP.Enabled {
		return nil
	}

	client := mcp.NewClient(cfg.MCP, logger.Named("mcp"))
	if err := client.Initialize(ctx); err != nil {
		logger.Warn(ctx, "failed to initialize MCP client", zap.Error(err))
		return nil
	}

	servers := client.ServerNames()
	if len(servers) == 0 {
		client.Close()
		return nil
	}

	logger.Info(ctx, "MCP servers active",
		zap.Strings("servers", servers),
		zap.Int("tools", len(client.ListTools())),
	)
	return client
}
