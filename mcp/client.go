package mcp

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"mender/logging"
)

// Caller invokes a tool on a named MCP server and returns its text output
type Caller interface {
	CallTool(ctx context.Context, serverName, toolName string, arguments map[string]any) (string, error)
}

// Client manages connections to MCP servers
type Client struct {
	mu      sync.RWMutex
	servers map[string]*client.Client
	tools   []Tool
	config  Config
	logger  *logging.Logger
}

// NewClient creates a new MCP client
func NewClient(config Config, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		servers: make(map[string]*client.Client),
		tools:   []Tool{},
		config:  config,
		logger:  logger,
	}
}

// Initialize connects to all enabled servers. A server that fails to
// connect is logged and skipped.
func (c *Client) Initialize(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	for name, serverCfg := range c.config.Servers {
		if !serverCfg.Enabled {
			continue
		}

		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := c.connectServer(connectCtx, name, serverCfg)
		cancel()
		if err != nil {
			c.logger.Warn(ctx, "failed to connect MCP server", zap.String("server", name), zap.Error(err))
			continue
		}
		c.logger.Info(ctx, "connected MCP server", zap.String("server", name))
	}

	return nil
}

// connectServer connects to a single MCP server
func (c *Client) connectServer(ctx context.Context, name string, config ServerConfig) error {
	envVars := []string{}
	for key, value := range config.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", key, os.ExpandEnv(value)))
	}

	mcpClient, err := client.NewStdioMCPClient(config.Command, envVars, config.Args...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    "mender",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to initialize: %w", err)
	}

	result, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.servers[name] = mcpClient
	for _, tool := range result.Tools {
		c.tools = append(c.tools, Tool{
			ServerName:  name,
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}

	return nil
}

// ListTools returns all available MCP tools
func (c *Client) ListTools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tools := make([]Tool, len(c.tools))
	copy(tools, c.tools)
	return tools
}

// CallTool executes a tool on the named server and joins its text content
func (c *Client) CallTool(ctx context.Context, serverName, toolName string, arguments map[string]any) (string, error) {
	c.mu.RLock()
	server, exists := c.servers[serverName]
	c.mu.RUnlock()
	if !exists {
		return "", fmt.Errorf("server '%s' not connected", serverName)
	}

	result, err := server.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: arguments,
		},
	})
	if err != nil {
		return "", fmt.Errorf("tool call failed: %w", err)
	}

	output := contentText(result.Content)
	if result.IsError {
		return "", fmt.Errorf("tool %s/%s reported an error: %s", serverName, toolName, output)
	}
	return output, nil
}

// contentText joins text content items; other content kinds are rendered
// with their default formatting
func contentText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, item := range content {
		switch v := item.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			parts = append(parts, fmt.Sprintf("%v", v))
		}
	}
	return strings.Join(parts, "\n")
}

// ServerNames returns the connected server names, sorted
func (c *Client) ServerNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.servers))
	for name := range c.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes all MCP server connections
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, server := range c.servers {
		if err := server.Close(); err != nil {
			c.logger.Warn(context.Background(), "failed to close MCP server", zap.String("server", name), zap.Error(err))
		}
	}
	c.servers = make(map[string]*client.Client)
	c.tools = []Tool{}
}
