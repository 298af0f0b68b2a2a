package mcp

import (
	"context"
	"encoding/json"
	"fmt"
)

// Bridge adapts one MCP server tool to a named detection tool
type Bridge struct {
	caller     Caller
	name       string
	serverName string
	toolName   string
}

// NewBridge creates a bridge for serverName/toolName exposed under name
func NewBridge(caller Caller, name, serverName, toolName string) *Bridge {
	return &Bridge{
		caller:     caller,
		name:       name,
		serverName: serverName,
		toolName:   toolName,
	}
}

// Name returns the detection tool name
func (b *Bridge) Name() string {
	return b.name
}

// Target returns server/tool for logs and reports
func (b *Bridge) Target() string {
	return fmt.Sprintf("mcp:%s/%s", b.serverName, b.toolName)
}

// Execute calls the tool and returns its raw output
func (b *Bridge) Execute(ctx context.Context, args map[string]any) (string, error) {
	result, err := b.caller.CallTool(ctx, b.serverName, b.toolName, args)
	if err != nil {
		return "", fmt.Errorf("MCP tool execution failed: %w", err)
	}
	return result, nil
}

// ExecuteJSON calls the tool and decodes its output into out
func (b *Bridge) ExecuteJSON(ctx context.Context, args map[string]any, out any) error {
	result, err := b.Execute(ctx, args)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(result), out); err != nil {
		return fmt.Errorf("MCP tool %s returned invalid JSON: %w", b.Target(), err)
	}
	return nil
}
