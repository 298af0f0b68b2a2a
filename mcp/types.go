package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// ServerConfig represents configuration for an MCP server
type ServerConfig struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env,omitempty"`
	Enabled bool              `yaml:"enabled"`
}

// Config represents the MCP configuration section
type Config struct {
	Enabled bool                    `yaml:"enabled"`
	Servers map[string]ServerConfig `yaml:"servers"`
}

// Tool represents a tool exposed by an MCP server
type Tool struct {
	ServerName  string
	Name        string
	Description string
	InputSchema mcp.ToolInputSchema
}
