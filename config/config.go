package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mender/logging"
	"mender/mcp"
	"mender/pipeline"
)

// WorkspaceEnv overrides the workspace path
const WorkspaceEnv = "MENDER_WORKSPACE"

// Detection tool names understood by the detection agent
const (
	ToolVet         = "vet"
	ToolStaticcheck = "staticcheck"
	ToolSecurity    = "security"
	ToolFormat      = "format"
)

// Default returns the built-in configuration
func Default() *Config {
	logCfg := logging.NewDefaultConfig()

	return &Config{
		Workspace: WorkspaceConfig{
			Path:          getDefaultWorkspacePath(),
			DefaultTarget: "testdata/bad.go",
		},
		Coordinator: CoordinatorConfig{
			MaxConcurrent:    2,
			StopGrace:        10 * time.Second,
			WatchdogInterval: 5 * time.Second,
			LateResultPolicy: "first_write_wins",
			DetectTimeout:    10 * time.Minute,
			FixTimeout:       15 * time.Minute,
			ValidateTimeout:  10 * time.Minute,
		},
		Logging: *logCfg,
		Store: StoreConfig{
			Enabled: true,
			DBPath:  ".mender/tasks.db",
		},
		MCP: mcp.Config{
			Servers: map[string]mcp.ServerConfig{},
		},
		Detection: DetectionConfig{
			Tools: map[string]ToolConfig{
				ToolVet:         {Enabled: true, Timeout: 2 * time.Minute},
				ToolStaticcheck: {Enabled: true, Command: "staticcheck", Timeout: 2 * time.Minute},
				ToolSecurity:    {Enabled: true},
				ToolFormat:      {Enabled: true},
			},
		},
		Triage: TriageConfig{
			ConfidenceThreshold: pipeline.DefaultConfidenceThreshold,
		},
		Fix: FixConfig{
			Suffix: ".fixed",
		},
		Validation: ValidationConfig{
			MinCoverage: 70,
			Timeout:     5 * time.Minute,
			TestTypes:   []string{"unit", "integration"},
		},
		Agents: AgentsConfig{
			Detection:  AgentConfig{Enabled: true, Name: "bug_detection_agent"},
			Fix:        AgentConfig{Enabled: true, Name: "fix_execution_agent"},
			Validation: AgentConfig{Enabled: true, Name: "test_validation_agent"},
		},
		Metrics: MetricsConfig{
			Addr: ":9464",
		},
	}
}

// Load reads the configuration file over the defaults. An empty path
// returns the defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if workspacePath := os.Getenv(WorkspaceEnv); workspacePath != "" {
		cfg.Workspace.Path = workspacePath
	}
	cfg.Workspace.Path = expandHomePath(cfg.Workspace.Path)
	if cfg.Workspace.Path == "" {
		cfg.Workspace.Path = getDefaultWorkspacePath()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the runtime cannot use
func (c *Config) Validate() error {
	var errs []error

	co := c.Coordinator
	if co.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("coordinator.max_concurrent must be at least 1, got %d", co.MaxConcurrent))
	}
	for name, d := range map[string]time.Duration{
		"stop_grace":        co.StopGrace,
		"task_deadline":     co.TaskDeadline,
		"watchdog_interval": co.WatchdogInterval,
		"detect_timeout":    co.DetectTimeout,
		"fix_timeout":       co.FixTimeout,
		"validate_timeout":  co.ValidateTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("coordinator.%s must not be negative", name))
		}
	}
	if co.TaskDeadline > 0 && co.WatchdogInterval <= 0 {
		errs = append(errs, errors.New("coordinator.watchdog_interval is required with task_deadline"))
	}
	switch co.LateResultPolicy {
	case "", "first_write_wins", "latest_write_wins":
	default:
		errs = append(errs, fmt.Errorf("coordinator.late_result_policy %q is not supported", co.LateResultPolicy))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	if c.Store.Enabled && c.Store.DBPath == "" {
		errs = append(errs, errors.New("store.db_path is required when the store is enabled"))
	}

	for name, tool := range c.Detection.Tools {
		if tool.Enabled && tool.Server != "" && tool.Tool == "" {
			errs = append(errs, fmt.Errorf("detection.tools.%s: tool is required with server", name))
		}
	}

	if c.Validation.MinCoverage < 0 || c.Validation.MinCoverage > 100 {
		errs = append(errs, fmt.Errorf("validation.min_coverage must be within 0..100, got %v", c.Validation.MinCoverage))
	}
	if th := c.Triage.ConfidenceThreshold; th <= 0 || th > 1 {
		errs = append(errs, fmt.Errorf("triage.confidence_threshold must be within (0, 1], got %v", th))
	}
	for typ, rule := range c.Triage.Rules {
		if !pipeline.ValidCategory(rule.Category) {
			errs = append(errs, fmt.Errorf("triage.rules.%s: unknown category %q", typ, rule.Category))
		}
	}

	if !c.Fix.InPlace && c.Fix.Suffix == "" {
		errs = append(errs, errors.New("fix.suffix is required unless fix.in_place is set"))
	}
	if strings.HasSuffix(c.Fix.Suffix, ".go") {
		errs = append(errs, fmt.Errorf("fix.suffix %q must not end in .go", c.Fix.Suffix))
	}

	return errors.Join(errs...)
}

// Tool returns configuration for a detection tool. Unknown tools are
// disabled.
func (c *Config) Tool(name string) ToolConfig {
	if tool, ok := c.Detection.Tools[name]; ok {
		return tool
	}
	return ToolConfig{}
}

// IsToolEnabled checks if a detection tool is enabled
func (c *Config) IsToolEnabled(name string) bool {
	return c.Tool(name).Enabled
}

// MCPTools returns the enabled detection tools backed by an MCP server
func (c *Config) MCPTools() map[string]ToolConfig {
	tools := make(map[string]ToolConfig)
	for name, tool := range c.Detection.Tools {
		if tool.Enabled && tool.Server != "" {
			tools[name] = tool
		}
	}
	return tools
}

// ResolvePath makes a relative path relative to the workspace
func (c *Config) ResolvePath(path string) string {
	path = expandHomePath(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Workspace.Path, path)
}

// getDefaultWorkspacePath returns the current directory, or the home
// directory when it cannot be determined
func getDefaultWorkspacePath() string {
	cwd, err := os.Getwd()
	if err == nil {
		return cwd
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return homeDir
}

// expandHomePath expands ~ to the user's home directory
func expandHomePath(path string) string {
	if len(path) == 0 {
		return path
	}

	if path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}

		if len(path) == 1 {
			return homeDir
		}

		if path[1] == '/' || path[1] == filepath.Separator {
			return filepath.Join(homeDir, path[2:])
		}
	}

	return path
}
