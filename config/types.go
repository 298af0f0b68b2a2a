package config

import (
	"time"

	"mender/logging"
	"mender/mcp"
)

// Config represents the application configuration
type Config struct {
	Workspace   WorkspaceConfig   `yaml:"workspace"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Logging     logging.Config    `yaml:"logging"`
	Store       StoreConfig       `yaml:"store"`
	MCP         mcp.Config        `yaml:"mcp"`
	Detection   DetectionConfig   `yaml:"detection"`
	Triage      TriageConfig      `yaml:"triage"`
	Fix         FixConfig         `yaml:"fix"`
	Validation  ValidationConfig  `yaml:"validation"`
	Agents      AgentsConfig      `yaml:"agents"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// WorkspaceConfig defines where target files are resolved from
type WorkspaceConfig struct {
	Path          string `yaml:"path"`
	DefaultTarget string `yaml:"default_target"` // used when the requested file does not exist
}

// CoordinatorConfig tunes task dispatch and waiting
type CoordinatorConfig struct {
	MaxConcurrent    int           `yaml:"max_concurrent"`
	StopGrace        time.Duration `yaml:"stop_grace"`
	TaskDeadline     time.Duration `yaml:"task_deadline"` // 0 disables the watchdog
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
	LateResultPolicy string        `yaml:"late_result_policy"` // first_write_wins, latest_write_wins
	DetectTimeout    time.Duration `yaml:"detect_timeout"`
	FixTimeout       time.Duration `yaml:"fix_timeout"`
	ValidateTimeout  time.Duration `yaml:"validate_timeout"`
}

// StoreConfig defines task history settings
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// DetectionConfig lists the detection tools and their settings
type DetectionConfig struct {
	Tools map[string]ToolConfig `yaml:"tools"`
}

// ToolConfig represents configuration for a single detection tool. MCP
// backed tools name their server and tool.
type ToolConfig struct {
	Enabled bool          `yaml:"enabled"`
	Command string        `yaml:"command,omitempty"`
	Args    []string      `yaml:"args,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
	Server  string        `yaml:"server,omitempty"`
	Tool    string        `yaml:"tool,omitempty"`
}

// TriageConfig tunes how detected issues are sorted into fix categories
type TriageConfig struct {
	ConfidenceThreshold float64               `yaml:"confidence_threshold"`
	SkipTypes           []string              `yaml:"skip_types"`
	Rules               map[string]TriageRule `yaml:"rules"` // keyed by issue type
}

// TriageRule overrides the decision for one issue type
type TriageRule struct {
	Category string `yaml:"category"`
	Strategy string `yaml:"strategy"`
}

// FixConfig defines how repaired files are written
type FixConfig struct {
	Suffix  string `yaml:"suffix"` // repaired copy is <name>.go<suffix>
	InPlace bool   `yaml:"in_place"`
}

// ValidationConfig defines how fixes are validated
type ValidationConfig struct {
	MinCoverage float64       `yaml:"min_coverage"`
	Race        bool          `yaml:"race"`
	Timeout     time.Duration `yaml:"timeout"`
	TestTypes   []string      `yaml:"test_types"`
}

// AgentsConfig toggles the stage agents
type AgentsConfig struct {
	Detection  AgentConfig `yaml:"detection"`
	Fix        AgentConfig `yaml:"fix"`
	Validation AgentConfig `yaml:"validation"`
}

// AgentConfig configures one stage agent
type AgentConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
}

// MetricsConfig defines the optional Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}
