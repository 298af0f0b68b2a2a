// Package agents holds the concrete detection, fix and validation agents
// of the remediation pipeline.
package agents

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"mender/agent"
	"mender/capabilities/code_intelligence/quality"
	"mender/config"
	"mender/logging"
	"mender/mcp"
	"mender/pipeline"
)

type detectorEntry struct {
	Detector
	timeout   time.Duration
	mcpBacked bool
}

// DetectionAgent runs the configured detection tools over a file
type DetectionAgent struct {
	*agent.BaseAgent
	tools  []detectorEntry
	logger *logging.Logger
}

// NewDetectionAgent creates a detection agent from the detection config.
// caller may be nil when no MCP servers are connected.
func NewDetectionAgent(name string, cfg config.DetectionConfig, caller mcp.Caller, logger *logging.Logger) *DetectionAgent {
	a := newDetectionAgent(name, logger)
	for _, d := range BuildDetectors(cfg, caller) {
		tool := cfg.Tools[d.Name()]
		a.tools = append(a.tools, detectorEntry{
			Detector:  d,
			timeout:   tool.Timeout,
			mcpBacked: tool.Server != "",
		})
	}
	return a
}

// NewDetectionAgentWithDetectors creates a detection agent with explicit
// detectors; names outside the built-in tools are treated as MCP tools
func NewDetectionAgentWithDetectors(name string, logger *logging.Logger, detectors ...Detector) *DetectionAgent {
	a := newDetectionAgent(name, logger)
	for _, d := range detectors {
		a.tools = append(a.tools, detectorEntry{Detector: d, mcpBacked: !isBuiltinTool(d.Name())})
	}
	return a
}

func newDetectionAgent(name string, logger *logging.Logger) *DetectionAgent {
	if name == "" {
		name = pipeline.DetectorName
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &DetectionAgent{
		BaseAgent: agent.NewBaseAgent(name, pipeline.TypeDetect),
		logger:    logger.Named("detection"),
	}
}

// Tools returns the detector names in run order
func (a *DetectionAgent) Tools() []string {
	names := make([]string, len(a.tools))
	for i, t := range a.tools {
		names[i] = t.Name()
	}
	return names
}

// Run detects issues in the payload's file. Tool failures are collected in
// the report; the task fails only when every tool that ran failed.
func (a *DetectionAgent) Run(ctx context.Context, task *agent.Task) (*agent.Result, error) {
	payload, err := pipeline.Decode[pipeline.DetectPayload](task.Payload)
	if err != nil {
		return nil, fmt.Errorf("invalid detection payload: %w", err)
	}
	if _, err := os.Stat(payload.FilePath); err != nil {
		return agent.Failed(fmt.Sprintf("target file not found: %s", payload.FilePath)), nil
	}

	report := pipeline.DetectionReport{Issues: []pipeline.Issue{}}
	ran, failed := 0, 0

	for _, tool := range a.tools {
		if !enabledFor(payload.Options, tool.Name(), tool.mcpBacked) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		issues, err := a.detect(ctx, tool, payload.FilePath)
		if errors.Is(err, quality.ErrToolNotFound) {
			a.logger.Debug(ctx, "detection tool not installed, skipping", zap.String("tool", tool.Name()))
			continue
		}

		ran++
		report.DetectionTools = append(report.DetectionTools, tool.Name())
		if err != nil {
			failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", tool.Name(), err))
			a.logger.Warn(ctx, "detection tool failed", zap.String("tool", tool.Name()), zap.Error(err))
			continue
		}
		report.Issues = append(report.Issues, issues...)
	}

	report.TotalIssues = len(report.Issues)
	a.logger.Info(ctx, "detection finished",
		zap.String("file", payload.FilePath),
		zap.Int("issues", report.TotalIssues),
		zap.Strings("tools", report.DetectionTools),
	)

	if ran > 0 && failed == ran {
		return agent.Failed(report.Errors...).WithPayload(report), nil
	}
	return agent.Succeeded(report), nil
}

func (a *DetectionAgent) detect(ctx context.Context, tool detectorEntry, filePath string) ([]pipeline.Issue, error) {
	if tool.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tool.timeout)
		defer cancel()
	}
	return tool.Detect(ctx, filePath)
}

func isBuiltinTool(name string) bool {
	switch name {
	case quality.ToolVet, quality.ToolStaticcheck, quality.ToolSecurity, quality.ToolFormat:
		return true
	}
	return false
}
