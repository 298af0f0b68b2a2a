package agents

import (
	"context"
	"fmt"
	"os"
	"sort"

	"mender/capabilities/code_intelligence/quality"
	"mender/config"
	"mender/mcp"
	"mender/pipeline"
)

// Detector runs one detection tool against a file
type Detector interface {
	Name() string
	Detect(ctx context.Context, filePath string) ([]pipeline.Issue, error)
}

type lintDetector struct {
	linter *quality.Linter
}

func (d *lintDetector) Name() string { return d.linter.Name }

func (d *lintDetector) Detect(ctx context.Context, filePath string) ([]pipeline.Issue, error) {
	return d.linter.Lint(ctx, filePath)
}

type securityDetector struct{}

func (securityDetector) Name() string { return quality.ToolSecurity }

func (securityDetector) Detect(_ context.Context, filePath string) ([]pipeline.Issue, error) {
	return quality.ScanFile(filePath, nil)
}

type formatDetector struct{}

func (formatDetector) Name() string { return quality.ToolFormat }

func (formatDetector) Detect(_ context.Context, filePath string) ([]pipeline.Issue, error) {
	src, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	issue, err := quality.CheckFormat(filePath, src)
	if err != nil || issue == nil {
		return nil, err
	}
	return []pipeline.Issue{*issue}, nil
}

// mcpDetector calls an MCP tool that returns a JSON array of issues
type mcpDetector struct {
	bridge *mcp.Bridge
}

func (d *mcpDetector) Name() string { return d.bridge.Name() }

func (d *mcpDetector) Detect(ctx context.Context, filePath string) ([]pipeline.Issue, error) {
	var issues []pipeline.Issue
	if err := d.bridge.ExecuteJSON(ctx, map[string]any{"file_path": filePath}, &issues); err != nil {
		return nil, err
	}
	for i := range issues {
		if issues[i].Tool == "" {
			issues[i].Tool = d.bridge.Name()
		}
		if issues[i].File == "" {
			issues[i].File = filePath
		}
		if issues[i].Severity == "" {
			issues[i].Severity = pipeline.SeverityWarning
		}
	}
	return issues, nil
}

// BuildDetectors creates the enabled detectors of cfg, sorted by name. MCP
// backed tools are skipped when caller is nil.
func BuildDetectors(cfg config.DetectionConfig, caller mcp.Caller) []Detector {
	names := make([]string, 0, len(cfg.Tools))
	for name, tool := range cfg.Tools {
		if tool.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var detectors []Detector
	for _, name := range names {
		tool := cfg.Tools[name]
		switch {
		case tool.Server != "":
			if caller == nil {
				continue
			}
			detectors = append(detectors, &mcpDetector{bridge: mcp.NewBridge(caller, name, tool.Server, tool.Tool)})
		case name == config.ToolVet:
			detectors = append(detectors, &lintDetector{linter: withCommand(quality.Vet(), tool)})
		case name == config.ToolStaticcheck:
			detectors = append(detectors, &lintDetector{linter: withCommand(quality.Staticcheck(), tool)})
		case name == config.ToolSecurity:
			detectors = append(detectors, securityDetector{})
		case name == config.ToolFormat:
			detectors = append(detectors, formatDetector{})
		case tool.Command != "":
			detectors = append(detectors, &lintDetector{linter: &quality.Linter{Name: name, Command: tool.Command, Args: tool.Args}})
		}
	}
	return detectors
}

func withCommand(l *quality.Linter, tool config.ToolConfig) *quality.Linter {
	if tool.Command != "" {
		l.Command = tool.Command
	}
	if len(tool.Args) > 0 {
		l.Args = tool.Args
	}
	return l
}

// enabledFor reports whether a request's options allow detector name
func enabledFor(opts pipeline.DetectOptions, name string, mcpBacked bool) bool {
	switch name {
	case quality.ToolVet:
		return opts.EnableVet
	case quality.ToolStaticcheck:
		return opts.EnableStaticcheck
	case quality.ToolSecurity:
		return opts.EnableSecurity
	case quality.ToolFormat:
		return opts.EnableFormat
	}
	if mcpBacked {
		return opts.EnableMCP
	}
	// custom command linters run with the vet family
	return opts.EnableVet
}
