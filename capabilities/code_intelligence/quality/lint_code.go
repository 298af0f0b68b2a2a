// Package quality runs Go linters, the AST security scan and gofmt checks
// against a single file and reports findings as pipeline issues.
package quality

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"mender/pipeline"
)

// Tool names as they appear in Issue.Tool and DetectionReport.DetectionTools
const (
	ToolVet         = "vet"
	ToolStaticcheck = "staticcheck"
	ToolSecurity    = "security"
	ToolFormat      = "format"
)

// ErrToolNotFound is returned when an external linter binary is missing
var ErrToolNotFound = errors.New("tool not found")

// Pattern: ./path/file.go:line:column: message
var diagnosticPattern = regexp.MustCompile(`^(?:\./)?([^:\s]+\.go):(\d+):(\d+):\s*(.+)$`)

// Linter runs an external Go linter over the package containing a file
type Linter struct {
	Name    string
	Command string
	Args    []string
}

// Vet returns a linter running go vet
func Vet() *Linter {
	return &Linter{Name: ToolVet, Command: "go", Args: []string{"vet", "."}}
}

// Staticcheck returns a linter running staticcheck
func Staticcheck() *Linter {
	return &Linter{Name: ToolStaticcheck, Command: "staticcheck", Args: []string{"."}}
}

// Lint runs the linter in the file's directory and returns the issues
// reported for that file
func (l *Linter) Lint(ctx context.Context, filePath string) ([]pipeline.Issue, error) {
	if _, err := exec.LookPath(l.Command); err != nil {
		return nil, fmt.Errorf("%s: %w", l.Command, ErrToolNotFound)
	}

	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return nil, fmt.Errorf("path does not exist: %s", filePath)
	}

	cmd := exec.CommandContext(ctx, l.Command, l.Args...)
	cmd.Dir = filepath.Dir(absPath)
	output, err := cmd.CombinedOutput()

	// linters exit non-zero when they report issues
	if err != nil && len(output) == 0 {
		return nil, fmt.Errorf("%s failed: %w", l.Name, err)
	}

	var issues []pipeline.Issue
	for _, issue := range ParseDiagnostics(string(output), l.Name) {
		if filepath.Base(issue.File) != filepath.Base(absPath) {
			continue
		}
		issue.File = filePath
		issues = append(issues, issue)
	}
	return issues, nil
}

// ParseDiagnostics parses file:line:col: message lines. Lines that do not
// match, such as "# package" headers, are ignored.
func ParseDiagnostics(output, tool string) []pipeline.Issue {
	var issues []pipeline.Issue
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		matches := diagnosticPattern.FindStringSubmatch(line)
		if matches == nil {
			continue
		}
		lineNum, _ := strconv.Atoi(matches[2])
		colNum, _ := strconv.Atoi(matches[3])
		message := matches[4]

		issues = append(issues, pipeline.Issue{
			File:     matches[1],
			Line:     lineNum,
			Column:   colNum,
			Severity: severityOf(tool, message),
			Type:     ruleOf(tool, message),
			Message:  message,
			Tool:     tool,
		})
	}
	return issues
}

// Pattern: trailing staticcheck check id, e.g. "(SA4006)"
var checkIDPattern = regexp.MustCompile(`\(([A-Z]+\d+)\)$`)

func ruleOf(tool, message string) string {
	if m := checkIDPattern.FindStringSubmatch(message); m != nil {
		return m[1]
	}
	if tool == ToolVet {
		return "vet"
	}
	return "lint"
}

func severityOf(tool, message string) string {
	lower := strings.ToLower(message)
	if strings.Contains(lower, "undefined:") || strings.Contains(lower, "syntax error") {
		return pipeline.SeverityError
	}
	if tool == ToolStaticcheck && strings.HasSuffix(message, ")") && strings.Contains(message, "(ST") {
		return pipeline.SeverityInfo
	}
	return pipeline.SeverityWarning
}
