// Package pipeline chains the detect, fix and validate stages through a
// Coordinator and defines the payload/result contracts of each stage.
package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// Task types of the three remediation stages
const (
	TypeDetect   = "detect_bugs"
	TypeFix      = "fix_issues"
	TypeValidate = "validate_fix"
)

// Default registration names of the stage agents
const (
	DetectorName  = "bug_detection_agent"
	FixerName     = "fix_execution_agent"
	ValidatorName = "test_validation_agent"
)

// Default per-stage wait budgets
const (
	DefaultDetectTimeout   = 10 * time.Minute
	DefaultFixTimeout      = 15 * time.Minute
	DefaultValidateTimeout = 10 * time.Minute
)

// Severity levels used by detection tools
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// DetectOptions toggles individual detection tools for one request
type DetectOptions struct {
	EnableVet         bool `json:"enable_vet"`
	EnableStaticcheck bool `json:"enable_staticcheck"`
	EnableSecurity    bool `json:"enable_security"`
	EnableFormat      bool `json:"enable_format"`
	EnableMCP         bool `json:"enable_mcp"`
}

// AllDetectors enables every detection tool
func AllDetectors() DetectOptions {
	return DetectOptions{
		EnableVet:         true,
		EnableStaticcheck: true,
		EnableSecurity:    true,
		EnableFormat:      true,
		EnableMCP:         true,
	}
}

// DetectPayload is the payload of a detect_bugs task
type DetectPayload struct {
	FilePath string        `json:"file_path"`
	Options  DetectOptions `json:"options"`
}

// Issue is a single finding reported by a detection tool
type Issue struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Severity string `json:"severity"`
	Type     string `json:"type"`
	Message  string `json:"message"`
	Tool     string `json:"tool"`
	Fixable  bool   `json:"fixable"`
}

// Location formats the issue position as file:line:column
func (i Issue) Location() string {
	return fmt.Sprintf("%s:%d:%d", i.File, i.Line, i.Column)
}

// DetectionReport is the result payload of a detect_bugs task
type DetectionReport struct {
	Issues         []Issue  `json:"issues"`
	TotalIssues    int      `json:"total_issues"`
	DetectionTools []string `json:"detection_tools"`
	Errors         []string `json:"errors,omitempty"`
}

// Decisions sorts issues by how they should be fixed
type Decisions struct {
	AutoFixable  []Issue    `json:"auto_fixable"`
	AIAssisted   []Issue    `json:"ai_assisted"`
	ManualReview []Issue    `json:"manual_review"`
	Skip         []Issue    `json:"skip,omitempty"`
	Summary      Summary    `json:"summary"`
	Details      []Decision `json:"details,omitempty"`
}

// FixPayload is the payload of a fix_issues task
type FixPayload struct {
	FilePath  string    `json:"file_path"`
	Issues    []Issue   `json:"issues"`
	Decisions Decisions `json:"decisions"`
}

// FixItem records one fix attempt. After names the repaired artifact and is
// empty when the attempt produced none.
type FixItem struct {
	Issue  *Issue `json:"issue,omitempty"`
	Action string `json:"action"`
	Before string `json:"before"`
	After  string `json:"after,omitempty"`
}

// FixReport is the result payload of a fix_issues task
type FixReport struct {
	FixResults []FixItem `json:"fix_results"`
	FixedCount int       `json:"fixed_count"`
	Skipped    []Issue   `json:"skipped,omitempty"`
	Errors     []string  `json:"errors,omitempty"`
}

// ValidateOptions tunes the validation run
type ValidateOptions struct {
	MinCoverage float64 `json:"min_coverage"`
	Race        bool    `json:"race"`
}

// ValidatePayload is the payload of a validate_fix task
type ValidatePayload struct {
	FilePath  string          `json:"file_path"`
	FixResult *FixReport      `json:"fix_result,omitempty"`
	TestTypes []string        `json:"test_types"`
	Options   ValidateOptions `json:"options"`
}

// Test types understood by the validation agent
const (
	TestUnit        = "unit"
	TestIntegration = "integration"
)

// TestRun is the outcome of one test type
type TestRun struct {
	Passed   bool          `json:"passed"`
	Skipped  bool          `json:"skipped,omitempty"`
	Tests    int           `json:"tests"`
	Failures int           `json:"failures"`
	Output   string        `json:"output,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
}

// TestResults groups test runs by type
type TestResults struct {
	Unit        *TestRun `json:"unit,omitempty"`
	Integration *TestRun `json:"integration,omitempty"`
}

// Validation statuses
const (
	ValidationPassed = "passed"
	ValidationFailed = "failed"
)

// ValidationReport is the result payload of a validate_fix task
type ValidationReport struct {
	ValidationStatus   string             `json:"validation_status"`
	FilePath           string             `json:"file_path"`
	Coverage           float64            `json:"coverage"`
	FileCoverage       map[string]float64 `json:"file_coverage,omitempty"`
	RegressionDetected bool               `json:"regression_detected"`
	TestResults        TestResults        `json:"test_results"`
	PerformanceMetrics map[string]float64 `json:"performance_metrics,omitempty"`
}

// Decode converts a task payload into T. Typed values (T or *T) pass
// through; anything else, such as map payloads built by callers, is
// converted via its JSON form.
func Decode[T any](payload any) (T, error) {
	var out T
	switch p := payload.(type) {
	case T:
		return p, nil
	case *T:
		if p == nil {
			return out, fmt.Errorf("nil %T payload", p)
		}
		return *p, nil
	case nil:
		return out, fmt.Errorf("missing payload")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("failed to encode payload: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("failed to decode payload as %T: %w", out, err)
	}
	return out, nil
}
