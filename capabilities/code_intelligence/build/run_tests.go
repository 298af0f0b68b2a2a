// Package build compiles Go packages and runs their tests, parsing the go
// tool output into structured results.
package build

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TestOptions selects what go test runs
type TestOptions struct {
	Dir          string
	Packages     []string
	Run          string
	Tags         []string
	Short        bool
	Race         bool
	Cover        bool
	CoverProfile string
	Overlay      string // go build -overlay file replacing sources
}

// TestResults holds parsed test execution results
type TestResults struct {
	Success      bool          `json:"success"`
	Command      string        `json:"command"`
	TotalTests   int           `json:"tests_run"`
	PassedTests  int           `json:"tests_passed"`
	FailedTests  int           `json:"tests_failed"`
	SkippedTests int           `json:"tests_skipped"`
	NoTests      bool          `json:"no_tests"`
	Coverage     float64       `json:"coverage"`
	Failures     []TestFailure `json:"failed_tests,omitempty"`
	Output       string        `json:"output"`
	Duration     time.Duration `json:"duration"`
}

// TestFailure represents a failed test
type TestFailure struct {
	TestName string `json:"test_name"`
	Package  string `json:"package"`
	Output   string `json:"output"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
}

// Args returns the go test arguments for opts
func (o TestOptions) Args() []string {
	args := []string{"test", "-v"}
	if o.Short {
		args = append(args, "-short")
	}
	if o.Race {
		args = append(args, "-race")
	}
	if o.Cover || o.CoverProfile != "" {
		args = append(args, "-cover")
	}
	if o.CoverProfile != "" {
		args = append(args, "-coverprofile="+o.CoverProfile)
	}
	if len(o.Tags) > 0 {
		args = append(args, "-tags", strings.Join(o.Tags, ","))
	}
	if o.Run != "" {
		args = append(args, "-run", o.Run)
	}
	if o.Overlay != "" {
		args = append(args, "-overlay", o.Overlay)
	}

	packages := o.Packages
	if len(packages) == 0 {
		packages = []string{"."}
	}
	return append(args, packages...)
}

// RunTests runs go test. A failing test is reported through Success, not
// as an error; the error is reserved for go itself failing to start.
func RunTests(ctx context.Context, opts TestOptions) (*TestResults, error) {
	args := opts.Args()

	startTime := time.Now()
	cmd := exec.CommandContext(ctx, "go", args...)
	cmd.Dir = opts.Dir
	output, err := cmd.CombinedOutput()
	duration := time.Since(startTime)

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("failed to run go test: %w", err)
	}

	results := ParseTestResults(string(output))
	results.Success = err == nil
	results.Command = "go " + strings.Join(args, " ")
	results.Output = string(output)
	results.Duration = duration
	return &results, nil
}

var (
	packagePassPattern = regexp.MustCompile(`^ok\s+(\S+)\s+`)
	packageFailPattern = regexp.MustCompile(`^FAIL\s+(\S+)\s+`)
	testPassPattern    = regexp.MustCompile(`^\s*--- PASS: (\S+)`)
	testFailPattern    = regexp.MustCompile(`^\s*--- FAIL: (\S+)`)
	testSkipPattern    = regexp.MustCompile(`^\s*--- SKIP: (\S+)`)
	coveragePattern    = regexp.MustCompile(`coverage:\s+([\d.]+)%\s+of statements`)
	fileLinePattern    = regexp.MustCompile(`(\S+\.go):(\d+):`)
)

// ParseTestResults parses verbose go test output into structured form.
// Log lines of a failing test are collected whether go test printed them
// before the --- FAIL marker (-v streaming) or after it.
func ParseTestResults(output string) TestResults {
	var results TestResults
	current := -1
	var buffered []string
	var pending []int

	attach := func(f *TestFailure, line string) {
		f.Output += strings.TrimSpace(line) + "\n"
		if m := fileLinePattern.FindStringSubmatch(line); m != nil && f.File == "" {
			f.File = m[1]
			f.Line, _ = strconv.Atoi(m[2])
		}
	}

	for _, line := range strings.Split(output, "\n") {
		switch {
		case strings.HasPrefix(line, "=== RUN"):
			current = -1
			buffered = buffered[:0]
		case packagePassPattern.MatchString(line), packageFailPattern.MatchString(line):
			pkg := ""
			if m := packagePassPattern.FindStringSubmatch(line); m != nil {
				pkg = m[1]
			} else if m := packageFailPattern.FindStringSubmatch(line); m != nil {
				pkg = m[1]
			}
			// the package line follows its test lines
			for _, i := range pending {
				results.Failures[i].Package = pkg
			}
			pending = pending[:0]
			current = -1
		case testPassPattern.MatchString(line):
			results.TotalTests++
			results.PassedTests++
			current = -1
			buffered = buffered[:0]
		case testSkipPattern.MatchString(line):
			results.TotalTests++
			results.SkippedTests++
			current = -1
			buffered = buffered[:0]
		case testFailPattern.MatchString(line):
			m := testFailPattern.FindStringSubmatch(line)
			results.TotalTests++
			results.FailedTests++
			results.Failures = append(results.Failures, TestFailure{TestName: m[1]})
			current = len(results.Failures) - 1
			pending = append(pending, current)
			for _, b := range buffered {
				attach(&results.Failures[current], b)
			}
			buffered = buffered[:0]
		case strings.HasPrefix(line, "    "):
			if current >= 0 {
				attach(&results.Failures[current], line)
			} else {
				buffered = append(buffered, line)
			}
		}

		if strings.Contains(line, "[no test files]") || strings.Contains(line, "no tests to run") {
			results.NoTests = true
		}
		if m := coveragePattern.FindStringSubmatch(line); m != nil {
			results.Coverage, _ = strconv.ParseFloat(m[1], 64)
		}
	}

	if results.TotalTests > 0 {
		results.NoTests = false
	}
	return results
}

// CoverHTML renders a coverage profile to an HTML report
func CoverHTML(ctx context.Context, dir, profile, out string) error {
	cmd := exec.CommandContext(ctx, "go", "tool", "cover", "-html="+profile, "-o", out)
	cmd.Dir = dir
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("go tool cover failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
