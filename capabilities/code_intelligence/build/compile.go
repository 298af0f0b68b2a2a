package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CompileResult is the outcome of compiling one package directory
type CompileResult struct {
	Success  bool           `json:"success"`
	Command  string         `json:"command"`
	Errors   []CompileError `json:"errors,omitempty"`
	Output   string         `json:"output,omitempty"`
	Duration time.Duration  `json:"duration"`
}

// CompileError represents a structured compilation error
type CompileError struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Message string `json:"message"`
	Type    string `json:"type"` // syntax, type, undefined, etc.
}

// Compile builds the package in dir. Directories with test files are
// compiled with go test -c so broken tests are caught too. overlay, when
// set, is passed to go as an -overlay file.
func Compile(ctx context.Context, dir, overlay string, tags ...string) (*CompileResult, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	hasTestFiles, err := containsTestFiles(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to check for test files: %w", err)
	}

	var args []string
	if hasTestFiles {
		args = []string{"test", "-c", "-o", os.DevNull}
	} else {
		args = []string{"build", "-o", os.DevNull}
	}
	if len(tags) > 0 {
		args = append(args, "-tags", strings.Join(tags, ","))
	}
	if overlay != "" {
		args = append(args, "-overlay", overlay)
	}
	args = append(args, ".")

	startTime := time.Now()
	cmd := exec.CommandContext(ctx, "go", args...)
	cmd.Dir = absPath
	output, err := cmd.CombinedOutput()

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return nil, fmt.Errorf("failed to run go: %w", err)
	}

	result := &CompileResult{
		Success:  err == nil,
		Command:  "go " + strings.Join(args, " "),
		Output:   string(output),
		Duration: time.Since(startTime),
	}
	if !result.Success {
		result.Errors = ParseCompileErrors(result.Output, absPath)
	}
	return result, nil
}

// ParseCompileErrors parses Go compiler error messages into structured format
func ParseCompileErrors(output string, basePath string) []CompileError {
	var errs []CompileError

	for _, line := range strings.Split(output, "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// file.go:line:column: error message
		parts := strings.SplitN(line, ":", 4)
		if len(parts) < 4 {
			continue
		}
		lineNum, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		colNum, _ := strconv.Atoi(parts[2])

		file := strings.TrimPrefix(parts[0], "./")
		if filepath.IsAbs(file) {
			if rel, err := filepath.Rel(basePath, file); err == nil {
				file = rel
			}
		}

		message := strings.TrimSpace(parts[3])
		errs = append(errs, CompileError{
			File:    file,
			Line:    lineNum,
			Column:  colNum,
			Message: message,
			Type:    classifyError(message),
		})
	}

	return errs
}

// containsTestFiles checks if a directory contains Go test files
func containsTestFiles(dirPath string) (bool, error) {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return false, err
	}

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), "_test.go") {
			return true, nil
		}
	}
	return false, nil
}

// classifyError determines the type of compilation error
func classifyError(message string) string {
	message = strings.ToLower(message)

	switch {
	case strings.Contains(message, "syntax error") || strings.Contains(message, "expected"):
		return "syntax"
	case strings.Contains(message, "undefined:") || strings.Contains(message, "not defined"):
		return "undefined"
	case strings.Contains(message, "cannot use") || strings.Contains(message, "type mismatch"):
		return "type"
	case strings.Contains(message, "imported and not used"):
		return "unused_import"
	case strings.Contains(message, "declared and not used"):
		return "unused_variable"
	case strings.Contains(message, "missing return"):
		return "missing_return"
	case strings.Contains(message, "too many") || strings.Contains(message, "not enough"):
		return "argument_count"
	}
	return "other"
}
