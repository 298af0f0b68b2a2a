package agents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"mender/agent"
	"mender/capabilities/code_intelligence/build"
	"mender/capabilities/code_intelligence/quality"
	"mender/config"
	"mender/logging"
	"mender/pipeline"
)

// ValidationAgent compiles and tests the package of a (possibly repaired)
// file and checks coverage against a threshold
type ValidationAgent struct {
	*agent.BaseAgent
	cfg    config.ValidationConfig
	logger *logging.Logger
}

// NewValidationAgent creates a validation agent
func NewValidationAgent(name string, cfg config.ValidationConfig, logger *logging.Logger) *ValidationAgent {
	if name == "" {
		name = pipeline.ValidatorName
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ValidationAgent{
		BaseAgent: agent.NewBaseAgent(name, pipeline.TypeValidate),
		cfg:       cfg,
		logger:    logger.Named("validation"),
	}
}

// Run validates the payload's file. A repaired copy named by the fix result
// is compiled in place of its original through a go -overlay file.
func (a *ValidationAgent) Run(ctx context.Context, task *agent.Task) (*agent.Result, error) {
	payload, err := pipeline.Decode[pipeline.ValidatePayload](task.Payload)
	if err != nil {
		return nil, fmt.Errorf("invalid validation payload: %w", err)
	}
	if _, err := os.Stat(payload.FilePath); err != nil {
		return agent.Failed(fmt.Sprintf("target file not found: %s", payload.FilePath)), nil
	}

	minCoverage := a.cfg.MinCoverage
	if payload.Options.MinCoverage > 0 {
		minCoverage = payload.Options.MinCoverage
	}
	race := a.cfg.Race || payload.Options.Race
	testTypes := payload.TestTypes
	if len(testTypes) == 0 {
		testTypes = a.cfg.TestTypes
	}

	workDir, err := os.MkdirTemp("", "mender-validate-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	dir := filepath.Dir(payload.FilePath)
	overlay := ""
	if original := originalOf(payload); original != "" {
		dir = filepath.Dir(original)
		o, err := build.SubstituteOverlay(original, payload.FilePath)
		if err != nil {
			return nil, err
		}
		if overlay, err = o.Write(workDir); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	report := pipeline.ValidationReport{
		ValidationStatus:   pipeline.ValidationFailed,
		FilePath:           payload.FilePath,
		PerformanceMetrics: map[string]float64{},
	}

	compiled, err := build.Compile(ctx, dir, overlay)
	if err != nil {
		return nil, err
	}
	report.PerformanceMetrics["compile_seconds"] = compiled.Duration.Seconds()
	if !compiled.Success {
		report.RegressionDetected = true
		report.TestResults.Unit = &pipeline.TestRun{Stderr: compiled.Output, Duration: compiled.Duration}
		report.PerformanceMetrics["total_seconds"] = time.Since(start).Seconds()
		a.logger.Warn(ctx, "validation build failed", zap.String("file", payload.FilePath), zap.Int("errors", len(compiled.Errors)))
		return agent.Failed(fmt.Sprintf("build failed with %d error(s)", len(compiled.Errors))).WithPayload(report), nil
	}

	profile := filepath.Join(workDir, "cover.out")
	for _, testType := range testTypes {
		opts := build.TestOptions{Dir: dir, Race: race, Overlay: overlay}
		switch testType {
		case pipeline.TestUnit:
			opts.Short = true
			opts.CoverProfile = profile
		case pipeline.TestIntegration:
			opts.Tags = []string{"integration"}
			opts.Run = "Integration"
		default:
			return agent.Failed(fmt.Sprintf("unknown test type %q", testType)).WithPayload(report), nil
		}

		run, results, err := a.runTests(ctx, opts)
		if err != nil {
			return nil, err
		}
		report.PerformanceMetrics[testType+"_seconds"] = run.Duration.Seconds()
		if !run.Passed {
			report.RegressionDetected = true
		}

		switch testType {
		case pipeline.TestUnit:
			report.TestResults.Unit = run
			report.Coverage = results.Coverage
		case pipeline.TestIntegration:
			report.TestResults.Integration = run
		}
	}

	if _, err := os.Stat(profile); err == nil {
		files, err := a.fileCoverage(ctx, dir, profile, workDir)
		if err != nil {
			a.logger.Warn(ctx, "per-file coverage unavailable", zap.Error(err))
		}
		report.FileCoverage = files
	}
	report.PerformanceMetrics["total_seconds"] = time.Since(start).Seconds()

	var reasons []string
	if report.RegressionDetected {
		reasons = append(reasons, "tests failed")
	}
	if minCoverage > 0 && report.Coverage < minCoverage {
		reasons = append(reasons, fmt.Sprintf("coverage %.1f%% below %.1f%%", report.Coverage, minCoverage))
	}

	a.logger.Info(ctx, "validation finished",
		zap.String("file", payload.FilePath),
		zap.Float64("coverage", report.Coverage),
		zap.Bool("regression", report.RegressionDetected),
	)

	if len(reasons) > 0 {
		return agent.Failed(reasons...).WithPayload(report), nil
	}
	report.ValidationStatus = pipeline.ValidationPassed
	return agent.Succeeded(report), nil
}

func (a *ValidationAgent) runTests(ctx context.Context, opts build.TestOptions) (*pipeline.TestRun, *build.TestResults, error) {
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	results, err := build.RunTests(ctx, opts)
	if err != nil {
		return nil, nil, err
	}

	run := &pipeline.TestRun{
		Passed:   results.Success,
		Skipped:  results.NoTests,
		Tests:    results.TotalTests,
		Failures: results.FailedTests,
		Duration: results.Duration,
	}
	if !results.Success {
		run.Output = results.Output
	}
	return run, results, nil
}

func (a *ValidationAgent) fileCoverage(ctx context.Context, dir, profile, workDir string) (map[string]float64, error) {
	html := filepath.Join(workDir, "cover.html")
	if err := build.CoverHTML(ctx, dir, profile, html); err != nil {
		return nil, err
	}
	f, err := os.Open(html)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return quality.FileCoverageFromHTML(f)
}

// originalOf returns the source file a repaired artifact replaces, or ""
// when the payload validates an original file
func originalOf(payload pipeline.ValidatePayload) string {
	if payload.FixResult == nil {
		return ""
	}
	for _, item := range payload.FixResult.FixResults {
		if item.After == payload.FilePath && item.Before != "" && item.Before != item.After {
			return item.Before
		}
	}
	return ""
}
