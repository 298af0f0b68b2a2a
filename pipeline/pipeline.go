package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mender/agent"
	"mender/logging"
)

// Coordinator is the subset of agent.Coordinator a pipeline needs
type Coordinator interface {
	CreateTask(taskType string, payload any) (string, error)
	AssignTask(taskID, agentName string) error
	GetResult(ctx context.Context, taskID string, timeout time.Duration) (*agent.Result, error)
	CancelTask(taskID, reason string) error
}

// Stage is the outcome of one pipeline stage
type Stage struct {
	TaskID string        `json:"task_id"`
	Result *agent.Result `json:"result,omitempty"`
	Err    error         `json:"-"`
}

// Succeeded reports whether the stage produced a successful result
func (s Stage) Succeeded() bool {
	return s.Err == nil && s.Result != nil && s.Result.Success
}

// Report collects the three stage outcomes of one run
type Report struct {
	TargetFile    string            `json:"target_file"`
	ValidatedFile string            `json:"validated_file"`
	UsedFallback  bool              `json:"used_fallback"`
	Detection     Stage             `json:"detection"`
	Fix           Stage             `json:"fix"`
	Validation    Stage             `json:"validation"`
	Issues        []Issue           `json:"issues"`
	Decisions     Decisions         `json:"decisions"`
	FixReport     *FixReport        `json:"fix_report,omitempty"`
	Validity      *ValidationReport `json:"validation_report,omitempty"`
	Duration      time.Duration     `json:"duration"`
}

// Passed reports whether validation ran and passed
func (r *Report) Passed() bool {
	return r.Validity != nil && r.Validity.ValidationStatus == ValidationPassed
}

// Timeouts bounds each stage's GetResult wait
type Timeouts struct {
	Detect   time.Duration
	Fix      time.Duration
	Validate time.Duration
}

// Runner drives detect -> fix -> validate for one file at a time
type Runner struct {
	coord      Coordinator
	logger     *logging.Logger
	timeouts   Timeouts
	detector   string
	fixer      string
	validator  string
	validation ValidateOptions
	testTypes  []string
	triage     *TriageEngine
}

// Option configures a Runner
type Option func(*Runner)

// WithTimeouts overrides the stage wait budgets; zero fields keep defaults
func WithTimeouts(t Timeouts) Option {
	return func(r *Runner) {
		if t.Detect > 0 {
			r.timeouts.Detect = t.Detect
		}
		if t.Fix > 0 {
			r.timeouts.Fix = t.Fix
		}
		if t.Validate > 0 {
			r.timeouts.Validate = t.Validate
		}
	}
}

// WithAgents overrides the stage agent registration names
func WithAgents(detector, fixer, validator string) Option {
	return func(r *Runner) {
		r.detector, r.fixer, r.validator = detector, fixer, validator
	}
}

// WithValidation sets validation options and test types
func WithValidation(opts ValidateOptions, testTypes ...string) Option {
	return func(r *Runner) {
		r.validation = opts
		if len(testTypes) > 0 {
			r.testTypes = testTypes
		}
	}
}

// WithTriage sets the engine that sorts detected issues
func WithTriage(e *TriageEngine) Option {
	return func(r *Runner) {
		if e != nil {
			r.triage = e
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a pipeline runner on top of coord
func NewRunner(coord Coordinator, opts ...Option) *Runner {
	r := &Runner{
		coord:  coord,
		logger: logging.NewNop(),
		timeouts: Timeouts{
			Detect:   DefaultDetectTimeout,
			Fix:      DefaultFixTimeout,
			Validate: DefaultValidateTimeout,
		},
		detector:   DetectorName,
		fixer:      FixerName,
		validator:  ValidatorName,
		validation: ValidateOptions{MinCoverage: 70},
		testTypes:  []string{TestUnit, TestIntegration},
		triage:     NewTriageEngine(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run remediates filePath. Detection must complete for the run to go on; a
// failed detection still passes its partial issue list to the fix stage.
// Any fix stage error only means there is no repaired artifact: it stays in
// Fix.Err, validation runs against the original file and UsedFallback is
// set. The returned error reflects detection or validation not completing.
func (r *Runner) Run(ctx context.Context, filePath string, opts DetectOptions) (*Report, error) {
	start := time.Now()
	report := &Report{TargetFile: filePath}
	defer func() { report.Duration = time.Since(start) }()

	// detect
	report.Detection = r.stage(ctx, TypeDetect, r.detector, DetectPayload{FilePath: filePath, Options: opts}, r.timeouts.Detect)
	if report.Detection.Err != nil {
		return report, fmt.Errorf("detection stage: %w", report.Detection.Err)
	}
	if det, ok := agent.PayloadAs[DetectionReport](report.Detection.Result); ok {
		report.Issues = det.Issues
	}
	if report.Issues == nil {
		report.Issues = []Issue{}
	}
	report.Decisions = r.triage.Triage(report.Issues)

	// fix
	report.Fix = r.stage(ctx, TypeFix, r.fixer, FixPayload{
		FilePath:  filePath,
		Issues:    report.Issues,
		Decisions: report.Decisions,
	}, r.timeouts.Fix)
	if report.Fix.Err != nil {
		r.logger.Warn(ctx, "fix stage did not complete, continuing without repair",
			zap.String("task_id", report.Fix.TaskID), zap.Error(report.Fix.Err))
	}
	if report.Fix.Succeeded() {
		if fix, ok := agent.PayloadAs[FixReport](report.Fix.Result); ok {
			report.FixReport = &fix
		}
	}

	report.ValidatedFile = RepairedFile(report.FixReport, filePath)
	report.UsedFallback = !hasRepair(report.FixReport)
	if report.UsedFallback {
		r.logger.Info(ctx, "no repaired artifact, validating original file", zap.String("file", filePath))
	}

	// validate
	report.Validation = r.stage(ctx, TypeValidate, r.validator, ValidatePayload{
		FilePath:  report.ValidatedFile,
		FixResult: report.FixReport,
		TestTypes: r.testTypes,
		Options:   r.validation,
	}, r.timeouts.Validate)
	if report.Validation.Err != nil {
		return report, fmt.Errorf("validation stage: %w", report.Validation.Err)
	}
	if v, ok := agent.PayloadAs[ValidationReport](report.Validation.Result); ok {
		report.Validity = &v
	}

	return report, nil
}

func (r *Runner) stage(ctx context.Context, taskType, agentName string, payload any, timeout time.Duration) Stage {
	var s Stage

	id, err := r.coord.CreateTask(taskType, payload)
	if err != nil {
		s.Err = err
		return s
	}
	s.TaskID = id

	ctx = logging.WithAgent(logging.WithTaskID(ctx, id), agentName)
	if err := r.coord.AssignTask(id, agentName); err != nil {
		r.logger.Error(ctx, "stage assignment failed", zap.String("type", taskType), zap.Error(err))
		if cerr := r.coord.CancelTask(id, "assignment failed"); cerr != nil {
			r.logger.Warn(ctx, "failed to cancel unassigned task", zap.Error(cerr))
		}
		s.Err = err
		return s
	}

	s.Result, s.Err = r.coord.GetResult(ctx, id, timeout)
	switch {
	case s.Err != nil:
		r.logger.Warn(ctx, "stage did not complete", zap.String("type", taskType), zap.Error(s.Err))
	case !s.Result.Success:
		r.logger.Warn(ctx, "stage failed", zap.String("type", taskType), zap.Strings("errors", s.Result.Errors))
	default:
		r.logger.Info(ctx, "stage succeeded", zap.String("type", taskType))
	}
	return s
}
