package pipeline_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mender/agent"
	"mender/pipeline"
)

type stubs struct {
	detect   agent.RunFunc
	fix      agent.RunFunc
	validate agent.RunFunc
}

func newPipeline(t *testing.T, s stubs, opts ...pipeline.Option) *pipeline.Runner {
	t.Helper()
	r, _ := newPipelineWithCoordinator(t, s, opts...)
	return r
}

func newPipelineWithCoordinator(t *testing.T, s stubs, opts ...pipeline.Option) (*pipeline.Runner, *agent.Coordinator) {
	t.Helper()
	ctx := context.Background()

	c := agent.NewCoordinator(agent.DefaultOptions())
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() { _ = c.Stop(ctx) })

	register := func(name, taskType string, fn agent.RunFunc) {
		a := agent.NewFuncAgent(name, fn, taskType)
		require.NoError(t, a.Start(ctx))
		require.NoError(t, c.RegisterAgent(name, a))
	}
	register(pipeline.DetectorName, pipeline.TypeDetect, s.detect)
	register(pipeline.FixerName, pipeline.TypeFix, s.fix)
	register(pipeline.ValidatorName, pipeline.TypeValidate, s.validate)

	return pipeline.NewRunner(c, opts...), c
}

func detectIssues(issues ...pipeline.Issue) agent.RunFunc {
	return func(_ context.Context, task *agent.Task) (*agent.Result, error) {
		p, err := pipeline.Decode[pipeline.DetectPayload](task.Payload)
		if err != nil {
			return nil, err
		}
		for i := range issues {
			issues[i].File = p.FilePath
		}
		return agent.Succeeded(pipeline.DetectionReport{
			Issues:         issues,
			TotalIssues:    len(issues),
			DetectionTools: []string{"vet"},
		}), nil
	}
}

func fixWith(items ...pipeline.FixItem) agent.RunFunc {
	return func(context.Context, *agent.Task) (*agent.Result, error) {
		return agent.Succeeded(pipeline.FixReport{FixResults: items, FixedCount: len(items)}), nil
	}
}

// recordValidation captures the payload handed to the validation stage
func recordValidation(seen chan<- pipeline.ValidatePayload) agent.RunFunc {
	return func(_ context.Context, task *agent.Task) (*agent.Result, error) {
		p, err := pipeline.Decode[pipeline.ValidatePayload](task.Payload)
		if err != nil {
			return nil, err
		}
		seen <- p
		return agent.Succeeded(pipeline.ValidationReport{
			ValidationStatus: pipeline.ValidationPassed,
			FilePath:         p.FilePath,
			Coverage:         82.5,
		}), nil
	}
}

func TestRunner_ValidatesRepairedArtifact(t *testing.T) {
	seen := make(chan pipeline.ValidatePayload, 1)
	r := newPipeline(t, stubs{
		detect: detectIssues(pipeline.Issue{Line: 3, Type: "gofmt", Fixable: true}),
		fix: fixWith(
			pipeline.FixItem{Action: "gofmt", Before: "main.go"},
			pipeline.FixItem{Action: "gofmt", Before: "main.go", After: "main.go.fixed"},
		),
		validate: recordValidation(seen),
	})

	report, err := r.Run(context.Background(), "main.go", pipeline.AllDetectors())
	require.NoError(t, err)

	got := <-seen
	assert.Equal(t, "main.go.fixed", got.FilePath)
	require.NotNil(t, got.FixResult)
	assert.Len(t, got.FixResult.FixResults, 2)
	assert.Equal(t, []string{pipeline.TestUnit, pipeline.TestIntegration}, got.TestTypes)
	assert.Equal(t, 70.0, got.Options.MinCoverage)

	assert.Equal(t, "main.go.fixed", report.ValidatedFile)
	assert.False(t, report.UsedFallback)
	assert.Len(t, report.Issues, 1)
	assert.Len(t, report.Decisions.AutoFixable, 1)
	assert.True(t, report.Passed())
	assert.Equal(t, 82.5, report.Validity.Coverage)
}

func TestRunner_FallsBackToOriginalWithoutArtifact(t *testing.T) {
	seen := make(chan pipeline.ValidatePayload, 1)
	r := newPipeline(t, stubs{
		detect: detectIssues(pipeline.Issue{Line: 1, Type: "shadow"}),
		fix: fixWith(
			pipeline.FixItem{Action: "skip", Before: "a.go"},
			pipeline.FixItem{Action: "skip", Before: "a.go"},
		),
		validate: recordValidation(seen),
	})

	report, err := r.Run(context.Background(), "a.go", pipeline.DetectOptions{})
	require.NoError(t, err)

	got := <-seen
	assert.Equal(t, "a.go", got.FilePath)
	assert.True(t, report.UsedFallback)
	assert.Equal(t, "a.go", report.ValidatedFile)
}

func TestRunner_FailedFixFallsBackToOriginal(t *testing.T) {
	seen := make(chan pipeline.ValidatePayload, 1)
	r := newPipeline(t, stubs{
		detect: detectIssues(),
		fix: func(context.Context, *agent.Task) (*agent.Result, error) {
			// a failed fix still names an artifact, which must be ignored
			return agent.Failed("write failed").WithPayload(pipeline.FixReport{
				FixResults: []pipeline.FixItem{{Before: "a.go", After: "a.go.fixed"}},
			}), nil
		},
		validate: recordValidation(seen),
	})

	report, err := r.Run(context.Background(), "a.go", pipeline.DetectOptions{})
	require.NoError(t, err)

	assert.Equal(t, "a.go", (<-seen).FilePath)
	assert.True(t, report.UsedFallback)
	assert.False(t, report.Fix.Succeeded())
	assert.Nil(t, report.FixReport)
}

func TestRunner_FixTimeoutFallsBackToOriginal(t *testing.T) {
	seen := make(chan pipeline.ValidatePayload, 1)
	release := make(chan struct{})
	defer close(release)

	r := newPipeline(t, stubs{
		detect: detectIssues(),
		fix: func(context.Context, *agent.Task) (*agent.Result, error) {
			<-release
			return agent.Succeeded(pipeline.FixReport{}), nil
		},
		validate: recordValidation(seen),
	}, pipeline.WithTimeouts(pipeline.Timeouts{Fix: 30 * time.Millisecond}))

	report, err := r.Run(context.Background(), "a.go", pipeline.DetectOptions{})
	require.NoError(t, err)

	assert.ErrorIs(t, report.Fix.Err, agent.ErrTimeout)
	assert.Equal(t, "a.go", (<-seen).FilePath)
	assert.True(t, report.UsedFallback)
}

func TestRunner_FailedDetectionPassesPartialIssues(t *testing.T) {
	fixSeen := make(chan pipeline.FixPayload, 1)
	r := newPipeline(t, stubs{
		detect: func(context.Context, *agent.Task) (*agent.Result, error) {
			return agent.Failed("staticcheck not installed").WithPayload(pipeline.DetectionReport{
				Issues:      []pipeline.Issue{{File: "a.go", Line: 9, Type: "vet", Message: "unreachable code"}},
				TotalIssues: 1,
			}), nil
		},
		fix: func(_ context.Context, task *agent.Task) (*agent.Result, error) {
			p, err := pipeline.Decode[pipeline.FixPayload](task.Payload)
			if err != nil {
				return nil, err
			}
			fixSeen <- p
			return agent.Succeeded(pipeline.FixReport{}), nil
		},
		validate: recordValidation(make(chan pipeline.ValidatePayload, 1)),
	})

	report, err := r.Run(context.Background(), "a.go", pipeline.DetectOptions{})
	require.NoError(t, err)

	fix := <-fixSeen
	require.Len(t, fix.Issues, 1)
	assert.Equal(t, "unreachable code", fix.Issues[0].Message)
	assert.Len(t, fix.Decisions.ManualReview, 1)
	assert.False(t, report.Detection.Succeeded())
}

func TestRunner_DetectionTimeoutStopsPipeline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	r := newPipeline(t, stubs{
		detect: func(context.Context, *agent.Task) (*agent.Result, error) {
			<-release
			return agent.Succeeded(nil), nil
		},
		fix:      fixWith(),
		validate: recordValidation(make(chan pipeline.ValidatePayload, 1)),
	}, pipeline.WithTimeouts(pipeline.Timeouts{Detect: 20 * time.Millisecond}))

	report, err := r.Run(context.Background(), "a.go", pipeline.DetectOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, agent.ErrTimeout)

	var timeoutErr *agent.TimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, report.Detection.TaskID, timeoutErr.TaskID)
	assert.Empty(t, report.Fix.TaskID)
}

func TestRunner_UnknownFixerFallsBackToOriginal(t *testing.T) {
	seen := make(chan pipeline.ValidatePayload, 1)
	r, c := newPipelineWithCoordinator(t, stubs{
		detect:   detectIssues(),
		fix:      fixWith(),
		validate: recordValidation(seen),
	}, pipeline.WithAgents(pipeline.DetectorName, "missing", pipeline.ValidatorName))

	report, err := r.Run(context.Background(), "a.go", pipeline.DetectOptions{})
	require.NoError(t, err)

	assert.ErrorIs(t, report.Fix.Err, agent.ErrUnknownAgent)
	assert.Equal(t, "a.go", (<-seen).FilePath)
	assert.True(t, report.UsedFallback)
	assert.True(t, report.Passed())

	// the unassignable task does not linger in created
	task, err := c.Task(report.Fix.TaskID)
	require.NoError(t, err)
	assert.Equal(t, agent.TaskCancelled, task.Status)
}

func TestRunner_CancelledFixFallsBackToOriginal(t *testing.T) {
	seen := make(chan pipeline.ValidatePayload, 1)
	var c *agent.Coordinator
	r, c := newPipelineWithCoordinator(t, stubs{
		detect: detectIssues(),
		fix: func(ctx context.Context, task *agent.Task) (*agent.Result, error) {
			if err := c.CancelTask(task.ID, "user abort"); err != nil {
				return nil, err
			}
			<-ctx.Done()
			return nil, ctx.Err()
		},
		validate: recordValidation(seen),
	})

	report, err := r.Run(context.Background(), "a.go", pipeline.DetectOptions{})
	require.NoError(t, err)

	assert.ErrorIs(t, report.Fix.Err, agent.ErrCancelled)
	assert.Equal(t, "a.go", (<-seen).FilePath)
	assert.True(t, report.UsedFallback)
	assert.Nil(t, report.FixReport)
}

func TestRunner_InPlaceFixIsNotFallback(t *testing.T) {
	seen := make(chan pipeline.ValidatePayload, 1)
	r := newPipeline(t, stubs{
		detect:   detectIssues(pipeline.Issue{Line: 2, Type: "gofmt", Fixable: true}),
		fix:      fixWith(pipeline.FixItem{Action: "gofmt", Before: "a.go", After: "a.go"}),
		validate: recordValidation(seen),
	})

	report, err := r.Run(context.Background(), "a.go", pipeline.DetectOptions{})
	require.NoError(t, err)

	assert.Equal(t, "a.go", (<-seen).FilePath)
	assert.Equal(t, "a.go", report.ValidatedFile)
	assert.False(t, report.UsedFallback, "the original was repaired in place")
}

func TestRunner_UsesConfiguredTriage(t *testing.T) {
	fixSeen := make(chan pipeline.FixPayload, 1)
	r := newPipeline(t, stubs{
		detect: detectIssues(
			pipeline.Issue{Line: 1, Type: "gofmt", Fixable: true},
			pipeline.Issue{Line: 5, Type: "ST1003", Severity: pipeline.SeverityInfo},
		),
		fix: func(_ context.Context, task *agent.Task) (*agent.Result, error) {
			p, err := pipeline.Decode[pipeline.FixPayload](task.Payload)
			if err != nil {
				return nil, err
			}
			fixSeen <- p
			return agent.Succeeded(pipeline.FixReport{}), nil
		},
		validate: recordValidation(make(chan pipeline.ValidatePayload, 1)),
	}, pipeline.WithTriage(pipeline.NewTriageEngine(pipeline.WithSkipTypes("ST1003"))))

	report, err := r.Run(context.Background(), "a.go", pipeline.DetectOptions{})
	require.NoError(t, err)

	fix := <-fixSeen
	assert.Len(t, fix.Decisions.AutoFixable, 1)
	assert.Len(t, fix.Decisions.Skip, 1)
	assert.Equal(t, 2, report.Decisions.Summary.Total)
}

func TestRepairedFile(t *testing.T) {
	tests := []struct {
		name string
		fix  *pipeline.FixReport
		want string
	}{
		{"nil report", nil, "orig.go"},
		{"no results", &pipeline.FixReport{}, "orig.go"},
		{"no after anywhere", &pipeline.FixReport{FixResults: []pipeline.FixItem{{Before: "orig.go"}, {Before: "orig.go"}}}, "orig.go"},
		{"first after wins", &pipeline.FixReport{FixResults: []pipeline.FixItem{{Before: "orig.go"}, {After: "one.go"}, {After: "two.go"}}}, "one.go"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pipeline.RepairedFile(tt.fix, "orig.go"))
		})
	}
}

func TestResolveTarget(t *testing.T) {
	existing := map[string]bool{
		"/proj/pkg/a.go": true,
		"/abs/b.go":      true,
	}
	exists := func(p string) bool { return existing[p] }

	tests := []struct {
		name      string
		requested string
		want      string
	}{
		{"empty uses fallback", "", "/proj/testdata/bad.go"},
		{"relative resolved against root", "pkg/a.go", "/proj/pkg/a.go"},
		{"absolute kept", "/abs/b.go", "/abs/b.go"},
		{"missing uses fallback", "nope.go", "/proj/testdata/bad.go"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pipeline.ResolveTarget(tt.requested, "/proj", "/proj/testdata/bad.go", exists)
			assert.Equal(t, filepath.FromSlash(tt.want), got)
		})
	}
}

func TestResolveTarget_NilExistsTrustsRequest(t *testing.T) {
	assert.Equal(t, filepath.Join("root", "x.go"), pipeline.ResolveTarget("x.go", "root", "fallback.go", nil))
}

func TestDecode(t *testing.T) {
	typed := pipeline.DetectPayload{FilePath: "a.go"}

	got, err := pipeline.Decode[pipeline.DetectPayload](typed)
	require.NoError(t, err)
	assert.Equal(t, typed, got)

	got, err = pipeline.Decode[pipeline.DetectPayload](&typed)
	require.NoError(t, err)
	assert.Equal(t, typed, got)

	got, err = pipeline.Decode[pipeline.DetectPayload](map[string]any{
		"file_path": "b.go",
		"options":   map[string]any{"enable_vet": true},
	})
	require.NoError(t, err)
	assert.Equal(t, "b.go", got.FilePath)
	assert.True(t, got.Options.EnableVet)

	_, err = pipeline.Decode[pipeline.DetectPayload](nil)
	assert.Error(t, err)

	_, err = pipeline.Decode[pipeline.DetectPayload]("not an object")
	assert.Error(t, err)
}
