package agents

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"mender/agent"
	"mender/capabilities/code_intelligence/quality"
	"mender/config"
	"mender/logging"
	"mender/pipeline"
)

// FixAgent applies automatic fixes. Only gofmt findings are auto-fixable;
// every other issue is reported as skipped for manual review.
type FixAgent struct {
	*agent.BaseAgent
	cfg    config.FixConfig
	logger *logging.Logger
}

// NewFixAgent creates a fix agent
func NewFixAgent(name string, cfg config.FixConfig, logger *logging.Logger) *FixAgent {
	if name == "" {
		name = pipeline.FixerName
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FixAgent{
		BaseAgent: agent.NewBaseAgent(name, pipeline.TypeFix),
		cfg:       cfg,
		logger:    logger.Named("fix"),
	}
}

// Output returns where the repaired copy of filePath is written
func (a *FixAgent) Output(filePath string) string {
	if a.cfg.InPlace || a.cfg.Suffix == "" {
		return filePath
	}
	return quality.FixedPath(filePath, a.cfg.Suffix)
}

// Run fixes the auto-fixable issues of the payload. A run with nothing to
// fix succeeds with no fix results, so callers validate the original file.
func (a *FixAgent) Run(ctx context.Context, task *agent.Task) (*agent.Result, error) {
	payload, err := pipeline.Decode[pipeline.FixPayload](task.Payload)
	if err != nil {
		return nil, fmt.Errorf("invalid fix payload: %w", err)
	}
	if _, err := os.Stat(payload.FilePath); err != nil {
		return agent.Failed(fmt.Sprintf("target file not found: %s", payload.FilePath)), nil
	}

	fixable, skipped := a.partition(payload)
	report := pipeline.FixReport{FixResults: []pipeline.FixItem{}, Skipped: skipped}

	if len(fixable) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dest := a.Output(payload.FilePath)
		formatted, err := quality.FormatFile(payload.FilePath, dest)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			a.logger.Warn(ctx, "gofmt fix failed", zap.String("file", payload.FilePath), zap.Error(err))
			return agent.Failed(report.Errors...).WithPayload(report), nil
		}

		for i := range fixable {
			issue := fixable[i]
			report.FixResults = append(report.FixResults, pipeline.FixItem{
				Issue:  &issue,
				Action: "gofmt",
				Before: payload.FilePath,
				After:  formatted.Output,
			})
		}
		report.FixedCount = len(fixable)
	}

	a.logger.Info(ctx, "fix finished",
		zap.String("file", payload.FilePath),
		zap.Int("fixed", report.FixedCount),
		zap.Int("skipped", len(report.Skipped)),
	)
	return agent.Succeeded(report), nil
}

// partition splits payload issues into those gofmt can fix and the rest.
// The triage decisions are used when present, else each issue's Fixable flag.
func (a *FixAgent) partition(payload pipeline.FixPayload) (fixable, skipped []pipeline.Issue) {
	d := payload.Decisions
	candidates := d.AutoFixable
	skipped = append(skipped, d.AIAssisted...)
	skipped = append(skipped, d.ManualReview...)
	skipped = append(skipped, d.Skip...)

	if len(candidates) == 0 && len(skipped) == 0 {
		for _, issue := range payload.Issues {
			if issue.Fixable {
				candidates = append(candidates, issue)
			} else {
				skipped = append(skipped, issue)
			}
		}
	}

	for _, issue := range candidates {
		if issue.Tool == quality.ToolFormat {
			fixable = append(fixable, issue)
		} else {
			skipped = append(skipped, issue)
		}
	}
	return fixable, skipped
}
