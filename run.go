package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mender/agent"
	"mender/config"
	"mender/logging"
	"mender/pipeline"
	"mender/setup"
	"mender/ui"
)

var runFlags struct {
	skip       []string
	policy     string
	jsonOutput bool
	showAgents bool
	metrics    bool
}

// runCmd remediates one file
var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Run detect, fix and validate over a Go file",
	Long: `Run the remediation pipeline over a Go file.

When the file is omitted or does not exist, workspace.default_target is used.

Examples:
  # Remediate a file
  mender run internal/calc/calc.go

  # Skip staticcheck and MCP tools, print JSON
  mender run --skip staticcheck,mcp --json calc.go`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringSliceVar(&runFlags.skip, "skip", nil, "detection tools to skip: vet, staticcheck, security, format, mcp")
	runCmd.Flags().StringVar(&runFlags.policy, "late-results", "", "late result policy: first_write_wins or latest_write_wins")
	runCmd.Flags().BoolVar(&runFlags.jsonOutput, "json", false, "print the report as JSON")
	runCmd.Flags().BoolVar(&runFlags.showAgents, "agents", false, "print agent and coordinator statistics after the run")
	runCmd.Flags().BoolVar(&runFlags.metrics, "metrics", false, "serve Prometheus metrics while running")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runFlags.policy != "" {
		cfg.Coordinator.LateResultPolicy = runFlags.policy
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Metrics.Enabled || runFlags.metrics {
		go serveMetrics(ctx, cfg.Metrics.Addr, logger)
	}

	b, err := setup.Initialize(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		// the run context may already be cancelled; shutdown gets its own budget
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Coordinator.StopGrace+5*time.Second)
		defer cancel()
		b.Cleanup(stopCtx)
	}()

	requested := ""
	if len(args) > 0 {
		requested = args[0]
	}
	target := pipeline.ResolveTarget(requested, cfg.Workspace.Path, cfg.ResolvePath(cfg.Workspace.DefaultTarget), fileExists)
	if requested != "" && target == cfg.ResolvePath(cfg.Workspace.DefaultTarget) {
		logger.Warn(ctx, "requested file not found, using default target", zap.String("requested", requested), zap.String("target", target))
	}

	status := ui.NewStatusLine(cmd.ErrOrStderr())
	status.Start("Remediating " + target)
	unsubscribe := b.Coordinator.Events().Subscribe(func(ev agent.Event) {
		status.Update(ui.EventMessage(ev))
	}, agent.EventTaskStarted, agent.EventTaskFailed, agent.EventTaskTimedOut, agent.EventTaskCancelled)
	report, runErr := b.Runner.Run(ctx, target, detectOptions(runFlags.skip))
	unsubscribe()
	status.Stop()

	out := cmd.OutOrStdout()
	if runFlags.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		ui.PrintReport(out, report)
	}
	if runFlags.showAgents {
		ui.PrintAgents(out, b.Coordinator.Agents())
		ui.PrintHealth(out, b.Coordinator.Health())
	}

	if runErr != nil {
		return runErr
	}
	if !report.Passed() {
		return errValidationFailed
	}
	return nil
}

// detectOptions enables every detection tool family except the skipped ones
func detectOptions(skip []string) pipeline.DetectOptions {
	opts := pipeline.AllDetectors()
	opts.EnableVet = !slices.Contains(skip, config.ToolVet)
	opts.EnableStaticcheck = !slices.Contains(skip, config.ToolStaticcheck)
	opts.EnableSecurity = !slices.Contains(skip, config.ToolSecurity)
	opts.EnableFormat = !slices.Contains(skip, config.ToolFormat)
	opts.EnableMCP = !slices.Contains(skip, "mcp")
	return opts
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// serveMetrics exposes the Prometheus registry until ctx is done
func serveMetrics(ctx context.Context, addr string, logger *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info(ctx, "serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn(ctx, "metrics server stopped", zap.Error(err))
	}
}
