// Command mender detects, fixes and validates issues in Go source files by
// dispatching each stage to an agent through the task coordinator.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mender/config"
	"mender/logging"
)

var (
	// configPath is the YAML config file, empty for defaults
	configPath string
	// workspace overrides workspace.path
	workspace string
	// version information
	version = "dev"
)

// errValidationFailed makes the process exit non-zero without printing twice
var errValidationFailed = errors.New("validation failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errValidationFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mender",
	Short: "Detect, fix and validate issues in Go files",
	Long: `mender runs a detect -> fix -> validate pipeline over a Go file.
Each stage is a task handed to an agent by the coordinator; task history is
kept in a local SQLite database.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to mender.yaml")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "workspace directory (overrides config and "+config.WorkspaceEnv+")")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tasksCmd)
}

// loadConfig loads the config file and applies command line overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if workspace != "" {
		cfg.Workspace.Path = workspace
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}
