package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"mender/store"
	"mender/ui"
)

var tasksFlags struct {
	status    string
	taskType  string
	agent     string
	search    string
	limit     int
	olderThan time.Duration
}

// tasksCmd lists recorded task history
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List recorded tasks",
	Long: `List tasks recorded in the task history database.

Examples:
  # Last 20 tasks
  mender tasks

  # Timed out fix tasks
  mender tasks --status timed_out --type fix_issues

  # Tasks whose errors mention coverage
  mender tasks --search coverage`,
	Args: cobra.NoArgs,
	RunE: runTasks,
}

var tasksStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count recorded tasks by status",
	Args:  cobra.NoArgs,
	RunE:  runTasksStats,
}

var tasksPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete tasks completed before --older-than",
	Args:  cobra.NoArgs,
	RunE:  runTasksPrune,
}

func init() {
	tasksCmd.Flags().StringVar(&tasksFlags.status, "status", "", "filter by status")
	tasksCmd.Flags().StringVar(&tasksFlags.taskType, "type", "", "filter by task type")
	tasksCmd.Flags().StringVar(&tasksFlags.agent, "agent", "", "filter by assigned agent")
	tasksCmd.Flags().StringVar(&tasksFlags.search, "search", "", "search task errors and results")
	tasksCmd.Flags().IntVarP(&tasksFlags.limit, "limit", "n", 20, "maximum tasks to list")
	tasksPruneCmd.Flags().DurationVar(&tasksFlags.olderThan, "older-than", 30*24*time.Hour, "age of tasks to delete")

	tasksCmd.AddCommand(tasksStatsCmd)
	tasksCmd.AddCommand(tasksPruneCmd)
}

func openHistory() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.ResolvePath(cfg.Store.DBPath))
}

func runTasks(cmd *cobra.Command, _ []string) error {
	history, err := openHistory()
	if err != nil {
		return err
	}
	defer history.Close()

	var records []*store.Record
	if tasksFlags.search != "" {
		records, err = history.Search(cmd.Context(), tasksFlags.search, tasksFlags.limit)
	} else {
		records, err = history.ListTasks(cmd.Context(), store.Filters{
			Status:     tasksFlags.status,
			Type:       tasksFlags.taskType,
			AssignedTo: tasksFlags.agent,
			Limit:      tasksFlags.limit,
		})
	}
	if err != nil {
		return err
	}

	ui.PrintTasks(cmd.OutOrStdout(), records)
	return nil
}

func runTasksStats(cmd *cobra.Command, _ []string) error {
	history, err := openHistory()
	if err != nil {
		return err
	}
	defer history.Close()

	counts, err := history.CountByStatus(cmd.Context())
	if err != nil {
		return err
	}

	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		fmt.Fprintf(cmd.OutOrStdout(), "%-10s %d\n", status, counts[status])
	}
	return nil
}

func runTasksPrune(cmd *cobra.Command, _ []string) error {
	history, err := openHistory()
	if err != nil {
		return err
	}
	defer history.Close()

	n, err := history.DeleteBefore(cmd.Context(), time.Now().Add(-tasksFlags.olderThan))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d task(s)\n", n)
	return nil
}
