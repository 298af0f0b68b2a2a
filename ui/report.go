package ui

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"mender/agent"
	"mender/pipeline"
	"mender/store"
)

// PrintReport writes a human readable summary of a pipeline run
func PrintReport(w io.Writer, report *pipeline.Report) {
	fmt.Fprintf(w, "\n=== Remediation: %s ===\n", report.TargetFile)

	printStage(w, "Detection", report.Detection)
	if len(report.Issues) > 0 {
		issues := append([]pipeline.Issue(nil), report.Issues...)
		sort.SliceStable(issues, func(i, j int) bool { return issues[i].Line < issues[j].Line })
		for _, issue := range issues {
			fixable := ""
			if issue.Fixable {
				fixable = " [auto-fixable]"
			}
			fmt.Fprintf(w, "   %s %-7s %s (%s)%s\n", issue.Location(), issue.Severity, issue.Message, issue.Tool, fixable)
		}
	}
	d := report.Decisions
	fmt.Fprintf(w, "   Triage: %d auto-fixable, %d ai-assisted, %d manual review, %d skipped\n",
		len(d.AutoFixable), len(d.AIAssisted), len(d.ManualReview), len(d.Skip))

	printStage(w, "Fix", report.Fix)
	if report.FixReport != nil {
		fmt.Fprintf(w, "   Fixed: %d | Skipped: %d\n", report.FixReport.FixedCount, len(report.FixReport.Skipped))
	}
	if report.UsedFallback {
		fmt.Fprintf(w, "   No repaired artifact, validating original file\n")
	} else if report.ValidatedFile != "" {
		fmt.Fprintf(w, "   Repaired file: %s\n", report.ValidatedFile)
	}

	printStage(w, "Validation", report.Validation)
	if v := report.Validity; v != nil {
		fmt.Fprintf(w, "   Coverage: %.1f%% | Regression: %t\n", v.Coverage, v.RegressionDetected)
		printTestRun(w, "unit", v.TestResults.Unit)
		printTestRun(w, "integration", v.TestResults.Integration)
	}

	status := colorRed + "FAILED" + colorReset
	if report.Passed() {
		status = colorGreen + "PASSED" + colorReset
	}
	fmt.Fprintf(w, "\nResult: %s in %s\n", status, report.Duration.Round(time.Millisecond))
}

func printStage(w io.Writer, name string, s pipeline.Stage) {
	switch {
	case s.TaskID == "" && s.Err == nil:
		fmt.Fprintf(w, "\n%s: not run\n", name)
	case s.Err != nil:
		fmt.Fprintf(w, "\n❌ %s [%s]: %v\n", name, shortenTaskID(s.TaskID), s.Err)
	case s.Succeeded():
		fmt.Fprintf(w, "\n✅ %s [%s]\n", name, shortenTaskID(s.TaskID))
	default:
		fmt.Fprintf(w, "\n❌ %s [%s]: %s\n", name, shortenTaskID(s.TaskID), strings.Join(s.Result.Errors, "; "))
	}
}

func printTestRun(w io.Writer, name string, run *pipeline.TestRun) {
	if run == nil {
		return
	}
	switch {
	case run.Skipped:
		fmt.Fprintf(w, "   %s tests: none found\n", name)
	case run.Passed:
		fmt.Fprintf(w, "   %s tests: %d passed (%s)\n", name, run.Tests, run.Duration.Round(time.Millisecond))
	default:
		fmt.Fprintf(w, "   %s tests: %d of %d failed\n", name, run.Failures, run.Tests)
	}
}

// PrintTasks writes task history records as a table
func PrintTasks(w io.Writer, records []*store.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No tasks recorded")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tAGENT\tDURATION\tCREATED")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortenTaskID(r.TaskID), r.Type, r.Status, orDash(r.AssignedTo),
			r.Duration.Round(time.Millisecond), r.CreatedAt.Format(time.DateTime))
	}
	tw.Flush()
}

// PrintAgents writes registered agents and their counters as a table
func PrintAgents(w io.Writer, agents []agent.AgentInfo) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tACTIVE\tDONE\tFAILED\tAVG")
	for _, a := range agents {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
			a.Name, a.State, a.ActiveTasks, a.TasksCompleted, a.TasksFailed, a.AverageRunTime().Round(time.Millisecond))
	}
	tw.Flush()
}

// PrintHealth writes the coordinator summary
func PrintHealth(w io.Writer, h agent.Health) {
	statuses := make([]string, 0, len(h.Tasks))
	for status := range h.Tasks {
		statuses = append(statuses, string(status))
	}
	sort.Strings(statuses)

	counts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		counts = append(counts, fmt.Sprintf("%s=%d", s, h.Tasks[agent.TaskStatus(s)]))
	}
	fmt.Fprintf(w, "Agents: %d | In flight: %d | Tasks: %s\n", h.Agents, h.InFlight, orDash(strings.Join(counts, " ")))
	fmt.Fprintf(w, "Events: %d published, %d delivered, %d dropped, %d failed\n",
		h.Events.Published, h.Events.Delivered, h.Events.Dropped, h.Events.Failed)
}

// shortenTaskID returns the first 8 characters of a task ID for display
func shortenTaskID(taskID string) string {
	if len(taskID) > 8 {
		return taskID[:8]
	}
	return taskID
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
