package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/flowchain/ccpm/pkg/ccpm"
)

// GenerateExecutionReport renders a human-readable status digest as of
// statusDate: overall completion, buffer fever-chart status, in-progress and
// completed task summaries, the next five upcoming tasks, and the projected
// versus original project end date (spec §4.F "generate_execution_report").
// This is the text the cron DigestScheduler republishes on each project's
// schedule.
func (s *Scheduler) GenerateExecutionReport(statusDate time.Time) string {
	var b strings.Builder

	fmt.Fprintln(&b, "CCPM Project Execution Status Report")
	fmt.Fprintln(&b, "===================================")
	fmt.Fprintf(&b, "Report Date: %s\n", statusDate.Format("2006-01-02"))
	fmt.Fprintf(&b, "Project Start Date: %s\n", s.startDate.Format("2006-01-02"))

	var totalDuration, completedDuration float64
	for _, t := range s.tasks {
		totalDuration += t.PlannedDuration
		completedDuration += t.PlannedDuration - t.RemainingDuration
	}
	if totalDuration > 0 {
		fmt.Fprintf(&b, "Project Completion: %.1f%%\n", completedDuration/totalDuration*100)
	}

	writeBufferStatus(&b, s.buffers)
	s.writeResourceUtilization(&b)
	writeInProgressTasks(&b, s.tasks, statusDate)
	writeCompletedTasks(&b, s.tasks)
	writeUpcomingTasks(&b, s.tasks)
	s.writeProjectedEnd(&b, statusDate)

	return strings.TrimRight(b.String(), "\n")
}

func writeBufferStatus(b *strings.Builder, buffers map[string]*ccpm.Buffer) {
	if len(buffers) == 0 {
		return
	}
	ids := make([]string, 0, len(buffers))
	for id := range buffers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Fprintln(b, "\nBuffer Status:")
	fmt.Fprintln(b, "-------------")
	for _, id := range ids {
		buf := buffers[id]
		label := "Feeding Buffer"
		if buf.Kind == ccpm.BufferProject {
			label = "Project Buffer"
		}
		consumed := buf.Size - buf.RemainingSize

		fmt.Fprintf(b, "%s (%s):\n", label, buf.Name)
		fmt.Fprintf(b, "  Original Size: %.0f days\n", buf.Size)
		fmt.Fprintf(b, "  Consumed: %.0f days (%.1f%%)\n", consumed, buf.ConsumptionPercentage())
		fmt.Fprintf(b, "  Remaining: %.0f days\n", buf.RemainingSize)

		status := "GREEN (Safe)"
		switch buf.Status() {
		case ccpm.BufferYellow:
			status = "YELLOW (Warning)"
		case ccpm.BufferRed:
			status = "RED (Critical)"
		}
		fmt.Fprintf(b, "  Status: %s\n\n", status)
	}
}

// writeResourceUtilization summarizes the daily allocation maps recorded at
// schedule time: total task-days drawn from each resource and its busiest
// day.
func (s *Scheduler) writeResourceUtilization(b *strings.Builder) {
	ids := make([]string, 0, len(s.resources))
	for id, res := range s.resources {
		if len(res.Allocations) > 0 {
			ids = append(ids, string(id))
		}
	}
	if len(ids) == 0 {
		return
	}
	sort.Strings(ids)

	fmt.Fprintln(b, "\nResource Utilization:")
	fmt.Fprintln(b, "--------------------")
	for _, id := range ids {
		res := s.resources[ccpm.ResourceId(id)]

		var totalUnits float64
		peakDay := ""
		peakUnits := 0.0
		days := make([]string, 0, len(res.Allocations))
		for day := range res.Allocations {
			days = append(days, day)
		}
		sort.Strings(days)
		for _, day := range days {
			dayUnits := 0.0
			for _, units := range res.Allocations[day] {
				dayUnits += units
			}
			totalUnits += dayUnits
			if dayUnits > peakUnits {
				peakUnits = dayUnits
				peakDay = day
			}
		}

		fmt.Fprintf(b, "%s (capacity %.1f):\n", id, res.Capacity)
		fmt.Fprintf(b, "  Allocated: %.1f unit-days over %d days\n", totalUnits, len(days))
		fmt.Fprintf(b, "  Busiest Day: %s (%.1f units)\n", peakDay, peakUnits)
	}
}

func writeInProgressTasks(b *strings.Builder, tasks map[ccpm.TaskId]*ccpm.Task, statusDate time.Time) {
	inProgress := filterTasks(tasks, ccpm.TaskInProgress)
	if len(inProgress) == 0 {
		return
	}
	fmt.Fprintln(b, "\nTasks In Progress:")
	fmt.Fprintln(b, "-----------------")
	for _, t := range inProgress {
		fmt.Fprintf(b, "Task %s: %s\n", t.ID, t.Name)
		fmt.Fprintf(b, "  Original Duration: %.0f days\n", t.PlannedDuration)
		fmt.Fprintf(b, "  Remaining Duration: %.0f days\n", t.RemainingDuration)
		if t.OriginalDuration > 0 {
			progress := (t.OriginalDuration - t.RemainingDuration) / t.OriginalDuration * 100
			fmt.Fprintf(b, "  Progress: %.1f%%\n", progress)
		}
		if t.ActualStartDate != nil {
			fmt.Fprintf(b, "  Started On: %s\n", t.ActualStartDate.Format("2006-01-02"))
		}
		fmt.Fprintf(b, "  Expected Completion: %s\n", statusDate.AddDate(0, 0, int(t.RemainingDuration)).Format("2006-01-02"))
		fmt.Fprintln(b)
	}
}

func writeCompletedTasks(b *strings.Builder, tasks map[ccpm.TaskId]*ccpm.Task) {
	completed := filterTasks(tasks, ccpm.TaskCompleted)
	if len(completed) == 0 {
		return
	}
	fmt.Fprintln(b, "\nCompleted Tasks:")
	fmt.Fprintln(b, "---------------")
	fmt.Fprintf(b, "Total Completed: %d of %d\n", len(completed), len(tasks))

	for _, t := range completed {
		fmt.Fprintf(b, "Task %s: %s\n", t.ID, t.Name)
		fmt.Fprintf(b, "  Planned Duration: %.0f days\n", t.PlannedDuration)

		if t.ActualStartDate != nil && t.ActualEndDate != nil {
			actualDuration := int(t.ActualEndDate.Sub(*t.ActualStartDate).Hours() / 24)
			fmt.Fprintf(b, "  Actual Duration: %d days\n", actualDuration)
		}
		if t.ActualStartDate != nil && t.StartDate != nil {
			fmt.Fprintln(b, describeOffset("Started", *t.ActualStartDate, *t.StartDate))
		}
		if t.ActualEndDate != nil && t.EndDate != nil {
			fmt.Fprintln(b, describeOffset("Finished", *t.ActualEndDate, *t.EndDate))
		}
		fmt.Fprintln(b)
	}
}

func describeOffset(verb string, actual, planned time.Time) string {
	days := int(actual.Sub(planned).Hours() / 24)
	switch {
	case days > 0:
		return fmt.Sprintf("  %s %d days late", verb, days)
	case days < 0:
		return fmt.Sprintf("  %s %d days early", verb, -days)
	default:
		return fmt.Sprintf("  %s on schedule", verb)
	}
}

func writeUpcomingTasks(b *strings.Builder, tasks map[ccpm.TaskId]*ccpm.Task) {
	var notStarted []*ccpm.Task
	for _, t := range tasks {
		if t.Status != ccpm.TaskCompleted && t.Status != ccpm.TaskInProgress {
			notStarted = append(notStarted, t)
		}
	}
	if len(notStarted) == 0 {
		return
	}
	sort.Slice(notStarted, func(i, j int) bool {
		return startOf(notStarted[i]).Before(startOf(notStarted[j]))
	})

	fmt.Fprintln(b, "\nUpcoming Tasks:")
	fmt.Fprintln(b, "--------------")

	limit := 5
	if len(notStarted) < limit {
		limit = len(notStarted)
	}
	for _, t := range notStarted[:limit] {
		fmt.Fprintf(b, "Task %s: %s\n", t.ID, t.Name)
		fmt.Fprintf(b, "  Planned Duration: %.0f days\n", t.PlannedDuration)
		fmt.Fprintf(b, "  Scheduled Start: %s\n", startOf(t).Format("2006-01-02"))

		if len(t.Resources) > 0 {
			ids := make([]string, 0, len(t.Resources))
			for r := range t.Resources {
				ids = append(ids, string(r))
			}
			sort.Strings(ids)
			fmt.Fprintf(b, "  Resources: %s\n", strings.Join(ids, ", "))
		}
		if t.ChainID != "" {
			label := "Feeding Chain"
			if t.ChainKind == ccpm.ChainKindCritical {
				label = "Critical Chain"
			}
			fmt.Fprintf(b, "  Chain: %s (%s)\n", label, t.ChainID)
		}
		fmt.Fprintln(b)
	}
}

func startOf(t *ccpm.Task) time.Time {
	if t.NewStartDate != nil {
		return *t.NewStartDate
	}
	if t.StartDate != nil {
		return *t.StartDate
	}
	return time.Time{}
}

func (s *Scheduler) writeProjectedEnd(b *strings.Builder, statusDate time.Time) {
	var projectBuffer *ccpm.Buffer
	for _, buf := range s.buffers {
		if buf.Kind == ccpm.BufferProject {
			projectBuffer = buf
			break
		}
	}
	if projectBuffer == nil {
		return
	}

	var projectedEnd time.Time
	if projectBuffer.NewEndDate != nil {
		projectedEnd = *projectBuffer.NewEndDate
	} else if projectBuffer.EndDate != nil {
		projectedEnd = *projectBuffer.EndDate
	} else {
		return
	}

	fmt.Fprintf(b, "\nProjected End Date: %s\n", projectedEnd.Format("2006-01-02"))

	if projectBuffer.EndDate == nil {
		return
	}
	originalEnd := *projectBuffer.EndDate
	days := int(projectedEnd.Sub(originalEnd).Hours() / 24)
	switch {
	case days > 0:
		fmt.Fprintf(b, "Project is currently %d days behind schedule\n", days)
	case days < 0:
		fmt.Fprintf(b, "Project is currently %d days ahead of schedule\n", -days)
	default:
		fmt.Fprintln(b, "Project is currently on schedule")
	}
}

func filterTasks(tasks map[ccpm.TaskId]*ccpm.Task, status ccpm.TaskStatus) []*ccpm.Task {
	var out []*ccpm.Task
	for _, t := range tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
