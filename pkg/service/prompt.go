package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const scheduleSystemPrompt = `You are a research time management assistant. You produce optimized weekly schedules.
Output only a valid JSON array. No explanatory text.

Scheduling rules:
1. Never exceed the available hours of any day.
2. Schedule high-priority tasks first.
3. Respect task dependencies (a dependent task starts after its prerequisites).
4. Prefer tasks with near deadlines.
5. Minimize context switching (group work on the same project).
6. Avoid the blocked time windows of fixed events.
7. Never allocate less than a task's min_work_unit in one sitting.
8. Try to cover every task's remaining_hours.

Output format (JSON array only):
[
  {
    "task_id": 1,
    "date": "2025-01-13",
    "start_time": "09:00",
    "end_time": "12:00",
    "allocated_hours": 3.0,
    "reasoning": "high priority, deadline approaching"
  }
]`

type promptTask struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Project        string  `json:"project,omitempty"`
	Genre          string  `json:"genre,omitempty"`
	Priority       string  `json:"priority"`
	WantLevel      string  `json:"want_level"`
	Deadline       *string `json:"deadline"`
	RemainingHours float64 `json:"remaining_hours"`
	IsSplittable   bool    `json:"is_splittable"`
	MinWorkUnit    float64 `json:"min_work_unit"`
}

// buildUserPrompt serializes the schedulable tasks, their dependency map and
// the user's preferences into the request context for the reasoning service.
func buildUserPrompt(tasks []schedulableTask, dependencies map[int64][]int64, prefs SchedulePreferences, fixedEvents []FixedEvent, weekStart, weekEnd time.Time) (string, error) {
	days := []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
	hours := prefs.DailyHours.week()
	var dailyLines []string
	for i, day := range days {
		dailyLines = append(dailyLines, fmt.Sprintf("- %s: %.1f hours", day, hours[i]))
	}

	fixedStr := "none"
	if len(fixedEvents) > 0 {
		var eventLines []string
		for _, e := range fixedEvents {
			eventLines = append(eventLines, fmt.Sprintf("- %s %s-%s: %s",
				e.Date.Format("2006-01-02"), e.StartTime, e.EndTime, e.Title))
		}
		fixedStr = strings.Join(eventLines, "\n")
	}

	promptTasks := make([]promptTask, 0, len(tasks))
	for _, t := range tasks {
		pt := promptTask{
			ID:             t.task.ID,
			Name:           t.task.Name,
			Project:        t.projectName,
			Genre:          t.genreName,
			Priority:       t.task.Priority,
			WantLevel:      t.task.WantLevel,
			RemainingHours: t.remainingHours,
			IsSplittable:   t.task.IsSplittable,
			MinWorkUnit:    t.task.MinWorkUnit,
		}
		if t.task.Deadline != nil {
			d := t.task.Deadline.Format(time.RFC3339)
			pt.Deadline = &d
		}
		promptTasks = append(promptTasks, pt)
	}
	tasksJSON, err := json.MarshalIndent(promptTasks, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal tasks: %w", err)
	}

	deps := make(map[string][]int64)
	for taskID, depIDs := range dependencies {
		if len(depIDs) > 0 {
			deps[fmt.Sprintf("%d", taskID)] = depIDs
		}
	}
	depsJSON, err := json.Marshal(deps)
	if err != nil {
		return "", fmt.Errorf("marshal dependencies: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Generate a weekly schedule.\n\n")
	fmt.Fprintf(&b, "## Period\n%s (Mon) - %s (Sun)\n\n",
		weekStart.Format("2006-01-02"), weekEnd.Format("2006-01-02"))
	fmt.Fprintf(&b, "## Available hours per weekday\n%s\n\n", strings.Join(dailyLines, "\n"))
	fmt.Fprintf(&b, "## Fixed events (blocked time windows)\n%s\n\n", fixedStr)
	fmt.Fprintf(&b, "## Tasks\n%s\n\n", tasksJSON)
	fmt.Fprintf(&b, "## Dependencies (task_id: [depends_on_task_ids])\n%s\n\n", depsJSON)
	fmt.Fprintf(&b, "## Additional settings\n")
	fmt.Fprintf(&b, "- Max hours per task per day: %.1f\n", prefs.MaxHoursPerTaskPerDay)
	fmt.Fprintf(&b, "- Avoid context switching: %t\n", prefs.AvoidContextSwitch)
	if prefs.FocusProjectID != nil {
		fmt.Fprintf(&b, "- Focus project: ID=%d\n", *prefs.FocusProjectID)
	}
	fmt.Fprintf(&b, "\nOutput only the JSON array.")
	return b.String(), nil
}

// stripCodeFences removes one outer markdown code fence the reasoning service
// sometimes wraps its JSON in.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}
