package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ymorita/restrack/pkg/models"
	"github.com/ymorita/restrack/pkg/storage"
)

// ReasoningClient is the boundary to the external reasoning service. The
// response is freeform text expected to contain one JSON array of schedule
// entries, optionally fenced.
type ReasoningClient interface {
	GenerateSchedule(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// DailyHours is the configured work capacity per weekday.
type DailyHours struct {
	Mon float64 `json:"mon"`
	Tue float64 `json:"tue"`
	Wed float64 `json:"wed"`
	Thu float64 `json:"thu"`
	Fri float64 `json:"fri"`
	Sat float64 `json:"sat"`
	Sun float64 `json:"sun"`
}

// week returns the capacities ordered Monday first.
func (d DailyHours) week() [7]float64 {
	return [7]float64{d.Mon, d.Tue, d.Wed, d.Thu, d.Fri, d.Sat, d.Sun}
}

// forDate returns the capacity of the weekday the date falls on.
func (d DailyHours) forDate(t time.Time) float64 {
	// time.Weekday starts at Sunday.
	idx := (int(t.Weekday()) + 6) % 7
	return d.week()[idx]
}

// DefaultDailyHours allows six working hours every day.
func DefaultDailyHours() DailyHours {
	return DailyHours{Mon: 6, Tue: 6, Wed: 6, Thu: 6, Fri: 6, Sat: 6, Sun: 6}
}

// SchedulePreferences tune the generated schedule.
type SchedulePreferences struct {
	DailyHours            DailyHours `json:"daily_hours"`
	MaxHoursPerTaskPerDay float64    `json:"max_hours_per_task_per_day"`
	AvoidContextSwitch    bool       `json:"avoid_context_switch"`
	FocusProjectID        *int64     `json:"focus_project_id,omitempty"`
}

// FixedEvent is a blocked time window the scheduler must avoid.
type FixedEvent struct {
	Date      time.Time `json:"date"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	Title     string    `json:"title"`
}

// GenerateWeeklyRequest asks for an AI-proposed schedule for one week.
type GenerateWeeklyRequest struct {
	WeekStart     time.Time           `json:"week_start"`
	Preferences   SchedulePreferences `json:"preferences"`
	FixedEvents   []FixedEvent        `json:"fixed_events,omitempty"`
	ClearExisting bool                `json:"clear_existing"`
}

// ScheduleEntry is one persisted block enriched with task details.
type ScheduleEntry struct {
	ID              int64   `json:"id"`
	TaskID          int64   `json:"task_id"`
	TaskName        string  `json:"task_name"`
	ProjectName     string  `json:"project_name,omitempty"`
	GenreName       string  `json:"genre_name,omitempty"`
	Date            string  `json:"date"`
	StartTime       string  `json:"start_time,omitempty"`
	EndTime         string  `json:"end_time,omitempty"`
	AllocatedHours  float64 `json:"allocated_hours"`
	IsGeneratedByAI bool    `json:"is_generated_by_ai"`
}

// HoursSummaryItem aggregates planned hours per project or genre.
type HoursSummaryItem struct {
	ID    *int64  `json:"id"`
	Name  string  `json:"name"`
	Hours float64 `json:"hours"`
}

// ScheduleSummary totals the planned hours of one generation.
type ScheduleSummary struct {
	TotalPlannedHours float64            `json:"total_planned_hours"`
	ByProject         []HoursSummaryItem `json:"by_project"`
	ByGenre           []HoursSummaryItem `json:"by_genre"`
}

// WeeklyScheduleResponse is the outcome of a weekly generation. Warnings are
// advisory: the proposal is persisted even when constraints are violated.
type WeeklyScheduleResponse struct {
	WeekStart time.Time       `json:"week_start"`
	WeekEnd   time.Time       `json:"week_end"`
	Schedules []ScheduleEntry `json:"schedules"`
	Summary   ScheduleSummary `json:"summary"`
	Warnings  []string        `json:"warnings"`
}

// schedulableTask is a task prepared for scheduling, with hours derived from
// its time entries.
type schedulableTask struct {
	task           models.Task
	projectName    string
	genreName      string
	estimatedHours float64
	actualHours    float64
	remainingHours float64
}

// parsedEntry is one validated element of the reasoning service's response.
type parsedEntry struct {
	taskID         int64
	date           time.Time
	startTime      *time.Time
	endTime        *time.Time
	allocatedHours float64
	reasoning      string
}

// ScheduleService generates weekly schedules by consulting the external
// reasoning service and validating its proposal against capacity, dependency
// and deadline constraints. Validation findings are warnings, never errors:
// the proposal is advisory, not authoritative.
type ScheduleService struct {
	store  storage.Store
	client ReasoningClient
	logger Logger
}

func NewScheduleService(store storage.Store, client ReasoningClient, logger Logger) *ScheduleService {
	return &ScheduleService{store: store, client: client, logger: logger}
}

// GenerateWeekly produces and persists a schedule for the week starting at
// req.WeekStart. The whole call runs in one transaction; an unparsable
// response aborts it with nothing persisted.
func (s *ScheduleService) GenerateWeekly(ctx context.Context, req GenerateWeeklyRequest) (resp WeeklyScheduleResponse, err error) {
	if s.client == nil {
		return WeeklyScheduleResponse{}, &ServiceUnavailableError{
			Service: "reasoning service",
			Reason:  "no client configured (missing API credential)",
		}
	}

	weekStart := req.WeekStart
	weekEnd := weekStart.AddDate(0, 0, 6)

	txStore, err := s.store.Begin()
	if err != nil {
		return WeeklyScheduleResponse{}, err
	}
	defer finishTx(s.logger, txStore, &err)

	if req.ClearExisting {
		cleared, err := txStore.DeleteGeneratedScheduleBlocks(weekStart, weekEnd)
		if err != nil {
			return WeeklyScheduleResponse{}, err
		}
		if cleared > 0 {
			s.logger.Infof("Cleared %d previously generated schedule blocks", cleared)
		}
	}

	tasks, err := s.gatherSchedulableTasks(txStore)
	if err != nil {
		return WeeklyScheduleResponse{}, err
	}
	if len(tasks) == 0 {
		return WeeklyScheduleResponse{
			WeekStart: weekStart,
			WeekEnd:   weekEnd,
			Schedules: []ScheduleEntry{},
			Summary:   ScheduleSummary{ByProject: []HoursSummaryItem{}, ByGenre: []HoursSummaryItem{}},
			Warnings:  []string{"no schedulable tasks to plan"},
		}, nil
	}

	dependencies, err := s.gatherDependencies(txStore, tasks)
	if err != nil {
		return WeeklyScheduleResponse{}, err
	}

	userPrompt, err := buildUserPrompt(tasks, dependencies, req.Preferences, req.FixedEvents, weekStart, weekEnd)
	if err != nil {
		return WeeklyScheduleResponse{}, err
	}

	responseText, err := s.client.GenerateSchedule(ctx, scheduleSystemPrompt, userPrompt)
	if err != nil {
		return WeeklyScheduleResponse{}, err
	}

	entries, err := s.parseResponse(responseText, tasks)
	if err != nil {
		return WeeklyScheduleResponse{}, err
	}

	warnings := s.validateSchedule(entries, tasks, req.Preferences, dependencies)

	blocks := make([]models.ScheduleBlock, 0, len(entries))
	for _, entry := range entries {
		block := models.ScheduleBlock{
			TaskID:          entry.taskID,
			ScheduledDate:   entry.date,
			StartTime:       entry.startTime,
			EndTime:         entry.endTime,
			AllocatedHours:  entry.allocatedHours,
			IsGeneratedByAI: true,
			Status:          models.ScheduledScheduleStatus,
		}
		block.ID, err = txStore.SaveScheduleBlock(block)
		if err != nil {
			return WeeklyScheduleResponse{}, err
		}
		blocks = append(blocks, block)
	}

	s.logger.Infof("Generated %d schedule blocks for week of %s (%d warnings)",
		len(blocks), weekStart.Format("2006-01-02"), len(warnings))

	return WeeklyScheduleResponse{
		WeekStart: weekStart,
		WeekEnd:   weekEnd,
		Schedules: buildScheduleEntries(blocks, tasks),
		Summary:   buildSummary(blocks, tasks),
		Warnings:  warnings,
	}, nil
}

// gatherSchedulableTasks returns active tasks with positive remaining hours.
// Tasks without an estimate default to one hour, as a nudge to schedule them
// at least once.
func (s *ScheduleService) gatherSchedulableTasks(txStore storage.Store) ([]schedulableTask, error) {
	active, err := txStore.ListActiveTasks()
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(active))
	for i, t := range active {
		ids[i] = t.ID
	}
	actualMinutes, err := txStore.ActualMinutesByTask(ids)
	if err != nil {
		return nil, err
	}

	var projectIDs, genreIDs []int64
	for _, t := range active {
		if t.ProjectID != nil {
			projectIDs = append(projectIDs, *t.ProjectID)
		}
		if t.GenreID != nil {
			genreIDs = append(genreIDs, *t.GenreID)
		}
	}
	projectNames, err := txStore.ProjectNames(projectIDs)
	if err != nil {
		return nil, err
	}
	genreNames, err := txStore.GenreNames(genreIDs)
	if err != nil {
		return nil, err
	}

	var out []schedulableTask
	for _, t := range active {
		estimated := 1.0
		if t.EstimatedHours != nil {
			estimated = *t.EstimatedHours
		}
		actual := float64(actualMinutes[t.ID]) / 60.0
		remaining := estimated - actual
		if remaining <= 0 {
			continue
		}
		st := schedulableTask{
			task:           t,
			estimatedHours: estimated,
			actualHours:    actual,
			remainingHours: remaining,
		}
		if t.ProjectID != nil {
			st.projectName = projectNames[*t.ProjectID]
		}
		if t.GenreID != nil {
			st.genreName = genreNames[*t.GenreID]
		}
		out = append(out, st)
	}
	return out, nil
}

// gatherDependencies returns the dependency adjacency restricted to the
// schedulable id set.
func (s *ScheduleService) gatherDependencies(txStore storage.Store, tasks []schedulableTask) (map[int64][]int64, error) {
	inSet := make(map[int64]struct{}, len(tasks))
	for _, t := range tasks {
		inSet[t.task.ID] = struct{}{}
	}
	dependencies := make(map[int64][]int64, len(tasks))
	for _, t := range tasks {
		depIDs, err := txStore.ListDependsOn(t.task.ID)
		if err != nil {
			return nil, err
		}
		var filtered []int64
		for _, id := range depIDs {
			if _, ok := inSet[id]; ok {
				filtered = append(filtered, id)
			}
		}
		dependencies[t.task.ID] = filtered
	}
	return dependencies, nil
}

// parseResponse decodes the reasoning service's text into schedule entries.
// The response must contain one JSON array; individual malformed elements or
// unknown task ids are dropped with a warning instead of failing the call.
func (s *ScheduleService) parseResponse(responseText string, tasks []schedulableTask) ([]parsedEntry, error) {
	known := make(map[int64]struct{}, len(tasks))
	for _, t := range tasks {
		known[t.task.ID] = struct{}{}
	}

	text := stripCodeFences(responseText)
	if !gjson.Valid(text) {
		return nil, &ValidationError{
			Kind:    UnparsableResponseValidation,
			Message: "reasoning service response is not valid JSON",
		}
	}
	root := gjson.Parse(text)
	if !root.IsArray() {
		return nil, &ValidationError{
			Kind:    UnparsableResponseValidation,
			Message: "reasoning service response is not a JSON array",
		}
	}

	var entries []parsedEntry
	root.ForEach(func(_, item gjson.Result) bool {
		taskID := item.Get("task_id")
		if taskID.Type != gjson.Number {
			s.logger.Warnf("Skipping schedule entry without numeric task_id: %s", item.Raw)
			return true
		}
		if _, ok := known[taskID.Int()]; !ok {
			s.logger.Warnf("Unknown task_id in schedule response: %d", taskID.Int())
			return true
		}
		date, ok := parseDate(item.Get("date").String())
		if !ok {
			s.logger.Warnf("Skipping schedule entry with invalid date: %s", item.Raw)
			return true
		}
		hours, ok := parseHours(item.Get("allocated_hours"))
		if !ok {
			s.logger.Warnf("Skipping schedule entry with invalid allocated_hours: %s", item.Raw)
			return true
		}
		entry := parsedEntry{
			taskID:         taskID.Int(),
			date:           date,
			allocatedHours: hours,
			reasoning:      item.Get("reasoning").String(),
		}
		entry.startTime = parseTimeOfDay(item.Get("start_time").String(), date)
		entry.endTime = parseTimeOfDay(item.Get("end_time").String(), date)
		entries = append(entries, entry)
		return true
	})
	return entries, nil
}

// validateSchedule checks the proposal against capacity, coverage, dependency
// order and deadlines. All findings are warnings.
func (s *ScheduleService) validateSchedule(entries []parsedEntry, tasks []schedulableTask, prefs SchedulePreferences, dependencies map[int64][]int64) []string {
	var warnings []string
	taskByID := make(map[int64]schedulableTask, len(tasks))
	for _, t := range tasks {
		taskByID[t.task.ID] = t
	}

	// Per-day capacity.
	hoursByDate := map[string]float64{}
	limitByDate := map[string]float64{}
	for _, e := range entries {
		key := e.date.Format("2006-01-02")
		hoursByDate[key] += e.allocatedHours
		limitByDate[key] = prefs.DailyHours.forDate(e.date)
	}
	for _, key := range sortedStringKeys(hoursByDate) {
		if hoursByDate[key] > limitByDate[key] {
			warnings = append(warnings, fmt.Sprintf(
				"%s is over capacity: %.1fh planned, %.1fh available", key, hoursByDate[key], limitByDate[key]))
		}
	}

	// Per-task coverage of remaining hours.
	scheduledHours := map[int64]float64{}
	for _, e := range entries {
		scheduledHours[e.taskID] += e.allocatedHours
	}
	for _, t := range tasks {
		if deficit := t.remainingHours - scheduledHours[t.task.ID]; deficit > 1e-9 {
			warnings = append(warnings, fmt.Sprintf(
				"task %q has %.1fh of remaining work unscheduled", t.task.Name, deficit))
		}
	}

	// Dependency order, comparing earliest occurrence dates only.
	firstDate := map[int64]time.Time{}
	for _, e := range entries {
		if current, ok := firstDate[e.taskID]; !ok || e.date.Before(current) {
			firstDate[e.taskID] = e.date
		}
	}
	for _, t := range tasks {
		taskID := t.task.ID
		taskStart, ok := firstDate[taskID]
		if !ok {
			continue
		}
		for _, depID := range dependencies[taskID] {
			depStart, ok := firstDate[depID]
			if !ok {
				continue
			}
			if !depStart.Before(taskStart) {
				warnings = append(warnings, fmt.Sprintf(
					"dependency order violation: %q should start after %q completes",
					t.task.Name, taskByID[depID].task.Name))
			}
		}
	}

	// Deadlines.
	for _, t := range tasks {
		if t.task.Deadline == nil {
			continue
		}
		var lastDate *time.Time
		for _, e := range entries {
			if e.taskID != t.task.ID {
				continue
			}
			if lastDate == nil || e.date.After(*lastDate) {
				d := e.date
				lastDate = &d
			}
		}
		if lastDate != nil && lastDate.After(*t.task.Deadline) {
			warnings = append(warnings, fmt.Sprintf(
				"task %q is scheduled past its deadline (%s)",
				t.task.Name, t.task.Deadline.Format("2006-01-02")))
		}
	}

	return warnings
}

func buildSummary(blocks []models.ScheduleBlock, tasks []schedulableTask) ScheduleSummary {
	taskByID := make(map[int64]schedulableTask, len(tasks))
	for _, t := range tasks {
		taskByID[t.task.ID] = t
	}

	summary := ScheduleSummary{ByProject: []HoursSummaryItem{}, ByGenre: []HoursSummaryItem{}}
	type bucket struct {
		id    *int64
		name  string
		hours float64
	}
	projects := map[int64]*bucket{}
	genres := map[int64]*bucket{}
	bucketFor := func(m map[int64]*bucket, id *int64, name string) *bucket {
		key := int64(0)
		if id != nil {
			key = *id
		}
		b, ok := m[key]
		if !ok {
			if name == "" {
				name = "uncategorized"
			}
			b = &bucket{id: id, name: name}
			m[key] = b
		}
		return b
	}

	for _, block := range blocks {
		t, ok := taskByID[block.TaskID]
		if !ok {
			continue
		}
		summary.TotalPlannedHours += block.AllocatedHours
		bucketFor(projects, t.task.ProjectID, t.projectName).hours += block.AllocatedHours
		bucketFor(genres, t.task.GenreID, t.genreName).hours += block.AllocatedHours
	}

	for _, key := range sortedKeys(setOfKeys(projects)) {
		b := projects[key]
		summary.ByProject = append(summary.ByProject, HoursSummaryItem{ID: b.id, Name: b.name, Hours: b.hours})
	}
	for _, key := range sortedKeys(setOfKeys(genres)) {
		b := genres[key]
		summary.ByGenre = append(summary.ByGenre, HoursSummaryItem{ID: b.id, Name: b.name, Hours: b.hours})
	}
	return summary
}

func buildScheduleEntries(blocks []models.ScheduleBlock, tasks []schedulableTask) []ScheduleEntry {
	taskByID := make(map[int64]schedulableTask, len(tasks))
	for _, t := range tasks {
		taskByID[t.task.ID] = t
	}
	entries := make([]ScheduleEntry, 0, len(blocks))
	for _, block := range blocks {
		t := taskByID[block.TaskID]
		entry := ScheduleEntry{
			ID:              block.ID,
			TaskID:          block.TaskID,
			TaskName:        t.task.Name,
			ProjectName:     t.projectName,
			GenreName:       t.genreName,
			Date:            block.ScheduledDate.Format("2006-01-02"),
			AllocatedHours:  block.AllocatedHours,
			IsGeneratedByAI: block.IsGeneratedByAI,
		}
		if block.StartTime != nil {
			entry.StartTime = block.StartTime.Format("15:04")
		}
		if block.EndTime != nil {
			entry.EndTime = block.EndTime.Format("15:04")
		}
		entries = append(entries, entry)
	}
	return entries
}

func parseDate(s string) (time.Time, bool) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func parseHours(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.Number:
		return v.Float(), true
	case gjson.String:
		f, err := strconv.ParseFloat(v.String(), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// parseTimeOfDay combines an "HH:MM" string with a base date. "24:00" rolls
// over to midnight of the next day. Invalid values yield nil.
func parseTimeOfDay(s string, base time.Time) *time.Time {
	if s == "" {
		return nil
	}
	if s == "24:00" {
		t := time.Date(base.Year(), base.Month(), base.Day(), 0, 0, 0, 0, base.Location()).AddDate(0, 0, 1)
		return &t
	}
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return nil
	}
	t := time.Date(base.Year(), base.Month(), base.Day(), parsed.Hour(), parsed.Minute(), 0, 0, base.Location())
	return &t
}

func setOfKeys[T any](m map[int64]T) map[int64]struct{} {
	out := make(map[int64]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

func sortedStringKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
