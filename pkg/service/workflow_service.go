package service

import (
	"fmt"
	"math"
	"time"

	"github.com/ymorita/restrack/pkg/models"
	"github.com/ymorita/restrack/pkg/storage"
)

// Logger defines the logging interface for the workflow services.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

const (
	defaultPriority  = "medium"
	defaultWantLevel = "medium"
	// Schedule allocations below this floor (36 seconds) are skipped.
	minScheduleAllocationHours = 0.01
)

// SubtaskSpec describes one subtask to create during decomposition.
type SubtaskSpec struct {
	Name             string     `json:"name"`
	EstimatedHours   *float64   `json:"estimated_hours,omitempty"`
	AllocatedHours   *float64   `json:"allocated_hours,omitempty"` // Manual override for time allocation
	GenreID          *int64     `json:"genre_id,omitempty"`
	Priority         string     `json:"priority,omitempty"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	DependsOnIndices []int      `json:"depends_on_indices,omitempty"` // Indices into the sibling subtask list
}

// BreakdownRequest asks to decompose one leaf task into subtasks.
type BreakdownRequest struct {
	TaskID          int64         `json:"task_id"`
	Subtasks        []SubtaskSpec `json:"subtasks"`
	Reason          string        `json:"reason,omitempty"`
	ArchiveOriginal bool          `json:"archive_original"`
}

// AllocationSummary reports how much history was redistributed.
type AllocationSummary struct {
	TimeEntriesAllocated        int     `json:"time_entries_allocated"`
	SchedulesAllocated          int     `json:"schedules_allocated"`
	TotalTimeMinutesAllocated   int     `json:"total_time_minutes_allocated"`
	TotalScheduleHoursAllocated float64 `json:"total_schedule_hours_allocated"`
}

// BreakdownResult is the outcome of a decomposition.
type BreakdownResult struct {
	OriginalTask            models.TaskSummary   `json:"original_task"`
	CreatedTasks            []models.TaskSummary `json:"created_tasks"`
	DependenciesTransferred int                  `json:"dependencies_transferred"`
	Allocation              AllocationSummary    `json:"allocation_summary"`
}

// TaskSpec describes a task to create during merge or bulk creation.
type TaskSpec struct {
	Name             string     `json:"name"`
	GenreID          *int64     `json:"genre_id,omitempty"`
	EstimatedHours   *float64   `json:"estimated_hours,omitempty"`
	Priority         string     `json:"priority,omitempty"`
	WantLevel        string     `json:"want_level,omitempty"`
	Deadline         *time.Time `json:"deadline,omitempty"`
	DependsOnIndices []int      `json:"depends_on_indices,omitempty"`
}

// MergeRequest asks to combine two or more sibling tasks into one.
type MergeRequest struct {
	TaskIDs    []int64  `json:"task_ids"`
	MergedTask TaskSpec `json:"merged_task"`
	Reason     string   `json:"reason,omitempty"`
}

// MergeResult is the outcome of a merge.
type MergeResult struct {
	MergedTask                models.TaskSummary `json:"merged_task"`
	ArchivedTasks             []int64            `json:"archived_tasks"`
	TimeEntriesTransferred    int64              `json:"time_entries_transferred"`
	ScheduleBlocksTransferred int64              `json:"schedule_blocks_transferred"`
	DependenciesMerged        int                `json:"dependencies_merged"`
}

// BulkCreateRequest asks to create several tasks plus their mutual
// dependencies atomically.
type BulkCreateRequest struct {
	ProjectID *int64     `json:"project_id,omitempty"`
	Tasks     []TaskSpec `json:"tasks"`
}

// BulkCreateResult is the outcome of a bulk creation.
type BulkCreateResult struct {
	CreatedTasks        []models.TaskSummary `json:"created_tasks"`
	DependenciesCreated int                  `json:"dependencies_created"`
}

// TaskWorkflowService orchestrates decomposition, merge and bulk creation.
// Every public operation runs in one transaction: either all of its created,
// reassigned and archived rows commit together, or none do.
type TaskWorkflowService struct {
	store  storage.Store
	logger Logger
}

func NewTaskWorkflowService(store storage.Store, logger Logger) *TaskWorkflowService {
	return &TaskWorkflowService{store: store, logger: logger}
}

// Breakdown splits one leaf task into subtasks, redistributing its recorded
// time and planned schedule blocks proportionally and rewiring its dependency
// edges. Truncation remainders from the proportional split are deliberately
// left unallocated.
func (s *TaskWorkflowService) Breakdown(req BreakdownRequest) (result BreakdownResult, err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return BreakdownResult{}, err
	}
	defer finishTx(s.logger, txStore, &err)

	original, err := getTask(txStore, req.TaskID)
	if err != nil {
		return BreakdownResult{}, err
	}
	if original.Status == models.ArchiveTaskStatus {
		return BreakdownResult{}, &ValidationError{
			Kind:    AlreadyArchivedValidation,
			Message: fmt.Sprintf("task %d is already archived and cannot be modified", original.ID),
		}
	}
	childCount, err := txStore.CountChildren(original.ID)
	if err != nil {
		return BreakdownResult{}, err
	}
	if childCount > 0 {
		return BreakdownResult{}, &ValidationError{
			Kind: HasChildrenValidation,
			Message: fmt.Sprintf("task %d has %d child task(s) and cannot be broken down; only leaf tasks can",
				original.ID, childCount),
		}
	}
	if len(req.Subtasks) == 0 {
		return BreakdownResult{}, &ValidationError{
			Kind:    EmptyInputValidation,
			Message: "at least one subtask is required",
		}
	}

	proportions, err := allocationProportions(req.Subtasks)
	if err != nil {
		return BreakdownResult{}, err
	}

	created, err := s.createSubtasks(txStore, original, req.Subtasks)
	if err != nil {
		return BreakdownResult{}, err
	}
	createdIDs := make([]int64, len(created))
	for i, t := range created {
		createdIDs[i] = t.ID
	}

	allocation := AllocationSummary{}
	allocation.TimeEntriesAllocated, allocation.TotalTimeMinutesAllocated, err =
		s.allocateTimeEntries(txStore, original.ID, created, proportions)
	if err != nil {
		return BreakdownResult{}, err
	}
	allocation.SchedulesAllocated, allocation.TotalScheduleHoursAllocated, err =
		s.allocateScheduleBlocks(txStore, original.ID, created, proportions)
	if err != nil {
		return BreakdownResult{}, err
	}

	deps := NewDependencyService(txStore, s.logger)
	transferred, err := deps.TransferDependencies(original.ID, createdIDs, TransferToLast)
	if err != nil {
		return BreakdownResult{}, err
	}

	// Explicit inter-subtask dependencies from the spec's index references.
	for i, spec := range req.Subtasks {
		for _, depIndex := range spec.DependsOnIndices {
			if depIndex < 0 || depIndex >= len(created) {
				return BreakdownResult{}, &ValidationError{
					Kind:    IndexOutOfRangeValidation,
					Message: fmt.Sprintf("invalid depends_on_indices: %d is out of range", depIndex),
				}
			}
			if err := deps.AddDependency(createdIDs[i], createdIDs[depIndex]); err != nil {
				return BreakdownResult{}, err
			}
			transferred++
		}
	}

	if req.ArchiveOriginal {
		if err := txStore.UpdateTaskStatus(original.ID, models.ArchiveTaskStatus); err != nil {
			return BreakdownResult{}, err
		}
		original.Status = models.ArchiveTaskStatus
	}

	s.logger.Infof("Broke down task %d into %d subtasks (%d edges rewired)",
		original.ID, len(created), transferred)

	summaries := make([]models.TaskSummary, len(created))
	for i, t := range created {
		summaries[i] = t.Summary()
	}
	return BreakdownResult{
		OriginalTask:            original.Summary(),
		CreatedTasks:            summaries,
		DependenciesTransferred: transferred,
		Allocation:              allocation,
	}, nil
}

// Merge combines two or more tasks of the same project into one new task.
// Time entries and schedule blocks are bulk-reassigned, never split; the
// sources are archived.
func (s *TaskWorkflowService) Merge(req MergeRequest) (result MergeResult, err error) {
	if len(req.TaskIDs) < 2 {
		return MergeResult{}, &ValidationError{
			Kind:    EmptyInputValidation,
			Message: "at least 2 tasks are required for merging",
		}
	}

	txStore, err := s.store.Begin()
	if err != nil {
		return MergeResult{}, err
	}
	defer finishTx(s.logger, txStore, &err)

	sources := make([]models.Task, 0, len(req.TaskIDs))
	for _, id := range req.TaskIDs {
		task, err := getTask(txStore, id)
		if err != nil {
			return MergeResult{}, err
		}
		sources = append(sources, task)
	}
	if err := validateSameProject(sources); err != nil {
		return MergeResult{}, err
	}

	merged := taskFromSpec(req.MergedTask)
	merged.ProjectID = sources[0].ProjectID
	merged.ID, err = txStore.SaveTask(merged)
	if err != nil {
		return MergeResult{}, err
	}

	entriesMoved, err := txStore.ReassignTimeEntries(req.TaskIDs, merged.ID)
	if err != nil {
		return MergeResult{}, err
	}
	blocksMoved, err := txStore.ReassignScheduleBlocks(req.TaskIDs, merged.ID)
	if err != nil {
		return MergeResult{}, err
	}

	deps := NewDependencyService(txStore, s.logger)
	mergedEdges, err := deps.MergeDependencies(req.TaskIDs, merged.ID)
	if err != nil {
		return MergeResult{}, err
	}

	for _, src := range sources {
		if err := txStore.UpdateTaskStatus(src.ID, models.ArchiveTaskStatus); err != nil {
			return MergeResult{}, err
		}
	}

	s.logger.Infof("Merged tasks %v into task %d (%d entries, %d blocks, %d edges)",
		req.TaskIDs, merged.ID, entriesMoved, blocksMoved, mergedEdges)

	return MergeResult{
		MergedTask:                merged.Summary(),
		ArchivedTasks:             req.TaskIDs,
		TimeEntriesTransferred:    entriesMoved,
		ScheduleBlocksTransferred: blocksMoved,
		DependenciesMerged:        mergedEdges,
	}, nil
}

// BulkCreate creates several tasks plus the dependencies expressed as index
// references among them, all in one transaction.
func (s *TaskWorkflowService) BulkCreate(req BulkCreateRequest) (result BulkCreateResult, err error) {
	if len(req.Tasks) == 0 {
		return BulkCreateResult{}, &ValidationError{
			Kind:    EmptyInputValidation,
			Message: "at least one task is required",
		}
	}

	txStore, err := s.store.Begin()
	if err != nil {
		return BulkCreateResult{}, err
	}
	defer finishTx(s.logger, txStore, &err)

	created := make([]models.Task, 0, len(req.Tasks))
	for _, spec := range req.Tasks {
		task := taskFromSpec(spec)
		task.ProjectID = req.ProjectID
		task.ID, err = txStore.SaveTask(task)
		if err != nil {
			return BulkCreateResult{}, err
		}
		created = append(created, task)
	}

	deps := NewDependencyService(txStore, s.logger)
	edges := 0
	for i, spec := range req.Tasks {
		for _, depIndex := range spec.DependsOnIndices {
			if depIndex < 0 || depIndex >= len(created) {
				return BulkCreateResult{}, &ValidationError{
					Kind:    IndexOutOfRangeValidation,
					Message: fmt.Sprintf("invalid depends_on_indices: %d is out of range", depIndex),
				}
			}
			if depIndex == i {
				return BulkCreateResult{}, &ValidationError{
					Kind:    SelfReferenceValidation,
					Message: "task cannot depend on itself",
				}
			}
			if err := deps.AddDependency(created[i].ID, created[depIndex].ID); err != nil {
				return BulkCreateResult{}, err
			}
			edges++
		}
	}

	summaries := make([]models.TaskSummary, len(created))
	for i, t := range created {
		summaries[i] = t.Summary()
	}
	return BulkCreateResult{CreatedTasks: summaries, DependenciesCreated: edges}, nil
}

// AddDependency is the transactional entrypoint for a single edge insert.
func (s *TaskWorkflowService) AddDependency(taskID, dependsOnTaskID int64) (err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return err
	}
	defer finishTx(s.logger, txStore, &err)
	err = NewDependencyService(txStore, s.logger).AddDependency(taskID, dependsOnTaskID)
	return err
}

// RemoveDependency is the transactional entrypoint for a single edge delete.
func (s *TaskWorkflowService) RemoveDependency(taskID, dependsOnTaskID int64) (err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return err
	}
	defer finishTx(s.logger, txStore, &err)
	err = NewDependencyService(txStore, s.logger).RemoveDependency(taskID, dependsOnTaskID)
	return err
}

// GetDependencies returns a task's direct edges in both directions.
func (s *TaskWorkflowService) GetDependencies(taskID int64) (DependencyView, error) {
	return NewDependencyService(s.store, s.logger).GetDependencies(taskID)
}

// ===== Internals =====

// allocationProportions turns subtask specs into fractions summing to 1.
// Manual allocated-hours overrides contribute directly; the remaining
// subtasks use their estimates, or an equal split when none are estimated.
func allocationProportions(subtasks []SubtaskSpec) ([]float64, error) {
	for i, st := range subtasks {
		if st.AllocatedHours != nil && *st.AllocatedHours < 0 {
			return nil, &ValidationError{
				Kind:    NegativeHoursValidation,
				Message: fmt.Sprintf("subtask %d has negative allocated_hours", i),
			}
		}
		if st.EstimatedHours != nil && *st.EstimatedHours < 0 {
			return nil, &ValidationError{
				Kind:    NegativeHoursValidation,
				Message: fmt.Sprintf("subtask %d has negative estimated_hours", i),
			}
		}
	}

	raw := make([]float64, len(subtasks))
	total := 0.0
	var autoIndices []int
	for i, st := range subtasks {
		if st.AllocatedHours != nil {
			raw[i] = *st.AllocatedHours
			total += raw[i]
		} else {
			autoIndices = append(autoIndices, i)
		}
	}

	if len(autoIndices) > 0 {
		autoTotal := 0.0
		for _, i := range autoIndices {
			if subtasks[i].EstimatedHours != nil {
				autoTotal += *subtasks[i].EstimatedHours
			}
		}
		if autoTotal > 0 {
			for _, i := range autoIndices {
				if subtasks[i].EstimatedHours != nil {
					raw[i] = *subtasks[i].EstimatedHours
				}
				total += raw[i]
			}
		} else {
			equal := 1.0 / float64(len(autoIndices))
			for _, i := range autoIndices {
				raw[i] = equal
				total += equal
			}
		}
	}

	if total == 0 {
		proportions := make([]float64, len(subtasks))
		for i := range proportions {
			proportions[i] = 1.0 / float64(len(subtasks))
		}
		return proportions, nil
	}

	proportions := make([]float64, len(subtasks))
	for i, v := range raw {
		proportions[i] = v / total
	}
	return proportions, nil
}

func (s *TaskWorkflowService) createSubtasks(txStore storage.Store, parent models.Task, specs []SubtaskSpec) ([]models.Task, error) {
	created := make([]models.Task, 0, len(specs))
	for _, spec := range specs {
		task := models.Task{
			Name:               spec.Name,
			ProjectID:          parent.ProjectID,
			GenreID:            spec.GenreID,
			Status:             models.TodoTaskStatus,
			Deadline:           spec.Deadline,
			EstimatedHours:     spec.EstimatedHours,
			Priority:           spec.Priority,
			WantLevel:          parent.WantLevel,
			IsSplittable:       parent.IsSplittable,
			MinWorkUnit:        parent.MinWorkUnit,
			ParentTaskID:       &parent.ID,
			DecompositionLevel: parent.DecompositionLevel + 1,
		}
		if task.GenreID == nil {
			task.GenreID = parent.GenreID
		}
		if task.Deadline == nil {
			task.Deadline = parent.Deadline
		}
		if task.Priority == "" {
			task.Priority = defaultPriority
		}
		id, err := txStore.SaveTask(task)
		if err != nil {
			return nil, err
		}
		task.ID = id
		created = append(created, task)
	}
	return created, nil
}

// allocateTimeEntries redistributes the parent's completed time entries. Each
// subtask receives one aggregated entry spanning the parent's recorded window;
// allocations that truncate to zero minutes are skipped.
func (s *TaskWorkflowService) allocateTimeEntries(txStore storage.Store, parentID int64, subtasks []models.Task, proportions []float64) (int, int, error) {
	parentEntries, err := txStore.ListCompletedTimeEntries(parentID)
	if err != nil {
		return 0, 0, err
	}
	if len(parentEntries) == 0 {
		return 0, 0, nil
	}

	totalMinutes := 0
	earliestStart := parentEntries[0].StartTime
	latestEnd := *parentEntries[0].EndTime
	for _, entry := range parentEntries {
		totalMinutes += entry.DurationMinutes
		if entry.StartTime.Before(earliestStart) {
			earliestStart = entry.StartTime
		}
		if entry.EndTime.After(latestEnd) {
			latestEnd = *entry.EndTime
		}
	}
	if totalMinutes == 0 {
		return 0, 0, nil
	}

	createdCount := 0
	totalAllocated := 0
	for i, subtask := range subtasks {
		allocatedMinutes := floorAllocation(float64(totalMinutes) * proportions[i])
		if allocatedMinutes <= 0 {
			continue
		}
		end := latestEnd
		_, err := txStore.SaveTimeEntry(models.TimeEntry{
			TaskID:          subtask.ID,
			StartTime:       earliestStart,
			EndTime:         &end,
			DurationMinutes: allocatedMinutes,
			Note:            fmt.Sprintf("Allocated from parent task breakdown (%.1f%%)", proportions[i]*100),
		})
		if err != nil {
			return 0, 0, err
		}
		createdCount++
		totalAllocated += allocatedMinutes
	}
	return createdCount, totalAllocated, nil
}

// allocateScheduleBlocks copies each parent block to each subtask with scaled
// hours, keeping the date and time window but resetting status to scheduled.
func (s *TaskWorkflowService) allocateScheduleBlocks(txStore storage.Store, parentID int64, subtasks []models.Task, proportions []float64) (int, float64, error) {
	parentBlocks, err := txStore.ListScheduleBlocks(parentID)
	if err != nil {
		return 0, 0, err
	}
	createdCount := 0
	totalAllocated := 0.0
	for _, block := range parentBlocks {
		for i, subtask := range subtasks {
			allocatedHours := block.AllocatedHours * proportions[i]
			if allocatedHours < minScheduleAllocationHours {
				continue
			}
			_, err := txStore.SaveScheduleBlock(models.ScheduleBlock{
				TaskID:          subtask.ID,
				ScheduledDate:   block.ScheduledDate,
				StartTime:       block.StartTime,
				EndTime:         block.EndTime,
				AllocatedHours:  allocatedHours,
				IsGeneratedByAI: block.IsGeneratedByAI,
				Status:          models.ScheduledScheduleStatus,
			})
			if err != nil {
				return 0, 0, err
			}
			createdCount++
			totalAllocated += allocatedHours
		}
	}
	return createdCount, totalAllocated, nil
}

func validateSameProject(tasks []models.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	first := tasks[0].ProjectID
	for _, task := range tasks[1:] {
		if !sameID(first, task.ProjectID) {
			return &ValidationError{
				Kind:    ProjectMismatchValidation,
				Message: "all tasks must belong to the same project",
			}
		}
	}
	return nil
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func taskFromSpec(spec TaskSpec) models.Task {
	task := models.Task{
		Name:           spec.Name,
		GenreID:        spec.GenreID,
		Status:         models.TodoTaskStatus,
		Deadline:       spec.Deadline,
		EstimatedHours: spec.EstimatedHours,
		Priority:       spec.Priority,
		WantLevel:      spec.WantLevel,
		IsSplittable:   true,
		MinWorkUnit:    0.5,
	}
	if task.Priority == "" {
		task.Priority = defaultPriority
	}
	if task.WantLevel == "" {
		task.WantLevel = defaultWantLevel
	}
	return task
}

func getTask(store storage.Store, id int64) (models.Task, error) {
	task, err := store.GetTask(id)
	if err == storage.ErrNotFound {
		return models.Task{}, &NotFoundError{Resource: "task", ID: id}
	}
	return task, err
}

// floorAllocation truncates a proportional allocation, nudged by an epsilon so
// exact thirds of round totals do not lose a unit to float representation.
func floorAllocation(v float64) int {
	return int(math.Floor(v + 1e-9))
}
