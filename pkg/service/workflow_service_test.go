package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ymorita/restrack/pkg/models"
	"github.com/ymorita/restrack/pkg/service"
	"github.com/ymorita/restrack/pkg/storage"
)

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func addCompletedEntry(t *testing.T, store storage.Store, taskID int64, start time.Time, minutes int) {
	t.Helper()
	end := start.Add(time.Duration(minutes) * time.Minute)
	_, err := store.SaveTimeEntry(models.TimeEntry{
		TaskID:          taskID,
		StartTime:       start,
		EndTime:         &end,
		DurationMinutes: minutes,
	})
	assert.NoError(t, err)
}

func TestBreakdown(t *testing.T) {

	t.Run("ProportionalTimeAllocationByEstimate", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTaskWorkflowService(store, logger{})
		parent := newTask(t, store, "write paper")

		start := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
		addCompletedEntry(t, store, parent, start, 60)
		addCompletedEntry(t, store, parent, start.Add(2*time.Hour), 30)

		result, err := svc.Breakdown(service.BreakdownRequest{
			TaskID: parent,
			Subtasks: []service.SubtaskSpec{
				{Name: "outline", EstimatedHours: f64(1)},
				{Name: "draft", EstimatedHours: f64(2)},
			},
		})
		assert.NoError(t, err)
		assert.Len(t, result.CreatedTasks, 2)
		assert.Equal(t, 2, result.Allocation.TimeEntriesAllocated)
		// 90 recorded minutes split 1:2.
		assert.Equal(t, 90, result.Allocation.TotalTimeMinutesAllocated)

		outline, err := store.ListCompletedTimeEntries(result.CreatedTasks[0].ID)
		assert.NoError(t, err)
		assert.Len(t, outline, 1)
		assert.Equal(t, 30, outline[0].DurationMinutes)
		assert.Equal(t, start, outline[0].StartTime)
		assert.Contains(t, outline[0].Note, "33.3%")

		draft, err := store.ListCompletedTimeEntries(result.CreatedTasks[1].ID)
		assert.NoError(t, err)
		assert.Len(t, draft, 1)
		assert.Equal(t, 60, draft[0].DurationMinutes)
	})

	t.Run("EqualSplitLeavesTruncationRemainderUnallocated", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTaskWorkflowService(store, logger{})
		parent := newTask(t, store, "experiments")

		start := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
		addCompletedEntry(t, store, parent, start, 100)

		result, err := svc.Breakdown(service.BreakdownRequest{
			TaskID: parent,
			Subtasks: []service.SubtaskSpec{
				{Name: "setup"}, {Name: "run"}, {Name: "analyze"},
			},
		})
		assert.NoError(t, err)
		// floor(100/3) each; the odd minute is dropped, never double-counted.
		assert.Equal(t, 99, result.Allocation.TotalTimeMinutesAllocated)
		for _, created := range result.CreatedTasks {
			entries, err := store.ListCompletedTimeEntries(created.ID)
			assert.NoError(t, err)
			assert.Len(t, entries, 1)
			assert.Equal(t, 33, entries[0].DurationMinutes)
		}
	})

	t.Run("ManualAllocationOverridesEstimates", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTaskWorkflowService(store, logger{})
		parent := newTask(t, store, "reading")

		start := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
		addCompletedEntry(t, store, parent, start, 100)

		result, err := svc.Breakdown(service.BreakdownRequest{
			TaskID: parent,
			Subtasks: []service.SubtaskSpec{
				{Name: "skim", AllocatedHours: f64(3), EstimatedHours: f64(10)},
				{Name: "deep read", AllocatedHours: f64(1)},
			},
		})
		assert.NoError(t, err)
		entries, err := store.ListCompletedTimeEntries(result.CreatedTasks[0].ID)
		assert.NoError(t, err)
		assert.Equal(t, 75, entries[0].DurationMinutes)
	})

	t.Run("ZeroShareSkipped", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTaskWorkflowService(store, logger{})
		parent := newTask(t, store, "small task")

		start := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
		addCompletedEntry(t, store, parent, start, 10)

		result, err := svc.Breakdown(service.BreakdownRequest{
			TaskID: parent,
			Subtasks: []service.SubtaskSpec{
				{Name: "almost everything", AllocatedHours: f64(99.9)},
				{Name: "sliver", AllocatedHours: f64(0.1)},
			},
		})
		assert.NoError(t, err)
		// 10 * 0.001 truncates to zero minutes: no entry is written.
		assert.Equal(t, 1, result.Allocation.TimeEntriesAllocated)
		entries, err := store.ListCompletedTimeEntries(result.CreatedTasks[1].ID)
		assert.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("ScheduleBlocksCopiedAndScaled", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTaskWorkflowService(store, logger{})
		parent := newTask(t, store, "analysis")

		date := time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC)
		_, err := store.SaveScheduleBlock(models.ScheduleBlock{
			TaskID:         parent,
			ScheduledDate:  date,
			AllocatedHours: 4,
			Status:         models.CompletedScheduleStatus,
		})
		assert.NoError(t, err)

		result, err := svc.Breakdown(service.BreakdownRequest{
			TaskID: parent,
			Subtasks: []service.SubtaskSpec{
				{Name: "clean data", EstimatedHours: f64(1)},
				{Name: "plot", EstimatedHours: f64(3)},
			},
		})
		assert.NoError(t, err)
		assert.Equal(t, 2, result.Allocation.SchedulesAllocated)
		assert.InDelta(t, 4.0, result.Allocation.TotalScheduleHoursAllocated, 1e-9)

		blocks, err := store.ListScheduleBlocks(result.CreatedTasks[0].ID)
		assert.NoError(t, err)
		assert.Len(t, blocks, 1)
		assert.InDelta(t, 1.0, blocks[0].AllocatedHours, 1e-9)
		assert.Equal(t, date, blocks[0].ScheduledDate)
		// Copies start fresh regardless of the parent block's status.
		assert.Equal(t, models.ScheduledScheduleStatus, blocks[0].Status)
	})

	t.Run("SubtasksInheritParentFields", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTaskWorkflowService(store, logger{})
		deadline := time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)
		projID, err := store.SaveProject(models.Project{Name: "thesis", IsActive: true})
		assert.NoError(t, err)
		parentID, err := store.SaveTask(models.Task{
			Name:         "chapter 2",
			ProjectID:    &projID,
			Status:       models.TodoTaskStatus,
			Deadline:     &deadline,
			Priority:     "high",
			WantLevel:    "high",
			IsSplittable: true,
			MinWorkUnit:  0.5,
		})
		assert.NoError(t, err)

		result, err := svc.Breakdown(service.BreakdownRequest{
			TaskID:   parentID,
			Subtasks: []service.SubtaskSpec{{Name: "related work"}},
		})
		assert.NoError(t, err)

		child, err := store.GetTask(result.CreatedTasks[0].ID)
		assert.NoError(t, err)
		assert.Equal(t, &projID, child.ProjectID)
		assert.Equal(t, &deadline, child.Deadline)
		assert.Equal(t, "high", child.WantLevel)
		assert.Equal(t, "medium", child.Priority) // not inherited, defaulted
		assert.Equal(t, &parentID, child.ParentTaskID)
		assert.Equal(t, 1, child.DecompositionLevel)
	})

	t.Run("DependenciesRewiredToLast", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTaskWorkflowService(store, logger{})
		upstream := newTask(t, store, "upstream")
		parent := newTask(t, store, "parent")
		downstream := newTask(t, store, "downstream")
		assert.NoError(t, svc.AddDependency(parent, upstream))
		assert.NoError(t, svc.AddDependency(downstream, parent))

		result, err := svc.Breakdown(service.BreakdownRequest{
			TaskID: parent,
			Subtasks: []service.SubtaskSpec{
				{Name: "first"},
				{Name: "second", DependsOnIndices: []int{0}},
			},
			ArchiveOriginal: true,
		})
		assert.NoError(t, err)
		assert.Equal(t, 4, result.DependenciesTransferred)

		second, err := svc.GetDependencies(result.CreatedTasks[1].ID)
		assert.NoError(t, err)
		// Inherits upstream, waits on its sibling, blocks downstream.
		assert.Len(t, second.DependsOn, 2)
		assert.Len(t, second.Blocking, 1)

		archived, err := store.GetTask(parent)
		assert.NoError(t, err)
		assert.Equal(t, models.ArchiveTaskStatus, archived.Status)
	})

	t.Run("IndexOutOfRangeRollsBackEverything", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTaskWorkflowService(store, logger{})
		parent := newTask(t, store, "parent")

		_, err := svc.Breakdown(service.BreakdownRequest{
			TaskID: parent,
			Subtasks: []service.SubtaskSpec{
				{Name: "ok"},
				{Name: "bad", DependsOnIndices: []int{5}},
			},
		})
		assert.True(t, service.IsValidation(err, service.IndexOutOfRangeValidation))

		// Nothing from the failed call survives, including the subtasks
		// created before validation failed.
		count, err := store.CountChildren(parent)
		assert.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("RejectsArchivedParent", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTaskWorkflowService(store, logger{})
		parent := newTask(t, store, "old task")
		assert.NoError(t, store.UpdateTaskStatus(parent, models.ArchiveTaskStatus))

		_, err := svc.Breakdown(service.BreakdownRequest{
			TaskID:   parent,
			Subtasks: []service.SubtaskSpec{{Name: "x"}},
		})
		assert.True(t, service.IsValidation(err, service.AlreadyArchivedValidation))
	})

	t.Run("RejectsNonLeafParent", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTaskWorkflowService(store, logger{})
		parent := newTask(t, store, "parent")

		_, err := svc.Breakdown(service.BreakdownRequest{
			TaskID:   parent,
			Subtasks: []service.SubtaskSpec{{Name: "child"}},
		})
		assert.NoError(t, err)

		_, err = svc.Breakdown(service.BreakdownRequest{
			TaskID:   parent,
			Subtasks: []service.SubtaskSpec{{Name: "another"}},
		})
		assert.True(t, service.IsValidation(err, service.HasChildrenValidation))
	})

	t.Run("RejectsEmptySubtaskList", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTaskWorkflowService(store, logger{})
		parent := newTask(t, store, "parent")

		_, err := svc.Breakdown(service.BreakdownRequest{TaskID: parent})
		assert.True(t, service.IsValidation(err, service.EmptyInputValidation))
	})

	t.Run("RejectsNegativeHours", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTaskWorkflowService(store, logger{})
		parent := newTask(t, store, "parent")

		_, err := svc.Breakdown(service.BreakdownRequest{
			TaskID:   parent,
			Subtasks: []service.SubtaskSpec{{Name: "x", AllocatedHours: f64(-1)}},
		})
		assert.True(t, service.IsValidation(err, service.NegativeHoursValidation))
	})

	t.Run("UnknownTask", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTaskWorkflowService(store, logger{})
		_, err := svc.Breakdown(service.BreakdownRequest{
			TaskID:   1234,
			Subtasks: []service.SubtaskSpec{{Name: "x"}},
		})
		assert.True(t, service.IsNotFound(err))
	})
}

func TestMerge(t *testing.T) {

	t.Run("ReassignsHistoryAndArchivesSources", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTaskWorkflowService(store, logger{})
		projID, err := store.SaveProject(models.Project{Name: "labwork", IsActive: true})
		assert.NoError(t, err)

		mkTask := func(name string) int64 {
			id, err := store.SaveTask(models.Task{
				Name: name, ProjectID: &projID, Status: models.TodoTaskStatus,
				Priority: "medium", WantLevel: "medium",
			})
			assert.NoError(t, err)
			return id
		}
		src1 := mkTask("collect samples A")
		src2 := mkTask("collect samples B")

		start := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
		addCompletedEntry(t, store, src1, start, 45)
		addCompletedEntry(t, store, src2, start.Add(time.Hour), 15)
		_, err = store.SaveScheduleBlock(models.ScheduleBlock{
			TaskID:         src2,
			ScheduledDate:  time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC),
			AllocatedHours: 2,
			Status:         models.ScheduledScheduleStatus,
		})
		assert.NoError(t, err)

		result, err := svc.Merge(service.MergeRequest{
			TaskIDs:    []int64{src1, src2},
			MergedTask: service.TaskSpec{Name: "collect samples", EstimatedHours: f64(5)},
		})
		assert.NoError(t, err)
		assert.Equal(t, int64(2), result.TimeEntriesTransferred)
		assert.Equal(t, int64(1), result.ScheduleBlocksTransferred)
		assert.Equal(t, []int64{src1, src2}, result.ArchivedTasks)

		merged, err := store.GetTask(result.MergedTask.ID)
		assert.NoError(t, err)
		assert.Equal(t, &projID, merged.ProjectID)

		// Entries keep their own timestamps and durations; only task_id moves.
		entries, err := store.ListCompletedTimeEntries(merged.ID)
		assert.NoError(t, err)
		assert.Len(t, entries, 2)

		for _, src := range []int64{src1, src2} {
			task, err := store.GetTask(src)
			assert.NoError(t, err)
			assert.Equal(t, models.ArchiveTaskStatus, task.Status)
			remaining, err := store.ListCompletedTimeEntries(src)
			assert.NoError(t, err)
			assert.Empty(t, remaining)
		}
	})

	t.Run("MergesDependencies", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTaskWorkflowService(store, logger{})
		upstream := newTask(t, store, "upstream")
		src1 := newTask(t, store, "src1")
		src2 := newTask(t, store, "src2")
		assert.NoError(t, svc.AddDependency(src1, upstream))
		assert.NoError(t, svc.AddDependency(src2, src1))

		result, err := svc.Merge(service.MergeRequest{
			TaskIDs:    []int64{src1, src2},
			MergedTask: service.TaskSpec{Name: "combined"},
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, result.DependenciesMerged)

		view, err := svc.GetDependencies(result.MergedTask.ID)
		assert.NoError(t, err)
		assert.Len(t, view.DependsOn, 1)
		assert.Equal(t, upstream, view.DependsOn[0].ID)
	})

	t.Run("RejectsProjectMismatch", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTaskWorkflowService(store, logger{})
		p1, err := store.SaveProject(models.Project{Name: "p1", IsActive: true})
		assert.NoError(t, err)
		p2, err := store.SaveProject(models.Project{Name: "p2", IsActive: true})
		assert.NoError(t, err)

		t1, err := store.SaveTask(models.Task{Name: "a", ProjectID: &p1, Status: models.TodoTaskStatus})
		assert.NoError(t, err)
		t2, err := store.SaveTask(models.Task{Name: "b", ProjectID: &p2, Status: models.TodoTaskStatus})
		assert.NoError(t, err)

		_, err = svc.Merge(service.MergeRequest{
			TaskIDs:    []int64{t1, t2},
			MergedTask: service.TaskSpec{Name: "oops"},
		})
		assert.True(t, service.IsValidation(err, service.ProjectMismatchValidation))

		// The rejected merge leaves no new task behind.
		for _, id := range []int64{t1, t2} {
			task, err := store.GetTask(id)
			assert.NoError(t, err)
			assert.Equal(t, models.TodoTaskStatus, task.Status)
		}
		_, err = store.FindTaskByName("oops")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("RejectsFewerThanTwoTasks", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTaskWorkflowService(store, logger{})
		only := newTask(t, store, "only")

		_, err := svc.Merge(service.MergeRequest{
			TaskIDs:    []int64{only},
			MergedTask: service.TaskSpec{Name: "merged"},
		})
		assert.True(t, service.IsValidation(err, service.EmptyInputValidation))
	})

	t.Run("AcceptsArchivedSource", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTaskWorkflowService(store, logger{})
		a := newTask(t, store, "a")
		b := newTask(t, store, "b")
		start := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
		addCompletedEntry(t, store, b, start, 30)
		assert.NoError(t, store.UpdateTaskStatus(b, models.ArchiveTaskStatus))

		result, err := svc.Merge(service.MergeRequest{
			TaskIDs:    []int64{a, b},
			MergedTask: service.TaskSpec{Name: "merged"},
		})
		assert.NoError(t, err)
		assert.Equal(t, int64(1), result.TimeEntriesTransferred)
		assert.Equal(t, []int64{a, b}, result.ArchivedTasks)
	})
}

func TestBulkCreate(t *testing.T) {

	t.Run("CreatesTasksWithIndexDependencies", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTaskWorkflowService(store, logger{})

		result, err := svc.BulkCreate(service.BulkCreateRequest{
			ProjectID: i64(0),
			Tasks: []service.TaskSpec{
				{Name: "design"},
				{Name: "implement", DependsOnIndices: []int{0}},
				{Name: "evaluate", DependsOnIndices: []int{1}},
			},
		})
		assert.NoError(t, err)
		assert.Len(t, result.CreatedTasks, 3)
		assert.Equal(t, 2, result.DependenciesCreated)

		view, err := svc.GetDependencies(result.CreatedTasks[2].ID)
		assert.NoError(t, err)
		assert.Len(t, view.DependsOn, 1)
		assert.Equal(t, result.CreatedTasks[1].ID, view.DependsOn[0].ID)
	})

	t.Run("SelfIndexRejectedAtomically", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTaskWorkflowService(store, logger{})

		_, err := svc.BulkCreate(service.BulkCreateRequest{
			Tasks: []service.TaskSpec{
				{Name: "solo", DependsOnIndices: []int{0}},
			},
		})
		assert.True(t, service.IsValidation(err, service.SelfReferenceValidation))

		_, err = store.FindTaskByName("solo")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("RejectsEmpty", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTaskWorkflowService(store, logger{})
		_, err := svc.BulkCreate(service.BulkCreateRequest{})
		assert.True(t, service.IsValidation(err, service.EmptyInputValidation))
	})
}
