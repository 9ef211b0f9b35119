package models

import "time"

type TaskStatus string

const (
	TodoTaskStatus    TaskStatus = "todo"
	DoingTaskStatus   TaskStatus = "doing"
	WaitingTaskStatus TaskStatus = "waiting"
	DoneTaskStatus    TaskStatus = "done"
	ArchiveTaskStatus TaskStatus = "archive"
)

// ActiveTaskStatuses are the statuses a task may hold while it can still be
// scheduled.
var ActiveTaskStatuses = []TaskStatus{TodoTaskStatus, DoingTaskStatus, WaitingTaskStatus}

// Task represents a unit of work. A task is either a root (ParentTaskID nil)
// or a subtask created by decomposing its parent.
type Task struct {
	ID                 int64      `json:"id" db:"id"`                                     // Unique identifier (PostgreSQL auto-increment)
	Name               string     `json:"name" db:"name"`                                 // Descriptive name
	ProjectID          *int64     `json:"project_id,omitempty" db:"project_id"`           // Owning project (optional)
	GenreID            *int64     `json:"genre_id,omitempty" db:"genre_id"`               // Genre/category (optional)
	Status             TaskStatus `json:"status" db:"status"`                             // todo, doing, waiting, done, archive
	Deadline           *time.Time `json:"deadline,omitempty" db:"deadline"`               // Nullable deadline
	EstimatedHours     *float64   `json:"estimated_hours,omitempty" db:"estimated_hours"` // Nullable estimate; actual hours are derived from time entries
	Priority           string     `json:"priority" db:"priority"`                         // low, medium, high
	WantLevel          string     `json:"want_level" db:"want_level"`                     // low, medium, high
	IsSplittable       bool       `json:"is_splittable" db:"is_splittable"`               // Whether the scheduler may split work across days
	MinWorkUnit        float64    `json:"min_work_unit" db:"min_work_unit"`               // Smallest sensible allocation in hours
	ParentTaskID       *int64     `json:"parent_task_id,omitempty" db:"parent_task_id"`   // Set by decomposition
	DecompositionLevel int        `json:"decomposition_level" db:"decomposition_level"`   // Parent's level + 1; 0 for roots
	Note               string     `json:"note,omitempty" db:"note"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}

// TaskPatch is a partial update of a Task. Only non-nil fields are applied,
// each one individually typed instead of reflected at runtime.
type TaskPatch struct {
	Name           *string     `json:"name,omitempty"`
	ProjectID      *int64      `json:"project_id,omitempty"`
	GenreID        *int64      `json:"genre_id,omitempty"`
	Status         *TaskStatus `json:"status,omitempty"`
	Deadline       *time.Time  `json:"deadline,omitempty"`
	EstimatedHours *float64    `json:"estimated_hours,omitempty"`
	Priority       *string     `json:"priority,omitempty"`
	WantLevel      *string     `json:"want_level,omitempty"`
	Note           *string     `json:"note,omitempty"`
}

// TaskSummary is the compact task representation returned by workflow
// operations.
type TaskSummary struct {
	ID     int64      `json:"id"`
	Name   string     `json:"name"`
	Status TaskStatus `json:"status"`
}

func (t Task) Summary() TaskSummary {
	return TaskSummary{ID: t.ID, Name: t.Name, Status: t.Status}
}
