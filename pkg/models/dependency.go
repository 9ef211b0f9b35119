package models

// Dependency defines a relationship where one task depends on another.
// The stored edge set must remain acyclic at all times.
type Dependency struct {
	TaskID          int64 `json:"task_id" db:"task_id"`                     // Task that depends on another
	DependsOnTaskID int64 `json:"depends_on_task_id" db:"depends_on_task_id"` // Prerequisite task
}
