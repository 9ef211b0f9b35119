package models

import "time"

type ScheduleStatus string

const (
	ScheduledScheduleStatus ScheduleStatus = "scheduled"
	CompletedScheduleStatus ScheduleStatus = "completed"
	SkippedScheduleStatus   ScheduleStatus = "skipped"
)

// ScheduleBlock is a planned time allocation for a task on a specific date.
// Blocks proposed by the reasoning service carry IsGeneratedByAI = true.
type ScheduleBlock struct {
	ID              int64          `json:"id" db:"id"`
	TaskID          int64          `json:"task_id" db:"task_id"`
	ScheduledDate   time.Time      `json:"scheduled_date" db:"scheduled_date"`
	StartTime       *time.Time     `json:"start_time,omitempty" db:"start_time"` // Optional time-of-day window
	EndTime         *time.Time     `json:"end_time,omitempty" db:"end_time"`
	AllocatedHours  float64        `json:"allocated_hours" db:"allocated_hours"`
	IsGeneratedByAI bool           `json:"is_generated_by_ai" db:"is_generated_by_ai"`
	Status          ScheduleStatus `json:"status" db:"status"` // scheduled, completed, skipped
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
}
