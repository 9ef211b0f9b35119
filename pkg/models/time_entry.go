package models

import "time"

// TimeEntry records actual time spent on a task. An entry with a nil EndTime
// is a running timer; DurationMinutes is derived when the entry is closed.
type TimeEntry struct {
	ID              int64      `json:"id" db:"id"`
	TaskID          int64      `json:"task_id" db:"task_id"`
	StartTime       time.Time  `json:"start_time" db:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty" db:"end_time"` // Nil while the timer is running
	DurationMinutes int        `json:"duration_minutes" db:"duration_minutes"`
	Note            string     `json:"note,omitempty" db:"note"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// Running reports whether this entry is an open timer.
func (e TimeEntry) Running() bool {
	return e.EndTime == nil
}
