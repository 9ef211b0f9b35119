package models

import "time"

// Project groups tasks. Only the fields the scheduling core reads are
// modelled; the full project CRUD surface lives outside this repository.
type Project struct {
	ID        int64      `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	Deadline  *time.Time `json:"deadline,omitempty" db:"deadline"`
	IsActive  bool       `json:"is_active" db:"is_active"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// Genre categorizes tasks (e.g. "analysis", "writing").
type Genre struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Color     string    `json:"color" db:"color"` // #RRGGBB
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
