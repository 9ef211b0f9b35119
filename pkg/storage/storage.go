package storage

import (
	"time"

	"github.com/pkg/errors"

	"github.com/ymorita/restrack/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence operations the scheduling core is written
// against. Begin returns a transactional Store; every workflow call runs
// against one transaction so that either all of its writes commit or none do.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Task operations
	SaveTask(t models.Task) (int64, error)
	GetTask(id int64) (models.Task, error)
	GetTasks(ids []int64) ([]models.Task, error)
	UpdateTask(id int64, patch models.TaskPatch) error
	UpdateTaskStatus(id int64, status models.TaskStatus) error
	CountChildren(taskID int64) (int, error)
	ListActiveTasks() ([]models.Task, error)
	FindTaskByName(name string) (models.Task, error)

	// Dependency edge operations
	SaveDependency(d models.Dependency) error
	DeleteDependency(taskID, dependsOnTaskID int64) error
	ListDependsOn(taskID int64) ([]int64, error)
	ListBlocking(taskID int64) ([]int64, error)

	// Time entry operations
	SaveTimeEntry(e models.TimeEntry) (int64, error)
	UpdateTimeEntry(e models.TimeEntry) error
	ListCompletedTimeEntries(taskID int64) ([]models.TimeEntry, error)
	GetRunningTimeEntry(forUpdate bool) (*models.TimeEntry, error)
	ActualMinutesByTask(taskIDs []int64) (map[int64]int, error)
	ReassignTimeEntries(fromTaskIDs []int64, toTaskID int64) (int64, error)

	// Schedule block operations
	SaveScheduleBlock(b models.ScheduleBlock) (int64, error)
	ListScheduleBlocks(taskID int64) ([]models.ScheduleBlock, error)
	ReassignScheduleBlocks(fromTaskIDs []int64, toTaskID int64) (int64, error)
	DeleteGeneratedScheduleBlocks(from, to time.Time) (int64, error)

	// Project/genre lookups used by schedule summaries
	SaveProject(p models.Project) (int64, error)
	SaveGenre(g models.Genre) (int64, error)
	ProjectNames(ids []int64) (map[int64]string, error)
	GenreNames(ids []int64) (map[int64]string, error)
}
