package service

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/ymorita/restrack/pkg/models"
	"github.com/ymorita/restrack/pkg/storage"
)

// StartTimerRequest identifies the task to track, by id or by exact name.
type StartTimerRequest struct {
	TaskID   *int64 `json:"task_id,omitempty"`
	TaskName string `json:"task_name,omitempty"`
	Note     string `json:"note,omitempty"`
}

// TimerStatus reports the currently running entry, if any.
type TimerStatus struct {
	Running        bool              `json:"running"`
	Entry          *models.TimeEntry `json:"entry,omitempty"`
	TaskName       string            `json:"task_name,omitempty"`
	ElapsedMinutes int               `json:"elapsed_minutes,omitempty"`
}

// TimerService tracks work time. At most one entry runs at a time; starting a
// new one stops whatever is running first.
type TimerService struct {
	store  storage.Store
	logger Logger
	now    func() time.Time
}

func NewTimerService(store storage.Store, logger Logger) *TimerService {
	return &TimerService{store: store, logger: logger, now: time.Now}
}

// Start begins tracking time against a task. A running entry for another task
// is stopped first, in the same transaction.
func (s *TimerService) Start(req StartTimerRequest) (entry models.TimeEntry, err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return models.TimeEntry{}, err
	}
	defer finishTx(s.logger, txStore, &err)

	task, err := s.resolveTask(txStore, req)
	if err != nil {
		return models.TimeEntry{}, err
	}
	if task.Status == models.ArchiveTaskStatus {
		return models.TimeEntry{}, &ValidationError{
			Kind:    AlreadyArchivedValidation,
			Message: "cannot start a timer on an archived task",
		}
	}

	now := s.now()
	running, err := txStore.GetRunningTimeEntry(true)
	if err != nil {
		return models.TimeEntry{}, err
	}
	if running != nil {
		if err := s.finish(txStore, running, now); err != nil {
			return models.TimeEntry{}, err
		}
		s.logger.Infof("Stopped running timer on task %d before starting a new one", running.TaskID)
	}

	entry = models.TimeEntry{
		TaskID:    task.ID,
		StartTime: now,
		Note:      req.Note,
	}
	entry.ID, err = txStore.SaveTimeEntry(entry)
	if err != nil {
		return models.TimeEntry{}, err
	}

	if task.Status == models.TodoTaskStatus || task.Status == models.WaitingTaskStatus {
		if err := txStore.UpdateTaskStatus(task.ID, models.DoingTaskStatus); err != nil {
			return models.TimeEntry{}, err
		}
	}
	return entry, nil
}

// Stop ends the running entry and records its duration in whole minutes.
func (s *TimerService) Stop() (entry models.TimeEntry, err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return models.TimeEntry{}, err
	}
	defer finishTx(s.logger, txStore, &err)

	running, err := txStore.GetRunningTimeEntry(true)
	if err != nil {
		return models.TimeEntry{}, err
	}
	if running == nil {
		return models.TimeEntry{}, &TimerConflictError{Message: "no timer is running"}
	}
	if err := s.finish(txStore, running, s.now()); err != nil {
		return models.TimeEntry{}, err
	}
	return *running, nil
}

// Status reports whether a timer is running and for how long.
func (s *TimerService) Status() (TimerStatus, error) {
	running, err := s.store.GetRunningTimeEntry(false)
	if err != nil {
		return TimerStatus{}, err
	}
	if running == nil {
		return TimerStatus{Running: false}, nil
	}
	status := TimerStatus{
		Running:        true,
		Entry:          running,
		ElapsedMinutes: int(s.now().Sub(running.StartTime).Minutes()),
	}
	task, err := s.store.GetTask(running.TaskID)
	if err == nil {
		status.TaskName = task.Name
	} else if !errors.Is(err, storage.ErrNotFound) {
		return TimerStatus{}, err
	}
	return status, nil
}

func (s *TimerService) finish(txStore storage.Store, entry *models.TimeEntry, at time.Time) error {
	end := at
	entry.EndTime = &end
	entry.DurationMinutes = int(math.Round(end.Sub(entry.StartTime).Minutes()))
	return txStore.UpdateTimeEntry(*entry)
}

func (s *TimerService) resolveTask(txStore storage.Store, req StartTimerRequest) (models.Task, error) {
	if req.TaskID != nil {
		task, err := txStore.GetTask(*req.TaskID)
		if errors.Is(err, storage.ErrNotFound) {
			return models.Task{}, &NotFoundError{Resource: "task", ID: *req.TaskID}
		}
		return task, err
	}
	if req.TaskName == "" {
		return models.Task{}, &ValidationError{
			Kind:    EmptyInputValidation,
			Message: "task_id or task_name is required",
		}
	}
	task, err := txStore.FindTaskByName(req.TaskName)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Task{}, &NotFoundError{Resource: "task named " + req.TaskName}
	}
	return task, err
}
