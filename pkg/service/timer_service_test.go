package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ymorita/restrack/pkg/models"
	"github.com/ymorita/restrack/pkg/service"
	"github.com/ymorita/restrack/pkg/storage"
)

func TestTimerService(t *testing.T) {

	t.Run("StartByIDMarksTaskDoing", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTimerService(store, logger{})
		a := newTask(t, store, "write section")

		entry, err := svc.Start(service.StartTimerRequest{TaskID: &a})
		assert.NoError(t, err)
		assert.Equal(t, a, entry.TaskID)
		assert.Nil(t, entry.EndTime)

		task, err := store.GetTask(a)
		assert.NoError(t, err)
		assert.Equal(t, models.DoingTaskStatus, task.Status)

		status, err := svc.Status()
		assert.NoError(t, err)
		assert.True(t, status.Running)
		assert.Equal(t, "write section", status.TaskName)
	})

	t.Run("StartByName", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTimerService(store, logger{})
		a := newTask(t, store, "Review PR")

		entry, err := svc.Start(service.StartTimerRequest{TaskName: "review pr"})
		assert.NoError(t, err)
		assert.Equal(t, a, entry.TaskID)
	})

	t.Run("StartStopsPreviousTimer", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTimerService(store, logger{})
		a := newTask(t, store, "first")
		b := newTask(t, store, "second")

		_, err := svc.Start(service.StartTimerRequest{TaskID: &a})
		assert.NoError(t, err)
		_, err = svc.Start(service.StartTimerRequest{TaskID: &b})
		assert.NoError(t, err)

		running, err := store.GetRunningTimeEntry(false)
		assert.NoError(t, err)
		assert.NotNil(t, running)
		assert.Equal(t, b, running.TaskID)

		// The first entry was closed, not discarded.
		closed, err := store.ListCompletedTimeEntries(a)
		assert.NoError(t, err)
		assert.Len(t, closed, 1)
	})

	t.Run("StopRecordsDuration", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTimerService(store, logger{})
		a := newTask(t, store, "task")

		_, err := svc.Start(service.StartTimerRequest{TaskID: &a})
		assert.NoError(t, err)

		entry, err := svc.Stop()
		assert.NoError(t, err)
		assert.Equal(t, a, entry.TaskID)
		assert.NotNil(t, entry.EndTime)

		status, err := svc.Status()
		assert.NoError(t, err)
		assert.False(t, status.Running)
	})

	t.Run("StopWithoutRunningTimerConflicts", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTimerService(store, logger{})

		_, err := svc.Stop()
		var conflict *service.TimerConflictError
		assert.ErrorAs(t, err, &conflict)
	})

	t.Run("StartOnArchivedTaskRejected", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTimerService(store, logger{})
		a := newTask(t, store, "old")
		assert.NoError(t, store.UpdateTaskStatus(a, models.ArchiveTaskStatus))

		_, err := svc.Start(service.StartTimerRequest{TaskID: &a})
		assert.True(t, service.IsValidation(err, service.AlreadyArchivedValidation))
	})

	t.Run("StartWithoutIdentifierRejected", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTimerService(store, logger{})

		_, err := svc.Start(service.StartTimerRequest{})
		assert.True(t, service.IsValidation(err, service.EmptyInputValidation))
	})

	t.Run("UnknownTask", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewTimerService(store, logger{})
		missing := int64(404)

		_, err := svc.Start(service.StartTimerRequest{TaskID: &missing})
		assert.True(t, service.IsNotFound(err))

		_, err = svc.Start(service.StartTimerRequest{TaskName: "no such task"})
		assert.True(t, service.IsNotFound(err))
	})
}
