package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ymorita/restrack/pkg/models"
	"github.com/ymorita/restrack/pkg/service"
	"github.com/ymorita/restrack/pkg/storage"
)

type logger struct{}

func (l logger) Infof(format string, args ...interface{}) {
	// no-op
}

func (l logger) Warnf(format string, args ...interface{}) {
	// no-op
}

func (l logger) Errorf(format string, args ...interface{}) {
	// no-op
}

func newTask(t *testing.T, store storage.Store, name string) int64 {
	t.Helper()
	id, err := store.SaveTask(models.Task{
		Name:      name,
		Status:    models.TodoTaskStatus,
		Priority:  "medium",
		WantLevel: "medium",
	})
	assert.NoError(t, err)
	return id
}

func TestDependencyService(t *testing.T) {

	t.Run("AddAndGet", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewDependencyService(store, logger{})
		a := newTask(t, store, "write draft")
		b := newTask(t, store, "review draft")

		assert.NoError(t, svc.AddDependency(b, a))

		view, err := svc.GetDependencies(b)
		assert.NoError(t, err)
		assert.Len(t, view.DependsOn, 1)
		assert.Equal(t, a, view.DependsOn[0].ID)
		assert.Empty(t, view.Blocking)

		view, err = svc.GetDependencies(a)
		assert.NoError(t, err)
		assert.Empty(t, view.DependsOn)
		assert.Len(t, view.Blocking, 1)
		assert.Equal(t, b, view.Blocking[0].ID)
	})

	t.Run("SelfReferenceRejected", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewDependencyService(store, logger{})
		a := newTask(t, store, "a")

		err := svc.AddDependency(a, a)
		assert.True(t, service.IsValidation(err, service.SelfReferenceValidation))
	})

	t.Run("UnknownTaskRejected", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewDependencyService(store, logger{})
		a := newTask(t, store, "a")

		assert.True(t, service.IsNotFound(svc.AddDependency(a, 999)))
		assert.True(t, service.IsNotFound(svc.AddDependency(999, a)))
	})

	t.Run("DirectCycleRejected", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewDependencyService(store, logger{})
		a := newTask(t, store, "a")
		b := newTask(t, store, "b")

		assert.NoError(t, svc.AddDependency(b, a))
		err := svc.AddDependency(a, b)
		assert.True(t, service.IsValidation(err, service.DependencyCycleValidation))
	})

	t.Run("TransitiveCycleRejected", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewDependencyService(store, logger{})
		a := newTask(t, store, "a")
		b := newTask(t, store, "b")
		c := newTask(t, store, "c")

		// a <- b <- c: adding a -> c would close the loop.
		assert.NoError(t, svc.AddDependency(b, a))
		assert.NoError(t, svc.AddDependency(c, b))
		err := svc.AddDependency(a, c)
		assert.True(t, service.IsValidation(err, service.DependencyCycleValidation))

		// The edge set is unchanged after the rejection.
		view, err := svc.GetDependencies(a)
		assert.NoError(t, err)
		assert.Empty(t, view.DependsOn)

		// The non-cyclic direction is still allowed.
		assert.NoError(t, svc.AddDependency(c, a))
	})

	t.Run("DiamondIsNotACycle", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewDependencyService(store, logger{})
		a := newTask(t, store, "a")
		b := newTask(t, store, "b")
		c := newTask(t, store, "c")
		d := newTask(t, store, "d")

		assert.NoError(t, svc.AddDependency(b, a))
		assert.NoError(t, svc.AddDependency(c, a))
		assert.NoError(t, svc.AddDependency(d, b))
		assert.NoError(t, svc.AddDependency(d, c))
	})

	t.Run("RemoveDependency", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewDependencyService(store, logger{})
		a := newTask(t, store, "a")
		b := newTask(t, store, "b")

		assert.NoError(t, svc.AddDependency(b, a))
		assert.NoError(t, svc.RemoveDependency(b, a))

		view, err := svc.GetDependencies(b)
		assert.NoError(t, err)
		assert.Empty(t, view.DependsOn)

		assert.True(t, service.IsNotFound(svc.RemoveDependency(b, a)))
	})

	t.Run("TransferToLast", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewDependencyService(store, logger{})
		upstream := newTask(t, store, "upstream")
		parent := newTask(t, store, "parent")
		downstream := newTask(t, store, "downstream")
		sub1 := newTask(t, store, "sub1")
		sub2 := newTask(t, store, "sub2")

		assert.NoError(t, svc.AddDependency(parent, upstream))
		assert.NoError(t, svc.AddDependency(downstream, parent))

		count, err := svc.TransferDependencies(parent, []int64{sub1, sub2}, service.TransferToLast)
		assert.NoError(t, err)
		// upstream feeds both subtasks; downstream waits on the last only.
		assert.Equal(t, 3, count)

		view, err := svc.GetDependencies(sub1)
		assert.NoError(t, err)
		assert.Len(t, view.DependsOn, 1)
		assert.Empty(t, view.Blocking)

		view, err = svc.GetDependencies(sub2)
		assert.NoError(t, err)
		assert.Len(t, view.DependsOn, 1)
		assert.Len(t, view.Blocking, 1)
		assert.Equal(t, downstream, view.Blocking[0].ID)
	})

	t.Run("TransferToAll", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewDependencyService(store, logger{})
		parent := newTask(t, store, "parent")
		downstream := newTask(t, store, "downstream")
		sub1 := newTask(t, store, "sub1")
		sub2 := newTask(t, store, "sub2")

		assert.NoError(t, svc.AddDependency(downstream, parent))

		count, err := svc.TransferDependencies(parent, []int64{sub1, sub2}, service.TransferToAll)
		assert.NoError(t, err)
		assert.Equal(t, 2, count)

		view, err := svc.GetDependencies(downstream)
		assert.NoError(t, err)
		assert.Len(t, view.DependsOn, 3) // parent edge plus both subtasks
	})

	t.Run("MergeDependenciesDedupesAndExcludesInternal", func(t *testing.T) {
		store := storage.NewMockStore()
		svc := service.NewDependencyService(store, logger{})
		upstream := newTask(t, store, "upstream")
		src1 := newTask(t, store, "src1")
		src2 := newTask(t, store, "src2")
		downstream := newTask(t, store, "downstream")
		merged := newTask(t, store, "merged")

		// Both sources share the upstream prerequisite, depend on each other,
		// and block the same downstream task.
		assert.NoError(t, svc.AddDependency(src1, upstream))
		assert.NoError(t, svc.AddDependency(src2, upstream))
		assert.NoError(t, svc.AddDependency(src2, src1))
		assert.NoError(t, svc.AddDependency(downstream, src1))
		assert.NoError(t, svc.AddDependency(downstream, src2))

		count, err := svc.MergeDependencies([]int64{src1, src2}, merged)
		assert.NoError(t, err)
		// One deduped incoming edge, one deduped outgoing edge. The edge
		// between the sources disappears.
		assert.Equal(t, 2, count)

		view, err := svc.GetDependencies(merged)
		assert.NoError(t, err)
		assert.Len(t, view.DependsOn, 1)
		assert.Equal(t, upstream, view.DependsOn[0].ID)
		assert.Len(t, view.Blocking, 1)
		assert.Equal(t, downstream, view.Blocking[0].ID)
	})
}
