package service

import (
	"fmt"
	"sort"

	"github.com/ymorita/restrack/pkg/models"
	"github.com/ymorita/restrack/pkg/storage"
)

// TransferMode controls where a decomposed task's outgoing edges go. The
// default, TransferToLast, assumes subtasks run sequentially: only the final
// subtask must complete before previously blocked tasks may proceed.
type TransferMode string

const (
	TransferToLast TransferMode = "to_last"
	TransferToAll  TransferMode = "to_all"
)

// DependencyView holds a task's direct predecessor and successor edges.
// It is never a transitive closure.
type DependencyView struct {
	DependsOn []models.TaskSummary `json:"depends_on"` // Tasks this task depends on
	Blocking  []models.TaskSummary `json:"blocking"`   // Tasks blocked by this task
}

// DependencyService owns the directed edge set task -> depends_on_task and
// keeps it acyclic on every mutation. It operates on an injected store,
// usually the transaction of the enclosing workflow call, and is constructed
// per call so no state is shared across requests.
type DependencyService struct {
	store  storage.Store
	logger Logger
}

func NewDependencyService(store storage.Store, logger Logger) *DependencyService {
	return &DependencyService{store: store, logger: logger}
}

// AddDependency inserts the edge taskID -> dependsOnTaskID after rejecting
// self-references, unknown tasks and edges that would close a cycle. On any
// failure the edge set is unchanged.
func (s *DependencyService) AddDependency(taskID, dependsOnTaskID int64) error {
	if taskID == dependsOnTaskID {
		return &ValidationError{
			Kind:    SelfReferenceValidation,
			Message: "task cannot depend on itself",
		}
	}
	if _, err := s.getTask(taskID); err != nil {
		return err
	}
	if _, err := s.getTask(dependsOnTaskID); err != nil {
		return err
	}
	if err := s.CheckCycle(taskID, []int64{dependsOnTaskID}); err != nil {
		return err
	}
	return s.store.SaveDependency(models.Dependency{
		TaskID:          taskID,
		DependsOnTaskID: dependsOnTaskID,
	})
}

// RemoveDependency deletes the edge taskID -> dependsOnTaskID.
func (s *DependencyService) RemoveDependency(taskID, dependsOnTaskID int64) error {
	err := s.store.DeleteDependency(taskID, dependsOnTaskID)
	if err == storage.ErrNotFound {
		return &NotFoundError{
			Resource: fmt.Sprintf("dependency from task %d to task %d", taskID, dependsOnTaskID),
		}
	}
	return err
}

// GetDependencies returns the direct edges touching taskID in both directions.
func (s *DependencyService) GetDependencies(taskID int64) (DependencyView, error) {
	if _, err := s.getTask(taskID); err != nil {
		return DependencyView{}, err
	}
	dependsOnIDs, err := s.store.ListDependsOn(taskID)
	if err != nil {
		return DependencyView{}, err
	}
	blockingIDs, err := s.store.ListBlocking(taskID)
	if err != nil {
		return DependencyView{}, err
	}
	view := DependencyView{}
	if view.DependsOn, err = s.summaries(dependsOnIDs); err != nil {
		return DependencyView{}, err
	}
	if view.Blocking, err = s.summaries(blockingIDs); err != nil {
		return DependencyView{}, err
	}
	return view, nil
}

// TransferDependencies rewires the edges of fromTaskID onto its subtasks
// during decomposition. Every subtask inherits every prerequisite of the
// original; outgoing edges go to the last subtask only (TransferToLast) or to
// all of them (TransferToAll). Returns the number of edges created.
func (s *DependencyService) TransferDependencies(fromTaskID int64, toTaskIDs []int64, mode TransferMode) (int, error) {
	incoming, err := s.store.ListDependsOn(fromTaskID)
	if err != nil {
		return 0, err
	}
	outgoing, err := s.store.ListBlocking(fromTaskID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, depID := range incoming {
		for _, toTaskID := range toTaskIDs {
			err := s.store.SaveDependency(models.Dependency{
				TaskID:          toTaskID,
				DependsOnTaskID: depID,
			})
			if err != nil {
				return 0, err
			}
			count++
		}
	}

	targets := toTaskIDs
	if mode == TransferToLast && len(toTaskIDs) > 0 {
		targets = toTaskIDs[len(toTaskIDs)-1:]
	}
	for _, blockedID := range outgoing {
		for _, target := range targets {
			err := s.store.SaveDependency(models.Dependency{
				TaskID:          blockedID,
				DependsOnTaskID: target,
			})
			if err != nil {
				return 0, err
			}
			count++
		}
	}
	return count, nil
}

// MergeDependencies points the union of all edges touching fromTaskIDs at
// toTaskID, deduplicated, excluding self-references and edges internal to the
// merged set. Returns the number of edges created.
func (s *DependencyService) MergeDependencies(fromTaskIDs []int64, toTaskID int64) (int, error) {
	excluded := map[int64]struct{}{toTaskID: {}}
	for _, id := range fromTaskIDs {
		excluded[id] = struct{}{}
	}

	allDependsOn := map[int64]struct{}{}
	allBlocking := map[int64]struct{}{}
	for _, fromID := range fromTaskIDs {
		deps, err := s.store.ListDependsOn(fromID)
		if err != nil {
			return 0, err
		}
		for _, id := range deps {
			allDependsOn[id] = struct{}{}
		}
		blocks, err := s.store.ListBlocking(fromID)
		if err != nil {
			return 0, err
		}
		for _, id := range blocks {
			allBlocking[id] = struct{}{}
		}
	}

	count := 0
	for _, depID := range sortedKeys(allDependsOn) {
		if _, skip := excluded[depID]; skip {
			continue
		}
		err := s.store.SaveDependency(models.Dependency{
			TaskID:          toTaskID,
			DependsOnTaskID: depID,
		})
		if err != nil {
			return 0, err
		}
		count++
	}
	for _, blockedID := range sortedKeys(allBlocking) {
		if _, skip := excluded[blockedID]; skip {
			continue
		}
		err := s.store.SaveDependency(models.Dependency{
			TaskID:          blockedID,
			DependsOnTaskID: toTaskID,
		})
		if err != nil {
			return 0, err
		}
		count++
	}
	return count, nil
}

// CheckCycle rejects candidate edges taskID -> dep that would make taskID
// reachable from dep along existing depends-on edges.
func (s *DependencyService) CheckCycle(taskID int64, newDependsOnIDs []int64) error {
	for _, candidate := range newDependsOnIDs {
		reachable, err := s.pathExists(candidate, taskID)
		if err != nil {
			return err
		}
		if reachable {
			return &ValidationError{
				Kind:    DependencyCycleValidation,
				Message: fmt.Sprintf("adding dependency would create a cycle: %d -> %d", taskID, candidate),
			}
		}
	}
	return nil
}

// searchFrame is one level of the iterative depth-first search.
type searchFrame struct {
	node int64
	deps []int64
	next int
}

// pathExists walks depends-on edges outward from start and reports whether
// target is reachable. The search is iterative with an explicit stack so deep
// dependency chains cannot exhaust the call stack; visited and on-path sets
// keep it linear and catch back-edges.
func (s *DependencyService) pathExists(start, target int64) (bool, error) {
	if start == target {
		return true, nil
	}
	visited := map[int64]struct{}{start: {}}
	onPath := map[int64]struct{}{start: {}}

	deps, err := s.store.ListDependsOn(start)
	if err != nil {
		return false, err
	}
	stack := []*searchFrame{{node: start, deps: deps}}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if top.next >= len(top.deps) {
			delete(onPath, top.node)
			stack = stack[:len(stack)-1]
			continue
		}
		child := top.deps[top.next]
		top.next++

		if child == target {
			return true, nil
		}
		if _, ok := onPath[child]; ok {
			// Back-edge: already being explored on the current path.
			continue
		}
		if _, ok := visited[child]; ok {
			continue
		}
		visited[child] = struct{}{}
		onPath[child] = struct{}{}
		childDeps, err := s.store.ListDependsOn(child)
		if err != nil {
			return false, err
		}
		stack = append(stack, &searchFrame{node: child, deps: childDeps})
	}
	return false, nil
}

func (s *DependencyService) getTask(id int64) (models.Task, error) {
	task, err := s.store.GetTask(id)
	if err == storage.ErrNotFound {
		return models.Task{}, &NotFoundError{Resource: "task", ID: id}
	}
	return task, err
}

func (s *DependencyService) summaries(ids []int64) ([]models.TaskSummary, error) {
	if len(ids) == 0 {
		return []models.TaskSummary{}, nil
	}
	tasks, err := s.store.GetTasks(ids)
	if err != nil {
		return nil, err
	}
	out := make([]models.TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Summary())
	}
	return out, nil
}

func sortedKeys(set map[int64]struct{}) []int64 {
	keys := make([]int64, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
