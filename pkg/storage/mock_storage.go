package storage

import (
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ymorita/restrack/pkg/models"
)

// mockData holds all rows of the in-memory store.
type mockData struct {
	tasks        []models.Task
	dependencies []models.Dependency
	timeEntries  []models.TimeEntry
	blocks       []models.ScheduleBlock
	projects     []models.Project
	genres       []models.Genre
	nextTaskID   int64
	nextEntryID  int64
	nextBlockID  int64
	nextProjID   int64
	nextGenreID  int64
}

func (d *mockData) clone() *mockData {
	c := *d
	c.tasks = append([]models.Task(nil), d.tasks...)
	c.dependencies = append([]models.Dependency(nil), d.dependencies...)
	c.timeEntries = append([]models.TimeEntry(nil), d.timeEntries...)
	c.blocks = append([]models.ScheduleBlock(nil), d.blocks...)
	c.projects = append([]models.Project(nil), d.projects...)
	c.genres = append([]models.Genre(nil), d.genres...)
	return &c
}

// mockStore implements Store with in-memory rows. Begin snapshots the data, so
// a rollback genuinely discards everything written inside the transaction;
// tests rely on that to assert atomicity.
type mockStore struct {
	data   *mockData
	parent *mockStore // non-nil when this store is a transaction
}

// NewMockStore returns an empty in-memory Store.
func NewMockStore() Store {
	return &mockStore{data: &mockData{}}
}

func (m *mockStore) Begin() (Store, error) {
	return &mockStore{data: m.data.clone(), parent: m}, nil
}

func (m *mockStore) Commit() error {
	if m.parent == nil {
		return errors.New("cannot commit: not a transaction")
	}
	*m.parent.data = *m.data
	return nil
}

func (m *mockStore) Rollback() error {
	if m.parent == nil {
		return errors.New("cannot rollback: not a transaction")
	}
	// Snapshot is simply discarded.
	return nil
}

func (m *mockStore) Close() error { return nil }

// ===== Task operations =====

func (m *mockStore) SaveTask(t models.Task) (int64, error) {
	m.data.nextTaskID++
	t.ID = m.data.nextTaskID
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	m.data.tasks = append(m.data.tasks, t)
	return t.ID, nil
}

func (m *mockStore) GetTask(id int64) (models.Task, error) {
	for _, t := range m.data.tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return models.Task{}, ErrNotFound
}

func (m *mockStore) GetTasks(ids []int64) ([]models.Task, error) {
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []models.Task
	for _, t := range m.data.tasks {
		if _, ok := want[t.ID]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockStore) UpdateTask(id int64, patch models.TaskPatch) error {
	for i, t := range m.data.tasks {
		if t.ID != id {
			continue
		}
		if patch.Name != nil {
			t.Name = *patch.Name
		}
		if patch.ProjectID != nil {
			t.ProjectID = patch.ProjectID
		}
		if patch.GenreID != nil {
			t.GenreID = patch.GenreID
		}
		if patch.Status != nil {
			t.Status = *patch.Status
		}
		if patch.Deadline != nil {
			t.Deadline = patch.Deadline
		}
		if patch.EstimatedHours != nil {
			t.EstimatedHours = patch.EstimatedHours
		}
		if patch.Priority != nil {
			t.Priority = *patch.Priority
		}
		if patch.WantLevel != nil {
			t.WantLevel = *patch.WantLevel
		}
		if patch.Note != nil {
			t.Note = *patch.Note
		}
		t.UpdatedAt = time.Now()
		m.data.tasks[i] = t
		return nil
	}
	return ErrNotFound
}

func (m *mockStore) UpdateTaskStatus(id int64, status models.TaskStatus) error {
	for i, t := range m.data.tasks {
		if t.ID == id {
			m.data.tasks[i].Status = status
			m.data.tasks[i].UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) CountChildren(taskID int64) (int, error) {
	count := 0
	for _, t := range m.data.tasks {
		if t.ParentTaskID != nil && *t.ParentTaskID == taskID {
			count++
		}
	}
	return count, nil
}

func (m *mockStore) ListActiveTasks() ([]models.Task, error) {
	var out []models.Task
	for _, t := range m.data.tasks {
		switch t.Status {
		case models.TodoTaskStatus, models.DoingTaskStatus, models.WaitingTaskStatus:
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) FindTaskByName(name string) (models.Task, error) {
	for _, t := range m.data.tasks {
		if strings.EqualFold(t.Name, name) && t.Status != models.ArchiveTaskStatus {
			return t, nil
		}
	}
	return models.Task{}, ErrNotFound
}

// ===== Dependency edge operations =====

func (m *mockStore) SaveDependency(d models.Dependency) error {
	for _, existing := range m.data.dependencies {
		if existing == d {
			return errors.New("dependency already exists")
		}
	}
	m.data.dependencies = append(m.data.dependencies, d)
	return nil
}

func (m *mockStore) DeleteDependency(taskID, dependsOnTaskID int64) error {
	for i, d := range m.data.dependencies {
		if d.TaskID == taskID && d.DependsOnTaskID == dependsOnTaskID {
			m.data.dependencies = append(m.data.dependencies[:i], m.data.dependencies[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) ListDependsOn(taskID int64) ([]int64, error) {
	var out []int64
	for _, d := range m.data.dependencies {
		if d.TaskID == taskID {
			out = append(out, d.DependsOnTaskID)
		}
	}
	return out, nil
}

func (m *mockStore) ListBlocking(taskID int64) ([]int64, error) {
	var out []int64
	for _, d := range m.data.dependencies {
		if d.DependsOnTaskID == taskID {
			out = append(out, d.TaskID)
		}
	}
	return out, nil
}

// ===== Time entry operations =====

func (m *mockStore) SaveTimeEntry(e models.TimeEntry) (int64, error) {
	m.data.nextEntryID++
	e.ID = m.data.nextEntryID
	e.CreatedAt = time.Now()
	m.data.timeEntries = append(m.data.timeEntries, e)
	return e.ID, nil
}

func (m *mockStore) UpdateTimeEntry(e models.TimeEntry) error {
	for i, existing := range m.data.timeEntries {
		if existing.ID == e.ID {
			m.data.timeEntries[i] = e
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockStore) ListCompletedTimeEntries(taskID int64) ([]models.TimeEntry, error) {
	var out []models.TimeEntry
	for _, e := range m.data.timeEntries {
		if e.TaskID == taskID && e.EndTime != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockStore) GetRunningTimeEntry(forUpdate bool) (*models.TimeEntry, error) {
	for _, e := range m.data.timeEntries {
		if e.EndTime == nil {
			running := e
			return &running, nil
		}
	}
	return nil, nil
}

func (m *mockStore) ActualMinutesByTask(taskIDs []int64) (map[int64]int, error) {
	want := make(map[int64]struct{}, len(taskIDs))
	for _, id := range taskIDs {
		want[id] = struct{}{}
	}
	totals := make(map[int64]int)
	for _, e := range m.data.timeEntries {
		if _, ok := want[e.TaskID]; ok {
			totals[e.TaskID] += e.DurationMinutes
		}
	}
	return totals, nil
}

func (m *mockStore) ReassignTimeEntries(fromTaskIDs []int64, toTaskID int64) (int64, error) {
	from := make(map[int64]struct{}, len(fromTaskIDs))
	for _, id := range fromTaskIDs {
		from[id] = struct{}{}
	}
	var count int64
	for i, e := range m.data.timeEntries {
		if _, ok := from[e.TaskID]; ok {
			m.data.timeEntries[i].TaskID = toTaskID
			count++
		}
	}
	return count, nil
}

// ===== Schedule block operations =====

func (m *mockStore) SaveScheduleBlock(b models.ScheduleBlock) (int64, error) {
	m.data.nextBlockID++
	b.ID = m.data.nextBlockID
	b.CreatedAt = time.Now()
	m.data.blocks = append(m.data.blocks, b)
	return b.ID, nil
}

func (m *mockStore) ListScheduleBlocks(taskID int64) ([]models.ScheduleBlock, error) {
	var out []models.ScheduleBlock
	for _, b := range m.data.blocks {
		if b.TaskID == taskID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *mockStore) ReassignScheduleBlocks(fromTaskIDs []int64, toTaskID int64) (int64, error) {
	from := make(map[int64]struct{}, len(fromTaskIDs))
	for _, id := range fromTaskIDs {
		from[id] = struct{}{}
	}
	var count int64
	for i, b := range m.data.blocks {
		if _, ok := from[b.TaskID]; ok {
			m.data.blocks[i].TaskID = toTaskID
			count++
		}
	}
	return count, nil
}

func (m *mockStore) DeleteGeneratedScheduleBlocks(from, to time.Time) (int64, error) {
	var kept []models.ScheduleBlock
	var count int64
	for _, b := range m.data.blocks {
		if b.IsGeneratedByAI && b.Status == models.ScheduledScheduleStatus &&
			!b.ScheduledDate.Before(from) && !b.ScheduledDate.After(to) {
			count++
			continue
		}
		kept = append(kept, b)
	}
	m.data.blocks = kept
	return count, nil
}

// ===== Project / genre operations =====

func (m *mockStore) SaveProject(p models.Project) (int64, error) {
	m.data.nextProjID++
	p.ID = m.data.nextProjID
	p.CreatedAt = time.Now()
	m.data.projects = append(m.data.projects, p)
	return p.ID, nil
}

func (m *mockStore) SaveGenre(g models.Genre) (int64, error) {
	m.data.nextGenreID++
	g.ID = m.data.nextGenreID
	g.CreatedAt = time.Now()
	m.data.genres = append(m.data.genres, g)
	return g.ID, nil
}

func (m *mockStore) ProjectNames(ids []int64) (map[int64]string, error) {
	names := make(map[int64]string)
	for _, p := range m.data.projects {
		for _, id := range ids {
			if p.ID == id {
				names[id] = p.Name
			}
		}
	}
	return names, nil
}

func (m *mockStore) GenreNames(ids []int64) (map[int64]string, error) {
	names := make(map[int64]string)
	for _, g := range m.data.genres {
		for _, id := range ids {
			if g.ID == id {
				names[id] = g.Name
			}
		}
	}
	return names, nil
}
