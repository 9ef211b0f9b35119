package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ymorita/restrack/pkg/models"
	"github.com/ymorita/restrack/pkg/storage"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// ===== Task operations =====

// SaveTask inserts a task and returns its ID.
func (s *PostgresStore) SaveTask(t models.Task) (int64, error) {
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO tasks (name, project_id, genre_id, status, deadline, estimated_hours,
			priority, want_level, is_splittable, min_work_unit, parent_task_id,
			decomposition_level, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		t.Name, t.ProjectID, t.GenreID, t.Status, t.Deadline, t.EstimatedHours,
		t.Priority, t.WantLevel, t.IsSplittable, t.MinWorkUnit, t.ParentTaskID,
		t.DecompositionLevel, t.Note).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save task: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetTask(id int64) (models.Task, error) {
	var task models.Task
	err := s.db.Get(&task, "SELECT * FROM tasks WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Task{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Task{}, err
	}
	return task, nil
}

func (s *PostgresStore) GetTasks(ids []int64) ([]models.Task, error) {
	tasks := []models.Task{}
	err := s.db.Select(&tasks, "SELECT * FROM tasks WHERE id = ANY($1) ORDER BY id", pq.Array(ids))
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateTask applies the non-nil fields of the patch.
func (s *PostgresStore) UpdateTask(id int64, patch models.TaskPatch) error {
	var sets []string
	var args []interface{}
	add := func(col string, val interface{}) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.ProjectID != nil {
		add("project_id", *patch.ProjectID)
	}
	if patch.GenreID != nil {
		add("genre_id", *patch.GenreID)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
	}
	if patch.Deadline != nil {
		add("deadline", *patch.Deadline)
	}
	if patch.EstimatedHours != nil {
		add("estimated_hours", *patch.EstimatedHours)
	}
	if patch.Priority != nil {
		add("priority", *patch.Priority)
	}
	if patch.WantLevel != nil {
		add("want_level", *patch.WantLevel)
	}
	if patch.Note != nil {
		add("note", *patch.Note)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE tasks SET %s, updated_at = CURRENT_TIMESTAMP WHERE id = $%d",
		strings.Join(sets, ", "), len(args))
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	return noRowsAsNotFound(res)
}

func (s *PostgresStore) UpdateTaskStatus(id int64, status models.TaskStatus) error {
	res, err := s.db.Exec(
		"UPDATE tasks SET status = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2", status, id)
	if err != nil {
		return err
	}
	return noRowsAsNotFound(res)
}

func (s *PostgresStore) CountChildren(taskID int64) (int, error) {
	var count int
	err := s.db.Get(&count, "SELECT COUNT(*) FROM tasks WHERE parent_task_id = $1", taskID)
	return count, err
}

func (s *PostgresStore) ListActiveTasks() ([]models.Task, error) {
	tasks := []models.Task{}
	err := s.db.Select(&tasks,
		"SELECT * FROM tasks WHERE status IN ('todo', 'doing', 'waiting') ORDER BY id")
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *PostgresStore) FindTaskByName(name string) (models.Task, error) {
	var task models.Task
	err := s.db.Get(&task,
		"SELECT * FROM tasks WHERE LOWER(name) = LOWER($1) AND status <> 'archive' ORDER BY id LIMIT 1", name)
	if err == sql.ErrNoRows {
		return models.Task{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Task{}, err
	}
	return task, nil
}

// ===== Dependency edge operations =====

func (s *PostgresStore) SaveDependency(d models.Dependency) error {
	_, err := s.db.Exec(
		"INSERT INTO task_dependencies (task_id, depends_on_task_id) VALUES ($1, $2)",
		d.TaskID, d.DependsOnTaskID)
	return err
}

func (s *PostgresStore) DeleteDependency(taskID, dependsOnTaskID int64) error {
	res, err := s.db.Exec(
		"DELETE FROM task_dependencies WHERE task_id = $1 AND depends_on_task_id = $2",
		taskID, dependsOnTaskID)
	if err != nil {
		return err
	}
	return noRowsAsNotFound(res)
}

func (s *PostgresStore) ListDependsOn(taskID int64) ([]int64, error) {
	ids := []int64{}
	err := s.db.Select(&ids,
		"SELECT depends_on_task_id FROM task_dependencies WHERE task_id = $1 ORDER BY depends_on_task_id", taskID)
	return ids, err
}

func (s *PostgresStore) ListBlocking(taskID int64) ([]int64, error) {
	ids := []int64{}
	err := s.db.Select(&ids,
		"SELECT task_id FROM task_dependencies WHERE depends_on_task_id = $1 ORDER BY task_id", taskID)
	return ids, err
}

// ===== Time entry operations =====

func (s *PostgresStore) SaveTimeEntry(e models.TimeEntry) (int64, error) {
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO time_entries (task_id, start_time, end_time, duration_minutes, note)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		e.TaskID, e.StartTime, e.EndTime, e.DurationMinutes, e.Note).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save time entry: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) UpdateTimeEntry(e models.TimeEntry) error {
	res, err := s.db.Exec(`
		UPDATE time_entries SET task_id = $1, start_time = $2, end_time = $3,
			duration_minutes = $4, note = $5 WHERE id = $6`,
		e.TaskID, e.StartTime, e.EndTime, e.DurationMinutes, e.Note, e.ID)
	if err != nil {
		return err
	}
	return noRowsAsNotFound(res)
}

func (s *PostgresStore) ListCompletedTimeEntries(taskID int64) ([]models.TimeEntry, error) {
	entries := []models.TimeEntry{}
	err := s.db.Select(&entries,
		"SELECT * FROM time_entries WHERE task_id = $1 AND end_time IS NOT NULL ORDER BY start_time", taskID)
	return entries, err
}

// GetRunningTimeEntry returns the open timer, or nil when none is running.
// With forUpdate the row is locked so two concurrent starts cannot both
// observe "no running timer".
func (s *PostgresStore) GetRunningTimeEntry(forUpdate bool) (*models.TimeEntry, error) {
	query := "SELECT * FROM time_entries WHERE end_time IS NULL"
	if forUpdate {
		query += " FOR UPDATE"
	}
	var entry models.TimeEntry
	err := s.db.Get(&entry, query)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *PostgresStore) ActualMinutesByTask(taskIDs []int64) (map[int64]int, error) {
	rows := []struct {
		TaskID  int64 `db:"task_id"`
		Minutes int   `db:"minutes"`
	}{}
	err := s.db.Select(&rows, `
		SELECT task_id, COALESCE(SUM(duration_minutes), 0) AS minutes
		FROM time_entries WHERE task_id = ANY($1) GROUP BY task_id`, pq.Array(taskIDs))
	if err != nil {
		return nil, err
	}
	totals := make(map[int64]int, len(rows))
	for _, r := range rows {
		totals[r.TaskID] = r.Minutes
	}
	return totals, nil
}

func (s *PostgresStore) ReassignTimeEntries(fromTaskIDs []int64, toTaskID int64) (int64, error) {
	res, err := s.db.Exec(
		"UPDATE time_entries SET task_id = $1 WHERE task_id = ANY($2)",
		toTaskID, pq.Array(fromTaskIDs))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ===== Schedule block operations =====

func (s *PostgresStore) SaveScheduleBlock(b models.ScheduleBlock) (int64, error) {
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO schedules (task_id, scheduled_date, start_time, end_time,
			allocated_hours, is_generated_by_ai, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		b.TaskID, b.ScheduledDate, b.StartTime, b.EndTime,
		b.AllocatedHours, b.IsGeneratedByAI, b.Status).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save schedule block: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) ListScheduleBlocks(taskID int64) ([]models.ScheduleBlock, error) {
	blocks := []models.ScheduleBlock{}
	err := s.db.Select(&blocks,
		"SELECT * FROM schedules WHERE task_id = $1 ORDER BY scheduled_date, id", taskID)
	return blocks, err
}

func (s *PostgresStore) ReassignScheduleBlocks(fromTaskIDs []int64, toTaskID int64) (int64, error) {
	res, err := s.db.Exec(
		"UPDATE schedules SET task_id = $1 WHERE task_id = ANY($2)",
		toTaskID, pq.Array(fromTaskIDs))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteGeneratedScheduleBlocks removes AI-generated blocks in [from, to] that
// are still in status scheduled. Completed and skipped blocks are kept.
func (s *PostgresStore) DeleteGeneratedScheduleBlocks(from, to time.Time) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM schedules
		WHERE is_generated_by_ai = TRUE AND status = 'scheduled'
		AND scheduled_date >= $1 AND scheduled_date <= $2`, from, to)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ===== Project / genre operations =====

func (s *PostgresStore) SaveProject(p models.Project) (int64, error) {
	var id int64
	err := s.db.QueryRowx(
		"INSERT INTO projects (name, deadline, is_active) VALUES ($1, $2, $3) RETURNING id",
		p.Name, p.Deadline, p.IsActive).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save project: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) SaveGenre(g models.Genre) (int64, error) {
	var id int64
	err := s.db.QueryRowx(
		"INSERT INTO genres (name, color) VALUES ($1, $2) RETURNING id",
		g.Name, g.Color).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save genre: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) ProjectNames(ids []int64) (map[int64]string, error) {
	return s.names("projects", ids)
}

func (s *PostgresStore) GenreNames(ids []int64) (map[int64]string, error) {
	return s.names("genres", ids)
}

func (s *PostgresStore) names(table string, ids []int64) (map[int64]string, error) {
	rows := []struct {
		ID   int64  `db:"id"`
		Name string `db:"name"`
	}{}
	err := s.db.Select(&rows,
		fmt.Sprintf("SELECT id, name FROM %s WHERE id = ANY($1)", table), pq.Array(ids))
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(rows))
	for _, r := range rows {
		names[r.ID] = r.Name
	}
	return names, nil
}

func noRowsAsNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
