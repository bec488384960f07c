package database

import (
	"database/sql"
	"fmt"
)

type SQLTaskRepository struct {
	db *DB
}

var _ TaskRepository = (*SQLTaskRepository)(nil)

func NewTaskRepository(db *DB) *SQLTaskRepository {
	return &SQLTaskRepository{db: db}
}

func (r *SQLTaskRepository) CreateTask(task Task) (int64, error) {
	res, err := r.db.Exec(`
		INSERT INTO tasks (
			keyword, refined_keyword, status, scheduled, interval_seconds,
			last_run_at, next_run_at, run_count, message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.Keyword, task.RefinedKeyword, string(task.Status), task.Scheduled,
		task.IntervalSeconds, task.LastRunAt, task.NextRunAt, task.RunCount,
		task.Message, task.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to create task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read task id: %w", err)
	}
	return id, nil
}

func (r *SQLTaskRepository) GetTask(id int64) (*Task, error) {
	row := r.db.QueryRow(taskSelect+` WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

func (r *SQLTaskRepository) UpdateTask(task *Task) error {
	_, err := r.db.Exec(`
		UPDATE tasks
		SET keyword = ?, refined_keyword = ?, status = ?, scheduled = ?,
		    interval_seconds = ?, last_run_at = ?, next_run_at = ?,
		    run_count = ?, message = ?
		WHERE id = ?
	`, task.Keyword, task.RefinedKeyword, string(task.Status), task.Scheduled,
		task.IntervalSeconds, task.LastRunAt, task.NextRunAt, task.RunCount,
		task.Message, task.ID)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

func (r *SQLTaskRepository) ListRecentTasks(limit int) ([]Task, error) {
	rows, err := r.db.Query(taskSelect+` ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

func (r *SQLTaskRepository) ListScheduledRunning() ([]Task, error) {
	rows, err := r.db.Query(taskSelect+` WHERE scheduled = 1 AND status = ?`, string(TaskStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

func (r *SQLTaskRepository) DeleteTaskCascade(id int64) error {
	task, err := r.GetTask(id)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %d not found", id)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Tickets reference posts, so they go first.
	if _, err := tx.Exec(`DELETE FROM tickets WHERE created_at >= ?`, task.CreatedAt); err != nil {
		return fmt.Errorf("failed to delete tickets: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM posts WHERE created_at >= ?`, task.CreatedAt); err != nil {
		return fmt.Errorf("failed to delete posts: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit task deletion: %w", err)
	}
	return nil
}

const taskSelect = `
	SELECT id, keyword, refined_keyword, status, scheduled, interval_seconds,
	       last_run_at, next_run_at, run_count, message, created_at
	FROM tasks`

func scanTask(row rowScanner) (*Task, error) {
	var task Task
	var status string
	err := row.Scan(
		&task.ID, &task.Keyword, &task.RefinedKeyword, &status, &task.Scheduled,
		&task.IntervalSeconds, &task.LastRunAt, &task.NextRunAt, &task.RunCount,
		&task.Message, &task.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Status = TaskStatus(status)
	return &task, nil
}

func collectTasks(rows *sql.Rows) ([]Task, error) {
	var tasks []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}
