package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/taskpilot/taskpilot/internal/model"
)

const taskColumns = "id,user_id,title,description,status,priority,due_date,created_at,updated_at"

// TaskRepo persists tasks. Every statement is scoped by user_id so a caller
// can only ever see or mutate their own rows; an id belonging to someone else
// behaves exactly like a missing id.
type TaskRepo struct{ DB *sql.DB }

func NewTaskRepo(db *sql.DB) *TaskRepo { return &TaskRepo{DB: db} }

func scanTask(s interface {
	Scan(dest ...any) error
}) (model.Task, error) {
	var t model.Task
	err := s.Scan(&t.ID, &t.UserID, &t.Title, &t.Description, &t.Status, &t.Priority,
		&t.DueDate, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

// ListByUser returns the user's tasks, newest first.
func (r *TaskRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Task, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE user_id=? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]model.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Create inserts a task and returns its ID.
func (r *TaskRepo) Create(ctx context.Context, userID uint64, title, description, status, priority string, due sql.NullTime) (uint64, error) {
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO tasks (user_id, title, description, status, priority, due_date) VALUES (?,?,?,?,?,?)",
		userID, title, description, status, priority, due)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByID fetches one task owned by userID.
func (r *TaskRepo) GetByID(ctx context.Context, userID, id uint64) (model.Task, error) {
	t, err := scanTask(r.DB.QueryRowContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE id=? AND user_id=? LIMIT 1", id, userID))
	if err == sql.ErrNoRows {
		return model.Task{}, ErrTaskNotFound
	}
	return t, err
}

// Update rewrites the mutable columns of a task owned by userID.
func (r *TaskRepo) Update(ctx context.Context, userID, id uint64, title, description, status, priority string, due sql.NullTime) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE tasks SET title=?, description=?, status=?, priority=?, due_date=?, updated_at=?
		 WHERE id=? AND user_id=?`,
		title, description, status, priority, due, time.Now().UTC(), id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Delete removes a task owned by userID.
func (r *TaskRepo) Delete(ctx context.Context, userID, id uint64) error {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM tasks WHERE id=? AND user_id=?", id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}
