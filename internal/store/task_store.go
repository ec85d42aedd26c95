package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/task-reminders/internal/model"
)

// bulkChunkSize bounds the number of IDs bound into one IN (...) list.
const bulkChunkSize = 500

const taskColumns = `id, user_id, title, description, priority, due_at,
	is_completed, completed_at, reminder_sent, created_at, updated_at`

// taskRow mirrors the tasks table.
type taskRow struct {
	ID           string        `db:"id"`
	UserID       string        `db:"user_id"`
	Title        string        `db:"title"`
	Description  string        `db:"description"`
	Priority     string        `db:"priority"`
	DueAt        sql.NullInt64 `db:"due_at"`
	IsCompleted  bool          `db:"is_completed"`
	CompletedAt  sql.NullTime  `db:"completed_at"`
	ReminderSent bool          `db:"reminder_sent"`
	CreatedAt    time.Time     `db:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at"`
}

func (r taskRow) toModel() model.Task {
	t := model.Task{
		ID:           r.ID,
		OwnerID:      r.UserID,
		Title:        r.Title,
		Description:  r.Description,
		Priority:     model.Priority(r.Priority),
		IsCompleted:  r.IsCompleted,
		ReminderSent: r.ReminderSent,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.DueAt.Valid {
		due := fromMillis(r.DueAt.Int64)
		t.DueDate = &due
	}
	if r.CompletedAt.Valid {
		completed := r.CompletedAt.Time.UTC()
		t.CompletedAt = &completed
	}
	return t
}

// dueAtArg converts an optional due date into a bind argument.
func dueAtArg(due *time.Time) any {
	if due == nil {
		return nil
	}
	return toMillis(*due)
}

// CreateTask inserts a new task. Generates a UUID if ID is empty and
// defaults the priority to Medium.
func (s *SQLiteStore) CreateTask(ctx context.Context, task model.Task) (model.Task, error) {
	if err := task.Validate(); err != nil {
		return model.Task{}, err
	}
	if task.OwnerID == "" {
		return model.Task{}, fmt.Errorf("task owner must not be empty")
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	task.Title = strings.TrimSpace(task.Title)
	task.Description = strings.TrimSpace(task.Description)
	if task.Priority == "" {
		task.Priority = model.PriorityMedium
	}

	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.IsCompleted {
		task.CompletedAt = &now
	} else {
		task.CompletedAt = nil
	}
	if task.DueDate != nil {
		due := task.DueDate.UTC()
		task.DueDate = &due
	}

	var completedAt any
	if task.CompletedAt != nil {
		completedAt = *task.CompletedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, user_id, title, description, priority, due_at,
			is_completed, completed_at, reminder_sent, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.OwnerID, task.Title, task.Description, string(task.Priority),
		dueAtArg(task.DueDate),
		boolToInt(task.IsCompleted), completedAt, boolToInt(task.ReminderSent),
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return model.Task{}, fmt.Errorf("creating task: %w", err)
	}
	return task, nil
}

// UpdateTask applies a user edit. completed_at follows is_completed, and
// reminder_sent is cleared whenever the due date changes so the task can
// be reminded again for its new due time. The reminder flag in task is
// otherwise ignored; only the pipeline sets it.
func (s *SQLiteStore) UpdateTask(ctx context.Context, task model.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	if task.Priority == "" {
		task.Priority = model.PriorityMedium
	}

	now := time.Now().UTC()
	due := dueAtArg(task.DueDate)

	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			title = ?, description = ?, priority = ?,
			reminder_sent = CASE WHEN due_at IS ? THEN reminder_sent ELSE 0 END,
			due_at = ?,
			completed_at = CASE WHEN ? = 1 THEN COALESCE(completed_at, ?) ELSE NULL END,
			is_completed = ?,
			updated_at = ?
		WHERE id = ?`,
		strings.TrimSpace(task.Title), strings.TrimSpace(task.Description), string(task.Priority),
		due,
		due,
		boolToInt(task.IsCompleted), now,
		boolToInt(task.IsCompleted),
		now,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", task.ID, err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("task %s: %w", task.ID, ErrNotFound)
	}
	return nil
}

// CompleteTask marks an open task completed, the way a user action would.
// It reports false when the task was already completed.
func (s *SQLiteStore) CompleteTask(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET is_completed = 1, completed_at = ?, updated_at = ?
		WHERE id = ? AND is_completed = 0`,
		now, now, id,
	)
	if err != nil {
		return false, fmt.Errorf("completing task %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		return true, nil
	}

	if _, err := s.GetTaskByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// DeleteTask removes a task by ID.
func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetTaskByID retrieves a single task by its ID.
func (s *SQLiteStore) GetTaskByID(ctx context.Context, id string) (*model.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting task %s: %w", id, err)
	}
	task := row.toModel()
	return &task, nil
}

// FindByDueWindow returns open tasks whose due date lies in the window,
// ordered by due date.
func (s *SQLiteStore) FindByDueWindow(ctx context.Context, w DueWindow) ([]model.Task, error) {
	conditions := []string{
		"is_completed = 0",
		"due_at IS NOT NULL",
		"due_at <= ?",
	}
	args := []any{toMillis(w.Through)}

	if w.After != nil {
		conditions = append(conditions, "due_at > ?")
		args = append(args, toMillis(*w.After))
	}
	if w.ReminderSent != nil {
		conditions = append(conditions, "reminder_sent = ?")
		args = append(args, boolToInt(*w.ReminderSent))
	}

	query := "SELECT " + taskColumns + " FROM tasks WHERE " +
		strings.Join(conditions, " AND ") +
		" ORDER BY due_at ASC, id ASC"
	if w.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", w.Limit)
	}

	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying tasks by due window: %w", err)
	}

	tasks := make([]model.Task, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, r.toModel())
	}
	return tasks, nil
}

// BulkSetCompletedWhere auto-completes the listed tasks that are still open
// and still due by pre.DueThrough. Rows that no longer qualify, because a
// user completed them or moved their due date, are left untouched.
func (s *SQLiteStore) BulkSetCompletedWhere(
	ctx context.Context,
	ids []string,
	pre CompletedPrecondition,
) ([]string, error) {
	completedAt := pre.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}
	completedAt = completedAt.UTC()

	const query = `
		UPDATE tasks SET is_completed = 1, completed_at = ?, updated_at = ?
		WHERE id IN (?)
			AND is_completed = 0
			AND due_at IS NOT NULL
			AND due_at <= ?
		RETURNING id`

	updated, err := s.bulkUpdate(ctx, ids, func(chunk []string) (string, []any, error) {
		return sqlx.In(query, completedAt, completedAt, chunk, toMillis(pre.DueThrough))
	})
	if err != nil {
		return nil, fmt.Errorf("completing due tasks: %w", err)
	}
	return updated, nil
}

// BulkSetReminderSentWhere sets reminder_sent on the listed tasks that are
// still open, not yet reminded, and due within the reminded window.
func (s *SQLiteStore) BulkSetReminderSentWhere(
	ctx context.Context,
	ids []string,
	pre ReminderPrecondition,
) ([]string, error) {
	now := time.Now().UTC()

	const query = `
		UPDATE tasks SET reminder_sent = 1, updated_at = ?
		WHERE id IN (?)
			AND reminder_sent = 0
			AND is_completed = 0
			AND due_at IS NOT NULL
			AND due_at > ?
			AND due_at <= ?
		RETURNING id`

	updated, err := s.bulkUpdate(ctx, ids, func(chunk []string) (string, []any, error) {
		return sqlx.In(query, now, chunk, toMillis(pre.DueAfter), toMillis(pre.DueThrough))
	})
	if err != nil {
		return nil, fmt.Errorf("marking reminders sent: %w", err)
	}
	return updated, nil
}

// bulkUpdate runs a RETURNING id update over ids in chunks inside one
// transaction and collects the updated IDs.
func (s *SQLiteStore) bulkUpdate(
	ctx context.Context,
	ids []string,
	build func(chunk []string) (string, []any, error),
) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var updated []string
	for start := 0; start < len(ids); start += bulkChunkSize {
		end := min(start+bulkChunkSize, len(ids))

		query, args, err := build(ids[start:end])
		if err != nil {
			return nil, fmt.Errorf("building bulk update: %w", err)
		}

		var chunkUpdated []string
		if err := tx.SelectContext(ctx, &chunkUpdated, tx.Rebind(query), args...); err != nil {
			return nil, err
		}
		updated = append(updated, chunkUpdated...)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing bulk update: %w", err)
	}
	return updated, nil
}
