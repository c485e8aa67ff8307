package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"novastream/models"
)

// ErrConflict is returned by InsertTaskHistory when a non-terminal row
// with the same unique_key already exists, so the caller can honor
// run_immediately.
var ErrConflict = errors.New("store: unique_key conflict")

func (s *Store) InsertTaskHistory(ctx context.Context, t models.TaskHistory) (*models.TaskHistory, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if t.UniqueKey != "" {
		existing, err := queryTaskHistoryByUniqueKeyNonTerminal(ctx, tx, t.UniqueKey)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if err == nil {
			return existing, ErrConflict
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_history (task_id, title, unique_key, status, progress, description, queue_type, task_type, scheduled_task_id, created_at)
		VALUES (?, ?, NULLIF(?,''), ?, ?, ?, ?, NULLIF(?,''), NULLIF(?,''), ?)`,
		t.TaskID, t.Title, t.UniqueKey, string(t.Status), t.Progress, t.Description, string(t.QueueType), t.TaskType, t.ScheduledTaskID, t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &t, nil
}

func queryTaskHistoryByUniqueKeyNonTerminal(ctx context.Context, tx *sql.Tx, uniqueKey string) (*models.TaskHistory, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT task_id, title, COALESCE(unique_key,''), status, progress, COALESCE(description,''), queue_type, COALESCE(task_type,''), COALESCE(scheduled_task_id,''), created_at, finished_at
		FROM task_history WHERE unique_key = ? AND status IN ('queued','running','paused') LIMIT 1`, uniqueKey)
	return scanTaskHistoryRow(row)
}

func scanTaskHistoryRow(row *sql.Row) (*models.TaskHistory, error) {
	var t models.TaskHistory
	var status, queueType string
	var finished sql.NullTime
	if err := row.Scan(&t.TaskID, &t.Title, &t.UniqueKey, &status, &t.Progress, &t.Description, &queueType, &t.TaskType, &t.ScheduledTaskID, &t.CreatedAt, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.Status = models.TaskStatus(status)
	t.QueueType = models.QueueType(queueType)
	t.FinishedAt = scanNullTime(finished)
	return &t, nil
}

func (s *Store) GetTaskHistory(ctx context.Context, taskID string) (*models.TaskHistory, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT task_id, title, COALESCE(unique_key,''), status, progress, COALESCE(description,''), queue_type, COALESCE(task_type,''), COALESCE(scheduled_task_id,''), created_at, finished_at
		FROM task_history WHERE task_id = ?`, taskID)
	return scanTaskHistoryRow(row)
}

// UpdateTaskProgress updates the progress percentage and description of a
// running task.
func (s *Store) UpdateTaskProgress(ctx context.Context, taskID string, percent int, description string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE task_history SET progress = ?, description = ? WHERE task_id = ?`, percent, description, taskID)
	return err
}

// UpdateTaskStatus transitions a task's status, stamping finished_at when
// the new status is terminal.
func (s *Store) UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, description string) error {
	var finishedAt any
	if status.IsTerminal() {
		finishedAt = time.Now()
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE task_history SET status = ?, description = ?, finished_at = COALESCE(?, finished_at) WHERE task_id = ?`,
		string(status), description, finishedAt, taskID)
	return err
}

// ReconcileInFlightTasks rewrites every running or paused task to failed
// with a restart note; queued tasks are left unchanged.
func (s *Store) ReconcileInFlightTasks(ctx context.Context) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE task_history SET status = 'failed', description = 'process restarted', finished_at = ?
		WHERE status IN ('running','paused')`, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- ScheduledTask ---

func (s *Store) GetScheduledTaskByJobType(ctx context.Context, jobType string) (*models.ScheduledTask, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT task_id, name, job_type, cron_expression, is_enabled, last_run_at, next_run_at
		FROM scheduled_task WHERE job_type = ? LIMIT 1`, jobType)
	return scanScheduledTask(row)
}

func scanScheduledTask(row *sql.Row) (*models.ScheduledTask, error) {
	var t models.ScheduledTask
	var lastRun, nextRun sql.NullTime
	if err := row.Scan(&t.TaskID, &t.Name, &t.JobType, &t.CronExpression, &t.IsEnabled, &lastRun, &nextRun); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.LastRunAt = scanNullTime(lastRun)
	t.NextRunAt = scanNullTime(nextRun)
	return &t, nil
}

func (s *Store) ListScheduledTasks(ctx context.Context) ([]models.ScheduledTask, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT task_id, name, job_type, cron_expression, is_enabled, last_run_at, next_run_at FROM scheduled_task`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ScheduledTask
	for rows.Next() {
		var t models.ScheduledTask
		var lastRun, nextRun sql.NullTime
		if err := rows.Scan(&t.TaskID, &t.Name, &t.JobType, &t.CronExpression, &t.IsEnabled, &lastRun, &nextRun); err != nil {
			return nil, err
		}
		t.LastRunAt = scanNullTime(lastRun)
		t.NextRunAt = scanNullTime(nextRun)
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateScheduledTask inserts a new ScheduledTask, rejecting duplicate
// singleton job types.
func (s *Store) CreateScheduledTask(ctx context.Context, t models.ScheduledTask) error {
	if models.SingletonJobTypes[t.JobType] {
		if existing, err := s.GetScheduledTaskByJobType(ctx, t.JobType); err == nil && existing != nil {
			return ErrConflict
		} else if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO scheduled_task (task_id, name, job_type, cron_expression, is_enabled, last_run_at, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.Name, t.JobType, t.CronExpression, t.IsEnabled, nullTime(t.LastRunAt), nullTime(t.NextRunAt))
	return err
}

// RecordScheduledTaskFire updates last_run_at/next_run_at from the
// cron's true fire time (not wall-clock completion).
func (s *Store) RecordScheduledTaskFire(ctx context.Context, taskID string, firedAt, nextRunAt time.Time) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE scheduled_task SET last_run_at = ?, next_run_at = ? WHERE task_id = ?`, firedAt, nextRunAt, taskID)
	return err
}
