package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bull/docindex/internal/storage"
)

const taskColumns = `id, document_id, status, error_message, created_at, started_at, completed_at`

func (s *Store) GetTask(ctx context.Context, id string) (*storage.IndexingTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM indexing_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		return nil, notFound(err)
	}
	return task, nil
}

func (s *Store) GetTaskByDocument(ctx context.Context, documentID string) (*storage.IndexingTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM indexing_tasks WHERE document_id = ?`, documentID)
	task, err := scanTask(row)
	if err != nil {
		return nil, notFound(err)
	}
	return task, nil
}

func (s *Store) BeginIndexing(ctx context.Context, documentID, newTaskID string, now time.Time) (*storage.IndexingTask, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var prev storage.DocumentStatus
	if err := tx.QueryRowContext(ctx, "SELECT status FROM documents WHERE id = ?", documentID).Scan(&prev); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("reading document status: %w", err)
	}
	if prev == storage.DocumentProcessing {
		return nil, storage.ErrConflict
	}

	current, err := scanTask(tx.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM indexing_tasks WHERE document_id = ?`, documentID))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reading task: %w", err)
	}
	reuse := current != nil && current.Status == storage.TaskPending && prev == storage.DocumentUploaded
	if current != nil && current.Status.IsActive() && !reuse {
		return nil, storage.ErrConflict
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE documents SET status = ? WHERE id = ? AND status = ?",
		storage.DocumentProcessing, documentID, prev)
	if err != nil {
		return nil, fmt.Errorf("updating document status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, storage.ErrConflict
	}

	started := now
	var task storage.IndexingTask
	if reuse {
		task = *current
		res, err := tx.ExecContext(ctx, `
			UPDATE indexing_tasks
			SET status = ?, started_at = ?, error_message = NULL, completed_at = NULL
			WHERE id = ? AND status = ?
		`, storage.TaskProcessing, formatTime(started), task.ID, storage.TaskPending)
		if err != nil {
			return nil, fmt.Errorf("starting task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, storage.ErrConflict
		}
	} else {
		task = storage.IndexingTask{ID: newTaskID, DocumentID: documentID, CreatedAt: now}
		if _, err := tx.ExecContext(ctx, "DELETE FROM indexing_tasks WHERE document_id = ?", documentID); err != nil {
			return nil, fmt.Errorf("removing previous task: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO indexing_tasks (id, document_id, status, created_at, started_at)
			VALUES (?, ?, ?, ?, ?)
		`, task.ID, documentID, storage.TaskProcessing, formatTime(now), formatTime(started)); err != nil {
			return nil, fmt.Errorf("inserting task: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing index request: %w", err)
	}

	task.Status = storage.TaskProcessing
	task.StartedAt = &started
	task.ErrorMessage = ""
	task.CompletedAt = nil
	return &task, nil
}

func (s *Store) FailTask(ctx context.Context, taskID, message string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE indexing_tasks
		SET status = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, storage.TaskFailed, message, formatTime(now), taskID, storage.TaskProcessing)
	if err != nil {
		return fmt.Errorf("failing task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrTaskNotActive
	}

	var documentID, generation string
	if err := tx.QueryRowContext(ctx, `
		SELECT d.id, d.chunk_generation FROM documents d
		JOIN indexing_tasks t ON t.document_id = d.id
		WHERE t.id = ?
	`, taskID).Scan(&documentID, &generation); err != nil {
		return fmt.Errorf("reading task document: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "UPDATE documents SET status = ? WHERE id = ?",
		storage.DocumentFailed, documentID); err != nil {
		return fmt.Errorf("failing document: %w", err)
	}
	// Rows staged by abandoned attempts are never published.
	if _, err := tx.ExecContext(ctx, "DELETE FROM document_chunks WHERE document_id = ? AND generation <> ?",
		documentID, generation); err != nil {
		return fmt.Errorf("purging staged chunks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing task failure: %w", err)
	}
	return nil
}

func (s *Store) StaleTasks(ctx context.Context, startedBefore time.Time) ([]*storage.IndexingTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM indexing_tasks
		WHERE status = ? AND started_at IS NOT NULL AND started_at < ?
		ORDER BY started_at ASC
	`, storage.TaskProcessing, formatTime(startedBefore))
	if err != nil {
		return nil, fmt.Errorf("listing stale tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*storage.IndexingTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stale tasks: %w", err)
	}
	return tasks, nil
}

func scanTask(row scanner) (*storage.IndexingTask, error) {
	var (
		task                   storage.IndexingTask
		errorMessage           sql.NullString
		createdAt              string
		startedAt, completedAt sql.NullString
	)
	err := row.Scan(&task.ID, &task.DocumentID, &task.Status, &errorMessage, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	task.ErrorMessage = errorMessage.String
	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if task.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if task.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	return &task, nil
}
