package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bull/docindex/internal/storage"
)

// CompleteTask stages the sequence under a fresh generation, then publishes it
// in one transaction guarded by the task compare-and-set. Staged rows are
// invisible to readers until the document's chunk_generation points at them.
func (s *Store) CompleteTask(ctx context.Context, taskID string, chunks storage.ChunkSeq, now time.Time) (int, error) {
	var (
		documentID string
		status     storage.TaskStatus
	)
	err := s.db.QueryRowContext(ctx, "SELECT document_id, status FROM indexing_tasks WHERE id = ?", taskID).
		Scan(&documentID, &status)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && status != storage.TaskProcessing) {
		return 0, storage.ErrTaskNotActive
	}
	if err != nil {
		return 0, fmt.Errorf("reading task: %w", err)
	}

	generation := uuid.New().String()
	count, err := s.stage(ctx, documentID, generation, chunks, now)
	if err != nil {
		s.discard(ctx, documentID, generation)
		return 0, err
	}

	if err := s.publish(ctx, taskID, documentID, generation, count, now); err != nil {
		s.discard(ctx, documentID, generation)
		return 0, err
	}
	return count, nil
}

// stage pulls the sequence outside any transaction and writes it in batches.
func (s *Store) stage(ctx context.Context, documentID, generation string, chunks storage.ChunkSeq, now time.Time) (int, error) {
	batch := make([]*storage.Chunk, 0, s.stageBatch)
	count := 0
	for in, err := range chunks {
		if err != nil {
			return 0, err
		}
		batch = append(batch, storage.NewChunk(uuid.New().String(), documentID, count, in, now))
		count++
		if len(batch) == s.stageBatch {
			if err := s.insertChunks(ctx, generation, batch); err != nil {
				return 0, err
			}
			batch = batch[:0]
		}
	}
	if err := s.insertChunks(ctx, generation, batch); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) insertChunks(ctx context.Context, generation string, batch []*storage.Chunk) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_chunks (id, document_id, generation, content, content_preview,
			embedding, embedding_length, chunk_index, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range batch {
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, generation, c.Content, c.ContentPreview,
			c.Embedding, c.EmbeddingLength, c.ChunkIndex, formatTime(c.CreatedAt)); err != nil {
			return fmt.Errorf("inserting chunk %d: %w", c.ChunkIndex, err)
		}
	}
	return tx.Commit()
}

func (s *Store) publish(ctx context.Context, taskID, documentID, generation string, count int, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE indexing_tasks
		SET status = ?, completed_at = ?, error_message = NULL
		WHERE id = ? AND status = ?
	`, storage.TaskCompleted, formatTime(now), taskID, storage.TaskProcessing)
	if err != nil {
		return fmt.Errorf("completing task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrTaskNotActive
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents
		SET status = ?, chunk_count = ?, last_indexed_at = ?, chunk_generation = ?
		WHERE id = ?
	`, storage.DocumentIndexed, count, formatTime(now), generation, documentID); err != nil {
		return fmt.Errorf("marking document indexed: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM document_chunks WHERE document_id = ? AND generation <> ?",
		documentID, generation); err != nil {
		return fmt.Errorf("removing previous chunks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing chunks: %w", err)
	}
	return nil
}

// discard removes rows staged by an attempt that did not publish.
func (s *Store) discard(ctx context.Context, documentID, generation string) {
	_, _ = s.db.ExecContext(context.WithoutCancel(ctx),
		"DELETE FROM document_chunks WHERE document_id = ? AND generation = ?", documentID, generation)
}

func (s *Store) ListChunks(ctx context.Context, documentID string, offset, limit int) ([]*storage.Chunk, int, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	offset = max(offset, 0)

	// The count and the page come from one transaction so a concurrent publish
	// cannot land between them.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("beginning read: %w", err)
	}
	defer tx.Rollback()

	var generation string
	var total int
	err = tx.QueryRowContext(ctx, `
		SELECT d.chunk_generation,
			(SELECT COUNT(*) FROM document_chunks c WHERE c.document_id = d.id AND c.generation = d.chunk_generation)
		FROM documents d WHERE d.id = ?
	`, documentID).Scan(&generation, &total)
	if err != nil {
		return nil, 0, notFound(err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, document_id, content, content_preview, embedding, embedding_length, chunk_index, created_at
		FROM document_chunks
		WHERE document_id = ? AND generation = ?
		ORDER BY chunk_index ASC
		LIMIT ? OFFSET ?
	`, documentID, generation, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing chunks: %w", err)
	}
	defer rows.Close()

	chunks := []*storage.Chunk{}
	for rows.Next() {
		var (
			c         storage.Chunk
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &c.ContentPreview, &c.Embedding,
			&c.EmbeddingLength, &c.ChunkIndex, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("scanning chunk: %w", err)
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, 0, err
		}
		chunks = append(chunks, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating chunks: %w", err)
	}
	return chunks, total, nil
}
