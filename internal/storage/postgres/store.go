// Package postgres implements storage.Store on PostgreSQL using pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bull/docindex/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store is a PostgreSQL-backed storage.Store.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to connString and ensures the schema exists.
func NewStore(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := RunSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// RunSchema executes the idempotent schema.
func RunSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}

const schemaSQL = `CREATE TABLE IF NOT EXISTS documents (
    id              TEXT PRIMARY KEY,
    owner           TEXT NOT NULL DEFAULT '',
    title           TEXT NOT NULL,
    description     TEXT,
    file_ref        TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'uploaded',
    uploaded_at     TIMESTAMPTZ NOT NULL,
    last_indexed_at TIMESTAMPTZ,
    chunk_count     INT NOT NULL DEFAULT 0,
    file_size       TEXT,
    mime_type       TEXT,
    source_url      TEXT
);
CREATE INDEX IF NOT EXISTS idx_documents_owner_uploaded ON documents (owner, uploaded_at DESC);

CREATE TABLE IF NOT EXISTS indexing_tasks (
    id            TEXT PRIMARY KEY,
    document_id   TEXT NOT NULL UNIQUE REFERENCES documents(id) ON DELETE CASCADE,
    status        TEXT NOT NULL DEFAULT 'pending',
    error_message TEXT,
    created_at    TIMESTAMPTZ NOT NULL,
    started_at    TIMESTAMPTZ,
    completed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_indexing_tasks_status_started ON indexing_tasks (status, started_at);

CREATE TABLE IF NOT EXISTS document_chunks (
    id               TEXT PRIMARY KEY,
    document_id      TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    content          TEXT NOT NULL,
    content_preview  TEXT NOT NULL,
    embedding        BYTEA,
    embedding_length INT NOT NULL DEFAULT 0,
    chunk_index      INT NOT NULL,
    created_at       TIMESTAMPTZ NOT NULL,
    UNIQUE (document_id, chunk_index)
);`

func (s *Store) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const documentColumns = `id, owner, title, description, file_ref, status, uploaded_at,
	last_indexed_at, chunk_count, file_size, mime_type, source_url`

func (s *Store) CreateDocument(ctx context.Context, doc *storage.Document, taskID string) (*storage.IndexingTask, error) {
	if doc == nil || doc.ID == "" || taskID == "" {
		return nil, storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO documents (id, owner, title, description, file_ref, status, uploaded_at,
			chunk_count, file_size, mime_type, source_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, doc.ID, doc.Owner, doc.Title, text(doc.Description), doc.FileRef, storage.DocumentUploaded,
		doc.UploadedAt, text(doc.FileSize), text(doc.MimeType), text(doc.SourceURL))
	if err != nil {
		return nil, fmt.Errorf("inserting document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, storage.ErrConflict
	}

	task := storage.IndexingTask{
		ID:         taskID,
		DocumentID: doc.ID,
		Status:     storage.TaskPending,
		CreatedAt:  doc.UploadedAt,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO indexing_tasks (id, document_id, status, created_at) VALUES ($1, $2, $3, $4)
	`, task.ID, task.DocumentID, task.Status, task.CreatedAt); err != nil {
		return nil, fmt.Errorf("inserting task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing document: %w", err)
	}
	doc.Status = storage.DocumentUploaded
	doc.ChunkCount = 0
	doc.LastIndexedAt = nil
	return &task, nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (*storage.Document, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, notFound(err)
	}
	return doc, nil
}

func (s *Store) ListDocuments(ctx context.Context, opts storage.ListOptions) ([]*storage.Document, int, error) {
	opts = opts.Normalize()

	var (
		where []string
		args  []any
	)
	if opts.Owner != "" {
		args = append(args, opts.Owner)
		where = append(where, fmt.Sprintf("owner = $%d", len(args)))
	}
	if opts.Status != "" {
		args = append(args, opts.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if opts.Search != "" {
		args = append(args, "%"+escapeLike(opts.Search)+"%")
		n := len(args)
		where = append(where, fmt.Sprintf("(title ILIKE $%d OR COALESCE(description, '') ILIKE $%d)", n, n))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM documents"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting documents: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM documents%s ORDER BY uploaded_at DESC, id ASC LIMIT $%d OFFSET $%d",
		documentColumns, clause, len(args)+1, len(args)+2)
	rows, err := s.pool.Query(ctx, query, append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	docs := []*storage.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, total, rows.Err()
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM documents WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const taskColumns = `id, document_id, status, error_message, created_at, started_at, completed_at`

func (s *Store) GetTask(ctx context.Context, id string) (*storage.IndexingTask, error) {
	task, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM indexing_tasks WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return task, nil
}

func (s *Store) GetTaskByDocument(ctx context.Context, documentID string) (*storage.IndexingTask, error) {
	task, err := scanTask(s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM indexing_tasks WHERE document_id = $1`, documentID))
	if err != nil {
		return nil, notFound(err)
	}
	return task, nil
}

// BeginIndexing locks the document row, so concurrent requests for the same
// document serialize and all but the first observe processing.
func (s *Store) BeginIndexing(ctx context.Context, documentID, newTaskID string, now time.Time) (*storage.IndexingTask, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var prev storage.DocumentStatus
	err = tx.QueryRow(ctx, "SELECT status FROM documents WHERE id = $1 FOR UPDATE", documentID).Scan(&prev)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("locking document: %w", err)
	}
	if prev == storage.DocumentProcessing {
		return nil, storage.ErrConflict
	}

	current, err := scanTask(tx.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM indexing_tasks WHERE document_id = $1`, documentID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("reading task: %w", err)
	}
	reuse := current != nil && current.Status == storage.TaskPending && prev == storage.DocumentUploaded
	if current != nil && current.Status.IsActive() && !reuse {
		return nil, storage.ErrConflict
	}

	tag, err := tx.Exec(ctx, "UPDATE documents SET status = $1 WHERE id = $2 AND status <> $1",
		storage.DocumentProcessing, documentID)
	if err != nil {
		return nil, fmt.Errorf("updating document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, storage.ErrConflict
	}

	var task storage.IndexingTask
	if reuse {
		task = *current
		if _, err := tx.Exec(ctx, `
			UPDATE indexing_tasks
			SET status = $1, started_at = $2, error_message = NULL, completed_at = NULL
			WHERE id = $3
		`, storage.TaskProcessing, now, task.ID); err != nil {
			return nil, fmt.Errorf("starting task: %w", err)
		}
	} else {
		task = storage.IndexingTask{ID: newTaskID, DocumentID: documentID, CreatedAt: now}
		if _, err := tx.Exec(ctx, "DELETE FROM indexing_tasks WHERE document_id = $1", documentID); err != nil {
			return nil, fmt.Errorf("removing previous task: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO indexing_tasks (id, document_id, status, created_at, started_at)
			VALUES ($1, $2, $3, $4, $4)
		`, task.ID, documentID, storage.TaskProcessing, now); err != nil {
			return nil, fmt.Errorf("inserting task: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing index request: %w", err)
	}

	started := now
	task.Status = storage.TaskProcessing
	task.StartedAt = &started
	task.ErrorMessage = ""
	task.CompletedAt = nil
	return &task, nil
}

// CompleteTask streams the sequence into the table with COPY inside the
// transaction that holds the task row lock. Readers keep seeing the previous
// chunk set until commit.
func (s *Store) CompleteTask(ctx context.Context, taskID string, chunks storage.ChunkSeq, now time.Time) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var documentID string
	err = tx.QueryRow(ctx, `
		SELECT document_id FROM indexing_tasks WHERE id = $1 AND status = $2 FOR UPDATE
	`, taskID, storage.TaskProcessing).Scan(&documentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, storage.ErrTaskNotActive
	}
	if err != nil {
		return 0, fmt.Errorf("locking task: %w", err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM document_chunks WHERE document_id = $1", documentID); err != nil {
		return 0, fmt.Errorf("removing previous chunks: %w", err)
	}

	next, stop := iter.Pull2(chunks)
	defer stop()

	var (
		count  int
		seqErr error
	)
	source := pgx.CopyFromFunc(func() ([]any, error) {
		in, err, ok := next()
		if !ok {
			return nil, nil
		}
		if err != nil {
			seqErr = err
			return nil, err
		}
		c := storage.NewChunk(uuid.New().String(), documentID, count, in, now)
		count++
		return []any{c.ID, c.DocumentID, c.Content, c.ContentPreview, c.Embedding,
			c.EmbeddingLength, c.ChunkIndex, c.CreatedAt}, nil
	})
	_, err = tx.CopyFrom(ctx, pgx.Identifier{"document_chunks"},
		[]string{"id", "document_id", "content", "content_preview", "embedding",
			"embedding_length", "chunk_index", "created_at"},
		source)
	if seqErr != nil {
		return 0, seqErr
	}
	if err != nil {
		return 0, fmt.Errorf("copying chunks: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE indexing_tasks SET status = $1, completed_at = $2, error_message = NULL WHERE id = $3
	`, storage.TaskCompleted, now, taskID); err != nil {
		return 0, fmt.Errorf("completing task: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE documents SET status = $1, chunk_count = $2, last_indexed_at = $3 WHERE id = $4
	`, storage.DocumentIndexed, count, now, documentID); err != nil {
		return 0, fmt.Errorf("marking document indexed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing chunks: %w", err)
	}
	return count, nil
}

func (s *Store) FailTask(ctx context.Context, taskID, message string, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var documentID string
	err = tx.QueryRow(ctx, `
		UPDATE indexing_tasks
		SET status = $1, error_message = $2, completed_at = $3
		WHERE id = $4 AND status = $5
		RETURNING document_id
	`, storage.TaskFailed, message, now, taskID, storage.TaskProcessing).Scan(&documentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrTaskNotActive
	}
	if err != nil {
		return fmt.Errorf("failing task: %w", err)
	}
	if _, err := tx.Exec(ctx, "UPDATE documents SET status = $1 WHERE id = $2",
		storage.DocumentFailed, documentID); err != nil {
		return fmt.Errorf("failing document: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing task failure: %w", err)
	}
	return nil
}

func (s *Store) ListChunks(ctx context.Context, documentID string, offset, limit int) ([]*storage.Chunk, int, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	offset = max(offset, 0)

	// chunk_count is maintained in the same transaction as the chunk rows; one
	// snapshot keeps the count and the page from straddling a re-index.
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, 0, fmt.Errorf("beginning read: %w", err)
	}
	defer tx.Rollback(ctx)

	var total int
	err = tx.QueryRow(ctx, "SELECT chunk_count FROM documents WHERE id = $1", documentID).Scan(&total)
	if err != nil {
		return nil, 0, notFound(err)
	}

	rows, err := tx.Query(ctx, `
		SELECT id, document_id, content, content_preview, embedding, embedding_length, chunk_index, created_at
		FROM document_chunks WHERE document_id = $1
		ORDER BY chunk_index ASC LIMIT $2 OFFSET $3
	`, documentID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing chunks: %w", err)
	}
	defer rows.Close()

	chunks := []*storage.Chunk{}
	for rows.Next() {
		var c storage.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &c.ContentPreview, &c.Embedding,
			&c.EmbeddingLength, &c.ChunkIndex, &c.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning chunk: %w", err)
		}
		chunks = append(chunks, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating chunks: %w", err)
	}
	return chunks, total, nil
}

func (s *Store) StaleTasks(ctx context.Context, startedBefore time.Time) ([]*storage.IndexingTask, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM indexing_tasks
		WHERE status = $1 AND started_at < $2
		ORDER BY started_at ASC
	`, storage.TaskProcessing, startedBefore)
	if err != nil {
		return nil, fmt.Errorf("listing stale tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*storage.IndexingTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func scanDocument(row pgx.Row) (*storage.Document, error) {
	var (
		doc                                        storage.Document
		description, fileSize, mimeType, sourceURL pgtype.Text
		lastIndexed                                pgtype.Timestamptz
	)
	if err := row.Scan(&doc.ID, &doc.Owner, &doc.Title, &description, &doc.FileRef, &doc.Status,
		&doc.UploadedAt, &lastIndexed, &doc.ChunkCount, &fileSize, &mimeType, &sourceURL); err != nil {
		return nil, err
	}
	doc.Description = description.String
	doc.FileSize = fileSize.String
	doc.MimeType = mimeType.String
	doc.SourceURL = sourceURL.String
	doc.LastIndexedAt = timePtr(lastIndexed)
	return &doc, nil
}

func scanTask(row pgx.Row) (*storage.IndexingTask, error) {
	var (
		task                   storage.IndexingTask
		errorMessage           pgtype.Text
		startedAt, completedAt pgtype.Timestamptz
	)
	if err := row.Scan(&task.ID, &task.DocumentID, &task.Status, &errorMessage, &task.CreatedAt,
		&startedAt, &completedAt); err != nil {
		return nil, err
	}
	task.ErrorMessage = errorMessage.String
	task.StartedAt = timePtr(startedAt)
	task.CompletedAt = timePtr(completedAt)
	return &task, nil
}

func text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
