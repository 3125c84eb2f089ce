package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/bull/docindex/internal/storage"
)

const documentColumns = `id, owner, title, description, file_ref, status, uploaded_at,
	last_indexed_at, chunk_count, file_size, mime_type, source_url`

func (s *Store) CreateDocument(ctx context.Context, doc *storage.Document, taskID string) (*storage.IndexingTask, error) {
	if doc == nil || doc.ID == "" || taskID == "" {
		return nil, storage.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, owner, title, description, file_ref, status, uploaded_at,
			chunk_count, file_size, mime_type, source_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, doc.ID, doc.Owner, doc.Title, nullString(doc.Description), doc.FileRef,
		storage.DocumentUploaded, formatTime(doc.UploadedAt),
		nullString(doc.FileSize), nullString(doc.MimeType), nullString(doc.SourceURL))
	if err != nil {
		return nil, fmt.Errorf("inserting document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, storage.ErrConflict
	}

	task := storage.IndexingTask{
		ID:         taskID,
		DocumentID: doc.ID,
		Status:     storage.TaskPending,
		CreatedAt:  doc.UploadedAt,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO indexing_tasks (id, document_id, status, created_at)
		VALUES (?, ?, ?, ?)
	`, task.ID, task.DocumentID, task.Status, formatTime(task.CreatedAt)); err != nil {
		return nil, fmt.Errorf("inserting task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing document: %w", err)
	}

	doc.Status = storage.DocumentUploaded
	doc.ChunkCount = 0
	doc.LastIndexedAt = nil
	return &task, nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (*storage.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
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
		where = append(where, "owner = ?")
		args = append(args, opts.Owner)
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, opts.Status)
	}
	if opts.Search != "" {
		pattern := "%" + escapeLike(strings.ToLower(opts.Search)) + "%"
		where = append(where, `(LOWER(title) LIKE ? ESCAPE '\' OR LOWER(COALESCE(description, '')) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting documents: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents"+clause+" ORDER BY uploaded_at DESC, id ASC LIMIT ? OFFSET ?",
		append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	docs := []*storage.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, total, nil
}

// DeleteDocument relies on ON DELETE CASCADE for the task and chunk rows.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanDocument(row scanner) (*storage.Document, error) {
	var (
		doc                             storage.Document
		description, fileSize, mimeType sql.NullString
		sourceURL, lastIndexed          sql.NullString
		uploadedAt                      string
	)
	err := row.Scan(&doc.ID, &doc.Owner, &doc.Title, &description, &doc.FileRef, &doc.Status,
		&uploadedAt, &lastIndexed, &doc.ChunkCount, &fileSize, &mimeType, &sourceURL)
	if err != nil {
		return nil, err
	}
	doc.Description = description.String
	doc.FileSize = fileSize.String
	doc.MimeType = mimeType.String
	doc.SourceURL = sourceURL.String
	if doc.UploadedAt, err = parseTime(uploadedAt); err != nil {
		return nil, err
	}
	if doc.LastIndexedAt, err = parseTimePtr(lastIndexed); err != nil {
		return nil, err
	}
	return &doc, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
