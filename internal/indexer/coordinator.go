// Package indexer owns the indexing lifecycle of documents: index requests,
// dispatch to workers, worker reports, timeouts and deletion.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bull/docindex/internal/queue"
	"github.com/bull/docindex/internal/storage"
)

// NewDocument holds the attributes of an uploaded document. The file itself
// has already been stored by the caller and is referenced by FileRef.
type NewDocument struct {
	Owner       string
	Title       string
	Description string
	FileRef     string
	FileSize    string
	MimeType    string
	SourceURL   string
}

// IndexAccepted is returned when an index request has been committed and dispatched.
type IndexAccepted struct {
	DocumentID string
	TaskID     string
	Status     storage.TaskStatus
}

// Claim is what a worker needs to execute a task.
type Claim struct {
	Task     *storage.IndexingTask
	Document *storage.Document
}

// ChunkMirror receives a document's committed chunk set, for example a
// vector index. Mirror failures are logged and never undo a commit.
type ChunkMirror interface {
	// UpsertChunks adds one page of the document's chunks.
	UpsertChunks(ctx context.Context, doc *storage.Document, chunks []*storage.Chunk) error
	// DeleteDocument removes every mirrored chunk of the document.
	DeleteDocument(ctx context.Context, documentID string) error
}

// defaultMirrorPageSize is the number of chunks read back and pushed to the
// mirror at a time.
const defaultMirrorPageSize = 200

// Coordinator drives the document and task state machine on top of a Store.
type Coordinator struct {
	store      storage.Store
	dispatcher queue.Dispatcher
	mirror     ChunkMirror
	logger     *slog.Logger

	mirrorPageSize int

	now   func() time.Time
	newID func() string
}

// NewCoordinator creates a coordinator. mirror may be nil.
func NewCoordinator(store storage.Store, dispatcher queue.Dispatcher, mirror ChunkMirror, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:      store,
		dispatcher: dispatcher,
		mirror:     mirror,
		logger:     logger,

		mirrorPageSize: defaultMirrorPageSize,

		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.New().String() },
	}
}

// CreateDocument records an uploaded document with status uploaded and its
// initial pending task. Nothing is dispatched.
func (c *Coordinator) CreateDocument(ctx context.Context, in NewDocument) (*storage.Document, *storage.IndexingTask, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, nil, fmt.Errorf("%w: title is required", storage.ErrInvalidInput)
	}

	doc := &storage.Document{
		ID:          c.newID(),
		Owner:       in.Owner,
		Title:       in.Title,
		Description: in.Description,
		FileRef:     in.FileRef,
		UploadedAt:  c.now(),
		FileSize:    in.FileSize,
		MimeType:    in.MimeType,
		SourceURL:   in.SourceURL,
	}
	task, err := c.store.CreateDocument(ctx, doc, c.newID())
	if err != nil {
		return nil, nil, fmt.Errorf("create document: %w", err)
	}
	c.logger.Info("Created document", "document_id", doc.ID, "task_id", task.ID, "owner", doc.Owner)
	return doc, task, nil
}

// RequestIndex moves the document to processing, commits, and only then
// publishes the task id. If publishing fails the task is failed with an
// "enqueue failed" message and the returned error wraps storage.ErrTransient.
func (c *Coordinator) RequestIndex(ctx context.Context, documentID, owner string) (*IndexAccepted, error) {
	if _, err := c.GetDocument(ctx, documentID, owner); err != nil {
		return nil, err
	}

	task, err := c.store.BeginIndexing(ctx, documentID, c.newID(), c.now())
	if err != nil {
		return nil, fmt.Errorf("request index: %w", err)
	}

	if err := c.dispatcher.Enqueue(ctx, task.ID); err != nil {
		message := "enqueue failed: " + err.Error()
		if ferr := c.store.FailTask(context.WithoutCancel(ctx), task.ID, message, c.now()); ferr != nil {
			c.logger.Error("Failed to record enqueue failure", "task_id", task.ID, "error", ferr)
		}
		c.logger.Warn("Enqueue failed", "document_id", documentID, "task_id", task.ID, "error", err)
		return nil, fmt.Errorf("dispatch task %s: %w: %w", task.ID, storage.ErrTransient, err)
	}

	c.logger.Info("Indexing started", "document_id", documentID, "task_id", task.ID)
	return &IndexAccepted{DocumentID: documentID, TaskID: task.ID, Status: task.Status}, nil
}

// ClaimTask returns the task and its document if the task is processing.
// Unknown and terminal tasks yield storage.ErrTaskNotActive.
func (c *Coordinator) ClaimTask(ctx context.Context, taskID string) (*Claim, error) {
	task, err := c.store.GetTask(ctx, taskID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, storage.ErrTaskNotActive
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	if task.Status != storage.TaskProcessing {
		return nil, storage.ErrTaskNotActive
	}

	doc, err := c.store.GetDocument(ctx, task.DocumentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, storage.ErrTaskNotActive
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return &Claim{Task: task, Document: doc}, nil
}

// ReportSuccess replaces the document's chunks with the sequence and marks the
// task completed. Reports for unknown or terminal tasks are dropped and return
// (0, nil). An error from the sequence is returned unchanged and nothing is
// committed.
func (c *Coordinator) ReportSuccess(ctx context.Context, taskID string, chunks storage.ChunkSeq) (int, error) {
	n, err := c.store.CompleteTask(ctx, taskID, chunks, c.now())
	if errors.Is(err, storage.ErrTaskNotActive) {
		c.logger.Info("Dropping success report for inactive task", "task_id", taskID)
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	c.logger.Info("Indexing completed", "task_id", taskID, "chunks", n)
	c.syncMirror(ctx, taskID)
	return n, nil
}

// ReportFailure marks the task and its document failed. Reports for unknown
// or terminal tasks are dropped and return nil.
func (c *Coordinator) ReportFailure(ctx context.Context, taskID, message string) error {
	err := c.store.FailTask(ctx, taskID, message, c.now())
	if errors.Is(err, storage.ErrTaskNotActive) {
		c.logger.Info("Dropping failure report for inactive task", "task_id", taskID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("report failure: %w", err)
	}
	c.logger.Warn("Indexing failed", "task_id", taskID, "error", message)
	return nil
}

// DeleteDocument removes the document with its task and chunks.
func (c *Coordinator) DeleteDocument(ctx context.Context, documentID, owner string) error {
	if _, err := c.GetDocument(ctx, documentID, owner); err != nil {
		return err
	}
	if err := c.store.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if c.mirror != nil {
		if err := c.mirror.DeleteDocument(ctx, documentID); err != nil {
			c.logger.Warn("Failed to delete mirrored chunks", "document_id", documentID, "error", err)
		}
	}
	c.logger.Info("Deleted document", "document_id", documentID)
	return nil
}

// ReapStale fails processing tasks that started more than maxAge ago and
// returns how many were failed. A task that finishes concurrently is skipped.
func (c *Coordinator) ReapStale(ctx context.Context, maxAge time.Duration) (int, error) {
	now := c.now()
	stale, err := c.store.StaleTasks(ctx, now.Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("reap stale tasks: %w", err)
	}

	message := fmt.Sprintf("indexing timed out after %s", maxAge)
	reaped := 0
	for _, task := range stale {
		err := c.store.FailTask(ctx, task.ID, message, now)
		if errors.Is(err, storage.ErrTaskNotActive) {
			continue
		}
		if err != nil {
			return reaped, fmt.Errorf("reap task %s: %w", task.ID, err)
		}
		c.logger.Warn("Reaped stale task", "task_id", task.ID, "document_id", task.DocumentID, "started_at", task.StartedAt)
		reaped++
	}
	return reaped, nil
}

// GetDocument returns the document. When owner is non-empty a document owned
// by someone else is reported as storage.ErrNotFound.
func (c *Coordinator) GetDocument(ctx context.Context, documentID, owner string) (*storage.Document, error) {
	doc, err := c.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if owner != "" && doc.Owner != owner {
		return nil, fmt.Errorf("get document: %w", storage.ErrNotFound)
	}
	return doc, nil
}

// ListDocuments returns one page of documents and the total match count.
func (c *Coordinator) ListDocuments(ctx context.Context, opts storage.ListOptions) ([]*storage.Document, int, error) {
	docs, total, err := c.store.ListDocuments(ctx, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	return docs, total, nil
}

// GetTask returns the current task of a document.
func (c *Coordinator) GetTask(ctx context.Context, documentID, owner string) (*storage.IndexingTask, error) {
	if _, err := c.GetDocument(ctx, documentID, owner); err != nil {
		return nil, err
	}
	task, err := c.store.GetTaskByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// ListChunks returns one page of an indexed document's chunks. Documents that
// are not indexed report storage.ErrNotFound.
func (c *Coordinator) ListChunks(ctx context.Context, documentID, owner string, offset, limit int) ([]*storage.Chunk, int, error) {
	doc, err := c.GetDocument(ctx, documentID, owner)
	if err != nil {
		return nil, 0, err
	}
	if doc.Status != storage.DocumentIndexed {
		return nil, 0, fmt.Errorf("document %s is %s: %w", documentID, doc.Status, storage.ErrNotFound)
	}
	chunks, total, err := c.store.ListChunks(ctx, documentID, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list chunks: %w", err)
	}
	return chunks, total, nil
}

// Health checks the store.
func (c *Coordinator) Health(ctx context.Context) error {
	return c.store.Health(ctx)
}

// syncMirror clears the document in the mirror and pushes its committed chunk
// set one page at a time. If the set changes while paging, the newer commit's
// own sync takes over and this one stops.
func (c *Coordinator) syncMirror(ctx context.Context, taskID string) {
	if c.mirror == nil {
		return
	}
	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		c.logger.Warn("Mirror skipped, task lookup failed", "task_id", taskID, "error", err)
		return
	}
	doc, err := c.store.GetDocument(ctx, task.DocumentID)
	if err != nil {
		c.logger.Warn("Mirror skipped, document lookup failed", "document_id", task.DocumentID, "error", err)
		return
	}

	if err := c.mirror.DeleteDocument(ctx, doc.ID); err != nil {
		c.logger.Warn("Failed to clear mirrored chunks", "document_id", doc.ID, "error", err)
		return
	}

	mirrored := 0
	expected := -1
	for offset := 0; ; offset += c.mirrorPageSize {
		page, total, err := c.store.ListChunks(ctx, doc.ID, offset, c.mirrorPageSize)
		if err != nil {
			c.logger.Warn("Mirror stopped, chunk read failed", "document_id", doc.ID, "error", err)
			return
		}
		if expected >= 0 && total != expected {
			c.logger.Info("Mirror stopped, chunk set changed", "document_id", doc.ID)
			return
		}
		expected = total
		if len(page) == 0 {
			break
		}
		if err := c.mirror.UpsertChunks(ctx, doc, page); err != nil {
			c.logger.Warn("Failed to mirror chunks", "document_id", doc.ID, "error", err)
			return
		}
		mirrored += len(page)
		if mirrored >= total {
			break
		}
	}
	c.logger.Debug("Mirrored chunks", "document_id", doc.ID, "chunks", mirrored)
}
