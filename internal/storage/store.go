// Package storage defines the document, task and chunk records and the
// transactional store contract behind the indexing state machine.
package storage

import (
	"context"
	"time"
)

// Store persists documents, their single indexing task and their chunks.
// Every mutating method runs as one transaction; the status transitions are
// compare-and-set operations so concurrent callers cannot both succeed.
type Store interface {
	// CreateDocument inserts doc with status uploaded together with a pending task.
	CreateDocument(ctx context.Context, doc *Document, taskID string) (*IndexingTask, error)
	GetDocument(ctx context.Context, id string) (*Document, error)
	// ListDocuments returns one page ordered by upload time (newest first) and the total match count.
	ListDocuments(ctx context.Context, opts ListOptions) ([]*Document, int, error)
	// DeleteDocument removes the document, its task and its chunks.
	DeleteDocument(ctx context.Context, id string) error

	GetTask(ctx context.Context, id string) (*IndexingTask, error)
	GetTaskByDocument(ctx context.Context, documentID string) (*IndexingTask, error)

	// BeginIndexing moves the document to processing and its task to processing.
	// A dormant pending task (document still uploaded) is reused; a terminal task is
	// replaced by a new task with newTaskID. Returns ErrNotFound or ErrConflict
	// without mutating anything.
	BeginIndexing(ctx context.Context, documentID, newTaskID string, now time.Time) (*IndexingTask, error)

	// CompleteTask atomically replaces the document's chunks with the sequence,
	// marks the task completed and the document indexed. Returns the new chunk count.
	// Returns ErrTaskNotActive if the task is not processing. If the sequence yields
	// an error nothing is changed.
	CompleteTask(ctx context.Context, taskID string, chunks ChunkSeq, now time.Time) (int, error)

	// FailTask marks a processing task failed with message and the document failed.
	// Returns ErrTaskNotActive if the task is not processing.
	FailTask(ctx context.Context, taskID, message string, now time.Time) error

	// ListChunks returns chunks ordered by chunk index and the total chunk count.
	ListChunks(ctx context.Context, documentID string, offset, limit int) ([]*Chunk, int, error)

	// StaleTasks returns processing tasks that started before the given time.
	StaleTasks(ctx context.Context, startedBefore time.Time) ([]*IndexingTask, error)

	Health(ctx context.Context) error
	Close() error
}
