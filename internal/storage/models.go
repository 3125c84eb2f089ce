package storage

import (
	"iter"
	"time"
	"unicode/utf8"
)

// DocumentStatus is the indexing state of a document.
type DocumentStatus string

const (
	DocumentUploaded   DocumentStatus = "uploaded"
	DocumentProcessing DocumentStatus = "processing"
	DocumentIndexed    DocumentStatus = "indexed"
	DocumentFailed     DocumentStatus = "failed"
)

// TaskStatus is the state of an indexing task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// IsActive reports whether the task is non-terminal.
func (s TaskStatus) IsActive() bool {
	return s == TaskPending || s == TaskProcessing
}

// PreviewLength is the maximum number of characters kept in Chunk.ContentPreview.
const PreviewLength = 500

// Document is the aggregate root: uploaded file metadata plus indexing state.
// Status, LastIndexedAt and ChunkCount are only changed through Store transitions.
type Document struct {
	ID            string
	Owner         string
	Title         string
	Description   string
	FileRef       string // Opaque handle owned by the upload collaborator: "s3://bucket/key", URL, ...
	Status        DocumentStatus
	UploadedAt    time.Time
	LastIndexedAt *time.Time
	ChunkCount    int
	FileSize      string // Human readable: "1.5 MB"
	MimeType      string
	SourceURL     string
}

// Chunk is an ordered content fragment of a document with an optional embedding.
type Chunk struct {
	ID              string
	DocumentID      string
	Content         string
	ContentPreview  string
	Embedding       []byte
	EmbeddingLength int
	ChunkIndex      int // Unique per document, defines ordering
	CreatedAt       time.Time
}

// IndexingTask tracks one indexing attempt for a document.
// A document has exactly one task row at a time.
type IndexingTask struct {
	ID           string
	DocumentID   string
	Status       TaskStatus
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time // When the task entered processing
	CompletedAt  *time.Time
}

// ChunkInput is one element produced by a worker: chunk text plus optional embedding blob.
type ChunkInput struct {
	Content   string
	Embedding []byte
}

// ChunkSeq is a pull-based sequence of chunk inputs. Producers yield a non-nil error
// to abort the write; the store then keeps the previous chunk set.
type ChunkSeq = iter.Seq2[ChunkInput, error]

// ChunksOf returns a ChunkSeq over an in-memory slice.
func ChunksOf(inputs ...ChunkInput) ChunkSeq {
	return func(yield func(ChunkInput, error) bool) {
		for _, in := range inputs {
			if !yield(in, nil) {
				return
			}
		}
	}
}

// ListOptions filters and paginates document listings.
type ListOptions struct {
	Owner  string // Empty matches every owner
	Status DocumentStatus
	Search string // Case-insensitive match on title or description
	Offset int
	Limit  int
}

// DefaultListLimit is used when ListOptions.Limit or a chunk page size is not positive.
const DefaultListLimit = 20

// Normalize fills defaults for zero values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// ContentPreview truncates content to PreviewLength characters without
// splitting a multibyte character.
func ContentPreview(content string) string {
	if utf8.RuneCountInString(content) <= PreviewLength {
		return content
	}
	n := 0
	for i := range content {
		if n == PreviewLength {
			return content[:i]
		}
		n++
	}
	return content
}

// NewChunk derives the stored form of a chunk input at the given position.
func NewChunk(id, documentID string, index int, in ChunkInput, now time.Time) *Chunk {
	return &Chunk{
		ID:              id,
		DocumentID:      documentID,
		Content:         in.Content,
		ContentPreview:  ContentPreview(in.Content),
		Embedding:       in.Embedding,
		EmbeddingLength: len(in.Embedding),
		ChunkIndex:      index,
		CreatedAt:       now,
	}
}
