// Package mcp exposes documents and their indexing lifecycle as MCP tools.
package mcp

import "time"

// ListDocumentsInput defines the input parameters for the list_documents tool.
type ListDocumentsInput struct {
	// Search matches title or description, case-insensitively.
	Search string `json:"search,omitempty" jsonschema:"case-insensitive text matched against title and description"`
	// Status filters by indexing status.
	Status string `json:"status,omitempty" jsonschema:"only return documents in this status: uploaded, processing, indexed or failed"`
	Page     int `json:"page,omitempty" jsonschema:"1-based page number, default 1"`
	PageSize int `json:"page_size,omitempty" jsonschema:"documents per page, default 20, at most 100"`
}

// ListDocumentsOutput contains one page of documents.
type ListDocumentsOutput struct {
	Documents []DocumentSummary `json:"documents"`
	// Count is the total number of matching documents.
	Count int `json:"count"`
}

// DocumentSummary is a document without its task details.
type DocumentSummary struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Status        string     `json:"status"`
	MimeType      string     `json:"mime_type,omitempty"`
	FileSize      string     `json:"file_size,omitempty"`
	ChunkCount    int        `json:"chunk_count"`
	UploadedAt    time.Time  `json:"uploaded_at"`
	LastIndexedAt *time.Time `json:"last_indexed_at,omitempty"`
}

// DocumentInput identifies a document.
type DocumentInput struct {
	DocumentID string `json:"document_id" jsonschema:"the document id"`
}

// GetDocumentOutput contains a document and its current task.
type GetDocumentOutput struct {
	Found    bool             `json:"found"`
	Document *DocumentSummary `json:"document,omitempty"`
	Task     *TaskSummary     `json:"task,omitempty"`
}

// TaskSummary is the state of the document's indexing task.
type TaskSummary struct {
	TaskID       string     `json:"task_id"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// IndexDocumentOutput reports whether indexing was started.
type IndexDocumentOutput struct {
	Accepted   bool   `json:"accepted"`
	Message    string `json:"message"`
	DocumentID string `json:"document_id"`
	TaskID     string `json:"task_id,omitempty"`
	Status     string `json:"status,omitempty"`
}

// ListChunksInput defines the input parameters for the list_chunks tool.
type ListChunksInput struct {
	DocumentID string `json:"document_id" jsonschema:"the document id"`
	Page       int    `json:"page,omitempty" jsonschema:"1-based page number, default 1"`
	PageSize   int    `json:"page_size,omitempty" jsonschema:"chunks per page, default 20, at most 100"`
}

// ListChunksOutput contains one page of chunk previews.
type ListChunksOutput struct {
	Found  bool           `json:"found"`
	Chunks []ChunkPreview `json:"chunks"`
	Count  int            `json:"count"`
}

// ChunkPreview is a chunk without its embedding.
type ChunkPreview struct {
	ChunkID         string `json:"chunk_id"`
	ChunkIndex      int    `json:"chunk_index"`
	ContentPreview  string `json:"content_preview"`
	EmbeddingLength int    `json:"embedding_length"`
}
