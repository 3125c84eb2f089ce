package api

import (
	"time"

	"github.com/bull/docindex/internal/storage"
)

// DocumentResp is the JSON form of a document.
type DocumentResp struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Owner         string     `json:"owner"`
	FileURL       string     `json:"file_url"`
	SourceURL     string     `json:"source_url,omitempty"`
	Status        string     `json:"status"`
	UploadedAt    time.Time  `json:"uploaded_at"`
	LastIndexedAt *time.Time `json:"last_indexed_at"`
	ChunkCount    int        `json:"chunk_count"`
	FileSize      string     `json:"file_size"`
	MimeType      string     `json:"mime_type"`
}

// TaskResp is the JSON form of an indexing task.
type TaskResp struct {
	TaskID       string     `json:"task_id"`
	DocumentID   string     `json:"document_id"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
}

// ChunkResp is the JSON form of a chunk. Full content and the embedding are
// not exposed.
type ChunkResp struct {
	ChunkID         string `json:"chunk_id"`
	ChunkIndex      int    `json:"chunk_index"`
	ContentPreview  string `json:"content_preview"`
	EmbeddingLength int    `json:"embedding_length"`
}

// IndexResp is the body of an accepted index request.
type IndexResp struct {
	Message    string `json:"message"`
	DocumentID string `json:"document_id"`
	TaskID     string `json:"task_id"`
	Status     string `json:"status"`
}

// PageResp wraps one page of results.
type PageResp[T any] struct {
	Count    int `json:"count"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Results  []T `json:"results"`
}

// UploadByURLReq is the body of POST /documents/by-url.
type UploadByURLReq struct {
	Title       string `json:"title" binding:"required"`
	URL         string `json:"url" binding:"required"`
	Description string `json:"description"`
}

func toDocumentResp(d *storage.Document) DocumentResp {
	return DocumentResp{
		ID:            d.ID,
		Title:         d.Title,
		Description:   d.Description,
		Owner:         d.Owner,
		FileURL:       d.FileRef,
		SourceURL:     d.SourceURL,
		Status:        string(d.Status),
		UploadedAt:    d.UploadedAt,
		LastIndexedAt: d.LastIndexedAt,
		ChunkCount:    d.ChunkCount,
		FileSize:      d.FileSize,
		MimeType:      d.MimeType,
	}
}

func toTaskResp(t *storage.IndexingTask) TaskResp {
	return TaskResp{
		TaskID:       t.ID,
		DocumentID:   t.DocumentID,
		Status:       string(t.Status),
		ErrorMessage: t.ErrorMessage,
		CreatedAt:    t.CreatedAt,
		StartedAt:    t.StartedAt,
		CompletedAt:  t.CompletedAt,
	}
}

func toChunkResp(c *storage.Chunk) ChunkResp {
	return ChunkResp{
		ChunkID:         c.ID,
		ChunkIndex:      c.ChunkIndex,
		ContentPreview:  c.ContentPreview,
		EmbeddingLength: c.EmbeddingLength,
	}
}
