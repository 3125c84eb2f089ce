// Package api exposes documents and their indexing lifecycle over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bull/docindex/internal/indexer"
	"github.com/bull/docindex/internal/storage"
	"github.com/bull/docindex/internal/upload"
)

const (
	defaultPageSize = storage.DefaultListLimit
	maxPageSize     = 100

	msgDocumentNotFound = "Document not found."
)

// Indexer is the coordinator surface served over HTTP.
type Indexer interface {
	GetDocument(ctx context.Context, documentID, owner string) (*storage.Document, error)
	ListDocuments(ctx context.Context, opts storage.ListOptions) ([]*storage.Document, int, error)
	DeleteDocument(ctx context.Context, documentID, owner string) error
	RequestIndex(ctx context.Context, documentID, owner string) (*indexer.IndexAccepted, error)
	GetTask(ctx context.Context, documentID, owner string) (*storage.IndexingTask, error)
	ListChunks(ctx context.Context, documentID, owner string, offset, limit int) ([]*storage.Chunk, int, error)
	Health(ctx context.Context) error
}

// Uploader stores new documents.
type Uploader interface {
	Upload(ctx context.Context, owner string, f upload.File) (*storage.Document, error)
	UploadByURL(ctx context.Context, owner, title, rawURL, description string) (*storage.Document, error)
}

// DocumentHandler serves /api/v1/documents.
type DocumentHandler struct {
	indexer  Indexer
	uploader Uploader
	logger   *slog.Logger
}

// NewDocumentHandler creates a handler.
func NewDocumentHandler(idx Indexer, uploader Uploader, logger *slog.Logger) *DocumentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentHandler{indexer: idx, uploader: uploader, logger: logger}
}

// Upload handles POST /documents as multipart form: file, title, description.
func (h *DocumentHandler) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "A file is required."})
		return
	}
	src, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Unable to read uploaded file."})
		return
	}
	defer src.Close()

	doc, err := h.uploader.Upload(c.Request.Context(), ownerOf(c), upload.File{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		Filename:    header.Filename,
		Size:        header.Size,
		Content:     src,
	})
	if err != nil {
		writeError(c, h.logger, err, msgDocumentNotFound)
		return
	}
	c.JSON(http.StatusCreated, toDocumentResp(doc))
}

// UploadByURL handles POST /documents/by-url.
func (h *DocumentHandler) UploadByURL(c *gin.Context) {
	var req UploadByURLReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "title and url are required."})
		return
	}
	doc, err := h.uploader.UploadByURL(c.Request.Context(), ownerOf(c), req.Title, req.URL, req.Description)
	if err != nil {
		writeError(c, h.logger, err, msgDocumentNotFound)
		return
	}
	c.JSON(http.StatusCreated, toDocumentResp(doc))
}

// List handles GET /documents?search=&status=&page=&page_size=.
func (h *DocumentHandler) List(c *gin.Context) {
	page, size := pagination(c)
	docs, total, err := h.indexer.ListDocuments(c.Request.Context(), storage.ListOptions{
		Owner:  ownerOf(c),
		Status: storage.DocumentStatus(c.Query("status")),
		Search: c.Query("search"),
		Offset: (page - 1) * size,
		Limit:  size,
	})
	if err != nil {
		writeError(c, h.logger, err, msgDocumentNotFound)
		return
	}

	results := make([]DocumentResp, len(docs))
	for i, d := range docs {
		results[i] = toDocumentResp(d)
	}
	c.JSON(http.StatusOK, PageResp[DocumentResp]{Count: total, Page: page, PageSize: size, Results: results})
}

// Get handles GET /documents/:id.
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.indexer.GetDocument(c.Request.Context(), c.Param("id"), ownerOf(c))
	if err != nil {
		writeError(c, h.logger, err, msgDocumentNotFound)
		return
	}
	c.JSON(http.StatusOK, toDocumentResp(doc))
}

// Delete handles DELETE /documents/:id.
func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.indexer.DeleteDocument(c.Request.Context(), c.Param("id"), ownerOf(c)); err != nil {
		writeError(c, h.logger, err, msgDocumentNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

// Index handles POST /documents/:id/index.
func (h *DocumentHandler) Index(c *gin.Context) {
	accepted, err := h.indexer.RequestIndex(c.Request.Context(), c.Param("id"), ownerOf(c))
	if err != nil {
		writeError(c, h.logger, err, msgDocumentNotFound)
		return
	}
	c.JSON(http.StatusAccepted, IndexResp{
		Message:    "Indexing started.",
		DocumentID: accepted.DocumentID,
		TaskID:     accepted.TaskID,
		Status:     string(accepted.Status),
	})
}

// Task handles GET /documents/:id/task.
func (h *DocumentHandler) Task(c *gin.Context) {
	task, err := h.indexer.GetTask(c.Request.Context(), c.Param("id"), ownerOf(c))
	if err != nil {
		writeError(c, h.logger, err, msgDocumentNotFound)
		return
	}
	c.JSON(http.StatusOK, toTaskResp(task))
}

// Chunks handles GET /documents/:id/chunks?page=&page_size=.
func (h *DocumentHandler) Chunks(c *gin.Context) {
	page, size := pagination(c)
	chunks, total, err := h.indexer.ListChunks(c.Request.Context(), c.Param("id"), ownerOf(c), (page-1)*size, size)
	if err != nil {
		writeError(c, h.logger, err, "Document not found or not yet indexed.")
		return
	}

	results := make([]ChunkResp, len(chunks))
	for i, ch := range chunks {
		results[i] = toChunkResp(ch)
	}
	c.JSON(http.StatusOK, PageResp[ChunkResp]{Count: total, Page: page, PageSize: size, Results: results})
}

// Health handles GET /health.
func (h *DocumentHandler) Health(c *gin.Context) {
	if err := h.indexer.Health(c.Request.Context()); err != nil {
		h.logger.Warn("Health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// pagination reads 1-based page and page_size, clamping invalid values.
func pagination(c *gin.Context) (page, size int) {
	page, err := strconv.Atoi(c.Query("page"))
	if err != nil || page < 1 {
		page = 1
	}
	size, err = strconv.Atoi(c.Query("page_size"))
	if err != nil || size < 1 {
		size = defaultPageSize
	}
	return page, min(size, maxPageSize)
}
