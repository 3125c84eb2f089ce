package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/docindex/internal/storage"
)

const (
	defaultPageSize = storage.DefaultListLimit
	maxPageSize     = 100
)

// pageBounds converts a 1-based page and size into offset and limit.
func pageBounds(page, size int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	size = min(size, maxPageSize)
	return (page - 1) * size, size
}

// makeListDocumentsHandler creates the list_documents tool handler.
func makeListDocumentsHandler(idx Indexer, owner string) func(
	context.Context, *mcp.CallToolRequest, ListDocumentsInput,
) (*mcp.CallToolResult, ListDocumentsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListDocumentsInput) (
		*mcp.CallToolResult, ListDocumentsOutput, error,
	) {
		offset, limit := pageBounds(input.Page, input.PageSize)
		docs, total, err := idx.ListDocuments(ctx, storage.ListOptions{
			Owner:  owner,
			Status: storage.DocumentStatus(input.Status),
			Search: input.Search,
			Offset: offset,
			Limit:  limit,
		})
		if err != nil {
			return nil, ListDocumentsOutput{}, fmt.Errorf("failed to list documents: %w", err)
		}

		out := ListDocumentsOutput{Documents: make([]DocumentSummary, 0, len(docs)), Count: total}
		for _, d := range docs {
			out.Documents = append(out.Documents, summarize(d))
		}
		return nil, out, nil
	}
}

// makeGetDocumentHandler creates the get_document tool handler.
// Unknown documents are reported with Found=false rather than an error.
func makeGetDocumentHandler(idx Indexer, owner string) func(
	context.Context, *mcp.CallToolRequest, DocumentInput,
) (*mcp.CallToolResult, GetDocumentOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input DocumentInput) (
		*mcp.CallToolResult, GetDocumentOutput, error,
	) {
		doc, err := idx.GetDocument(ctx, input.DocumentID, owner)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, GetDocumentOutput{Found: false}, nil
		}
		if err != nil {
			return nil, GetDocumentOutput{}, fmt.Errorf("failed to get document: %w", err)
		}

		summary := summarize(doc)
		out := GetDocumentOutput{Found: true, Document: &summary}

		task, err := idx.GetTask(ctx, input.DocumentID, owner)
		switch {
		case err == nil:
			out.Task = &TaskSummary{
				TaskID:       task.ID,
				Status:       string(task.Status),
				ErrorMessage: task.ErrorMessage,
				StartedAt:    task.StartedAt,
				CompletedAt:  task.CompletedAt,
			}
		case !errors.Is(err, storage.ErrNotFound):
			return nil, GetDocumentOutput{}, fmt.Errorf("failed to get task: %w", err)
		}
		return nil, out, nil
	}
}

// makeIndexDocumentHandler creates the index_document tool handler.
// A conflict is an expected outcome and is reported in the output.
func makeIndexDocumentHandler(idx Indexer, owner string) func(
	context.Context, *mcp.CallToolRequest, DocumentInput,
) (*mcp.CallToolResult, IndexDocumentOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input DocumentInput) (
		*mcp.CallToolResult, IndexDocumentOutput, error,
	) {
		accepted, err := idx.RequestIndex(ctx, input.DocumentID, owner)
		switch {
		case errors.Is(err, storage.ErrConflict):
			return nil, IndexDocumentOutput{
				DocumentID: input.DocumentID,
				Message:    "Document is already being indexed.",
			}, nil
		case errors.Is(err, storage.ErrNotFound):
			return nil, IndexDocumentOutput{
				DocumentID: input.DocumentID,
				Message:    "Document not found.",
			}, nil
		case err != nil:
			return nil, IndexDocumentOutput{}, fmt.Errorf("failed to start indexing: %w", err)
		}

		return nil, IndexDocumentOutput{
			Accepted:   true,
			Message:    "Indexing started.",
			DocumentID: accepted.DocumentID,
			TaskID:     accepted.TaskID,
			Status:     string(accepted.Status),
		}, nil
	}
}

// makeListChunksHandler creates the list_chunks tool handler. Documents that
// are unknown or not yet indexed return Found=false.
func makeListChunksHandler(idx Indexer, owner string) func(
	context.Context, *mcp.CallToolRequest, ListChunksInput,
) (*mcp.CallToolResult, ListChunksOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListChunksInput) (
		*mcp.CallToolResult, ListChunksOutput, error,
	) {
		offset, limit := pageBounds(input.Page, input.PageSize)
		chunks, total, err := idx.ListChunks(ctx, input.DocumentID, owner, offset, limit)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ListChunksOutput{Found: false, Chunks: []ChunkPreview{}}, nil
		}
		if err != nil {
			return nil, ListChunksOutput{}, fmt.Errorf("failed to list chunks: %w", err)
		}

		out := ListChunksOutput{Found: true, Chunks: make([]ChunkPreview, 0, len(chunks)), Count: total}
		for _, c := range chunks {
			out.Chunks = append(out.Chunks, ChunkPreview{
				ChunkID:         c.ID,
				ChunkIndex:      c.ChunkIndex,
				ContentPreview:  c.ContentPreview,
				EmbeddingLength: c.EmbeddingLength,
			})
		}
		return nil, out, nil
	}
}

func summarize(d *storage.Document) DocumentSummary {
	return DocumentSummary{
		ID:            d.ID,
		Title:         d.Title,
		Description:   d.Description,
		Status:        string(d.Status),
		MimeType:      d.MimeType,
		FileSize:      d.FileSize,
		ChunkCount:    d.ChunkCount,
		UploadedAt:    d.UploadedAt,
		LastIndexedAt: d.LastIndexedAt,
	}
}
