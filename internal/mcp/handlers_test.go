package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docindex/internal/indexer"
	"github.com/bull/docindex/internal/queue"
	"github.com/bull/docindex/internal/storage"
	"github.com/bull/docindex/internal/storage/memory"
)

func newCoordinator(t *testing.T) *indexer.Coordinator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return indexer.NewCoordinator(memory.NewStore(), queue.NewMemoryQueue(8), nil, logger)
}

func createDoc(t *testing.T, c *indexer.Coordinator, owner, title string) *storage.Document {
	t.Helper()
	doc, _, err := c.CreateDocument(context.Background(), indexer.NewDocument{
		Owner:    owner,
		Title:    title,
		FileRef:  "https://example.com/" + title + ".txt",
		MimeType: "text/plain",
	})
	require.NoError(t, err)
	return doc
}

func TestListDocumentsHandler(t *testing.T) {
	c := newCoordinator(t)
	createDoc(t, c, "alice", "alpha")
	createDoc(t, c, "alice", "beta")
	createDoc(t, c, "bob", "gamma")

	handler := makeListDocumentsHandler(c, "alice")
	_, out, err := handler(context.Background(), nil, ListDocumentsInput{PageSize: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, out.Count)
	assert.Len(t, out.Documents, 1)

	_, out, err = handler(context.Background(), nil, ListDocumentsInput{Search: "gamma"})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Count)
	assert.NotNil(t, out.Documents)
}

func TestIndexAndInspectDocument(t *testing.T) {
	c := newCoordinator(t)
	doc := createDoc(t, c, "alice", "guide")
	ctx := context.Background()

	_, got, err := makeGetDocumentHandler(c, "alice")(ctx, nil, DocumentInput{DocumentID: doc.ID})
	require.NoError(t, err)
	require.True(t, got.Found)
	assert.Equal(t, "uploaded", got.Document.Status)
	require.NotNil(t, got.Task)
	assert.Equal(t, "pending", got.Task.Status)

	index := makeIndexDocumentHandler(c, "alice")
	_, started, err := index(ctx, nil, DocumentInput{DocumentID: doc.ID})
	require.NoError(t, err)
	assert.True(t, started.Accepted)
	assert.Equal(t, "Indexing started.", started.Message)
	assert.Equal(t, "processing", started.Status)

	_, again, err := index(ctx, nil, DocumentInput{DocumentID: doc.ID})
	require.NoError(t, err)
	assert.False(t, again.Accepted)
	assert.Equal(t, "Document is already being indexed.", again.Message)

	listChunks := makeListChunksHandler(c, "alice")
	_, chunks, err := listChunks(ctx, nil, ListChunksInput{DocumentID: doc.ID})
	require.NoError(t, err)
	assert.False(t, chunks.Found, "not indexed yet")

	_, err = c.ReportSuccess(ctx, started.TaskID, storage.ChunksOf(
		storage.ChunkInput{Content: "one"},
		storage.ChunkInput{Content: "two", Embedding: []byte{1, 2, 3, 4}},
	))
	require.NoError(t, err)

	_, chunks, err = listChunks(ctx, nil, ListChunksInput{DocumentID: doc.ID, Page: 2, PageSize: 1})
	require.NoError(t, err)
	require.True(t, chunks.Found)
	assert.Equal(t, 2, chunks.Count)
	require.Len(t, chunks.Chunks, 1)
	assert.Equal(t, 1, chunks.Chunks[0].ChunkIndex)
	assert.Equal(t, 4, chunks.Chunks[0].EmbeddingLength)

	_, got, err = makeGetDocumentHandler(c, "alice")(ctx, nil, DocumentInput{DocumentID: doc.ID})
	require.NoError(t, err)
	assert.Equal(t, "indexed", got.Document.Status)
	assert.Equal(t, "completed", got.Task.Status)
}

func TestHandlers_ScopeByOwner(t *testing.T) {
	c := newCoordinator(t)
	doc := createDoc(t, c, "alice", "private")
	ctx := context.Background()

	_, got, err := makeGetDocumentHandler(c, "bob")(ctx, nil, DocumentInput{DocumentID: doc.ID})
	require.NoError(t, err)
	assert.False(t, got.Found)

	_, idx, err := makeIndexDocumentHandler(c, "bob")(ctx, nil, DocumentInput{DocumentID: doc.ID})
	require.NoError(t, err)
	assert.False(t, idx.Accepted)
	assert.Equal(t, "Document not found.", idx.Message)

	// An unscoped server sees everything.
	_, got, err = makeGetDocumentHandler(c, "")(ctx, nil, DocumentInput{DocumentID: doc.ID})
	require.NoError(t, err)
	assert.True(t, got.Found)
}

func TestNewMux(t *testing.T) {
	server := NewServer(&Config{Indexer: newCoordinator(t)})
	mux := NewMux(server, nil)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "list_documents")

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
