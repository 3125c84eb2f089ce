// Package vectorindex mirrors committed chunk sets into a Qdrant collection
// so embeddings can be searched outside the relational store.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"

	"github.com/bull/docindex/internal/embedding"
	"github.com/bull/docindex/internal/storage"
)

const (
	// DefaultCollection is the collection chunk points are written to.
	DefaultCollection = "document_chunks"

	// vectorName is the named vector holding chunk embeddings.
	vectorName = "content"

	upsertBatchSize = 100
)

// ErrUnreachable indicates Qdrant did not become healthy during startup.
var ErrUnreachable = errors.New("qdrant unreachable")

// QdrantMirror holds one point per embedded chunk. A committed chunk set is
// mirrored by clearing the document and upserting it page by page; the points
// are removed again when the document is deleted. Chunks without an
// embedding, or with one of the wrong dimension, are not mirrored.
type QdrantMirror struct {
	client     *qdrant.Client
	collection string
	dimension  int
	logger     *slog.Logger
}

// NewQdrantMirror connects over gRPC and waits for Qdrant to report healthy.
func NewQdrantMirror(ctx context.Context, host string, port int, logger *slog.Logger) (*QdrantMirror, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	m := &QdrantMirror{
		client:     client,
		collection: DefaultCollection,
		dimension:  embedding.EmbeddingDimension,
		logger:     logger,
	}

	if err := backoff.Retry(func() error { return m.Health(ctx) }, backoff.WithContext(newBackOff(), ctx)); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return m, nil
}

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// Health performs a single health check against Qdrant.
func (m *QdrantMirror) Health(ctx context.Context) error {
	result, err := m.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the collection and its payload indexes if missing.
func (m *QdrantMirror) EnsureCollection(ctx context.Context) error {
	exists, err := m.client.CollectionExists(ctx, m.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = m.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: m.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorName: {
				Size:     uint64(m.dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// Deletes and lookups filter on these.
	for _, field := range []string{"document_id", "owner"} {
		_, err := m.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: m.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}
	return nil
}

// UpsertChunks writes one page of the document's chunks in batches.
func (m *QdrantMirror) UpsertChunks(ctx context.Context, doc *storage.Document, chunks []*storage.Chunk) error {
	points, skipped := m.points(doc, chunks)
	if skipped > 0 {
		m.logger.Debug("Skipping chunks without usable embedding", "document_id", doc.ID, "skipped", skipped)
	}

	for i := 0; i < len(points); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(points))
		if err := m.upsertWithRetry(ctx, points[i:end]); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

// DeleteDocument removes every point belonging to the document.
func (m *QdrantMirror) DeleteDocument(ctx context.Context, documentID string) error {
	_, err := m.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: m.collection,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("document_id", documentID),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to delete points for document %s: %w", documentID, err)
	}
	return nil
}

// Close closes the Qdrant client connection.
func (m *QdrantMirror) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

func (m *QdrantMirror) points(doc *storage.Document, chunks []*storage.Chunk) ([]*qdrant.PointStruct, int) {
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	skipped := 0
	for _, chunk := range chunks {
		vec, err := embedding.DecodeVector(chunk.Embedding)
		if err != nil || len(vec) == 0 || len(vec) != m.dimension {
			skipped++
			continue
		}
		points = append(points, &qdrant.PointStruct{
			Id: qdrant.NewIDUUID(chunk.ID),
			Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
				vectorName: qdrant.NewVector(vec...),
			}),
			Payload: qdrant.NewValueMap(map[string]any{
				"document_id": doc.ID,
				"owner":       doc.Owner,
				"title":       doc.Title,
				"chunk_index": chunk.ChunkIndex,
				"content":     chunk.ContentPreview,
			}),
		})
	}
	return points, skipped
}

func (m *QdrantMirror) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	operation := func() error {
		_, err := m.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: m.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(newBackOff(), ctx))
}
