package embedding

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

const (
	// EmbeddingModel is the OpenAI model used for generating embeddings.
	EmbeddingModel = "text-embedding-3-small"

	// EmbeddingDimension is the vector dimension for text-embedding-3-small.
	EmbeddingDimension = 1536

	// DefaultBatchSize balances requests-per-minute vs tokens-per-minute rate limits.
	DefaultBatchSize = 100
)

// Embedder batches texts through a Provider and retries with exponential
// backoff on rate limit and server errors.
type Embedder struct {
	provider  Provider
	batchSize int

	// backoff builds the retry policy for one batch.
	backoff func() backoff.BackOff
}

// NewEmbedder creates an Embedder. If batchSize is 0, DefaultBatchSize is used.
func NewEmbedder(provider Provider, batchSize int) *Embedder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Embedder{
		provider:  provider,
		batchSize: batchSize,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
}

// GenerateEmbeddings generates embeddings for all texts, one batch at a time.
func (e *Embedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	var all [][]float32
	for vec, err := range e.Stream(ctx, texts) {
		if err != nil {
			return nil, err
		}
		all = append(all, vec)
	}
	return all, nil
}

// Stream yields one vector per text. A batch is requested only when the
// consumer reaches it, so stopping early saves the remaining calls.
func (e *Embedder) Stream(ctx context.Context, texts []string) iter.Seq2[[]float32, error] {
	return func(yield func([]float32, error) bool) {
		for i := 0; i < len(texts); i += e.batchSize {
			end := min(i+e.batchSize, len(texts))

			vectors, err := e.embedBatchWithRetry(ctx, texts[i:end])
			if err != nil {
				yield(nil, fmt.Errorf("batch %d-%d: %w", i, end, err))
				return
			}
			for _, v := range vectors {
				if !yield(v, nil) {
					return
				}
			}
		}
	}
}

// embedBatchWithRetry retries rate limit (429) and server (5xx) errors.
// Other errors are permanent and fail immediately.
func (e *Embedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32

	operation := func() error {
		vectors, err := e.provider.Embed(ctx, texts)
		if err != nil {
			if isRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if len(vectors) != len(texts) {
			return backoff.Permanent(fmt.Errorf("provider returned %d embeddings for %d texts", len(vectors), len(texts)))
		}
		embeddings = vectors
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(e.backoff(), ctx))
	return embeddings, err
}

// isRetryable reports rate limit and server errors from the OpenAI API.
func isRetryable(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
