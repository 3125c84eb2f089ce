// Package worker executes indexing tasks taken from the queue: it fetches the
// document file, extracts and chunks its text, embeds the chunks and reports
// the outcome back to the coordinator.
package worker

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/bull/docindex/internal/chunker"
	"github.com/bull/docindex/internal/embedding"
	"github.com/bull/docindex/internal/indexer"
	"github.com/bull/docindex/internal/queue"
	"github.com/bull/docindex/internal/storage"
)

// Coordinator is the part of indexer.Coordinator a worker reports to.
type Coordinator interface {
	ClaimTask(ctx context.Context, taskID string) (*indexer.Claim, error)
	ReportSuccess(ctx context.Context, taskID string, chunks storage.ChunkSeq) (int, error)
	ReportFailure(ctx context.Context, taskID, message string) error
}

// Fetcher resolves a document file reference to its bytes.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Extractor turns file bytes of a content type into text.
type Extractor interface {
	Extract(ctx context.Context, mimeType string, content []byte) (string, error)
}

// Embedder produces one vector per text, lazily.
type Embedder interface {
	Stream(ctx context.Context, texts []string) iter.Seq2[[]float32, error]
}

// recoverer is implemented by queues that can requeue unacknowledged deliveries.
type recoverer interface {
	Recover(ctx context.Context) (int, error)
}

// Config holds a worker's collaborators. Embedder may be nil, in which case
// chunks are stored without embeddings.
type Config struct {
	Coordinator Coordinator
	Consumer    queue.Consumer
	Fetcher     Fetcher
	Extractor   Extractor
	Embedder    Embedder
	MaxChars    int
	Logger      *slog.Logger
}

// Worker consumes task ids and runs the indexing pipeline for each.
type Worker struct {
	coordinator Coordinator
	consumer    queue.Consumer
	fetcher     Fetcher
	extractor   Extractor
	embedder    Embedder
	splitter    func(mimeType string) chunker.Splitter
	logger      *slog.Logger

	// retryDelay is the pause after a failed dequeue.
	retryDelay time.Duration
}

// New creates a worker from cfg.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = chunker.DefaultMaxChars
	}
	return &Worker{
		coordinator: cfg.Coordinator,
		consumer:    cfg.Consumer,
		fetcher:     cfg.Fetcher,
		extractor:   cfg.Extractor,
		embedder:    cfg.Embedder,
		splitter: func(mimeType string) chunker.Splitter {
			return chunker.ForMimeType(mimeType, maxChars)
		},
		logger:     logger,
		retryDelay: 3 * time.Second,
	}
}

// Run starts n consume loops and blocks until ctx is cancelled and every
// loop has finished its current task.
func (w *Worker) Run(ctx context.Context, n int) {
	if n <= 0 {
		n = 1
	}
	if r, ok := w.consumer.(recoverer); ok {
		if _, err := r.Recover(ctx); err != nil {
			w.logger.Warn("Failed to recover unacknowledged tasks", "error", err)
		}
	}

	w.logger.Info("Starting workers", "count", n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.processLoop(ctx, i)
		}()
	}
	wg.Wait()
	w.logger.Info("Workers stopped")
}

func (w *Worker) processLoop(ctx context.Context, workerID int) {
	logger := w.logger.With("worker", workerID)
	for {
		delivery, err := w.consumer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("Dequeue failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.retryDelay):
			}
			continue
		}

		if !w.Handle(ctx, delivery.TaskID) {
			logger.Info("Leaving task unacknowledged", "task_id", delivery.TaskID)
			continue
		}

		// The report is already committed; ack even if ctx was cancelled meanwhile.
		if err := delivery.Ack(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Ack failed", "task_id", delivery.TaskID, "error", err)
		}
	}
}

// Handle runs one task to completion and reports the result. Tasks that are
// no longer processing are skipped. It returns false when no outcome was
// recorded and the delivery must stay unacknowledged so it can be redelivered.
func (w *Worker) Handle(ctx context.Context, taskID string) bool {
	claim, err := w.coordinator.ClaimTask(ctx, taskID)
	if errors.Is(err, storage.ErrTaskNotActive) {
		w.logger.Info("Skipping inactive task", "task_id", taskID)
		return true
	}
	if err != nil {
		// Leave the task processing; the reaper fails it if this persists.
		w.logger.Error("Failed to claim task", "task_id", taskID, "error", err)
		return false
	}

	logger := w.logger.With("task_id", taskID, "document_id", claim.Document.ID)
	logger.Info("Processing task")

	seq, err := w.prepare(ctx, claim.Document)
	if err == nil {
		var n int
		n, err = w.coordinator.ReportSuccess(ctx, taskID, seq)
		if err == nil {
			logger.Info("Task completed", "chunks", n)
			return true
		}
	}

	if ctx.Err() != nil {
		// Shutting down; the task stays processing until redelivered or reaped.
		logger.Warn("Task interrupted", "error", err)
		return false
	}
	logger.Warn("Task failed", "error", err)
	if rerr := w.coordinator.ReportFailure(ctx, taskID, err.Error()); rerr != nil {
		logger.Error("Failed to report task failure", "error", rerr)
		return false
	}
	return true
}

// prepare fetches, extracts and chunks the document and returns the lazy
// sequence of chunk inputs. Embeddings are requested while the store consumes
// the sequence.
func (w *Worker) prepare(ctx context.Context, doc *storage.Document) (storage.ChunkSeq, error) {
	content, err := w.fetcher.Fetch(ctx, doc.FileRef)
	if err != nil {
		return nil, fmt.Errorf("fetch file: %w", err)
	}
	text, err := w.extractor.Extract(ctx, doc.MimeType, content)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	chunks, err := w.splitter(doc.MimeType).Split([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("chunk text: %w", err)
	}
	return w.chunkSeq(ctx, chunks), nil
}

func (w *Worker) chunkSeq(ctx context.Context, chunks []chunker.Chunk) storage.ChunkSeq {
	if w.embedder == nil {
		return func(yield func(storage.ChunkInput, error) bool) {
			for _, c := range chunks {
				if !yield(storage.ChunkInput{Content: c.RawContent}, nil) {
					return
				}
			}
		}
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	return func(yield func(storage.ChunkInput, error) bool) {
		i := 0
		for vec, err := range w.embedder.Stream(ctx, texts) {
			if err != nil {
				yield(storage.ChunkInput{}, fmt.Errorf("embed chunks: %w", err))
				return
			}
			if i >= len(chunks) {
				break
			}
			in := storage.ChunkInput{Content: chunks[i].RawContent, Embedding: embedding.EncodeVector(vec)}
			i++
			if !yield(in, nil) {
				return
			}
		}
		if i != len(chunks) {
			yield(storage.ChunkInput{}, fmt.Errorf("embed chunks: got %d embeddings for %d chunks", i, len(chunks)))
		}
	}
}
