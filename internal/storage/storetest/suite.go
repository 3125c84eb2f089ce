// Package storetest holds the behavioural test suite every storage.Store
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docindex/internal/storage"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) storage.Store

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"CreateDocument", testCreateDocument},
		{"BeginIndexingReusesPendingTask", testBeginIndexingReusesPendingTask},
		{"BeginIndexingConflictAndNotFound", testBeginIndexingConflict},
		{"ConcurrentBeginIndexing", testConcurrentBeginIndexing},
		{"CompleteTask", testCompleteTask},
		{"CompleteTaskIsSingleShot", testCompleteTaskSingleShot},
		{"SequenceErrorKeepsPreviousChunks", testSequenceErrorKeepsPreviousChunks},
		{"ReindexReplacesChunks", testReindexReplacesChunks},
		{"FailTask", testFailTask},
		{"ListDocuments", testListDocuments},
		{"ListChunksPagination", testListChunksPagination},
		{"ListChunksDuringReindex", testListChunksDuringReindex},
		{"DeleteDocumentCascades", testDeleteDocumentCascades},
		{"StaleTasks", testStaleTasks},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { assert.NoError(t, s.Close()) })
			tt.fn(t, s)
		})
	}
}

func newDocument(owner, title string, uploadedAt time.Time) *storage.Document {
	return &storage.Document{
		ID:         uuid.New().String(),
		Owner:      owner,
		Title:      title,
		FileRef:    "s3://documents/" + title,
		UploadedAt: uploadedAt,
		MimeType:   "text/plain",
		FileSize:   "1.0 KB",
	}
}

func create(t *testing.T, s storage.Store, doc *storage.Document) *storage.IndexingTask {
	t.Helper()
	task, err := s.CreateDocument(context.Background(), doc, uuid.New().String())
	require.NoError(t, err)
	return task
}

func begin(t *testing.T, s storage.Store, docID string) *storage.IndexingTask {
	t.Helper()
	task, err := s.BeginIndexing(context.Background(), docID, uuid.New().String(), base.Add(time.Minute))
	require.NoError(t, err)
	return task
}

func inputs(contents ...string) storage.ChunkSeq {
	in := make([]storage.ChunkInput, len(contents))
	for i, c := range contents {
		in[i] = storage.ChunkInput{Content: c}
	}
	return storage.ChunksOf(in...)
}

func testCreateDocument(t *testing.T, s storage.Store) {
	ctx := context.Background()
	doc := newDocument("alice", "report", base)

	task, err := s.CreateDocument(ctx, doc, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "task-1", task.ID)
	assert.Equal(t, storage.TaskPending, task.Status)
	assert.Equal(t, doc.ID, task.DocumentID)

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.DocumentUploaded, got.Status)
	assert.Equal(t, 0, got.ChunkCount)
	assert.Nil(t, got.LastIndexedAt)
	assert.Equal(t, "alice", got.Owner)
	assert.Equal(t, "report", got.Title)
	assert.True(t, base.Equal(got.UploadedAt))

	byDoc, err := s.GetTaskByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "task-1", byDoc.ID)

	_, err = s.CreateDocument(ctx, doc, "task-2")
	assert.ErrorIs(t, err, storage.ErrConflict)

	_, err = s.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testBeginIndexingReusesPendingTask(t *testing.T, s storage.Store) {
	ctx := context.Background()
	doc := newDocument("alice", "report", base)
	initial := create(t, s, doc)

	now := base.Add(time.Minute)
	task, err := s.BeginIndexing(ctx, doc.ID, "unused", now)
	require.NoError(t, err)
	assert.Equal(t, initial.ID, task.ID)
	assert.Equal(t, storage.TaskProcessing, task.Status)
	require.NotNil(t, task.StartedAt)
	assert.True(t, now.Equal(*task.StartedAt))

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.DocumentProcessing, got.Status)

	stored, err := s.GetTask(ctx, initial.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.TaskProcessing, stored.Status)
}

func testBeginIndexingConflict(t *testing.T, s storage.Store) {
	ctx := context.Background()
	doc := newDocument("alice", "report", base)
	create(t, s, doc)
	first := begin(t, s, doc.ID)

	_, err := s.BeginIndexing(ctx, doc.ID, "second", base.Add(2*time.Minute))
	assert.ErrorIs(t, err, storage.ErrConflict)

	task, err := s.GetTaskByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, task.ID, "conflict must not mutate the task")

	_, err = s.BeginIndexing(ctx, "missing", "x", base)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testConcurrentBeginIndexing(t *testing.T, s storage.Store) {
	ctx := context.Background()
	doc := newDocument("alice", "report", base)
	create(t, s, doc)

	const callers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.BeginIndexing(ctx, doc.ID, uuid.New().String(), base.Add(time.Minute))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, storage.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, conflicts)
}

func testCompleteTask(t *testing.T, s storage.Store) {
	ctx := context.Background()
	doc := newDocument("alice", "report", base)
	create(t, s, doc)
	task := begin(t, s, doc.ID)

	long := strings.Repeat("é", storage.PreviewLength+10)
	seq := storage.ChunksOf(
		storage.ChunkInput{Content: "first", Embedding: []byte{1, 2, 3, 4}},
		storage.ChunkInput{Content: long},
		storage.ChunkInput{Content: "third", Embedding: make([]byte, 12)},
	)
	done := base.Add(5 * time.Minute)
	n, err := s.CompleteTask(ctx, task.ID, seq, done)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.DocumentIndexed, got.Status)
	assert.Equal(t, 3, got.ChunkCount)
	require.NotNil(t, got.LastIndexedAt)
	assert.True(t, done.Equal(*got.LastIndexedAt))

	stored, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.TaskCompleted, stored.Status)
	require.NotNil(t, stored.CompletedAt)

	chunks, total, err := s.ListChunks(ctx, doc.ID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, got.ChunkCount, total)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, doc.ID, c.DocumentID)
		assert.Equal(t, len(c.Embedding), c.EmbeddingLength)
	}
	assert.Equal(t, 4, chunks[0].EmbeddingLength)
	assert.Equal(t, 0, chunks[1].EmbeddingLength)
	assert.Equal(t, 12, chunks[2].EmbeddingLength)
	assert.Equal(t, long, chunks[1].Content)
	assert.Equal(t, storage.PreviewLength, len([]rune(chunks[1].ContentPreview)))
	assert.Equal(t, "first", chunks[0].ContentPreview)
}

func testCompleteTaskSingleShot(t *testing.T, s storage.Store) {
	ctx := context.Background()
	doc := newDocument("alice", "report", base)
	pending := create(t, s, doc)

	_, err := s.CompleteTask(ctx, pending.ID, inputs("a"), base)
	assert.ErrorIs(t, err, storage.ErrTaskNotActive, "pending task cannot complete")

	task := begin(t, s, doc.ID)
	_, err = s.CompleteTask(ctx, task.ID, inputs("a", "b"), base.Add(time.Hour))
	require.NoError(t, err)

	_, err = s.CompleteTask(ctx, task.ID, inputs("x", "y", "z"), base.Add(2*time.Hour))
	assert.ErrorIs(t, err, storage.ErrTaskNotActive)
	assert.ErrorIs(t, s.FailTask(ctx, task.ID, "late", base.Add(2*time.Hour)), storage.ErrTaskNotActive)

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.DocumentIndexed, got.Status)
	assert.Equal(t, 2, got.ChunkCount)

	_, total, err := s.ListChunks(ctx, doc.ID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	_, err = s.CompleteTask(ctx, "missing", inputs("a"), base)
	assert.ErrorIs(t, err, storage.ErrTaskNotActive)
}

func testSequenceErrorKeepsPreviousChunks(t *testing.T, s storage.Store) {
	ctx := context.Background()
	doc := newDocument("alice", "report", base)
	create(t, s, doc)
	first := begin(t, s, doc.ID)
	_, err := s.CompleteTask(ctx, first.ID, inputs("a", "b"), base.Add(time.Hour))
	require.NoError(t, err)

	second := begin(t, s, doc.ID)
	assert.NotEqual(t, first.ID, second.ID)

	boom := errors.New("embedding failed")
	broken := func(yield func(storage.ChunkInput, error) bool) {
		for i := 0; i < 250; i++ {
			if !yield(storage.ChunkInput{Content: fmt.Sprintf("chunk %d", i)}, nil) {
				return
			}
		}
		yield(storage.ChunkInput{}, boom)
	}
	_, err = s.CompleteTask(ctx, second.ID, broken, base.Add(2*time.Hour))
	assert.ErrorIs(t, err, boom)

	task, err := s.GetTask(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.TaskProcessing, task.Status)

	chunks, total, err := s.ListChunks(ctx, doc.ID, 0, 500)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, chunks, 2)
	assert.Equal(t, "a", chunks[0].Content)

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ChunkCount)
}

func testReindexReplacesChunks(t *testing.T, s storage.Store) {
	ctx := context.Background()
	doc := newDocument("alice", "report", base)
	create(t, s, doc)
	first := begin(t, s, doc.ID)
	_, err := s.CompleteTask(ctx, first.ID, inputs("a", "b", "c"), base.Add(time.Hour))
	require.NoError(t, err)

	second := begin(t, s, doc.ID)
	assert.NotEqual(t, first.ID, second.ID)
	_, err = s.GetTask(ctx, first.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound, "previous task is replaced")

	n, err := s.CompleteTask(ctx, second.ID, inputs("z"), base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	chunks, total, err := s.ListChunks(ctx, doc.ID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, chunks, 1)
	assert.Equal(t, "z", chunks[0].Content)
	assert.Equal(t, 0, chunks[0].ChunkIndex)

	empty := begin(t, s, doc.ID)
	n, err = s.CompleteTask(ctx, empty.ID, inputs(), base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.DocumentIndexed, got.Status)
	assert.Equal(t, 0, got.ChunkCount)
}

func testFailTask(t *testing.T, s storage.Store) {
	ctx := context.Background()
	doc := newDocument("alice", "report", base)
	create(t, s, doc)
	task := begin(t, s, doc.ID)

	require.NoError(t, s.FailTask(ctx, task.ID, "unsupported file type", base.Add(time.Hour)))

	stored, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.TaskFailed, stored.Status)
	assert.Equal(t, "unsupported file type", stored.ErrorMessage)
	require.NotNil(t, stored.CompletedAt)

	got, err := s.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.DocumentFailed, got.Status)

	assert.ErrorIs(t, s.FailTask(ctx, task.ID, "again", base.Add(2*time.Hour)), storage.ErrTaskNotActive)
	stored, err = s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "unsupported file type", stored.ErrorMessage)

	retry := begin(t, s, doc.ID)
	assert.NotEqual(t, task.ID, retry.ID)
	assert.Empty(t, retry.ErrorMessage)
}

func testListDocuments(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a1 := newDocument("alice", "Quarterly Report", base)
	a2 := newDocument("alice", "notes", base.Add(time.Minute))
	a2.Description = "meeting REPORT draft"
	a3 := newDocument("alice", "diagram", base.Add(2*time.Minute))
	b1 := newDocument("bob", "report", base.Add(3*time.Minute))
	for _, d := range []*storage.Document{a1, a2, a3, b1} {
		create(t, s, d)
	}
	begin(t, s, a3.ID)

	docs, total, err := s.ListDocuments(ctx, storage.ListOptions{Owner: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, docs, 3)
	assert.Equal(t, []string{a3.ID, a2.ID, a1.ID}, []string{docs[0].ID, docs[1].ID, docs[2].ID})

	docs, total, err = s.ListDocuments(ctx, storage.ListOptions{Owner: "alice", Search: "report"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, docs, 2)
	assert.Equal(t, a2.ID, docs[0].ID)

	docs, total, err = s.ListDocuments(ctx, storage.ListOptions{Status: storage.DocumentProcessing})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, docs, 1)
	assert.Equal(t, a3.ID, docs[0].ID)

	docs, total, err = s.ListDocuments(ctx, storage.ListOptions{Offset: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, docs, 2)
	assert.Equal(t, a3.ID, docs[0].ID)

	docs, total, err = s.ListDocuments(ctx, storage.ListOptions{Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Empty(t, docs)

	_, total, err = s.ListDocuments(ctx, storage.ListOptions{Search: "100%"})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func testListChunksPagination(t *testing.T, s storage.Store) {
	ctx := context.Background()
	doc := newDocument("alice", "report", base)
	create(t, s, doc)

	chunks, total, err := s.ListChunks(ctx, doc.ID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, chunks)

	task := begin(t, s, doc.ID)
	contents := make([]string, 7)
	for i := range contents {
		contents[i] = fmt.Sprintf("chunk-%d", i)
	}
	_, err = s.CompleteTask(ctx, task.ID, inputs(contents...), base.Add(time.Hour))
	require.NoError(t, err)

	chunks, total, err = s.ListChunks(ctx, doc.ID, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, chunks, 3)
	assert.Equal(t, 3, chunks[0].ChunkIndex)
	assert.Equal(t, "chunk-5", chunks[2].Content)

	chunks, _, err = s.ListChunks(ctx, doc.ID, 6, 3)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)

	_, _, err = s.ListChunks(ctx, "missing", 0, 10)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testListChunksDuringReindex(t *testing.T, s storage.Store) {
	ctx := context.Background()
	doc := newDocument("alice", "report", base)
	create(t, s, doc)

	const cycles = 30
	done := make(chan error, 1)
	go func() {
		for i := range cycles {
			task, err := s.BeginIndexing(ctx, doc.ID, uuid.New().String(), base.Add(time.Minute))
			if err != nil {
				done <- fmt.Errorf("cycle %d: begin: %w", i, err)
				return
			}
			contents := make([]string, 3+i%5)
			for j := range contents {
				contents[j] = fmt.Sprintf("cycle-%d-%d", i, j)
			}
			if _, err := s.CompleteTask(ctx, task.ID, inputs(contents...), base.Add(time.Hour)); err != nil {
				done <- fmt.Errorf("cycle %d: complete: %w", i, err)
				return
			}
		}
		done <- nil
	}()

	reads := 0
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			assert.Positive(t, reads)
			return
		default:
		}

		chunks, total, err := s.ListChunks(ctx, doc.ID, 0, 100)
		require.NoError(t, err)
		reads++
		require.Len(t, chunks, total, "count and rows must come from the same chunk set")
		if total == 0 {
			continue
		}
		prefix, _, _ := strings.Cut(strings.TrimPrefix(chunks[0].Content, "cycle-"), "-")
		for i, c := range chunks {
			assert.Equal(t, i, c.ChunkIndex)
			assert.Equal(t, fmt.Sprintf("cycle-%s-%d", prefix, i), c.Content, "chunks from two generations")
		}
	}
}

func testDeleteDocumentCascades(t *testing.T, s storage.Store) {
	ctx := context.Background()
	doc := newDocument("alice", "report", base)
	create(t, s, doc)
	task := begin(t, s, doc.ID)
	_, err := s.CompleteTask(ctx, task.ID, inputs("a", "b"), base.Add(time.Hour))
	require.NoError(t, err)

	other := newDocument("alice", "other", base)
	create(t, s, other)

	require.NoError(t, s.DeleteDocument(ctx, doc.ID))

	_, err = s.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetTask(ctx, task.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetTaskByDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, _, err = s.ListChunks(ctx, doc.ID, 0, 10)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.GetDocument(ctx, other.ID)
	assert.NoError(t, err)

	assert.ErrorIs(t, s.DeleteDocument(ctx, doc.ID), storage.ErrNotFound)
}

func testStaleTasks(t *testing.T, s storage.Store) {
	ctx := context.Background()
	old := newDocument("alice", "old", base)
	fresh := newDocument("alice", "fresh", base)
	idle := newDocument("alice", "idle", base)
	for _, d := range []*storage.Document{old, fresh, idle} {
		create(t, s, d)
	}

	oldTask, err := s.BeginIndexing(ctx, old.ID, uuid.New().String(), base)
	require.NoError(t, err)
	_, err = s.BeginIndexing(ctx, fresh.ID, uuid.New().String(), base.Add(time.Hour))
	require.NoError(t, err)

	stale, err := s.StaleTasks(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, oldTask.ID, stale[0].ID)

	require.NoError(t, s.FailTask(ctx, oldTask.ID, "timed out", base.Add(time.Hour)))
	stale, err = s.StaleTasks(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, stale)
}
