package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docindex/internal/storage"
	"github.com/bull/docindex/internal/storage/memory"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	enqueued []string
	err      error
}

func (d *fakeDispatcher) Enqueue(_ context.Context, taskID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.enqueued = append(d.enqueued, taskID)
	return nil
}

func (d *fakeDispatcher) ids() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.enqueued...)
}

// fakeMirror records upsert page sizes per document since its last delete.
type fakeMirror struct {
	mu      sync.Mutex
	pages   map[string][]int
	deleted []string
	err     error
}

func (m *fakeMirror) UpsertChunks(_ context.Context, doc *storage.Document, chunks []*storage.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.pages == nil {
		m.pages = make(map[string][]int)
	}
	m.pages[doc.ID] = append(m.pages[doc.ID], len(chunks))
	return nil
}

func (m *fakeMirror) DeleteDocument(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, documentID)
	if m.err != nil {
		return m.err
	}
	delete(m.pages, documentID)
	return nil
}

func (m *fakeMirror) mirrored(documentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, size := range m.pages[documentID] {
		n += size
	}
	return n
}

func (m *fakeMirror) pageSizes(documentID string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.pages[documentID]...)
}

type fixture struct {
	coord      *Coordinator
	store      *memory.Store
	dispatcher *fakeDispatcher
	mirror     *fakeMirror
	clock      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:      memory.NewStore(),
		dispatcher: &fakeDispatcher{},
		mirror:     &fakeMirror{},
		clock:      time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.coord = NewCoordinator(f.store, f.dispatcher, f.mirror, logger)
	f.coord.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func (f *fixture) createDocument(t *testing.T, owner string) *storage.Document {
	t.Helper()
	doc, _, err := f.coord.CreateDocument(context.Background(), NewDocument{
		Owner:    owner,
		Title:    "Handbook",
		FileRef:  "s3://documents/handbook.txt",
		MimeType: "text/plain",
	})
	require.NoError(t, err)
	return doc
}

func chunks(contents ...string) storage.ChunkSeq {
	in := make([]storage.ChunkInput, len(contents))
	for i, c := range contents {
		in[i] = storage.ChunkInput{Content: c, Embedding: []byte{byte(i), 0, 0, 0}}
	}
	return storage.ChunksOf(in...)
}

func TestCreateDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc, task, err := f.coord.CreateDocument(ctx, NewDocument{Owner: "alice", Title: "Handbook"})
	require.NoError(t, err)
	assert.Equal(t, storage.DocumentUploaded, doc.Status)
	assert.Equal(t, storage.TaskPending, task.Status)
	assert.Equal(t, f.clock, doc.UploadedAt)
	assert.Empty(t, f.dispatcher.ids(), "creating a document does not dispatch")

	_, _, err = f.coord.CreateDocument(ctx, NewDocument{Owner: "alice", Title: "  "})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestRequestIndex_SuccessfulIndexing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.createDocument(t, "alice")

	accepted, err := f.coord.RequestIndex(ctx, doc.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, accepted.DocumentID)
	assert.Equal(t, storage.TaskProcessing, accepted.Status)
	assert.Equal(t, []string{accepted.TaskID}, f.dispatcher.ids())

	got, err := f.coord.GetDocument(ctx, doc.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, storage.DocumentProcessing, got.Status)

	claim, err := f.coord.ClaimTask(ctx, accepted.TaskID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, claim.Document.ID)

	f.advance(time.Minute)
	n, err := f.coord.ReportSuccess(ctx, accepted.TaskID, chunks("one", "two", "three"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err = f.coord.GetDocument(ctx, doc.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, storage.DocumentIndexed, got.Status)
	assert.Equal(t, 3, got.ChunkCount)
	require.NotNil(t, got.LastIndexedAt)
	assert.Equal(t, f.clock, *got.LastIndexedAt)

	task, err := f.coord.GetTask(ctx, doc.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, storage.TaskCompleted, task.Status)

	list, total, err := f.coord.ListChunks(ctx, doc.ID, "alice", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, list, 3)
	assert.Equal(t, "two", list[1].Content)
	assert.Equal(t, 4, list[1].EmbeddingLength)

	assert.Equal(t, 3, f.mirror.mirrored(doc.ID))
}

func TestRequestIndex_FailureThenRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.createDocument(t, "alice")

	first, err := f.coord.RequestIndex(ctx, doc.ID, "alice")
	require.NoError(t, err)
	require.NoError(t, f.coord.ReportFailure(ctx, first.TaskID, "unsupported file type"))

	got, err := f.coord.GetDocument(ctx, doc.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, storage.DocumentFailed, got.Status)

	task, err := f.coord.GetTask(ctx, doc.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, storage.TaskFailed, task.Status)
	assert.Equal(t, "unsupported file type", task.ErrorMessage)

	_, _, err = f.coord.ListChunks(ctx, doc.ID, "alice", 0, 10)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	second, err := f.coord.RequestIndex(ctx, doc.ID, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, first.TaskID, second.TaskID)
	assert.Equal(t, []string{first.TaskID, second.TaskID}, f.dispatcher.ids())

	_, err = f.coord.ClaimTask(ctx, first.TaskID)
	assert.ErrorIs(t, err, storage.ErrTaskNotActive)
}

func TestRequestIndex_ConflictWhileProcessing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.createDocument(t, "alice")

	_, err := f.coord.RequestIndex(ctx, doc.ID, "alice")
	require.NoError(t, err)

	_, err = f.coord.RequestIndex(ctx, doc.ID, "alice")
	assert.ErrorIs(t, err, storage.ErrConflict)
	assert.Len(t, f.dispatcher.ids(), 1, "conflicting request must not enqueue")
}

func TestRequestIndex_ConcurrentRequestsEnqueueOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.createDocument(t, "alice")

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.coord.RequestIndex(ctx, doc.ID, "alice")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, storage.ErrConflict)
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, f.dispatcher.ids(), 1)
}

func TestRequestIndex_NotFoundAndForeignOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.createDocument(t, "alice")

	_, err := f.coord.RequestIndex(ctx, "missing", "alice")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.coord.RequestIndex(ctx, doc.ID, "mallory")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, err := f.coord.GetDocument(ctx, doc.ID, "")
	require.NoError(t, err)
	assert.Equal(t, storage.DocumentUploaded, got.Status)
}

func TestRequestIndex_EnqueueFailureCompensates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.createDocument(t, "alice")
	f.dispatcher.err = fmt.Errorf("redis: %w", storage.ErrTransient)

	_, err := f.coord.RequestIndex(ctx, doc.ID, "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrTransient)

	got, err := f.coord.GetDocument(ctx, doc.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, storage.DocumentFailed, got.Status)

	task, err := f.coord.GetTask(ctx, doc.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, storage.TaskFailed, task.Status)
	assert.Contains(t, task.ErrorMessage, "enqueue failed")

	f.dispatcher.err = nil
	_, err = f.coord.RequestIndex(ctx, doc.ID, "alice")
	assert.NoError(t, err, "document can be re-requested after a dispatch failure")
}

func TestReports_AreIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.createDocument(t, "alice")
	accepted, err := f.coord.RequestIndex(ctx, doc.ID, "alice")
	require.NoError(t, err)

	_, err = f.coord.ReportSuccess(ctx, accepted.TaskID, chunks("a", "b"))
	require.NoError(t, err)

	n, err := f.coord.ReportSuccess(ctx, accepted.TaskID, chunks("x", "y", "z"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.NoError(t, f.coord.ReportFailure(ctx, accepted.TaskID, "late failure"))
	require.NoError(t, f.coord.ReportFailure(ctx, "unknown-task", "boom"))
	n, err = f.coord.ReportSuccess(ctx, "unknown-task", chunks("x"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := f.coord.GetDocument(ctx, doc.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, storage.DocumentIndexed, got.Status)
	assert.Equal(t, 2, got.ChunkCount)

	task, err := f.coord.GetTask(ctx, doc.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, storage.TaskCompleted, task.Status)
	assert.Empty(t, task.ErrorMessage)
}

func TestReportSuccess_SequenceErrorLeavesTaskProcessing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.createDocument(t, "alice")
	accepted, err := f.coord.RequestIndex(ctx, doc.ID, "alice")
	require.NoError(t, err)

	boom := errors.New("embedding service unavailable")
	seq := func(yield func(storage.ChunkInput, error) bool) {
		if !yield(storage.ChunkInput{Content: "a"}, nil) {
			return
		}
		yield(storage.ChunkInput{}, boom)
	}
	_, err = f.coord.ReportSuccess(ctx, accepted.TaskID, seq)
	assert.ErrorIs(t, err, boom)

	task, err := f.coord.GetTask(ctx, doc.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, storage.TaskProcessing, task.Status)
	assert.Zero(t, f.mirror.mirrored(doc.ID))
	assert.Empty(t, f.mirror.deleted, "nothing committed, nothing mirrored")
}

func TestReindexReplacesChunkSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.createDocument(t, "alice")

	first, err := f.coord.RequestIndex(ctx, doc.ID, "alice")
	require.NoError(t, err)
	_, err = f.coord.ReportSuccess(ctx, first.TaskID, chunks("a", "b", "c"))
	require.NoError(t, err)

	second, err := f.coord.RequestIndex(ctx, doc.ID, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, first.TaskID, second.TaskID)

	// Listing requires the document to be indexed.
	_, _, err = f.coord.ListChunks(ctx, doc.ID, "alice", 0, 10)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.coord.ReportSuccess(ctx, second.TaskID, chunks("z"))
	require.NoError(t, err)

	list, total, err := f.coord.ListChunks(ctx, doc.ID, "alice", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, list, 1)
	assert.Equal(t, "z", list[0].Content)
	assert.Equal(t, 1, f.mirror.mirrored(doc.ID))
}

func TestReapStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stuck := f.createDocument(t, "alice")
	fresh := f.createDocument(t, "alice")

	stuckTask, err := f.coord.RequestIndex(ctx, stuck.ID, "alice")
	require.NoError(t, err)
	f.advance(45 * time.Minute)
	_, err = f.coord.RequestIndex(ctx, fresh.ID, "alice")
	require.NoError(t, err)
	f.advance(20 * time.Minute)

	n, err := f.coord.ReapStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	task, err := f.coord.GetTask(ctx, stuck.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, storage.TaskFailed, task.Status)
	assert.Equal(t, "indexing timed out after 1h0m0s", task.ErrorMessage)

	got, err := f.coord.GetDocument(ctx, fresh.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, storage.DocumentProcessing, got.Status)

	// A late worker report for the reaped task is dropped.
	n, err = f.coord.ReportSuccess(ctx, stuckTask.TaskID, chunks("late"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	got, err = f.coord.GetDocument(ctx, stuck.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, storage.DocumentFailed, got.Status)
}

func TestRunReaper_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.coord.RunReaper(ctx, time.Millisecond, time.Hour)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestDeleteDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.createDocument(t, "alice")
	accepted, err := f.coord.RequestIndex(ctx, doc.ID, "alice")
	require.NoError(t, err)

	assert.ErrorIs(t, f.coord.DeleteDocument(ctx, doc.ID, "mallory"), storage.ErrNotFound)

	require.NoError(t, f.coord.DeleteDocument(ctx, doc.ID, "alice"))
	assert.Equal(t, []string{doc.ID}, f.mirror.deleted)

	_, err = f.coord.GetDocument(ctx, doc.ID, "alice")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = f.store.GetTask(ctx, accepted.TaskID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The worker still holding the task id finds nothing to do.
	_, err = f.coord.ClaimTask(ctx, accepted.TaskID)
	assert.ErrorIs(t, err, storage.ErrTaskNotActive)
	assert.NoError(t, f.coord.ReportFailure(ctx, accepted.TaskID, "gone"))

	assert.ErrorIs(t, f.coord.DeleteDocument(ctx, doc.ID, "alice"), storage.ErrNotFound)
}

func TestListDocuments_ScopedByOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createDocument(t, "alice")
	f.createDocument(t, "alice")
	f.createDocument(t, "bob")

	docs, total, err := f.coord.ListDocuments(ctx, storage.ListOptions{Owner: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, docs, 2)
}

func TestMirrorFailureDoesNotUndoCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mirror.err = errors.New("qdrant down")
	doc := f.createDocument(t, "alice")
	accepted, err := f.coord.RequestIndex(ctx, doc.ID, "alice")
	require.NoError(t, err)

	n, err := f.coord.ReportSuccess(ctx, accepted.TaskID, chunks("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.coord.GetDocument(ctx, doc.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, storage.DocumentIndexed, got.Status)
}

func TestMirrorIsSyncedPageByPage(t *testing.T) {
	f := newFixture(t)
	f.coord.mirrorPageSize = 2
	ctx := context.Background()
	doc := f.createDocument(t, "alice")
	accepted, err := f.coord.RequestIndex(ctx, doc.ID, "alice")
	require.NoError(t, err)

	_, err = f.coord.ReportSuccess(ctx, accepted.TaskID, chunks("a", "b", "c", "d", "e"))
	require.NoError(t, err)

	assert.Equal(t, []string{doc.ID}, f.mirror.deleted, "cleared once before the first page")
	assert.Equal(t, []int{2, 2, 1}, f.mirror.pageSizes(doc.ID))
}
