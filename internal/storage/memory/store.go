// Package memory provides an in-process implementation of storage.Store.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bull/docindex/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store keeps documents, tasks and chunks in maps guarded by one mutex.
// Each method holds the lock for the whole transition, which gives the same
// all-or-nothing visibility the SQL stores get from transactions.
type Store struct {
	mu        sync.RWMutex
	documents map[string]storage.Document
	tasks     map[string]storage.IndexingTask // by task id
	taskByDoc map[string]string               // document id -> task id
	chunks    map[string][]storage.Chunk      // document id -> chunks ordered by index
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		documents: make(map[string]storage.Document),
		tasks:     make(map[string]storage.IndexingTask),
		taskByDoc: make(map[string]string),
		chunks:    make(map[string][]storage.Chunk),
	}
}

func (s *Store) CreateDocument(_ context.Context, doc *storage.Document, taskID string) (*storage.IndexingTask, error) {
	if doc == nil || doc.ID == "" || taskID == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.documents[doc.ID]; exists {
		return nil, storage.ErrConflict
	}

	d := *doc
	d.Status = storage.DocumentUploaded
	d.ChunkCount = 0
	d.LastIndexedAt = nil
	s.documents[d.ID] = d

	task := storage.IndexingTask{
		ID:         taskID,
		DocumentID: d.ID,
		Status:     storage.TaskPending,
		CreatedAt:  d.UploadedAt,
	}
	s.tasks[task.ID] = task
	s.taskByDoc[d.ID] = task.ID

	*doc = d
	return &task, nil
}

func (s *Store) GetDocument(_ context.Context, id string) (*storage.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &doc, nil
}

func (s *Store) ListDocuments(_ context.Context, opts storage.ListOptions) ([]*storage.Document, int, error) {
	opts = opts.Normalize()
	search := strings.ToLower(opts.Search)

	s.mu.RLock()
	matched := make([]storage.Document, 0, len(s.documents))
	for _, doc := range s.documents {
		if opts.Owner != "" && doc.Owner != opts.Owner {
			continue
		}
		if opts.Status != "" && doc.Status != opts.Status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(doc.Title), search) &&
			!strings.Contains(strings.ToLower(doc.Description), search) {
			continue
		}
		matched = append(matched, doc)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].UploadedAt.Equal(matched[j].UploadedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].UploadedAt.After(matched[j].UploadedAt)
	})

	total := len(matched)
	if opts.Offset >= total {
		return []*storage.Document{}, total, nil
	}
	end := min(opts.Offset+opts.Limit, total)

	page := make([]*storage.Document, 0, end-opts.Offset)
	for i := opts.Offset; i < end; i++ {
		doc := matched[i]
		page = append(page, &doc)
	}
	return page, total, nil
}

func (s *Store) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.documents, id)
	delete(s.chunks, id)
	if taskID, ok := s.taskByDoc[id]; ok {
		delete(s.tasks, taskID)
		delete(s.taskByDoc, id)
	}
	return nil
}

func (s *Store) GetTask(_ context.Context, id string) (*storage.IndexingTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &task, nil
}

func (s *Store) GetTaskByDocument(_ context.Context, documentID string) (*storage.IndexingTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	taskID, ok := s.taskByDoc[documentID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	task := s.tasks[taskID]
	return &task, nil
}

func (s *Store) BeginIndexing(_ context.Context, documentID, newTaskID string, now time.Time) (*storage.IndexingTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[documentID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if doc.Status == storage.DocumentProcessing {
		return nil, storage.ErrConflict
	}

	current, hasTask := s.tasks[s.taskByDoc[documentID]]
	var task storage.IndexingTask
	switch {
	case hasTask && current.Status == storage.TaskPending && doc.Status == storage.DocumentUploaded:
		task = current
	case hasTask && current.Status.IsActive():
		return nil, storage.ErrConflict
	default:
		if hasTask {
			delete(s.tasks, current.ID)
		}
		task = storage.IndexingTask{
			ID:         newTaskID,
			DocumentID: documentID,
			CreatedAt:  now,
		}
	}

	started := now
	task.Status = storage.TaskProcessing
	task.StartedAt = &started
	task.ErrorMessage = ""
	task.CompletedAt = nil
	s.tasks[task.ID] = task
	s.taskByDoc[documentID] = task.ID

	doc.Status = storage.DocumentProcessing
	s.documents[documentID] = doc

	return &task, nil
}

// CompleteTask drains the sequence before taking the write lock, then re-checks
// the task state and swaps the chunk set in one step.
func (s *Store) CompleteTask(_ context.Context, taskID string, chunks storage.ChunkSeq, now time.Time) (int, error) {
	s.mu.RLock()
	task, ok := s.tasks[taskID]
	s.mu.RUnlock()
	if !ok || task.Status != storage.TaskProcessing {
		return 0, storage.ErrTaskNotActive
	}

	var next []storage.Chunk
	for in, err := range chunks {
		if err != nil {
			return 0, err
		}
		next = append(next, *storage.NewChunk(uuid.New().String(), task.DocumentID, len(next), in, now))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok = s.tasks[taskID]
	if !ok || task.Status != storage.TaskProcessing {
		return 0, storage.ErrTaskNotActive
	}
	doc, ok := s.documents[task.DocumentID]
	if !ok {
		return 0, storage.ErrTaskNotActive
	}

	completed := now
	task.Status = storage.TaskCompleted
	task.CompletedAt = &completed
	task.ErrorMessage = ""
	s.tasks[taskID] = task

	s.chunks[doc.ID] = next
	indexed := now
	doc.ChunkCount = len(next)
	doc.LastIndexedAt = &indexed
	doc.Status = storage.DocumentIndexed
	s.documents[doc.ID] = doc

	return len(next), nil
}

func (s *Store) FailTask(_ context.Context, taskID, message string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok || task.Status != storage.TaskProcessing {
		return storage.ErrTaskNotActive
	}

	completed := now
	task.Status = storage.TaskFailed
	task.ErrorMessage = message
	task.CompletedAt = &completed
	s.tasks[taskID] = task

	if doc, ok := s.documents[task.DocumentID]; ok {
		doc.Status = storage.DocumentFailed
		s.documents[doc.ID] = doc
	}
	return nil
}

func (s *Store) ListChunks(_ context.Context, documentID string, offset, limit int) ([]*storage.Chunk, int, error) {
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	offset = max(offset, 0)

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.documents[documentID]; !ok {
		return nil, 0, storage.ErrNotFound
	}
	all := s.chunks[documentID]
	total := len(all)
	if offset >= total {
		return []*storage.Chunk{}, total, nil
	}
	end := min(offset+limit, total)

	page := make([]*storage.Chunk, 0, end-offset)
	for i := offset; i < end; i++ {
		c := all[i]
		page = append(page, &c)
	}
	return page, total, nil
}

func (s *Store) StaleTasks(_ context.Context, startedBefore time.Time) ([]*storage.IndexingTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []*storage.IndexingTask
	for _, task := range s.tasks {
		if task.Status != storage.TaskProcessing || task.StartedAt == nil {
			continue
		}
		if task.StartedAt.Before(startedBefore) {
			t := task
			stale = append(stale, &t)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].StartedAt.Before(*stale[j].StartedAt) })
	return stale, nil
}

func (s *Store) Health(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
