package storage

import "errors"

var (
	// ErrNotFound indicates an unknown document or task id.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates the document already has an active indexing task.
	ErrConflict = errors.New("document is already being indexed")

	// ErrTaskNotActive indicates a worker report for a task that is unknown or
	// no longer processing. Reports carrying it are dropped.
	ErrTaskNotActive = errors.New("task is not processing")

	// ErrTransient indicates a retryable transport failure of the queue or store.
	ErrTransient = errors.New("transient failure")

	// ErrInvalidInput indicates a malformed request.
	ErrInvalidInput = errors.New("invalid input")
)
