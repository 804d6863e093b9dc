package backend

import (
	"context"

	"lifesync/internal/store"
	"lifesync/internal/worker"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the document store and the optional change worker
// that keeps its listeners current.
type BackendResult struct {
	Store store.Store

	// Worker and Feed are set for backends shared between processes.
	// Feed is nil when no change feed is configured.
	Worker *worker.ChangeWorker
	Feed   worker.ChangeConsumer

	Cleanup CleanupFunc
}

// RunWorker runs the change worker until ctx is done. It returns immediately
// for backends without one.
func (r *BackendResult) RunWorker(ctx context.Context) error {
	if r.Worker == nil {
		return nil
	}
	return r.Worker.Run(ctx, r.Feed)
}

// Factory creates backends based on configuration
type Factory interface {
	// CreateBackend creates a backend instance based on the provided config
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend    BackendType = "memory"
	SQLiteBackend    BackendType = "sqlite"
	FirestoreBackend BackendType = "firestore"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, FirestoreBackend:
		return true
	default:
		return false
	}
}
