// Package store defines the contract of the remote document store the mirrors
// are kept in sync with. Backends live in subpackages.
package store

import (
	"context"
	"errors"
	"fmt"
)

type (
	// Document is a stored document: its id and its raw fields.
	Document struct {
		ID     string
		Fields map[string]any
	}

	// Query selects the documents of one collection whose Field equals Value.
	// Only single-field equality is supported; ordering is left to callers.
	Query struct {
		Collection string
		Field      string
		Value      any
	}

	// DocRef addresses one document.
	DocRef struct {
		Collection string
		ID         string
	}

	// Unsubscribe detaches a live listener. It is safe to call more than once.
	Unsubscribe func()

	SnapshotFunc    func(docs []Document)
	DocSnapshotFunc func(doc Document, exists bool)
	ErrorFunc       func(err error)
)

// Ports for the document store adapters.
type (
	// Listener opens live subscriptions. The first payload is delivered as
	// soon as the backend has it; every later payload is a full replacement.
	Listener interface {
		Subscribe(ctx context.Context, q Query, onSnapshot SnapshotFunc, onError ErrorFunc) Unsubscribe
		SubscribeDoc(ctx context.Context, ref DocRef, onSnapshot DocSnapshotFunc, onError ErrorFunc) Unsubscribe
	}

	Writer interface {
		// Insert creates a document under id, or under a fresh id when id is
		// empty. ErrAlreadyExists when the id is taken.
		Insert(ctx context.Context, collection, id string, fields map[string]any) (string, error)
		// Update merges fields into an existing document; ErrNotFound when missing.
		Update(ctx context.Context, collection, id string, fields map[string]any) error
		// Delete removes a document; ErrNotFound when missing.
		Delete(ctx context.Context, collection, id string) error
		// SetMerge creates the document or deep-merges fields into it.
		SetMerge(ctx context.Context, ref DocRef, fields map[string]any) error
		// GetOrCreate returns the document, creating it from defaults if it is
		// absent. An existing document is never modified.
		GetOrCreate(ctx context.Context, ref DocRef, defaults map[string]any) (Document, error)
	}

	Store interface {
		Listener
		Writer
		Close() error
	}
)

var (
	// ErrNotFound is returned by writes addressing a document that does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrAlreadyExists is returned by inserts under an id that is taken.
	ErrAlreadyExists = errors.New("document already exists")
)

// WriteError describes a failed write. It wraps the backend error so that
// errors.Is(err, ErrNotFound) keeps working.
type WriteError struct {
	Op         string
	Collection string
	ID         string
	Err        error
}

func (e *WriteError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Collection, e.ID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// NewWriteError wraps err unless it is nil.
func NewWriteError(op, collection, id string, err error) error {
	if err == nil {
		return nil
	}
	return &WriteError{Op: op, Collection: collection, ID: id, Err: err}
}
