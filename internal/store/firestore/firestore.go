// Package firestore adapts Cloud Firestore to the document store contract.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	goption "google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"lifesync/internal/log"
	"lifesync/internal/store"
)

type Store struct {
	client *firestore.Client
	logger *log.Logger
}

var _ store.Store = (*Store)(nil)

type Config struct {
	ProjectID       string
	CredentialsJSON []byte
	CredentialsFile string
}

// New connects to Firestore. Without explicit credentials the client falls
// back to application default credentials, or to the emulator when
// FIRESTORE_EMULATOR_HOST is set.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Store, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, errors.New("missing firestore project id")
	}

	var opts []goption.ClientOption
	switch {
	case len(cfg.CredentialsJSON) > 0:
		opts = append(opts, goption.WithCredentialsJSON(cfg.CredentialsJSON))
	case cfg.CredentialsFile != "":
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
		opts = append(opts, goption.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}

	l := logger.WithComponent(log.ComponentStorage).With(log.FieldBackend, "firestore")
	l.InfoContext(ctx, "Firestore client created", "project_id", projectID)
	return &Store{client: client, logger: l}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Subscribe(ctx context.Context, q store.Query, onSnapshot store.SnapshotFunc, onError store.ErrorFunc) store.Unsubscribe {
	ctx, cancel := context.WithCancel(ctx)
	query := s.client.Collection(q.Collection).Query
	if q.Field != "" {
		query = query.Where(q.Field, "==", q.Value)
	}
	it := query.Snapshots(ctx)

	go func() {
		for {
			snap, err := it.Next()
			if err != nil {
				if !stopped(ctx, err) && onError != nil {
					onError(err)
				}
				return
			}
			refs, err := snap.Documents.GetAll()
			if err != nil {
				if !stopped(ctx, err) && onError != nil {
					onError(err)
				}
				return
			}
			docs := make([]store.Document, 0, len(refs))
			for _, d := range refs {
				docs = append(docs, store.Document{ID: d.Ref.ID, Fields: d.Data()})
			}
			if onSnapshot != nil {
				onSnapshot(docs)
			}
		}
	}()

	return stopper(cancel, it.Stop)
}

func (s *Store) SubscribeDoc(ctx context.Context, ref store.DocRef, onSnapshot store.DocSnapshotFunc, onError store.ErrorFunc) store.Unsubscribe {
	ctx, cancel := context.WithCancel(ctx)
	it := s.client.Collection(ref.Collection).Doc(ref.ID).Snapshots(ctx)

	go func() {
		for {
			snap, err := it.Next()
			if err != nil {
				if !stopped(ctx, err) && onError != nil {
					onError(err)
				}
				return
			}
			if onSnapshot == nil {
				continue
			}
			if snap == nil || !snap.Exists() {
				onSnapshot(store.Document{ID: ref.ID}, false)
				continue
			}
			onSnapshot(store.Document{ID: ref.ID, Fields: snap.Data()}, true)
		}
	}()

	return stopper(cancel, it.Stop)
}

func (s *Store) Insert(ctx context.Context, collection, id string, fields map[string]any) (string, error) {
	coll := s.client.Collection(collection)
	doc := coll.NewDoc()
	if id != "" {
		doc = coll.Doc(id)
	}
	if _, err := doc.Create(ctx, resolve(fields)); err != nil {
		return "", store.NewWriteError("insert", collection, doc.ID, mapError(err))
	}
	return doc.ID, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	updates := make([]firestore.Update, 0, len(fields))
	for k, v := range resolve(fields) {
		updates = append(updates, firestore.Update{FieldPath: firestore.FieldPath{k}, Value: v})
	}
	_, err := s.client.Collection(collection).Doc(id).Update(ctx, updates)
	if err != nil {
		return store.NewWriteError("update", collection, id, mapError(err))
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.client.Collection(collection).Doc(id).Delete(ctx, firestore.Exists)
	if err != nil {
		return store.NewWriteError("delete", collection, id, mapError(err))
	}
	return nil
}

func (s *Store) SetMerge(ctx context.Context, ref store.DocRef, fields map[string]any) error {
	_, err := s.client.Collection(ref.Collection).Doc(ref.ID).Set(ctx, resolve(fields), firestore.MergeAll)
	if err != nil {
		return store.NewWriteError("set", ref.Collection, ref.ID, mapError(err))
	}
	return nil
}

func (s *Store) GetOrCreate(ctx context.Context, ref store.DocRef, defaults map[string]any) (store.Document, error) {
	docRef := s.client.Collection(ref.Collection).Doc(ref.ID)
	_, err := docRef.Create(ctx, resolve(defaults))
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return store.Document{}, store.NewWriteError("create", ref.Collection, ref.ID, mapError(err))
	}
	snap, err := docRef.Get(ctx)
	if err != nil {
		return store.Document{}, fmt.Errorf("get %s/%s: %w", ref.Collection, ref.ID, err)
	}
	return store.Document{ID: ref.ID, Fields: snap.Data()}, nil
}

func resolve(fields map[string]any) map[string]any {
	return store.ResolveFields(fields, func() any { return firestore.ServerTimestamp })
}

// mapError translates gRPC NotFound and AlreadyExists into store errors.
func mapError(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %v", store.ErrAlreadyExists, err)
	}
	return err
}

func stopped(ctx context.Context, err error) bool {
	return errors.Is(err, iterator.Done) || ctx.Err() != nil || status.Code(err) == codes.Canceled
}

func stopper(cancel context.CancelFunc, stop func()) store.Unsubscribe {
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			stop()
		})
	}
}
