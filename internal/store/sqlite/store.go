// Package sqlite stores documents as JSON rows in a local SQLite database.
// Listeners of this process are re-queried after every write; other processes
// sharing the file learn about writes through an optional change publisher.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"lifesync/internal/core"
	"lifesync/internal/log"
	"lifesync/internal/store"
)

// Change operations announced to other processes.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
	OpSet    = "set"
)

type (
	// Publisher announces committed writes.
	Publisher interface {
		PublishChange(ctx context.Context, collection, documentID, operation string) error
	}

	Store struct {
		db     *sql.DB
		logger *log.Logger
		now    func() time.Time

		mu        sync.Mutex
		publisher Publisher
		subs      map[int]*subscription
		nextSub   int
		seq       uint64
	}

	subscription struct {
		query      *store.Query
		ref        *store.DocRef
		onSnapshot store.SnapshotFunc
		onDoc      store.DocSnapshotFunc
		onError    store.ErrorFunc
		delivered  atomic.Uint64
	}
)

var _ store.Store = (*Store)(nil)

func New(dbPath string, logger *log.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.WithComponent(log.ComponentStorage),
		now:    func() time.Time { return time.Now().UTC() },
		subs:   map[int]*subscription{},
	}, nil
}

// SetPublisher installs p to announce every committed write.
func (s *Store) SetPublisher(p Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.subs = map[int]*subscription{}
	s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Subscribe(ctx context.Context, q store.Query, onSnapshot store.SnapshotFunc, onError store.ErrorFunc) store.Unsubscribe {
	return s.subscribe(ctx, &subscription{query: &q, onSnapshot: onSnapshot, onError: onError})
}

func (s *Store) SubscribeDoc(ctx context.Context, ref store.DocRef, onSnapshot store.DocSnapshotFunc, onError store.ErrorFunc) store.Unsubscribe {
	return s.subscribe(ctx, &subscription{ref: &ref, onDoc: onSnapshot, onError: onError})
}

func (s *Store) subscribe(ctx context.Context, sub *subscription) store.Unsubscribe {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
	stop := context.AfterFunc(ctx, unsub)
	s.deliver(ctx, sub, seq)
	return func() {
		stop()
		unsub()
	}
}

// Refresh re-queries every listener on collection. It is called when another
// process reports a write.
func (s *Store) Refresh(ctx context.Context, collection string) {
	s.notify(ctx, func(c string) bool { return c == collection })
}

// RefreshAll re-queries every listener.
func (s *Store) RefreshAll(ctx context.Context) {
	s.notify(ctx, func(string) bool { return true })
}

func (s *Store) Insert(ctx context.Context, collection, id string, fields map[string]any) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	created, err := s.create(ctx, collection, id, s.resolve(fields))
	if err != nil {
		return "", store.NewWriteError("insert", collection, id, err)
	}
	if !created {
		return "", store.NewWriteError("insert", collection, id, store.ErrAlreadyExists)
	}

	s.logger.DebugContext(ctx, "Document inserted", log.FieldCollection, collection, log.FieldDocumentID, id)
	s.committed(ctx, collection, id, OpInsert)
	return id, nil
}

// create writes doc unless the id is taken and reports whether it did.
func (s *Store) create(ctx context.Context, collection, id string, doc map[string]any) (bool, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("encode document: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, owner, data) VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, id) DO NOTHING`,
		collection, id, ownerOf(doc), string(data))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	err := s.mutate(ctx, collection, id, func(doc map[string]any, exists bool) (map[string]any, error) {
		if !exists {
			return nil, store.ErrNotFound
		}
		store.MergeFields(doc, s.resolve(fields))
		return doc, nil
	})
	if err != nil {
		return store.NewWriteError("update", collection, id, err)
	}
	s.committed(ctx, collection, id, OpUpdate)
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return store.NewWriteError("delete", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.NewWriteError("delete", collection, id, err)
	}
	if n == 0 {
		return store.NewWriteError("delete", collection, id, store.ErrNotFound)
	}
	s.committed(ctx, collection, id, OpDelete)
	return nil
}

func (s *Store) SetMerge(ctx context.Context, ref store.DocRef, fields map[string]any) error {
	err := s.mutate(ctx, ref.Collection, ref.ID, func(doc map[string]any, _ bool) (map[string]any, error) {
		store.MergeFields(doc, s.resolve(fields))
		return doc, nil
	})
	if err != nil {
		return store.NewWriteError("set", ref.Collection, ref.ID, err)
	}
	s.committed(ctx, ref.Collection, ref.ID, OpSet)
	return nil
}

func (s *Store) GetOrCreate(ctx context.Context, ref store.DocRef, defaults map[string]any) (store.Document, error) {
	created, err := s.create(ctx, ref.Collection, ref.ID, s.resolve(defaults))
	if err != nil {
		return store.Document{}, store.NewWriteError("create", ref.Collection, ref.ID, err)
	}
	if created {
		s.committed(ctx, ref.Collection, ref.ID, OpSet)
	}
	doc, _, err := s.get(ctx, s.db, ref.Collection, ref.ID)
	if err != nil {
		return store.Document{}, fmt.Errorf("get %s/%s: %w", ref.Collection, ref.ID, err)
	}
	return store.Document{ID: ref.ID, Fields: doc}, nil
}

// mutate reads, changes and writes one document inside a transaction.
func (s *Store) mutate(ctx context.Context, collection, id string, change func(doc map[string]any, exists bool) (map[string]any, error)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	doc, exists, err := s.get(ctx, tx, collection, id)
	if err != nil {
		return err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	doc, err = change(doc, exists)
	if err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, owner, data) VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			owner = excluded.owner,
			data = excluded.data,
			updated_at = CURRENT_TIMESTAMP`,
		collection, id, ownerOf(doc), string(data))
	if err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return tx.Commit()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) get(ctx context.Context, q queryer, collection, id string) (map[string]any, bool, error) {
	var data string
	err := q.QueryRowContext(ctx, `SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	doc, err := decode(data)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (s *Store) list(ctx context.Context, q store.Query) ([]store.Document, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if q.Field == core.FieldOwner {
		owner, _ := q.Value.(string)
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, data FROM documents WHERE collection = ? AND owner = ? ORDER BY id`, q.Collection, owner)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT id, data FROM documents WHERE collection = ? ORDER BY id`, q.Collection)
	}
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var docs []store.Document
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		fields, err := decode(data)
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping corrupt document",
				log.FieldOperation, log.OpList,
				log.FieldCollection, q.Collection,
				log.FieldDocumentID, id,
				log.FieldError, err,
				log.FieldErrorType, log.ErrorTypeDatabase)
			continue
		}
		if q.Matches(fields) {
			docs = append(docs, store.Document{ID: id, Fields: fields})
		}
	}
	return docs, rows.Err()
}

// committed refreshes local listeners and announces the write.
func (s *Store) committed(ctx context.Context, collection, id, op string) {
	s.Refresh(ctx, collection)

	s.mu.Lock()
	pub := s.publisher
	s.mu.Unlock()
	if pub == nil {
		return
	}
	if err := pub.PublishChange(ctx, collection, id, op); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish change",
			log.FieldCollection, collection,
			log.FieldDocumentID, id,
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeNetwork)
	}
}

func (s *Store) notify(ctx context.Context, match func(collection string) bool) {
	type target struct {
		sub *subscription
		seq uint64
	}
	s.mu.Lock()
	s.seq++
	var targets []target
	for _, sub := range s.subs {
		c := sub.collection()
		if match(c) {
			targets = append(targets, target{sub, s.seq})
		}
	}
	s.mu.Unlock()

	for _, t := range targets {
		s.deliver(ctx, t.sub, t.seq)
	}
}

func (s *Store) deliver(ctx context.Context, sub *subscription, seq uint64) {
	// Listener payloads outlive the caller's request.
	ctx = context.WithoutCancel(ctx)

	if sub.ref != nil {
		doc, exists, err := s.get(ctx, s.db, sub.ref.Collection, sub.ref.ID)
		if err != nil {
			sub.fail(err)
			return
		}
		if !sub.claim(seq) {
			return
		}
		if sub.onDoc != nil {
			sub.onDoc(store.Document{ID: sub.ref.ID, Fields: doc}, exists)
		}
		return
	}

	docs, err := s.list(ctx, *sub.query)
	if err != nil {
		sub.fail(err)
		return
	}
	if !sub.claim(seq) {
		return
	}
	if sub.onSnapshot != nil {
		sub.onSnapshot(docs)
	}
}

func (s *Store) resolve(fields map[string]any) map[string]any {
	ts := s.now()
	return store.ResolveFields(fields, func() any { return ts })
}

func (sub *subscription) collection() string {
	if sub.ref != nil {
		return sub.ref.Collection
	}
	return sub.query.Collection
}

// claim reports whether seq is newer than anything delivered so far.
func (sub *subscription) claim(seq uint64) bool {
	for {
		last := sub.delivered.Load()
		if seq <= last {
			return false
		}
		if sub.delivered.CompareAndSwap(last, seq) {
			return true
		}
	}
}

func (sub *subscription) fail(err error) {
	if sub.onError != nil {
		sub.onError(err)
	}
}

func decode(data string) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return fields, nil
}

func ownerOf(fields map[string]any) string {
	owner, _ := fields[core.FieldOwner].(string)
	return owner
}
