// Package memory is an in-process document store. Listeners are notified
// synchronously on the writing goroutine, after the store lock is released.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"lifesync/internal/store"
)

type (
	Store struct {
		mu      sync.Mutex
		docs    map[string]map[string]map[string]any // collection -> id -> fields
		subs    map[int]*subscription
		nextSub int
		seq     uint64
		now     func() time.Time

		writeErr     error
		subscribeErr error
	}

	subscription struct {
		query      *store.Query
		ref        *store.DocRef
		onSnapshot store.SnapshotFunc
		onDoc      store.DocSnapshotFunc
		onError    store.ErrorFunc
		delivered  atomic.Uint64
	}

	delivery struct {
		sub    *subscription
		seq    uint64
		docs   []store.Document
		doc    store.Document
		exists bool
	}
)

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		docs: map[string]map[string]map[string]any{},
		subs: map[int]*subscription{},
		now:  time.Now,
	}
}

// FailWrites makes every following write return err; nil restores normal
// behaviour.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// DenySubscriptions makes every following subscription report err through
// its error callback instead of delivering payloads.
func (s *Store) DenySubscriptions(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribeErr = err
}

// Subscribers returns the number of live listeners.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Store) Subscribe(ctx context.Context, q store.Query, onSnapshot store.SnapshotFunc, onError store.ErrorFunc) store.Unsubscribe {
	return s.subscribe(ctx, &subscription{query: &q, onSnapshot: onSnapshot, onError: onError})
}

func (s *Store) SubscribeDoc(ctx context.Context, ref store.DocRef, onSnapshot store.DocSnapshotFunc, onError store.ErrorFunc) store.Unsubscribe {
	return s.subscribe(ctx, &subscription{ref: &ref, onDoc: onSnapshot, onError: onError})
}

func (s *Store) subscribe(ctx context.Context, sub *subscription) store.Unsubscribe {
	s.mu.Lock()
	if err := s.subscribeErr; err != nil {
		s.mu.Unlock()
		if sub.onError != nil {
			sub.onError(err)
		}
		return func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	s.seq++
	d := s.snapshotLocked(sub, s.seq)
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
	d.deliver()
	return func() {
		stop()
		unsub()
	}
}

func (s *Store) Insert(_ context.Context, collection, id string, fields map[string]any) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	s.mu.Lock()
	if err := s.writeErr; err != nil {
		s.mu.Unlock()
		return "", store.NewWriteError("insert", collection, id, err)
	}
	coll := s.collectionLocked(collection)
	if _, ok := coll[id]; ok {
		s.mu.Unlock()
		return "", store.NewWriteError("insert", collection, id, store.ErrAlreadyExists)
	}
	coll[id] = s.resolve(fields)
	pending := s.changedLocked(collection)
	s.mu.Unlock()

	notify(pending)
	return id, nil
}

func (s *Store) Update(_ context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	if err := s.writeErr; err != nil {
		s.mu.Unlock()
		return store.NewWriteError("update", collection, id, err)
	}
	doc, ok := s.docs[collection][id]
	if !ok {
		s.mu.Unlock()
		return store.NewWriteError("update", collection, id, store.ErrNotFound)
	}
	store.MergeFields(doc, s.resolve(fields))
	pending := s.changedLocked(collection)
	s.mu.Unlock()

	notify(pending)
	return nil
}

func (s *Store) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	if err := s.writeErr; err != nil {
		s.mu.Unlock()
		return store.NewWriteError("delete", collection, id, err)
	}
	if _, ok := s.docs[collection][id]; !ok {
		s.mu.Unlock()
		return store.NewWriteError("delete", collection, id, store.ErrNotFound)
	}
	delete(s.docs[collection], id)
	pending := s.changedLocked(collection)
	s.mu.Unlock()

	notify(pending)
	return nil
}

func (s *Store) SetMerge(_ context.Context, ref store.DocRef, fields map[string]any) error {
	s.mu.Lock()
	if err := s.writeErr; err != nil {
		s.mu.Unlock()
		return store.NewWriteError("set", ref.Collection, ref.ID, err)
	}
	coll := s.collectionLocked(ref.Collection)
	doc, ok := coll[ref.ID]
	if !ok {
		doc = map[string]any{}
		coll[ref.ID] = doc
	}
	store.MergeFields(doc, s.resolve(fields))
	pending := s.changedLocked(ref.Collection)
	s.mu.Unlock()

	notify(pending)
	return nil
}

func (s *Store) GetOrCreate(_ context.Context, ref store.DocRef, defaults map[string]any) (store.Document, error) {
	s.mu.Lock()
	if doc, ok := s.docs[ref.Collection][ref.ID]; ok {
		out := store.Document{ID: ref.ID, Fields: store.CloneFields(doc)}
		s.mu.Unlock()
		return out, nil
	}
	if err := s.writeErr; err != nil {
		s.mu.Unlock()
		return store.Document{}, store.NewWriteError("create", ref.Collection, ref.ID, err)
	}
	doc := s.resolve(defaults)
	s.collectionLocked(ref.Collection)[ref.ID] = doc
	out := store.Document{ID: ref.ID, Fields: store.CloneFields(doc)}
	pending := s.changedLocked(ref.Collection)
	s.mu.Unlock()

	notify(pending)
	return out, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = map[int]*subscription{}
	return nil
}

func (s *Store) resolve(fields map[string]any) map[string]any {
	ts := s.now()
	return store.ResolveFields(fields, func() any { return ts })
}

func (s *Store) collectionLocked(name string) map[string]map[string]any {
	coll, ok := s.docs[name]
	if !ok {
		coll = map[string]map[string]any{}
		s.docs[name] = coll
	}
	return coll
}

// changedLocked prepares payloads for every listener on collection.
func (s *Store) changedLocked(collection string) []delivery {
	s.seq++
	var out []delivery
	for _, sub := range s.subs {
		if (sub.query != nil && sub.query.Collection == collection) ||
			(sub.ref != nil && sub.ref.Collection == collection) {
			out = append(out, s.snapshotLocked(sub, s.seq))
		}
	}
	return out
}

func (s *Store) snapshotLocked(sub *subscription, seq uint64) delivery {
	d := delivery{sub: sub, seq: seq}
	if sub.ref != nil {
		if doc, ok := s.docs[sub.ref.Collection][sub.ref.ID]; ok {
			d.doc = store.Document{ID: sub.ref.ID, Fields: store.CloneFields(doc)}
			d.exists = true
		}
		return d
	}
	ids := make([]string, 0, len(s.docs[sub.query.Collection]))
	for id, fields := range s.docs[sub.query.Collection] {
		if sub.query.Matches(fields) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	d.docs = make([]store.Document, 0, len(ids))
	for _, id := range ids {
		d.docs = append(d.docs, store.Document{ID: id, Fields: store.CloneFields(s.docs[sub.query.Collection][id])})
	}
	return d
}

func notify(pending []delivery) {
	for _, d := range pending {
		d.deliver()
	}
}

// deliver hands the payload to the listener unless a newer one already went out.
func (d delivery) deliver() {
	for {
		last := d.sub.delivered.Load()
		if d.seq <= last {
			return
		}
		if d.sub.delivered.CompareAndSwap(last, d.seq) {
			break
		}
	}
	if d.sub.ref != nil {
		if d.sub.onDoc != nil {
			d.sub.onDoc(d.doc, d.exists)
		}
		return
	}
	if d.sub.onSnapshot != nil {
		d.sub.onSnapshot(d.docs)
	}
}
