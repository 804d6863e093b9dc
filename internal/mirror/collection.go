// Package mirror keeps local snapshots of the signed-in principal's remote
// documents. Every mirror is rebuilt from scratch on each principal change and
// applies writes optimistically, rolling them back when the store rejects them.
package mirror

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"lifesync/internal/core"
	"lifesync/internal/log"
	"lifesync/internal/store"
)

type (
	// Record is a document owned by a principal and ordered by date.
	Record interface {
		RecordID() string
		RecordDate() core.Date
		RecordOwner() string
		Fields() map[string]any
	}

	// Decoder builds a record from a stored document.
	Decoder[T Record] func(id string, fields map[string]any) (T, error)

	opKind int

	pendingOp[T Record] struct {
		seq      uint64
		kind     opKind
		id       string
		record   T
		payloads uint64 // listener payloads seen when the op was placed
		resolved bool
	}

	// Collection mirrors one remote collection filtered by owner.
	Collection[T Record] struct {
		name   string
		store  store.Store
		decode Decoder[T]
		logger *log.Logger

		mu        sync.Mutex
		principal *core.Principal
		gen       uint64
		unsub     store.Unsubscribe
		base      []T
		overlay   []pendingOp[T]
		opSeq     uint64
		payloads  uint64
		loading   bool
		subErr    error
		listeners []func()
	}
)

const (
	opAdd opKind = iota
	opUpdate
	opDelete
)

func NewCollection[T Record](name string, st store.Store, decode Decoder[T], logger *log.Logger) *Collection[T] {
	return &Collection[T]{
		name:   name,
		store:  st,
		decode: decode,
		logger: logger.WithComponent(log.ComponentMirror).With(log.FieldCollection, name),
	}
}

// Name returns the governed collection name.
func (c *Collection[T]) Name() string { return c.name }

// SetPrincipal tears down the current subscription and, when p is set,
// opens a new one filtered by p's id. Payloads of the previous subscription
// arriving afterwards are discarded.
func (c *Collection[T]) SetPrincipal(ctx context.Context, p *core.Principal) {
	c.mu.Lock()
	old := c.unsub
	c.unsub = nil
	c.gen++
	gen := c.gen
	c.principal = clonePrincipal(p)
	c.base = nil
	c.overlay = nil
	c.subErr = nil
	c.loading = p != nil
	c.mu.Unlock()

	if old != nil {
		old()
	}
	c.changed()
	if p == nil {
		c.logger.Debug("Mirror cleared", log.FieldGeneration, gen)
		return
	}

	c.logger.Debug("Opening subscription", log.FieldPrincipalID, p.ID, log.FieldGeneration, gen)
	q := store.Query{Collection: c.name, Field: core.FieldOwner, Value: p.ID}
	unsub := c.store.Subscribe(ctx, q,
		func(docs []store.Document) { c.onSnapshot(gen, docs) },
		func(err error) { c.onError(gen, err) })

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		unsub()
		return
	}
	c.unsub = unsub
	c.mu.Unlock()
}

// Close detaches the live subscription, if any.
func (c *Collection[T]) Close() {
	c.mu.Lock()
	old := c.unsub
	c.unsub = nil
	c.gen++
	c.mu.Unlock()
	if old != nil {
		old()
	}
}

func (c *Collection[T]) onSnapshot(gen uint64, docs []store.Document) {
	records := make([]T, 0, len(docs))
	for _, d := range docs {
		rec, err := c.decode(d.ID, d.Fields)
		if err != nil {
			c.logger.Warn("Skipping undecodable document",
				log.FieldOperation, log.OpParse,
				log.FieldDocumentID, d.ID,
				log.FieldError, err)
			continue
		}
		records = append(records, rec)
	}
	SortByDateDesc(records)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.logger.Debug("Discarding payload from detached subscription", log.FieldGeneration, gen)
		return
	}
	c.logger.Debug("Snapshot applied", log.FieldGeneration, gen, log.FieldDocuments, len(records))
	c.base = records
	c.loading = false
	c.subErr = nil
	c.payloads++
	kept := c.overlay[:0]
	for _, op := range c.overlay {
		if !op.resolved {
			kept = append(kept, op)
		}
	}
	c.overlay = kept
	c.mu.Unlock()

	c.changed()
}

func (c *Collection[T]) onError(gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.loading = false
	c.subErr = &SubscriptionError{Collection: c.name, Err: err}
	c.mu.Unlock()

	c.logger.Error("Subscription failed", log.FieldOperation, log.OpSubscribe, log.FieldError, err)
	c.changed()
}

// Add writes record with the principal as owner and a server creation
// timestamp. The id is allocated here, so the provisional copy visible in
// Snapshot until the write settles carries the id the store will echo.
func (c *Collection[T]) Add(ctx context.Context, record T) (string, error) {
	c.mu.Lock()
	if c.principal == nil {
		c.mu.Unlock()
		return "", ErrNoPrincipal
	}
	gen := c.gen
	id := uuid.NewString()
	fields := record.Fields()
	fields[core.FieldOwner] = c.principal.ID
	seq := uint64(0)
	if provisional, err := c.decode(id, fields); err == nil {
		seq = c.pushLocked(opAdd, id, provisional)
	}
	c.mu.Unlock()
	c.changed()

	write := core.MergeFields(fields, map[string]any{core.FieldCreatedAt: store.ServerTimestamp})
	id, err := c.store.Insert(ctx, c.name, id, write)
	c.settle(gen, seq, err)
	if err != nil {
		c.logger.Warn("Add failed", log.FieldOperation, log.OpCreate, log.FieldError, err)
		return "", err
	}
	c.logger.Debug("Document added", log.FieldOperation, log.OpCreate, log.FieldDocumentID, id)
	return id, nil
}

// Update merges patch into the document with the given id and stamps a server
// update timestamp. A missing document yields store.ErrNotFound.
func (c *Collection[T]) Update(ctx context.Context, id string, patch map[string]any) error {
	c.mu.Lock()
	if c.principal == nil {
		c.mu.Unlock()
		return ErrNoPrincipal
	}
	gen := c.gen
	seq := uint64(0)
	if cur, ok := c.findLocked(id); ok {
		fields := cur.Fields()
		fields[core.FieldOwner] = cur.RecordOwner()
		if rec, err := c.decode(id, core.MergeFields(fields, patch)); err == nil {
			seq = c.pushLocked(opUpdate, id, rec)
		}
	}
	c.mu.Unlock()
	c.changed()

	write := core.MergeFields(patch, map[string]any{core.FieldUpdatedAt: store.ServerTimestamp})
	err := c.store.Update(ctx, c.name, id, write)
	c.settle(gen, seq, err)
	if err != nil {
		c.logger.Warn("Update failed", log.FieldOperation, log.OpUpdate, log.FieldDocumentID, id, log.FieldError, err)
	}
	return err
}

// Delete removes the document with the given id. A missing document yields
// store.ErrNotFound.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.principal == nil {
		c.mu.Unlock()
		return ErrNoPrincipal
	}
	gen := c.gen
	var zero T
	seq := c.pushLocked(opDelete, id, zero)
	c.mu.Unlock()
	c.changed()

	err := c.store.Delete(ctx, c.name, id)
	c.settle(gen, seq, err)
	if err != nil {
		c.logger.Warn("Delete failed", log.FieldOperation, log.OpDelete, log.FieldDocumentID, id, log.FieldError, err)
	}
	return err
}

// Snapshot returns the current view: the last listener payload with pending
// writes applied, sorted by date descending.
func (c *Collection[T]) Snapshot() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Get returns the record with the given id from the current view.
func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.findLocked(id)
}

// Loading reports whether the first payload of the current subscription is
// still outstanding.
func (c *Collection[T]) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Err returns the last subscription error, cleared by the next payload.
func (c *Collection[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subErr
}

// Principal returns the principal the mirror is scoped to.
func (c *Collection[T]) Principal() *core.Principal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clonePrincipal(c.principal)
}

// OnChange registers fn to run after every change of the view.
func (c *Collection[T]) OnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Collection[T]) changed() {
	c.mu.Lock()
	listeners := append([]func(){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func (c *Collection[T]) pushLocked(kind opKind, id string, record T) uint64 {
	c.opSeq++
	c.overlay = append(c.overlay, pendingOp[T]{
		seq:      c.opSeq,
		kind:     kind,
		id:       id,
		record:   record,
		payloads: c.payloads,
	})
	return c.opSeq
}

// settle rolls back a failed op. A successful op is dropped once a payload
// newer than the op has arrived; until then it stays visible.
func (c *Collection[T]) settle(gen, seq uint64, err error) {
	if seq == 0 {
		return
	}
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	removed := false
	for i := range c.overlay {
		op := &c.overlay[i]
		if op.seq != seq {
			continue
		}
		if err != nil || c.payloads > op.payloads {
			c.overlay = append(c.overlay[:i], c.overlay[i+1:]...)
			removed = true
		} else {
			op.resolved = true
		}
		break
	}
	c.mu.Unlock()
	if removed {
		c.changed()
	}
}

func (c *Collection[T]) viewLocked() []T {
	view := append([]T(nil), c.base...)
	if len(c.overlay) == 0 {
		return view
	}
	for _, op := range c.overlay {
		switch op.kind {
		case opAdd:
			if !containsID(view, op.id) {
				view = append(view, op.record)
			}
		case opUpdate:
			for i := range view {
				if view[i].RecordID() == op.id {
					view[i] = op.record
				}
			}
		case opDelete:
			kept := view[:0]
			for _, r := range view {
				if r.RecordID() != op.id {
					kept = append(kept, r)
				}
			}
			view = kept
		}
	}
	SortByDateDesc(view)
	return view
}

func (c *Collection[T]) findLocked(id string) (T, bool) {
	for _, r := range c.viewLocked() {
		if r.RecordID() == id {
			return r, true
		}
	}
	var zero T
	return zero, false
}

func containsID[T Record](records []T, id string) bool {
	for _, r := range records {
		if r.RecordID() == id {
			return true
		}
	}
	return false
}

// SortByDateDesc orders records newest first, keeping the relative order of
// records on the same date.
func SortByDateDesc[T Record](records []T) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].RecordDate().After(records[j].RecordDate().Time)
	})
}

func clonePrincipal(p *core.Principal) *core.Principal {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
