package mirror

import (
	"context"
	"sync"

	"lifesync/internal/core"
	"lifesync/internal/log"
	"lifesync/internal/store"
)

// UsersCollection holds one settings document per principal, keyed by id.
const UsersCollection = core.UsersCollection

// Settings mirrors the principal's settings document. The document is created
// with defaults on first access; later writes merge single fields into it.
type Settings struct {
	store  store.Store
	logger *log.Logger

	mu        sync.Mutex
	principal *core.Principal
	gen       uint64
	unsub     store.Unsubscribe
	value     core.Settings
	revs      map[string]uint64
	loading   bool
	subErr    error
	listeners []func()
}

func NewSettings(st store.Store, logger *log.Logger) *Settings {
	return &Settings{
		store:  st,
		logger: logger.WithComponent(log.ComponentSettings),
		value:  core.DefaultSettings(),
		revs:   map[string]uint64{},
	}
}

// SetPrincipal resets local state to defaults and, when p is set, subscribes
// to p's settings document.
func (s *Settings) SetPrincipal(ctx context.Context, p *core.Principal) {
	s.mu.Lock()
	old := s.unsub
	s.unsub = nil
	s.gen++
	gen := s.gen
	s.principal = clonePrincipal(p)
	s.value = core.DefaultSettings()
	s.revs = map[string]uint64{}
	s.subErr = nil
	s.loading = p != nil
	s.mu.Unlock()

	if old != nil {
		old()
	}
	s.changed()
	if p == nil {
		return
	}

	ref := settingsRef(p)
	unsub := s.store.SubscribeDoc(ctx, ref,
		func(doc store.Document, exists bool) { s.onSnapshot(ctx, gen, ref, doc, exists) },
		func(err error) { s.onError(gen, err) })

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		unsub()
		return
	}
	s.unsub = unsub
	s.mu.Unlock()
}

// Close detaches the live subscription, if any.
func (s *Settings) Close() {
	s.mu.Lock()
	old := s.unsub
	s.unsub = nil
	s.gen++
	s.mu.Unlock()
	if old != nil {
		old()
	}
}

func (s *Settings) onSnapshot(ctx context.Context, gen uint64, ref store.DocRef, doc store.Document, exists bool) {
	if !exists {
		s.create(ctx, gen, ref)
		return
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	prev := s.value
	s.value = s.value.ApplyFields(doc.Fields)
	if s.value.Budget != prev.Budget {
		s.revs[core.FieldBudget]++
	}
	if s.value.Salary != prev.Salary {
		s.revs[core.FieldSalary]++
	}
	if s.value.HealthGoals != prev.HealthGoals {
		s.revs[core.FieldHealthGoals]++
	}
	s.loading = false
	s.subErr = nil
	s.mu.Unlock()

	s.changed()
}

// create writes the default document unless the payload is stale. The store
// leaves an existing document untouched, so a late "missing" payload cannot
// overwrite values written since.
func (s *Settings) create(ctx context.Context, gen uint64, ref store.DocRef) {
	s.mu.Lock()
	current := s.gen == gen
	s.mu.Unlock()
	if !current {
		s.logger.Debug("Ignoring missing document from detached subscription", log.FieldDocumentID, ref.ID)
		return
	}

	defaults := core.MergeFields(core.DefaultSettings().Fields(), map[string]any{
		core.FieldCreatedAt: store.ServerTimestamp,
	})
	s.logger.Info("Creating settings document with defaults", log.FieldOperation, log.OpCreate, log.FieldDocumentID, ref.ID)
	if _, err := s.store.GetOrCreate(ctx, ref, defaults); err != nil {
		s.onError(gen, err)
	}
}

func (s *Settings) onError(gen uint64, err error) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.loading = false
	s.subErr = &SubscriptionError{Collection: UsersCollection, Err: err}
	s.mu.Unlock()

	s.logger.Error("Settings subscription failed", log.FieldOperation, log.OpSubscribe, log.FieldError, err)
	s.changed()
}

// SetBudget updates the monthly budget.
func (s *Settings) SetBudget(ctx context.Context, budget core.Money) error {
	return s.set(ctx, core.FieldBudget, budget.Units(), func(v *core.Settings) func() {
		prev := v.Budget
		v.Budget = budget
		return func() { v.Budget = prev }
	})
}

// SetSalary updates the monthly salary.
func (s *Settings) SetSalary(ctx context.Context, salary core.Money) error {
	return s.set(ctx, core.FieldSalary, salary.Units(), func(v *core.Settings) func() {
		prev := v.Salary
		v.Salary = salary
		return func() { v.Salary = prev }
	})
}

// SetHealthGoals replaces the health goals.
func (s *Settings) SetHealthGoals(ctx context.Context, goals core.HealthGoals) error {
	return s.set(ctx, core.FieldHealthGoals, goals.Fields(), func(v *core.Settings) func() {
		prev := v.HealthGoals
		v.HealthGoals = goals
		return func() { v.HealthGoals = prev }
	})
}

// set applies the change locally, then merge-writes the single field. A failed
// write restores the previous value unless the field changed again meanwhile.
// Without a principal the change stays local.
func (s *Settings) set(ctx context.Context, field string, value any, apply func(*core.Settings) (undo func())) error {
	s.mu.Lock()
	undo := apply(&s.value)
	s.revs[field]++
	rev := s.revs[field]
	gen := s.gen
	p := clonePrincipal(s.principal)
	s.mu.Unlock()
	s.changed()

	if p == nil {
		return nil
	}

	err := s.store.SetMerge(ctx, settingsRef(p), map[string]any{field: value})
	if err == nil {
		return nil
	}

	s.mu.Lock()
	rolledBack := false
	if s.gen == gen && s.revs[field] == rev {
		undo()
		rolledBack = true
	}
	s.mu.Unlock()
	if rolledBack {
		s.changed()
	}
	s.logger.Warn("Settings write failed", log.FieldOperation, log.OpUpdate, log.FieldSetting, field, "rolled_back", rolledBack, log.FieldError, err)
	return err
}

// Current returns the local settings.
func (s *Settings) Current() core.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

func (s *Settings) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

func (s *Settings) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subErr
}

// OnChange registers fn to run after every change of the local settings.
func (s *Settings) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Settings) changed() {
	s.mu.Lock()
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

func settingsRef(p *core.Principal) store.DocRef {
	return store.DocRef{Collection: UsersCollection, ID: p.ID}
}
