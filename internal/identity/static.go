package identity

import (
	"context"
	"sync"

	"lifesync/internal/core"
)

// StaticProvider signs in a fixed principal. It backs local runs without an
// external identity service and tests.
type StaticProvider struct {
	mu         sync.Mutex
	principal  core.Principal
	signedIn   bool
	signInErr  error
	signOutErr error
	listeners  map[int]func(*core.Principal)
	next       int
}

var _ Provider = (*StaticProvider)(nil)

func NewStaticProvider(p core.Principal, signedIn bool) *StaticProvider {
	return &StaticProvider{
		principal: p,
		signedIn:  signedIn,
		listeners: map[int]func(*core.Principal){},
	}
}

// Fail makes the next sign-in and sign-out calls return the given errors.
func (s *StaticProvider) Fail(signInErr, signOutErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signInErr = signInErr
	s.signOutErr = signOutErr
}

// Switch signs in p, replacing any current principal.
func (s *StaticProvider) Switch(p core.Principal) {
	s.mu.Lock()
	s.principal = p
	s.signedIn = true
	s.mu.Unlock()
	s.emit()
}

func (s *StaticProvider) SignIn(ctx context.Context) (core.Principal, error) {
	if err := ctx.Err(); err != nil {
		return core.Principal{}, err
	}
	s.mu.Lock()
	if err := s.signInErr; err != nil {
		s.mu.Unlock()
		return core.Principal{}, err
	}
	s.signedIn = true
	p := s.principal
	s.mu.Unlock()
	s.emit()
	return p, nil
}

func (s *StaticProvider) SignOut(context.Context) error {
	s.mu.Lock()
	if err := s.signOutErr; err != nil {
		s.mu.Unlock()
		return err
	}
	s.signedIn = false
	s.mu.Unlock()
	s.emit()
	return nil
}

func (s *StaticProvider) OnSessionChange(fn func(*core.Principal)) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.listeners[id] = fn
	cur := s.currentLocked()
	s.mu.Unlock()

	fn(cur)
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *StaticProvider) currentLocked() *core.Principal {
	if !s.signedIn {
		return nil
	}
	p := s.principal
	return &p
}

func (s *StaticProvider) emit() {
	s.mu.Lock()
	cur := s.currentLocked()
	fns := make([]func(*core.Principal), 0, len(s.listeners))
	for i := 0; i < s.next; i++ {
		if fn, ok := s.listeners[i]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(clonePrincipal(cur))
	}
}
