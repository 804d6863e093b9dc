// Package identity tracks the signed-in principal and fans out every change to
// the components scoped to it.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"lifesync/internal/core"
	"lifesync/internal/log"
)

var (
	// ErrAuthFailure wraps every failed sign-in or sign-out.
	ErrAuthFailure = errors.New("authentication failed")
	// ErrCancelled marks a sign-in abandoned by the user.
	ErrCancelled = errors.New("sign-in cancelled")
)

type (
	// Provider is the external identity service.
	Provider interface {
		// SignIn runs the interactive flow and returns the confirmed principal.
		SignIn(ctx context.Context) (core.Principal, error)
		// SignOut ends the remote session.
		SignOut(ctx context.Context) error
		// OnSessionChange registers fn for every session transition; fn is
		// invoked once immediately with the current principal or nil.
		OnSessionChange(fn func(*core.Principal)) (cancel func())
	}

	// Dependent is rebuilt on every principal change, including to nil.
	Dependent func(ctx context.Context, p *core.Principal)

	State int
)

const (
	StateInitializing State = iota
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "initializing"
	}
}

// Session holds the current principal. Transitions are dispatched to
// dependents synchronously, in registration order, one transition at a time.
type Session struct {
	provider Provider
	logger   *log.Logger

	// dispatch serializes transitions; it is held while dependents run, so
	// a dependent must not call Subscribe or Reload.
	dispatch sync.Mutex

	mu         sync.Mutex
	ctx        context.Context
	state      State
	principal  *core.Principal
	pending    bool
	dependents []Dependent
	stop       func()
}

func NewSession(provider Provider, logger *log.Logger) *Session {
	return &Session{
		provider: provider,
		logger:   logger.WithComponent(log.ComponentIdentity),
		ctx:      context.Background(),
	}
}

// Start begins watching the provider. ctx is handed to dependents on every
// transition.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	stop := s.provider.OnSessionChange(s.transition)

	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
}

// Stop detaches from the provider.
func (s *Session) Stop() {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Subscribe registers d. When the session has already settled, d is called
// right away with the current principal.
func (s *Session) Subscribe(d Dependent) {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	s.mu.Lock()
	s.dependents = append(s.dependents, d)
	settled := s.state != StateInitializing
	p := clonePrincipal(s.principal)
	ctx := s.ctx
	s.mu.Unlock()

	if settled {
		d(ctx, p)
	}
}

// Reload re-dispatches the current principal so that every dependent
// rebuilds its state.
func (s *Session) Reload() {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	s.mu.Lock()
	p := s.principal
	s.mu.Unlock()

	s.logger.Info("Reloading dependents")
	s.dispatchLocked(p)
}

func (s *Session) transition(p *core.Principal) {
	s.dispatch.Lock()
	defer s.dispatch.Unlock()

	s.mu.Lock()
	if s.state != StateInitializing && core.SamePrincipal(s.principal, p) {
		s.mu.Unlock()
		return
	}
	s.principal = clonePrincipal(p)
	if p != nil {
		s.state = StateAuthenticated
	} else {
		s.state = StateAnonymous
	}
	state := s.state
	s.mu.Unlock()

	if p != nil {
		s.logger.Info("Session changed", "state", state.String(), log.FieldPrincipalID, p.ID)
	} else {
		s.logger.Info("Session changed", "state", state.String())
	}
	s.dispatchLocked(p)
}

func (s *Session) dispatchLocked(p *core.Principal) {
	s.mu.Lock()
	deps := append([]Dependent(nil), s.dependents...)
	ctx := s.ctx
	s.mu.Unlock()
	for _, d := range deps {
		d(ctx, clonePrincipal(p))
	}
}

// SignIn runs the provider's interactive flow. Pending reports true while it
// runs.
func (s *Session) SignIn(ctx context.Context) (core.Principal, error) {
	s.setPending(true)
	defer s.setPending(false)

	p, err := s.provider.SignIn(ctx)
	if err != nil {
		s.logger.Warn("Sign-in failed", log.FieldOperation, log.OpSignIn, log.FieldError, err)
		if errors.Is(err, context.Canceled) && !errors.Is(err, ErrCancelled) {
			err = fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		if errors.Is(err, ErrAuthFailure) {
			return core.Principal{}, err
		}
		return core.Principal{}, fmt.Errorf("%w: %w", ErrAuthFailure, err)
	}
	s.transition(&p)
	return p, nil
}

// SignOut ends the remote session.
func (s *Session) SignOut(ctx context.Context) error {
	s.setPending(true)
	defer s.setPending(false)

	if err := s.provider.SignOut(ctx); err != nil {
		s.logger.Warn("Sign-out failed", log.FieldOperation, log.OpSignOut, log.FieldError, err)
		if errors.Is(err, ErrAuthFailure) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrAuthFailure, err)
	}
	s.transition(nil)
	return nil
}

// Current returns the signed-in principal or nil.
func (s *Session) Current() *core.Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clonePrincipal(s.principal)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Session) setPending(v bool) {
	s.mu.Lock()
	s.pending = v
	s.mu.Unlock()
}

func clonePrincipal(p *core.Principal) *core.Principal {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
