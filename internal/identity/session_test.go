package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifesync/internal/core"
	"lifesync/internal/log"
)

func testLogger() *log.Logger {
	return log.New(log.Config{Handler: slog.NewTextHandler(io.Discard, nil)})
}

type recorder struct {
	calls []*core.Principal
}

func (r *recorder) dependent(_ context.Context, p *core.Principal) {
	r.calls = append(r.calls, p)
}

func (r *recorder) ids() []string {
	out := make([]string, 0, len(r.calls))
	for _, p := range r.calls {
		if p == nil {
			out = append(out, "")
			continue
		}
		out = append(out, p.ID)
	}
	return out
}

// silentProvider never fires its session callback, leaving the session
// initializing.
type silentProvider struct{}

func (silentProvider) SignIn(context.Context) (core.Principal, error) { return core.Principal{}, nil }
func (silentProvider) SignOut(context.Context) error                  { return nil }
func (silentProvider) OnSessionChange(func(*core.Principal)) func()   { return func() {} }

func TestSessionStartsInitializing(t *testing.T) {
	s := NewSession(silentProvider{}, testLogger())
	s.Start(context.Background())
	assert.Equal(t, StateInitializing, s.State())
	assert.Nil(t, s.Current())
}

func TestSessionSettlesOnFirstCallback(t *testing.T) {
	provider := NewStaticProvider(core.Principal{ID: "a"}, false)
	s := NewSession(provider, testLogger())
	rec := &recorder{}
	s.Subscribe(rec.dependent)

	s.Start(context.Background())
	assert.Equal(t, StateAnonymous, s.State())
	assert.Equal(t, []string{""}, rec.ids())
}

func TestSessionSignInSignOutCycle(t *testing.T) {
	ctx := context.Background()
	provider := NewStaticProvider(core.Principal{ID: "a", DisplayName: "Ada"}, false)
	s := NewSession(provider, testLogger())
	s.Start(ctx)

	rec := &recorder{}
	s.Subscribe(rec.dependent)

	p, err := s.SignIn(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", p.ID)
	assert.Equal(t, StateAuthenticated, s.State())
	assert.False(t, s.Pending())

	require.NoError(t, s.SignOut(ctx))
	assert.Equal(t, StateAnonymous, s.State())
	assert.Nil(t, s.Current())

	provider.Switch(core.Principal{ID: "b"})
	provider.Switch(core.Principal{ID: "b"})
	provider.Switch(core.Principal{ID: "c"})

	// Subscribe delivers the settled anonymous state; duplicate emissions
	// of the same principal are not transitions.
	assert.Equal(t, []string{"", "a", "", "b", "c"}, rec.ids())
}

func TestSessionDispatchOrder(t *testing.T) {
	provider := NewStaticProvider(core.Principal{ID: "a"}, true)
	s := NewSession(provider, testLogger())
	var order []string
	s.Subscribe(func(context.Context, *core.Principal) { order = append(order, "first") })
	s.Subscribe(func(context.Context, *core.Principal) { order = append(order, "second") })

	s.Start(context.Background())
	s.Reload()
	assert.Equal(t, []string{"first", "second", "first", "second"}, order)
}

func TestSessionSignInFailures(t *testing.T) {
	provider := NewStaticProvider(core.Principal{ID: "a"}, false)
	s := NewSession(provider, testLogger())
	s.Start(context.Background())

	provider.Fail(errors.New("popup blocked"), errors.New("network down"))
	_, err := s.SignIn(context.Background())
	require.ErrorIs(t, err, ErrAuthFailure)
	assert.Equal(t, StateAnonymous, s.State())

	err = s.SignOut(context.Background())
	require.ErrorIs(t, err, ErrAuthFailure)

	provider.Fail(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.SignIn(ctx)
	require.ErrorIs(t, err, ErrAuthFailure)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestSessionReloadRedispatchesSamePrincipal(t *testing.T) {
	provider := NewStaticProvider(core.Principal{ID: "a"}, true)
	s := NewSession(provider, testLogger())
	s.Start(context.Background())

	rec := &recorder{}
	s.Subscribe(rec.dependent)
	s.Reload()
	assert.Equal(t, []string{"a", "a"}, rec.ids())
}
