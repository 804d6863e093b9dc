package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifesync/internal/core"
	"lifesync/internal/identity"
	"lifesync/internal/log"
	"lifesync/internal/mirror"
	"lifesync/internal/store"
	"lifesync/internal/store/memory"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func testLogger() *log.Logger {
	return log.New(log.Config{Handler: slog.NewTextHandler(io.Discard, nil)})
}

func newTestContainer(t *testing.T, signedIn bool, opts Options) (*Container, *identity.StaticProvider) {
	t.Helper()
	st := memory.New()
	provider := identity.NewStaticProvider(core.Principal{ID: "u1", DisplayName: "Ada"}, signedIn)
	session := identity.NewSession(provider, testLogger())
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	c := NewContainer(session, st, opts, testLogger())
	session.Start(context.Background())
	t.Cleanup(func() {
		c.Close()
		session.Stop()
	})
	return c, provider
}

func expense(amount float64, category core.Category, desc string, date core.Date) core.Expense {
	return core.Expense{
		Amount:      core.MoneyFromFloat(amount),
		Category:    category,
		Description: desc,
		Date:        date,
	}
}

func TestExpensesCreateAndDerive(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestContainer(t, true, Options{})

	juneID, err := c.Expenses.Create(ctx, expense(100.50, core.CategoryFood, "Dinner", core.NewDate(2025, 6, 10)))
	require.NoError(t, err)
	_, err = c.Expenses.Create(ctx, expense(20, core.CategoryTransport, "Train", core.NewDate(2025, 5, 31)))
	require.NoError(t, err)

	list := c.Expenses.List()
	require.Len(t, list, 2)
	assert.Equal(t, juneID, list[0].ID, "newest first")
	assert.Equal(t, "u1", list[0].Owner)

	assert.Equal(t, int64(10050), c.Expenses.MonthlyTotal().Cents)
	assert.Len(t, c.Expenses.MonthlyRecordsFor(5, 2025), 1)
	assert.Equal(t, map[core.Category]core.Money{
		core.CategoryFood:      {Cents: 10050},
		core.CategoryTransport: {Cents: 2000},
	}, c.Expenses.CategoryBreakdown())
	assert.Len(t, c.Expenses.Filter("food", "all"), 1)
	assert.Len(t, c.Expenses.Filter("all", "month"), 1)
}

func TestExpensesUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestContainer(t, true, Options{})

	id, err := c.Expenses.Create(ctx, expense(10, core.CategoryOther, "Coffee", core.NewDate(2025, 6, 1)))
	require.NoError(t, err)

	require.NoError(t, c.Expenses.Update(ctx, id, expense(12, core.CategoryFood, "Coffee and cake", core.NewDate(2025, 6, 1))))
	got, ok := c.Expenses.Get(id)
	require.True(t, ok)
	assert.Equal(t, int64(1200), got.Amount.Cents)
	assert.Equal(t, core.CategoryFood, got.Category)

	err = c.Expenses.Update(ctx, id, expense(-1, core.CategoryFood, "x", core.NewDate(2025, 6, 1)))
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, c.Expenses.Delete(ctx, id))
	assert.Empty(t, c.Expenses.List())
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	c, _ := newTestContainer(t, true, Options{})

	_, err := c.Expenses.Create(context.Background(), expense(0, core.CategoryFood, "Free", core.NewDate(2025, 6, 1)))
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	_, err = c.Health.AddLog(context.Background(), core.HealthLog{Water: -1, Date: core.NewDate(2025, 6, 1)})
	assert.ErrorIs(t, err, core.ErrNegativeMetric)

	_, _, err = c.Health.AddWorkout(context.Background(), "running", 0, "", core.NewDate(2025, 6, 1))
	assert.ErrorIs(t, err, core.ErrInvalidDuration)

	assert.Empty(t, c.Expenses.List())
}

func TestWritesRequirePrincipal(t *testing.T) {
	c, _ := newTestContainer(t, false, Options{})

	_, err := c.Expenses.Create(context.Background(), expense(5, core.CategoryFood, "Snack", core.NewDate(2025, 6, 1)))
	assert.ErrorIs(t, err, mirror.ErrNoPrincipal)
}

func TestAddWorkoutComputesCalories(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestContainer(t, true, Options{})

	_, w, err := c.Health.AddWorkout(ctx, "running", 30, "park", core.NewDate(2025, 6, 14))
	require.NoError(t, err)
	assert.Equal(t, 300, w.CaloriesBurned)
	assert.Equal(t, "Running", w.Name)

	_, w, err = c.Health.AddWorkout(ctx, "parkour", 10, "", core.NewDate(2025, 6, 15))
	require.NoError(t, err)
	assert.Equal(t, 50, w.CaloriesBurned)

	assert.Len(t, c.Health.Workouts(), 2)
	assert.Equal(t, 350, c.Health.TotalCalories())
}

func TestHealthSummary(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestContainer(t, true, Options{})

	_, err := c.Health.AddLog(ctx, core.HealthLog{Water: 4, Sleep: 7, Steps: 5000, Weight: 70, Date: core.NewDate(2025, 6, 15)})
	require.NoError(t, err)
	_, err = c.Health.AddLog(ctx, core.HealthLog{Water: 8, Sleep: 8, Steps: 8000, Weight: 71, Date: core.NewDate(2025, 6, 14)})
	require.NoError(t, err)

	s := c.HealthSummary()
	require.NotNil(t, s.Today)
	assert.Equal(t, 4, s.Today.Water)
	assert.Equal(t, 6.0, s.WeeklyAverages[core.MetricWater])
	assert.Equal(t, 50.0, s.GoalProgress[core.MetricWater])
	assert.Equal(t, 50.0, s.GoalProgress[core.MetricSteps])
	require.Len(t, s.Chart, 2)
	assert.Equal(t, "2025-06-14", s.Chart[0].Date.String(), "chart is chronological")
}

func TestDashboardBudgetUsage(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestContainer(t, true, Options{})

	require.NoError(t, c.Settings.SetBudget(ctx, core.Money{Cents: 10000}))
	_, err := c.Expenses.Create(ctx, expense(90, core.CategoryBills, "Power", core.NewDate(2025, 6, 2)))
	require.NoError(t, err)

	d := c.Dashboard()
	assert.Equal(t, int64(9000), d.MonthlyTotal.Cents)
	assert.Equal(t, 90.0, d.BudgetUsage)
	assert.True(t, d.OverBudget)
	assert.Len(t, d.RecentExpenses, 1)
	assert.Nil(t, d.Today)

	summary := c.ExpenseSummary()
	assert.Equal(t, 1, summary.Count)
	assert.True(t, summary.OverBudget)
}

func TestPrincipalSwitchRebuildsMirrors(t *testing.T) {
	ctx := context.Background()
	c, provider := newTestContainer(t, true, Options{})

	_, err := c.Expenses.Create(ctx, expense(5, core.CategoryFood, "Lunch", core.NewDate(2025, 6, 3)))
	require.NoError(t, err)
	require.NoError(t, c.Settings.SetBudget(ctx, core.Money{Cents: 123400}))

	provider.Switch(core.Principal{ID: "u2"})
	assert.Empty(t, c.Expenses.List())
	assert.Equal(t, core.DefaultSettings().Budget, c.Settings.Current().Budget)

	provider.Switch(core.Principal{ID: "u1"})
	assert.Len(t, c.Expenses.List(), 1)
	assert.Equal(t, int64(123400), c.Settings.Current().Budget.Cents)
}

// orderedStore records the order in which listeners open and close.
type orderedStore struct {
	*memory.Store
	mu     sync.Mutex
	events []string
}

func (s *orderedStore) record(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *orderedStore) reset() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.events
	s.events = nil
	return out
}

func (s *orderedStore) wrap(unsub store.Unsubscribe, name string) store.Unsubscribe {
	return func() {
		s.record("close " + name)
		unsub()
	}
}

func (s *orderedStore) Subscribe(ctx context.Context, q store.Query, onSnapshot store.SnapshotFunc, onError store.ErrorFunc) store.Unsubscribe {
	s.record("open " + q.Collection)
	return s.wrap(s.Store.Subscribe(ctx, q, onSnapshot, onError), q.Collection)
}

func (s *orderedStore) SubscribeDoc(ctx context.Context, ref store.DocRef, onSnapshot store.DocSnapshotFunc, onError store.ErrorFunc) store.Unsubscribe {
	s.record("open " + ref.Collection)
	return s.wrap(s.Store.SubscribeDoc(ctx, ref, onSnapshot, onError), ref.Collection)
}

func TestPrincipalSwitchDetachesBeforeReattaching(t *testing.T) {
	st := &orderedStore{Store: memory.New()}
	provider := identity.NewStaticProvider(core.Principal{ID: "u1"}, true)
	session := identity.NewSession(provider, testLogger())
	c := NewContainer(session, st, Options{Now: func() time.Time { return fixedNow }}, testLogger())
	session.Start(context.Background())
	t.Cleanup(func() {
		c.Close()
		session.Stop()
	})

	require.Len(t, st.reset(), 4)

	provider.Switch(core.Principal{ID: "u2"})
	events := st.reset()
	require.Len(t, events, 8)
	for i, e := range events[:4] {
		assert.Contains(t, e, "close ", "event %d", i)
	}
	for i, e := range events[4:] {
		assert.Contains(t, e, "open ", "event %d", i+4)
	}
}

type fakePreferences struct {
	mu      sync.Mutex
	values  map[string]any
	cleared int
	err     error
}

func (f *fakePreferences) All(context.Context) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]any{}
	for k, v := range f.values {
		out[k] = v
	}
	return out, nil
}

func (f *fakePreferences) Set(_ context.Context, key string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values == nil {
		f.values = map[string]any{}
	}
	f.values[key] = value
	return nil
}

func (f *fakePreferences) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.values = nil
	f.cleared++
	return nil
}

func TestClearLocalSettingsReloadsMirrors(t *testing.T) {
	ctx := context.Background()
	prefs := &fakePreferences{}
	c, _ := newTestContainer(t, true, Options{Preferences: prefs})
	require.NoError(t, prefs.Set(ctx, "darkMode", true))
	require.NoError(t, c.Settings.SetBudget(ctx, core.Money{Cents: 7500000}))

	var calls int
	c.Session.Subscribe(func(context.Context, *core.Principal) { calls++ })
	calls = 0

	require.NoError(t, c.ClearLocalSettings(ctx))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, prefs.cleared)
	all, _ := prefs.All(ctx)
	assert.Empty(t, all)
	assert.Equal(t, int64(7500000), c.Settings.Current().Budget.Cents, "remote settings survive")

	prefs.err = errors.New("disk full")
	assert.Error(t, c.ClearLocalSettings(ctx))
}

func TestWaitLoadedReturnsOnceMirrorsSettle(t *testing.T) {
	c, _ := newTestContainer(t, true, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.WaitLoaded(ctx))
	assert.False(t, c.Loading())
}
