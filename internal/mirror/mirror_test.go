package mirror

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifesync/internal/core"
	"lifesync/internal/log"
	"lifesync/internal/store"
	"lifesync/internal/store/memory"
)

func testLogger() *log.Logger {
	return log.New(log.Config{Handler: slog.NewTextHandler(io.Discard, nil)})
}

// recordingStore hands out subscriptions without delivering anything, so
// tests decide when and to whom payloads are pushed.
type recordingStore struct {
	mu   sync.Mutex
	subs []*recordedSub

	onInsert      func(id string, fields map[string]any) error
	onSetMerge    func(fields map[string]any) error
	onGetOrCreate func(ref store.DocRef, defaults map[string]any)
}

type recordedSub struct {
	query      store.Query
	ref        store.DocRef
	onSnapshot store.SnapshotFunc
	onDoc      store.DocSnapshotFunc
	onError    store.ErrorFunc
	closed     bool
}

func (r *recordingStore) Subscribe(_ context.Context, q store.Query, onSnapshot store.SnapshotFunc, onError store.ErrorFunc) store.Unsubscribe {
	sub := &recordedSub{query: q, onSnapshot: onSnapshot, onError: onError}
	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		sub.closed = true
		r.mu.Unlock()
	}
}

func (r *recordingStore) SubscribeDoc(_ context.Context, ref store.DocRef, onSnapshot store.DocSnapshotFunc, onError store.ErrorFunc) store.Unsubscribe {
	sub := &recordedSub{ref: ref, onDoc: onSnapshot, onError: onError}
	r.mu.Lock()
	r.subs = append(r.subs, sub)
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		sub.closed = true
		r.mu.Unlock()
	}
}

func (r *recordingStore) Insert(_ context.Context, _, id string, fields map[string]any) (string, error) {
	if r.onInsert != nil {
		if err := r.onInsert(id, fields); err != nil {
			return "", err
		}
	}
	return id, nil
}

func (r *recordingStore) Update(context.Context, string, string, map[string]any) error { return nil }
func (r *recordingStore) Delete(context.Context, string, string) error                 { return nil }

func (r *recordingStore) SetMerge(_ context.Context, _ store.DocRef, fields map[string]any) error {
	if r.onSetMerge != nil {
		return r.onSetMerge(fields)
	}
	return nil
}

func (r *recordingStore) GetOrCreate(_ context.Context, ref store.DocRef, defaults map[string]any) (store.Document, error) {
	if r.onGetOrCreate != nil {
		r.onGetOrCreate(ref, defaults)
	}
	return store.Document{ID: ref.ID, Fields: defaults}, nil
}

func (r *recordingStore) Close() error { return nil }

func (r *recordingStore) sub(i int) *recordedSub {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[i]
}

func expenseDoc(id, owner, date string, amount float64) store.Document {
	d, _ := core.ParseDate(date)
	return store.Document{ID: id, Fields: map[string]any{
		"amount":      amount,
		"category":    "food",
		"description": id,
		"date":        d.Time,
		"userId":      owner,
	}}
}

func newExpenses(st store.Store) *Collection[core.Expense] {
	return NewCollection("expenses", st, core.ExpenseFromDocument, testLogger())
}

func TestCollectionSortsPayloadByDateDescending(t *testing.T) {
	st := &recordingStore{}
	c := newExpenses(st)
	c.SetPrincipal(context.Background(), &core.Principal{ID: "a"})
	require.True(t, c.Loading())

	st.sub(0).onSnapshot([]store.Document{
		expenseDoc("e1", "a", "2025-01-10", 1),
		expenseDoc("e2", "a", "2025-03-01", 2),
		expenseDoc("e3", "a", "2025-01-10", 3),
		expenseDoc("e4", "a", "2025-02-15", 4),
	})

	require.False(t, c.Loading())
	var ids []string
	for _, e := range c.Snapshot() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"e2", "e4", "e1", "e3"}, ids)
}

func TestPrincipalSwitchDiscardsPreviousSubscription(t *testing.T) {
	ctx := context.Background()
	st := &recordingStore{}
	c := newExpenses(st)

	c.SetPrincipal(ctx, &core.Principal{ID: "a"})
	subA := st.sub(0)
	subA.onSnapshot([]store.Document{expenseDoc("a1", "a", "2025-01-01", 10)})
	require.Len(t, c.Snapshot(), 1)

	c.SetPrincipal(ctx, &core.Principal{ID: "b"})
	subB := st.sub(1)
	assert.True(t, subA.closed, "previous subscription must be detached")
	assert.Equal(t, "b", subB.query.Value)
	assert.Empty(t, c.Snapshot())
	assert.True(t, c.Loading())

	// A late payload from A's listener arrives after the switch.
	subA.onSnapshot([]store.Document{
		expenseDoc("a1", "a", "2025-01-01", 10),
		expenseDoc("a2", "a", "2025-01-02", 20),
	})
	assert.Empty(t, c.Snapshot())

	subB.onSnapshot([]store.Document{expenseDoc("b1", "b", "2025-01-03", 30)})
	subA.onError(errors.New("late error"))

	snap := c.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "b1", snap[0].ID)
	for _, e := range snap {
		assert.NotEqual(t, "a", e.Owner)
	}
	assert.NoError(t, c.Err())
}

func TestSignOutClearsSnapshot(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c := newExpenses(st)
	c.SetPrincipal(ctx, &core.Principal{ID: "a"})

	_, err := c.Add(ctx, core.Expense{Amount: core.Money{Cents: 500}, Category: "food", Description: "x", Date: core.Today()})
	require.NoError(t, err)
	require.Len(t, c.Snapshot(), 1)

	c.SetPrincipal(ctx, nil)
	assert.Empty(t, c.Snapshot())
	assert.False(t, c.Loading())
	assert.Equal(t, 0, st.Subscribers())

	_, err = c.Add(ctx, core.Expense{Date: core.Today()})
	assert.ErrorIs(t, err, ErrNoPrincipal)
}

func TestAddIsVisibleBeforeAcknowledgmentAndRolledBackOnFailure(t *testing.T) {
	ctx := context.Background()
	st := &recordingStore{}
	c := newExpenses(st)
	c.SetPrincipal(ctx, &core.Principal{ID: "a"})
	st.sub(0).onSnapshot(nil)

	boom := errors.New("unavailable")
	var during []core.Expense
	var insertedID string
	st.onInsert = func(id string, fields map[string]any) error {
		assert.Equal(t, "a", fields[core.FieldOwner])
		assert.True(t, store.IsServerTimestamp(fields[core.FieldCreatedAt]))
		insertedID = id
		during = c.Snapshot()
		return boom
	}

	_, err := c.Add(ctx, core.Expense{Amount: core.Money{Cents: 1500}, Category: "travel", Description: "Train", Date: core.NewDate(2025, 4, 2)})
	require.ErrorIs(t, err, boom)

	require.Len(t, during, 1)
	assert.NotEmpty(t, insertedID)
	assert.Equal(t, insertedID, during[0].ID, "provisional record carries the id written to the store")
	assert.Equal(t, int64(1500), during[0].Amount.Cents)
	assert.Empty(t, c.Snapshot(), "failed add must be rolled back")
}

func TestAddConfirmedByNextPayload(t *testing.T) {
	ctx := context.Background()
	st := &recordingStore{}
	c := newExpenses(st)
	c.SetPrincipal(ctx, &core.Principal{ID: "a"})
	st.sub(0).onSnapshot(nil)

	id, err := c.Add(ctx, core.Expense{Amount: core.Money{Cents: 100}, Category: "food", Description: "Tea", Date: core.NewDate(2025, 4, 2)})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Len(t, c.Snapshot(), 1, "acknowledged add stays visible until the listener echoes it")

	st.sub(0).onSnapshot([]store.Document{expenseDoc(id, "a", "2025-04-02", 1)})
	snap := c.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, id, snap[0].ID)
}

func TestDeleteTwice(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c := newExpenses(st)
	c.SetPrincipal(ctx, &core.Principal{ID: "a"})

	id, err := c.Add(ctx, core.Expense{Amount: core.Money{Cents: 900}, Category: "bills", Description: "Power", Date: core.Today()})
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, id))
	err = c.Delete(ctx, id)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, ok := c.Get(id)
	assert.False(t, ok)
	assert.Empty(t, c.Snapshot())
}

func TestUpdateRollsBackOnNotFound(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c := newExpenses(st)
	c.SetPrincipal(ctx, &core.Principal{ID: "a"})

	id, err := c.Add(ctx, core.Expense{Amount: core.Money{Cents: 900}, Category: "bills", Description: "Power", Date: core.Today()})
	require.NoError(t, err)

	require.NoError(t, c.Update(ctx, id, map[string]any{"description": "Electricity"}))
	got, ok := c.Get(id)
	require.True(t, ok)
	assert.Equal(t, "Electricity", got.Description)

	err = c.Update(ctx, "missing", map[string]any{"description": "x"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	st.FailWrites(errors.New("offline"))
	require.Error(t, c.Update(ctx, id, map[string]any{"description": "Gas"}))
	got, _ = c.Get(id)
	assert.Equal(t, "Electricity", got.Description)
}

func TestSubscriptionErrorClearsLoading(t *testing.T) {
	st := memory.New()
	st.DenySubscriptions(errors.New("permission denied"))
	c := newExpenses(st)

	c.SetPrincipal(context.Background(), &core.Principal{ID: "a"})

	assert.False(t, c.Loading())
	assert.Empty(t, c.Snapshot())
	var subErr *SubscriptionError
	require.ErrorAs(t, c.Err(), &subErr)
	assert.Equal(t, "expenses", subErr.Collection)
}

func TestOnChangeFires(t *testing.T) {
	ctx := context.Background()
	c := newExpenses(memory.New())
	calls := 0
	c.OnChange(func() { calls++ })

	c.SetPrincipal(ctx, &core.Principal{ID: "a"})
	assert.Positive(t, calls)
}

func TestAddNeverShowsRecordTwice(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	c := newExpenses(st)
	c.SetPrincipal(ctx, &core.Principal{ID: "a"})
	defer c.Close()

	var sizes []int
	var totals []int64
	c.OnChange(func() {
		snap := c.Snapshot()
		var cents int64
		for _, e := range snap {
			cents += e.Amount.Cents
		}
		sizes = append(sizes, len(snap))
		totals = append(totals, cents)
	})

	id, err := c.Add(ctx, core.Expense{Amount: core.Money{Cents: 1000}, Category: "food", Description: "Lunch", Date: core.NewDate(2025, 6, 1)})
	require.NoError(t, err)

	require.NotEmpty(t, sizes)
	for i := range sizes {
		assert.LessOrEqual(t, sizes[i], 1, "view %d holds more records than were written", i)
		assert.LessOrEqual(t, totals[i], int64(1000), "view %d total", i)
	}
	snap := c.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, id, snap[0].ID)
}

func TestEchoBeforeAcknowledgmentIsNotDuplicated(t *testing.T) {
	ctx := context.Background()
	st := &recordingStore{}
	c := newExpenses(st)
	c.SetPrincipal(ctx, &core.Principal{ID: "a"})
	st.sub(0).onSnapshot(nil)

	var during []core.Expense
	st.onInsert = func(id string, fields map[string]any) error {
		st.sub(0).onSnapshot([]store.Document{expenseDoc(id, "a", "2025-04-02", 15)})
		during = c.Snapshot()
		return nil
	}

	_, err := c.Add(ctx, core.Expense{Amount: core.Money{Cents: 1500}, Category: "travel", Description: "Train", Date: core.NewDate(2025, 4, 2)})
	require.NoError(t, err)
	assert.Len(t, during, 1)
	assert.Len(t, c.Snapshot(), 1)
}
