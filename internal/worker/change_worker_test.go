package worker

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

	"lifesync/internal/amqp"
	"lifesync/internal/log"
)

type fakeRefresher struct {
	mu        sync.Mutex
	refreshed []string
	all       int
}

func (f *fakeRefresher) Refresh(_ context.Context, collection string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, collection)
}

func (f *fakeRefresher) RefreshAll(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.all++
}

func (f *fakeRefresher) counts() ([]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.refreshed...), f.all
}

type fakeConsumer struct {
	msgs []*amqp.ChangeMessage
	err  error
}

func (c *fakeConsumer) ConsumeChanges(ctx context.Context, handler func(context.Context, *amqp.ChangeMessage) error) error {
	for _, m := range c.msgs {
		if err := handler(ctx, m); err != nil {
			return err
		}
	}
	if c.err != nil {
		return c.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func testLogger() *log.Logger {
	return log.New(log.Config{Handler: slog.NewTextHandler(io.Discard, nil)})
}

func TestHandleChangeMessage(t *testing.T) {
	r := &fakeRefresher{}
	w := NewChangeWorker(r, []string{"expenses", "workouts"}, 0, testLogger())
	ctx := context.Background()

	require.NoError(t, w.HandleChangeMessage(ctx, amqp.NewChangeMessage("expenses", "e1", "insert", "other")))
	require.NoError(t, w.HandleChangeMessage(ctx, amqp.NewChangeMessage("unknown", "x", "insert", "other")))
	require.Error(t, w.HandleChangeMessage(ctx, nil))

	refreshed, _ := r.counts()
	assert.Equal(t, []string{"expenses"}, refreshed)
}

func TestRunRefreshesOnStartAndOnMessages(t *testing.T) {
	r := &fakeRefresher{}
	w := NewChangeWorker(r, []string{"expenses", "healthLogs"}, 0, testLogger())
	consumer := &fakeConsumer{msgs: []*amqp.ChangeMessage{
		amqp.NewChangeMessage("healthLogs", "h1", "update", "other"),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, consumer) }()

	require.Eventually(t, func() bool {
		refreshed, all := r.counts()
		return all == 1 && len(refreshed) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestRunPeriodicRefresh(t *testing.T) {
	r := &fakeRefresher{}
	w := NewChangeWorker(r, nil, 10*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, nil) }()

	require.Eventually(t, func() bool {
		_, all := r.counts()
		return all >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestRunReturnsConsumerFailure(t *testing.T) {
	w := NewChangeWorker(&fakeRefresher{}, nil, 0, testLogger())
	err := w.Run(context.Background(), &fakeConsumer{err: errors.New("broker gone")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker gone")
}
