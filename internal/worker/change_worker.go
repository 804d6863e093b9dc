package worker

import (
	"context"
	"fmt"
	"time"

	"lifesync/internal/amqp"
	"lifesync/internal/log"
)

// Refresher re-reads stored documents and redelivers them to local listeners.
type Refresher interface {
	Refresh(ctx context.Context, collection string)
	RefreshAll(ctx context.Context)
}

// ChangeConsumer delivers change messages until ctx is done.
type ChangeConsumer interface {
	ConsumeChanges(ctx context.Context, handler func(context.Context, *amqp.ChangeMessage) error) error
}

// ChangeWorker keeps local listeners in step with writes made by other
// processes sharing the same database.
type ChangeWorker struct {
	store       Refresher
	collections map[string]bool
	interval    time.Duration
	logger      *log.Logger
}

// NewChangeWorker creates a worker refreshing the given collections. A zero
// interval disables the periodic full refresh.
func NewChangeWorker(store Refresher, collections []string, interval time.Duration, logger *log.Logger) *ChangeWorker {
	known := make(map[string]bool, len(collections))
	for _, c := range collections {
		known[c] = true
	}
	return &ChangeWorker{
		store:       store,
		collections: known,
		interval:    interval,
		logger:      logger.WithComponent(log.ComponentWorker),
	}
}

// HandleChangeMessage refreshes the collection named by a change message
func (w *ChangeWorker) HandleChangeMessage(ctx context.Context, msg *amqp.ChangeMessage) error {
	if msg == nil {
		return fmt.Errorf("nil change message")
	}
	if !w.collections[msg.Collection] {
		w.logger.WarnContext(ctx, "Ignoring change for unknown collection",
			log.FieldCollection, msg.Collection,
			log.FieldDocumentID, msg.DocumentID)
		return nil
	}

	w.logger.DebugContext(ctx, "Processing change message",
		log.FieldCollection, msg.Collection,
		log.FieldDocumentID, msg.DocumentID,
		log.FieldOperation, msg.Operation)

	w.store.Refresh(ctx, msg.Collection)
	return nil
}

// Run consumes change messages and refreshes every collection once per
// interval, as a backup for lost messages. It returns when ctx is done.
func (w *ChangeWorker) Run(ctx context.Context, consumer ChangeConsumer) error {
	w.store.RefreshAll(ctx)

	errCh := make(chan error, 1)
	if consumer != nil {
		go func() {
			errCh <- consumer.ConsumeChanges(ctx, w.HandleChangeMessage)
		}()
	}

	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	w.logger.InfoContext(ctx, "Change worker started", "interval", w.interval)

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "Change worker stopped")
			return nil
		case err := <-errCh:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("consume changes: %w", err)
		case <-tick:
			w.logger.DebugContext(ctx, "Periodic refresh", log.FieldOperation, log.OpSync)
			w.store.RefreshAll(ctx)
		}
	}
}
