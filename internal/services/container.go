// Package services wires the session, the mirrors and the local stores into
// the operations the API exposes.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lifesync/internal/core"
	"lifesync/internal/identity"
	"lifesync/internal/log"
	"lifesync/internal/mirror"
	"lifesync/internal/store"
)

// ErrValidation wraps every rejected user input.
var ErrValidation = errors.New("validation failed")

// PreferenceStore keeps device-local preferences.
type PreferenceStore interface {
	All(ctx context.Context) (map[string]any, error)
	Set(ctx context.Context, key string, value any) error
	Clear(ctx context.Context) error
}

// Options configures optional parts of the container.
type Options struct {
	ExportDir   string
	Uploader    Uploader
	Preferences PreferenceStore
	Now         func() time.Time
}

// Container owns every component scoped to the signed-in principal.
type Container struct {
	Session     *identity.Session
	Expenses    *Expenses
	Health      *Health
	Settings    *mirror.Settings
	Exporter    *Exporter
	Preferences PreferenceStore

	logger *log.Logger
}

// NewContainer builds the mirrors over st and subscribes them to session.
// Mirrors are rebuilt, in a fixed order, on every principal change.
func NewContainer(session *identity.Session, st store.Store, opts Options, logger *log.Logger) *Container {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	expenses := mirror.NewCollection(core.ExpensesCollection, st, core.ExpenseFromDocument, logger)
	logs := mirror.NewCollection(core.HealthLogsCollection, st, core.HealthLogFromDocument, logger)
	workouts := mirror.NewCollection(core.WorkoutsCollection, st, core.WorkoutFromDocument, logger)
	settings := mirror.NewSettings(st, logger)

	c := &Container{
		Session:     session,
		Expenses:    &Expenses{mirror: expenses, now: now},
		Health:      &Health{logs: logs, workouts: workouts, now: now},
		Settings:    settings,
		Preferences: opts.Preferences,
		logger:      logger.WithComponent(log.ComponentApp),
	}
	c.Exporter = NewExporter(c.Expenses, c.Health, settings, ExporterOptions{
		Dir:      opts.ExportDir,
		Uploader: opts.Uploader,
		Now:      now,
	}, logger)

	session.Subscribe(func(ctx context.Context, p *core.Principal) {
		// Every listener of the previous principal is gone before any
		// listener of the next one opens.
		expenses.Close()
		logs.Close()
		workouts.Close()
		settings.Close()

		expenses.SetPrincipal(ctx, p)
		logs.SetPrincipal(ctx, p)
		workouts.SetPrincipal(ctx, p)
		settings.SetPrincipal(ctx, p)
	})

	return c
}

// ClearLocalSettings wipes device-local preferences and rebuilds every
// mirror. Remote data is left untouched.
func (c *Container) ClearLocalSettings(ctx context.Context) error {
	if c.Preferences != nil {
		if err := c.Preferences.Clear(ctx); err != nil {
			return fmt.Errorf("clear local settings: %w", err)
		}
	}
	c.logger.InfoContext(ctx, "Local settings cleared, reloading session")
	c.Session.Reload()
	return nil
}

// Loading reports whether any mirror still awaits its first snapshot.
func (c *Container) Loading() bool {
	return c.Expenses.mirror.Loading() ||
		c.Health.logs.Loading() ||
		c.Health.workouts.Loading() ||
		c.Settings.Loading()
}

// WaitLoaded blocks until every mirror has received its first snapshot or
// ctx is done.
func (c *Container) WaitLoaded(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for c.Loading() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for mirrors: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// Close detaches every live subscription.
func (c *Container) Close() {
	c.Expenses.mirror.Close()
	c.Health.logs.Close()
	c.Health.workouts.Close()
	c.Settings.Close()
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrValidation, err)
}
