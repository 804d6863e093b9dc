package services

import (
	"context"
	"time"

	"lifesync/internal/core"
	"lifesync/internal/metrics"
	"lifesync/internal/mirror"
)

// Expenses exposes the expense mirror and the figures derived from it.
type Expenses struct {
	mirror *mirror.Collection[core.Expense]
	now    func() time.Time
}

func (e *Expenses) Mirror() *mirror.Collection[core.Expense] { return e.mirror }

func (e *Expenses) List() []core.Expense { return e.mirror.Snapshot() }

func (e *Expenses) Get(id string) (core.Expense, bool) { return e.mirror.Get(id) }

// Filter narrows the snapshot by category and period (all, month, week).
func (e *Expenses) Filter(category, period string) []core.Expense {
	return metrics.FilterExpenses(e.mirror.Snapshot(), category, period, e.now())
}

func (e *Expenses) Create(ctx context.Context, in core.Expense) (string, error) {
	if err := in.Validate(); err != nil {
		return "", invalid(err)
	}
	return e.mirror.Add(ctx, in)
}

// Update replaces the editable fields of the expense with the given id.
func (e *Expenses) Update(ctx context.Context, id string, in core.Expense) error {
	if err := in.Validate(); err != nil {
		return invalid(err)
	}
	return e.mirror.Update(ctx, id, in.Fields())
}

func (e *Expenses) Delete(ctx context.Context, id string) error {
	return e.mirror.Delete(ctx, id)
}

// MonthlyTotal sums the expenses of the current calendar month.
func (e *Expenses) MonthlyTotal() core.Money {
	return metrics.MonthlyTotal(e.mirror.Snapshot(), e.now())
}

func (e *Expenses) CategoryBreakdown() map[core.Category]core.Money {
	return metrics.CategoryBreakdown(e.mirror.Snapshot())
}

func (e *Expenses) MonthlyRecordsFor(month, year int) []core.Expense {
	return metrics.MonthlyRecords(e.mirror.Snapshot(), month, year)
}
