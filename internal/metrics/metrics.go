// Package metrics derives dashboard figures from mirror snapshots. Every
// function is pure; callers pass the snapshot and, where relevant, "now".
package metrics

import (
	"time"

	"lifesync/internal/core"
)

// OverBudgetThreshold is the budget usage percentage above which spending is
// flagged.
const OverBudgetThreshold = 80.0

// WeeklyWindow is the number of most recent logs averaged by WeeklyAverage.
const WeeklyWindow = 7

// Expense filter periods.
const (
	PeriodAll   = "all"
	PeriodMonth = "month"
	PeriodWeek  = "week"
)

// CategoryAll disables category filtering.
const CategoryAll = "all"

// MonthlyTotal sums the expenses dated in the calendar month of now.
func MonthlyTotal(expenses []core.Expense, now time.Time) core.Money {
	now = now.In(time.Local)
	var total core.Money
	for _, e := range MonthlyRecords(expenses, int(now.Month()), now.Year()) {
		total = total.Add(e.Amount)
	}
	return total
}

// CategoryBreakdown sums amounts per category over the whole snapshot.
func CategoryBreakdown(expenses []core.Expense) map[core.Category]core.Money {
	out := make(map[core.Category]core.Money)
	for _, e := range expenses {
		out[e.Category] = out[e.Category].Add(e.Amount)
	}
	return out
}

// MonthlyRecords keeps the expenses dated in month (1-12) of year.
func MonthlyRecords(expenses []core.Expense, month, year int) []core.Expense {
	var out []core.Expense
	for _, e := range expenses {
		if e.Date.InMonth(month, year) {
			out = append(out, e)
		}
	}
	return out
}

// TodayLog returns the first log, in snapshot order, dated on now's local
// calendar day.
func TodayLog(logs []core.HealthLog, now time.Time) *core.HealthLog {
	for i := range logs {
		if logs[i].Date.SameDay(now) {
			l := logs[i]
			return &l
		}
	}
	return nil
}

// WeeklyAverage is the mean of metric over the first WeeklyWindow logs in
// snapshot order. It returns 0 for an empty snapshot.
func WeeklyAverage(logs []core.HealthLog, metric core.HealthMetric) float64 {
	window := logs
	if len(window) > WeeklyWindow {
		window = window[:WeeklyWindow]
	}
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, l := range window {
		sum += metric.Value(l)
	}
	return sum / float64(len(window))
}

// CaloriesBurned estimates calories for a workout of the given type.
func CaloriesBurned(t core.WorkoutType, minutes int) int {
	return minutes * t.Rate()
}

// TotalCalories sums the stored calories of workouts.
func TotalCalories(workouts []core.Workout) int {
	total := 0
	for _, w := range workouts {
		total += w.CaloriesBurned
	}
	return total
}

// BudgetUsage returns spent as a percentage of budget, 0 when no budget is set.
func BudgetUsage(spent, budget core.Money) float64 {
	if budget.Cents <= 0 {
		return 0
	}
	return float64(spent.Cents) * 100 / float64(budget.Cents)
}

// OverBudget reports whether usage exceeds OverBudgetThreshold.
func OverBudget(usage float64) bool {
	return usage > OverBudgetThreshold
}

// Recent returns at most n leading records.
func Recent[T any](records []T, n int) []T {
	if n < 0 {
		n = 0
	}
	if len(records) > n {
		records = records[:n]
	}
	return append([]T(nil), records...)
}

// LastLogs returns the n most recent logs in chronological order, for charts.
func LastLogs(logs []core.HealthLog, n int) []core.HealthLog {
	out := Recent(logs, n)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// FilterExpenses keeps expenses matching category (or CategoryAll) dated
// within period: the current calendar month, the last 7 days, or all.
func FilterExpenses(expenses []core.Expense, category, period string, now time.Time) []core.Expense {
	now = now.In(time.Local)
	weekStart := core.DateOf(now.AddDate(0, 0, -7))
	var out []core.Expense
	for _, e := range expenses {
		if category != "" && category != CategoryAll && string(e.Category) != category {
			continue
		}
		switch period {
		case PeriodMonth:
			if !e.Date.InMonth(int(now.Month()), now.Year()) {
				continue
			}
		case PeriodWeek:
			if e.Date.Before(weekStart.Time) {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// Sum totals the amounts of expenses.
func Sum(expenses []core.Expense) core.Money {
	var total core.Money
	for _, e := range expenses {
		total = total.Add(e.Amount)
	}
	return total
}

// GoalProgress returns value as a percentage of goal, capped at 100.
func GoalProgress(value, goal float64) float64 {
	if goal <= 0 {
		return 0
	}
	p := value / goal * 100
	if p > 100 {
		return 100
	}
	return p
}
