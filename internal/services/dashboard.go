package services

import (
	"lifesync/internal/core"
	"lifesync/internal/metrics"
)

const (
	recentExpenses = 5
	recentWorkouts = 3
)

type (
	ExpenseSummary struct {
		MonthlyTotal  core.Money                   `json:"monthlyTotal"`
		MonthlyBudget core.Money                   `json:"monthlyBudget"`
		BudgetUsage   float64                      `json:"budgetUsage"`
		OverBudget    bool                         `json:"overBudget"`
		Breakdown     map[core.Category]core.Money `json:"categoryBreakdown"`
		Count         int                          `json:"count"`
	}

	HealthSummary struct {
		Today          *core.HealthLog               `json:"today"`
		WeeklyAverages map[core.HealthMetric]float64 `json:"weeklyAverages"`
		Goals          core.HealthGoals              `json:"goals"`
		GoalProgress   map[core.HealthMetric]float64 `json:"goalProgress"`
		TotalCalories  int                           `json:"totalCalories"`
		Workouts       int                           `json:"workouts"`
		Chart          []core.HealthLog              `json:"chart"`
	}

	Dashboard struct {
		MonthlyTotal   core.Money       `json:"monthlyTotal"`
		MonthlyBudget  core.Money       `json:"monthlyBudget"`
		Salary         core.Money       `json:"salary"`
		BudgetUsage    float64          `json:"budgetUsage"`
		OverBudget     bool             `json:"overBudget"`
		Today          *core.HealthLog  `json:"today"`
		HealthGoals    core.HealthGoals `json:"healthGoals"`
		RecentExpenses []core.Expense   `json:"recentExpenses"`
		RecentWorkouts []core.Workout   `json:"recentWorkouts"`
	}
)

var summaryMetrics = []core.HealthMetric{core.MetricWeight, core.MetricWater, core.MetricSleep, core.MetricSteps}

func (c *Container) ExpenseSummary() ExpenseSummary {
	expenses := c.Expenses.List()
	budget := c.Settings.Current().Budget
	total := c.Expenses.MonthlyTotal()
	usage := metrics.BudgetUsage(total, budget)
	return ExpenseSummary{
		MonthlyTotal:  total,
		MonthlyBudget: budget,
		BudgetUsage:   usage,
		OverBudget:    metrics.OverBudget(usage),
		Breakdown:     metrics.CategoryBreakdown(expenses),
		Count:         len(expenses),
	}
}

func (c *Container) HealthSummary() HealthSummary {
	goals := c.Settings.Current().HealthGoals
	today := c.Health.TodayLog()

	s := HealthSummary{
		Today:          today,
		WeeklyAverages: make(map[core.HealthMetric]float64, len(summaryMetrics)),
		Goals:          goals,
		GoalProgress:   make(map[core.HealthMetric]float64, len(summaryMetrics)),
		TotalCalories:  c.Health.TotalCalories(),
		Workouts:       len(c.Health.Workouts()),
		Chart:          metrics.LastLogs(c.Health.Logs(), metrics.WeeklyWindow),
	}
	for _, m := range summaryMetrics {
		s.WeeklyAverages[m] = c.Health.WeeklyAverage(m)
	}
	if today != nil {
		s.GoalProgress[core.MetricWater] = metrics.GoalProgress(float64(today.Water), float64(goals.Water))
		s.GoalProgress[core.MetricSleep] = metrics.GoalProgress(today.Sleep, goals.Sleep)
		s.GoalProgress[core.MetricSteps] = metrics.GoalProgress(float64(today.Steps), float64(goals.Steps))
	}
	return s
}

// Dashboard combines the headline figures of every mirror.
func (c *Container) Dashboard() Dashboard {
	settings := c.Settings.Current()
	total := c.Expenses.MonthlyTotal()
	usage := metrics.BudgetUsage(total, settings.Budget)
	return Dashboard{
		MonthlyTotal:   total,
		MonthlyBudget:  settings.Budget,
		Salary:         settings.Salary,
		BudgetUsage:    usage,
		OverBudget:     metrics.OverBudget(usage),
		Today:          c.Health.TodayLog(),
		HealthGoals:    settings.HealthGoals,
		RecentExpenses: metrics.Recent(c.Expenses.List(), recentExpenses),
		RecentWorkouts: metrics.Recent(c.Health.Workouts(), recentWorkouts),
	}
}
