package services

import (
	"context"
	"time"

	"lifesync/internal/core"
	"lifesync/internal/metrics"
	"lifesync/internal/mirror"
)

// Health exposes the health log and workout mirrors.
type Health struct {
	logs     *mirror.Collection[core.HealthLog]
	workouts *mirror.Collection[core.Workout]
	now      func() time.Time
}

func (h *Health) LogsMirror() *mirror.Collection[core.HealthLog] { return h.logs }

func (h *Health) WorkoutsMirror() *mirror.Collection[core.Workout] { return h.workouts }

func (h *Health) Logs() []core.HealthLog { return h.logs.Snapshot() }

func (h *Health) Workouts() []core.Workout { return h.workouts.Snapshot() }

func (h *Health) AddLog(ctx context.Context, l core.HealthLog) (string, error) {
	if err := l.Validate(); err != nil {
		return "", invalid(err)
	}
	return h.logs.Add(ctx, l)
}

func (h *Health) UpdateLog(ctx context.Context, id string, l core.HealthLog) error {
	if err := l.Validate(); err != nil {
		return invalid(err)
	}
	return h.logs.Update(ctx, id, l.Fields())
}

func (h *Health) DeleteLog(ctx context.Context, id string) error {
	return h.logs.Delete(ctx, id)
}

// AddWorkout records a workout, computing its calories from the type's rate.
func (h *Health) AddWorkout(ctx context.Context, t core.WorkoutType, minutes int, notes string, date core.Date) (string, core.Workout, error) {
	w := core.NewWorkout(t, minutes, notes, date)
	if err := w.Validate(); err != nil {
		return "", core.Workout{}, invalid(err)
	}
	id, err := h.workouts.Add(ctx, w)
	if err != nil {
		return "", core.Workout{}, err
	}
	w.ID = id
	return id, w, nil
}

func (h *Health) DeleteWorkout(ctx context.Context, id string) error {
	return h.workouts.Delete(ctx, id)
}

// TodayLog returns today's log, or nil when none was recorded.
func (h *Health) TodayLog() *core.HealthLog {
	return metrics.TodayLog(h.logs.Snapshot(), h.now())
}

func (h *Health) WeeklyAverage(metric core.HealthMetric) float64 {
	return metrics.WeeklyAverage(h.logs.Snapshot(), metric)
}

func (h *Health) TotalCalories() int {
	return metrics.TotalCalories(h.workouts.Snapshot())
}
