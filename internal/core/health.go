package core

import "errors"

type (
	HealthLog struct {
		ID     string  `json:"id"`
		Weight float64 `json:"weight"`
		Water  int     `json:"water"`
		Sleep  float64 `json:"sleep"`
		Steps  int     `json:"steps"`
		Date   Date    `json:"date"`
		Owner  string  `json:"userId"`
	}

	// WorkoutType is a workout type id.
	WorkoutType string

	WorkoutTypeInfo struct {
		ID        WorkoutType `json:"id"`
		Name      string      `json:"name"`
		CalPerMin int         `json:"calPerMin"`
	}

	Workout struct {
		ID             string      `json:"id"`
		Type           WorkoutType `json:"type"`
		Name           string      `json:"name"`
		Duration       int         `json:"duration"`
		CaloriesBurned int         `json:"caloriesBurned"`
		Notes          string      `json:"notes"`
		Date           Date        `json:"date"`
		Owner          string      `json:"userId"`
	}

	// HealthMetric names a numeric health log field.
	HealthMetric string
)

const (
	MetricWeight HealthMetric = "weight"
	MetricWater  HealthMetric = "water"
	MetricSleep  HealthMetric = "sleep"
	MetricSteps  HealthMetric = "steps"
)

// DefaultCalPerMin applies to workout types missing from WorkoutTypes.
const DefaultCalPerMin = 5

// WorkoutTypes is the fixed workout table with calorie rates per minute.
var WorkoutTypes = []WorkoutTypeInfo{
	{"running", "Running", 10},
	{"gym", "Gym/Weight Training", 8},
	{"yoga", "Yoga", 4},
	{"swimming", "Swimming", 11},
	{"cycling", "Cycling", 9},
	{"walking", "Walking", 5},
	{"sports", "Sports", 8},
	{"dancing", "Dancing", 7},
	{"home", "Home Workout", 6},
	{"other", "Other", 5},
}

var (
	ErrInvalidDuration = errors.New("invalid duration")
	ErrNegativeMetric  = errors.New("health metrics cannot be negative")
)

// Info returns the table entry for t, if any.
func (t WorkoutType) Info() (WorkoutTypeInfo, bool) {
	for _, info := range WorkoutTypes {
		if info.ID == t {
			return info, true
		}
	}
	return WorkoutTypeInfo{}, false
}

// Rate returns calories burned per minute, DefaultCalPerMin when unknown.
func (t WorkoutType) Rate() int {
	if info, ok := t.Info(); ok {
		return info.CalPerMin
	}
	return DefaultCalPerMin
}

// Value returns the metric's value in l; unknown metrics yield 0.
func (m HealthMetric) Value(l HealthLog) float64 {
	switch m {
	case MetricWeight:
		return l.Weight
	case MetricWater:
		return float64(l.Water)
	case MetricSleep:
		return l.Sleep
	case MetricSteps:
		return float64(l.Steps)
	default:
		return 0
	}
}

func (l HealthLog) Validate() error {
	if err := l.Date.Validate(); err != nil {
		return err
	}
	if l.Weight < 0 || l.Water < 0 || l.Sleep < 0 || l.Steps < 0 {
		return ErrNegativeMetric
	}
	return nil
}

func (l HealthLog) RecordID() string    { return l.ID }
func (l HealthLog) RecordDate() Date    { return l.Date }
func (l HealthLog) RecordOwner() string { return l.Owner }

func (l HealthLog) Fields() map[string]any {
	return map[string]any{
		"weight":  l.Weight,
		"water":   l.Water,
		"sleep":   l.Sleep,
		"steps":   l.Steps,
		FieldDate: l.Date.Time,
	}
}

func HealthLogFromDocument(id string, fields map[string]any) (HealthLog, error) {
	date, err := dateField(fields)
	if err != nil {
		return HealthLog{}, err
	}
	return HealthLog{
		ID:     id,
		Weight: numberField(fields, "weight"),
		Water:  intField(fields, "water"),
		Sleep:  numberField(fields, "sleep"),
		Steps:  intField(fields, "steps"),
		Date:   date,
		Owner:  stringField(fields, FieldOwner),
	}, nil
}

// NewWorkout fills in the display name and the calories burned for the
// given type and duration. Calories are computed once here and persisted.
func NewWorkout(t WorkoutType, minutes int, notes string, date Date) Workout {
	w := Workout{
		Type:           t,
		Duration:       minutes,
		CaloriesBurned: minutes * t.Rate(),
		Notes:          notes,
		Date:           date,
	}
	if info, ok := t.Info(); ok {
		w.Name = info.Name
	}
	return w
}

func (w Workout) Validate() error {
	if err := w.Date.Validate(); err != nil {
		return err
	}
	if w.Duration <= 0 {
		return ErrInvalidDuration
	}
	return nil
}

func (w Workout) RecordID() string    { return w.ID }
func (w Workout) RecordDate() Date    { return w.Date }
func (w Workout) RecordOwner() string { return w.Owner }

func (w Workout) Fields() map[string]any {
	return map[string]any{
		"type":           string(w.Type),
		"name":           w.Name,
		"duration":       w.Duration,
		"caloriesBurned": w.CaloriesBurned,
		"notes":          w.Notes,
		FieldDate:        w.Date.Time,
	}
}

func WorkoutFromDocument(id string, fields map[string]any) (Workout, error) {
	date, err := dateField(fields)
	if err != nil {
		return Workout{}, err
	}
	return Workout{
		ID:             id,
		Type:           WorkoutType(stringField(fields, "type")),
		Name:           stringField(fields, "name"),
		Duration:       intField(fields, "duration"),
		CaloriesBurned: intField(fields, "caloriesBurned"),
		Notes:          stringField(fields, "notes"),
		Date:           date,
		Owner:          stringField(fields, FieldOwner),
	}, nil
}
