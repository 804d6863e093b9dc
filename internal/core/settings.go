package core

// Settings document field names.
const (
	FieldBudget      = "budget"
	FieldSalary      = "salary"
	FieldHealthGoals = "healthGoals"
)

type (
	HealthGoals struct {
		Water  int     `json:"water"`
		Sleep  float64 `json:"sleep"`
		Steps  int     `json:"steps"`
		Weight float64 `json:"weight"`
	}

	// Settings is the single per-user settings document.
	Settings struct {
		Budget      Money       `json:"budget"`
		Salary      Money       `json:"salary"`
		HealthGoals HealthGoals `json:"healthGoals"`
	}
)

// DefaultSettings returns the values used before the remote document exists
// and whenever no principal is signed in.
func DefaultSettings() Settings {
	return Settings{
		Budget:      Money{Cents: 50000 * 100},
		Salary:      Money{},
		HealthGoals: DefaultHealthGoals(),
	}
}

func DefaultHealthGoals() HealthGoals {
	return HealthGoals{Water: 8, Sleep: 8, Steps: 10000, Weight: 70}
}

func (g HealthGoals) Fields() map[string]any {
	return map[string]any{
		"water":  g.Water,
		"sleep":  g.Sleep,
		"steps":  g.Steps,
		"weight": g.Weight,
	}
}

// Fields returns the full settings document.
func (s Settings) Fields() map[string]any {
	return map[string]any{
		FieldBudget:      s.Budget.Units(),
		FieldSalary:      s.Salary.Units(),
		FieldHealthGoals: s.HealthGoals.Fields(),
	}
}

// ApplyFields overrides only the fields present in a stored document.
func (s Settings) ApplyFields(fields map[string]any) Settings {
	if _, ok := fields[FieldBudget]; ok {
		s.Budget = MoneyFromFloat(numberField(fields, FieldBudget))
	}
	if _, ok := fields[FieldSalary]; ok {
		s.Salary = MoneyFromFloat(numberField(fields, FieldSalary))
	}
	if goals, ok := fields[FieldHealthGoals].(map[string]any); ok {
		s.HealthGoals = HealthGoals{
			Water:  intField(goals, "water"),
			Sleep:  numberField(goals, "sleep"),
			Steps:  intField(goals, "steps"),
			Weight: numberField(goals, "weight"),
		}
	}
	return s
}
