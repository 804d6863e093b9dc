package core

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Document field names shared with every client of the remote store.
const (
	FieldOwner     = "userId"
	FieldDate      = "date"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// Remote collection names.
const (
	ExpensesCollection   = "expenses"
	HealthLogsCollection = "healthLogs"
	WorkoutsCollection   = "workouts"
	UsersCollection      = "users"
)

// Collections lists every collection a principal owns documents in.
var Collections = []string{ExpensesCollection, HealthLogsCollection, WorkoutsCollection, UsersCollection}

func numberField(fields map[string]any, key string) float64 {
	switch v := fields[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func intField(fields map[string]any, key string) int {
	return int(math.Round(numberField(fields, key)))
}

func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func dateField(fields map[string]any) (Date, error) {
	v, ok := fields[FieldDate]
	if !ok || v == nil {
		return Date{}, ErrInvalidDate
	}
	return DateFromValue(v)
}

// MergeFields returns a copy of base with patch applied on top.
func MergeFields(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
