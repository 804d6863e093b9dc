package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar date format used by the API and exports.
const DateLayout = "2006-01-02"

// Date is a calendar date held as local midnight.
type Date struct {
	time.Time
}

// NewDate creates a new Date from year, month, day in local time
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.Local)}
}

// DateOf truncates t to its local calendar day.
func DateOf(t time.Time) Date {
	t = t.In(time.Local)
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// Today returns the current local calendar day.
func Today() Date {
	return DateOf(time.Now())
}

// ParseDate parses a date string in YYYY-MM-DD format.
func ParseDate(s string) (Date, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.Local)
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// SameDay reports whether d falls on the same local calendar day as t.
func (d Date) SameDay(t time.Time) bool {
	a := d.In(time.Local)
	b := t.In(time.Local)
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

// InMonth reports whether d falls in the given month (1-12) and year.
func (d Date) InMonth(month, year int) bool {
	l := d.In(time.Local)
	return int(l.Month()) == month && l.Year() == year
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.In(time.Local).Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := DateFromValue(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DateFromValue translates a store-native timestamp into a calendar date.
// Accepted: time.Time, *time.Time, RFC 3339 strings, YYYY-MM-DD strings and
// unix milliseconds.
func DateFromValue(v any) (Date, error) {
	switch t := v.(type) {
	case time.Time:
		return DateOf(t), nil
	case *time.Time:
		if t == nil {
			return Date{}, ErrInvalidDate
		}
		return DateOf(*t), nil
	case string:
		if d, err := ParseDate(t); err == nil {
			return d, nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, t)
		}
		return DateOf(parsed), nil
	case int64:
		return DateOf(time.UnixMilli(t)), nil
	case float64:
		return DateOf(time.UnixMilli(int64(t))), nil
	case json.Number:
		ms, err := t.Int64()
		if err != nil {
			return Date{}, ErrInvalidDate
		}
		return DateOf(time.UnixMilli(ms)), nil
	default:
		return Date{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidDate, v)
	}
}
