// Package http provides the JSON API over the application services.
//
// This file implements utilities for parsing and validating request data:
// JSON bodies, month selectors and path ids.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lifesync/internal/core"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// errBadRequest marks bodies that are not valid JSON for the endpoint.
var errBadRequest = errors.New("malformed request")

// MonthParams holds parsed year/month values from request parameters.
type MonthParams struct {
	Year  int
	Month int
}

// ParseMonthParams extracts year and month from query parameters, using the
// month of now as the default.
func ParseMonthParams(query url.Values, now time.Time) MonthParams {
	params := MonthParams{
		Year:  now.Year(),
		Month: int(now.Month()),
	}

	if v := strings.TrimSpace(query.Get("year")); v != "" {
		if y, err := strconv.Atoi(v); err == nil {
			params.Year = y
		}
	}
	if v := strings.TrimSpace(query.Get("month")); v != "" {
		if m, err := strconv.Atoi(v); err == nil && m >= 1 && m <= 12 {
			params.Month = m
		}
	}

	return params
}

// HasMonthSelector reports whether the query names a specific month.
func HasMonthSelector(query url.Values) bool {
	return query.Get("month") != "" || query.Get("year") != ""
}

// decodeJSON reads a single JSON value from the request body into dst.
// Amount and date errors from the domain decoders are returned unwrapped so
// they can be reported as validation failures.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, core.ErrInvalidAmount) || errors.Is(err, core.ErrInvalidDate) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errBadRequest)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after JSON value", errBadRequest)
	}
	return nil
}

// pathID returns the sanitized {id} path segment.
func pathID(r *http.Request) string {
	return sanitizeInput(r.PathValue("id"))
}

type (
	expenseRequest struct {
		Amount      core.Money    `json:"amount"`
		Category    core.Category `json:"category"`
		Description string        `json:"description"`
		Date        core.Date     `json:"date"`
	}

	healthLogRequest struct {
		Weight float64   `json:"weight"`
		Water  int       `json:"water"`
		Sleep  float64   `json:"sleep"`
		Steps  int       `json:"steps"`
		Date   core.Date `json:"date"`
	}

	workoutRequest struct {
		Type     core.WorkoutType `json:"type"`
		Duration int              `json:"duration"`
		Notes    string           `json:"notes"`
		Date     core.Date        `json:"date"`
	}

	amountRequest struct {
		Amount core.Money `json:"amount"`
	}
)

// expense converts the request, defaulting the date to today.
func (req expenseRequest) expense(today core.Date) core.Expense {
	date := req.Date
	if date.IsZero() {
		date = today
	}
	return core.Expense{
		Amount:      req.Amount,
		Category:    core.Category(sanitizeInput(string(req.Category))),
		Description: sanitizeInput(req.Description),
		Date:        date,
	}
}

func (req healthLogRequest) healthLog(today core.Date) core.HealthLog {
	date := req.Date
	if date.IsZero() {
		date = today
	}
	return core.HealthLog{
		Weight: req.Weight,
		Water:  req.Water,
		Sleep:  req.Sleep,
		Steps:  req.Steps,
		Date:   date,
	}
}

func (req workoutRequest) date(today core.Date) core.Date {
	if req.Date.IsZero() {
		return today
	}
	return req.Date
}
