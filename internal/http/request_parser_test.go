package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"lifesync/internal/core"
)

var parseNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.Local)

func TestParseMonthParams(t *testing.T) {
	tests := []struct {
		name      string
		query     url.Values
		wantYear  int
		wantMonth int
	}{
		{
			name:      "both values provided",
			query:     url.Values{"year": {"2024"}, "month": {"12"}},
			wantYear:  2024,
			wantMonth: 12,
		},
		{
			name:      "only year",
			query:     url.Values{"year": {"2023"}},
			wantYear:  2023,
			wantMonth: 6,
		},
		{
			name:      "only month",
			query:     url.Values{"month": {"5"}},
			wantYear:  2025,
			wantMonth: 5,
		},
		{
			name:      "out of range month falls back",
			query:     url.Values{"month": {"13"}},
			wantYear:  2025,
			wantMonth: 6,
		},
		{
			name:      "invalid values are ignored",
			query:     url.Values{"year": {"abc"}, "month": {"xyz"}},
			wantYear:  2025,
			wantMonth: 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseMonthParams(tt.query, parseNow)

			if result.Year != tt.wantYear {
				t.Errorf("Year = %d, want %d", result.Year, tt.wantYear)
			}
			if result.Month != tt.wantMonth {
				t.Errorf("Month = %d, want %d", result.Month, tt.wantMonth)
			}
		})
	}
}

func TestHasMonthSelector(t *testing.T) {
	if HasMonthSelector(url.Values{"category": {"food"}}) {
		t.Error("category alone is not a month selector")
	}
	if !HasMonthSelector(url.Values{"month": {"2"}}) {
		t.Error("month should select a month")
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"valid", `{"amount": 12.5, "category": "food", "description": "Lunch", "date": "2025-06-01"}`, nil},
		{"empty body", ``, errBadRequest},
		{"malformed", `{"amount":`, errBadRequest},
		{"trailing data", `{"amount": 1}{"amount": 2}`, errBadRequest},
		{"invalid amount", `{"amount": "abc"}`, core.ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/expenses", strings.NewReader(tt.body))
			var dst expenseRequest
			err := decodeJSON(req, &dst)

			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("decodeJSON() error = %v", err)
				}
				if dst.Amount.Cents != 1250 {
					t.Errorf("Amount = %d cents, want 1250", dst.Amount.Cents)
				}
				if dst.Date.String() != "2025-06-01" {
					t.Errorf("Date = %q", dst.Date.String())
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("decodeJSON() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestExpenseRequestDefaults(t *testing.T) {
	today := core.NewDate(2025, 6, 15)
	req := expenseRequest{
		Amount:      core.Money{Cents: 500},
		Category:    " food ",
		Description: "  Coffee\x00 ",
	}

	e := req.expense(today)
	if e.Date != today {
		t.Errorf("Date = %v, want today", e.Date)
	}
	if e.Category != core.CategoryFood {
		t.Errorf("Category = %q", e.Category)
	}
	if e.Description != "Coffee" {
		t.Errorf("Description = %q", e.Description)
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  hello  ", "hello"},
		{"tab\tkept", "tab\tkept"},
		{"bell\x07removed", "bellremoved"},
	}
	for _, tt := range tests {
		if got := sanitizeInput(tt.in); got != tt.want {
			t.Errorf("sanitizeInput(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
