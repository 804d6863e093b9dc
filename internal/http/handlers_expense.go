package http

import (
	"net/http"

	"lifesync/internal/core"
	"lifesync/internal/log"
	"lifesync/internal/metrics"
)

type (
	expenseList struct {
		Expenses []core.Expense `json:"expenses"`
		Total    core.Money     `json:"total"`
		Count    int            `json:"count"`
		Loading  bool           `json:"loading"`
		Error    string         `json:"error,omitempty"`
	}

	createdResponse struct {
		ID string `json:"id"`
	}
)

// handleListExpenses returns the mirror snapshot. month/year select one
// calendar month; otherwise category and period (all, month, week) filter.
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var expenses []core.Expense
	if HasMonthSelector(query) {
		params := ParseMonthParams(query, s.now())
		expenses = s.app.Expenses.MonthlyRecordsFor(params.Month, params.Year)
	} else {
		category := sanitizeInput(query.Get("category"))
		if category == "" {
			category = metrics.CategoryAll
		}
		period := sanitizeInput(query.Get("period"))
		if period == "" {
			period = metrics.PeriodAll
		}
		expenses = s.app.Expenses.Filter(category, period)
	}
	if expenses == nil {
		expenses = []core.Expense{}
	}

	mirror := s.app.Expenses.Mirror()
	resp := expenseList{
		Expenses: expenses,
		Total:    metrics.Sum(expenses),
		Count:    len(expenses),
		Loading:  mirror.Loading(),
	}
	if err := mirror.Err(); err != nil {
		resp.Error = err.Error()
	}
	NewJSONResponse().Data(resp).Write(w)
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	e, ok := s.app.Expenses.Get(pathID(r))
	if !ok {
		NotFoundError("expense not found").Write(w)
		return
	}
	NewJSONResponse().Data(e).Write(w)
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, inputError(err))
		return
	}

	e := req.expense(s.today())
	id, err := s.app.Expenses.Create(r.Context(), e)
	if err != nil {
		writeError(w, r, err)
		return
	}

	log.NewStructuredLogger(log.FromContext(r.Context())).
		LogExpenseCreated(r.Context(), e.Description, e.Amount.Cents, string(e.Category), id)
	NewJSONResponse().Status(http.StatusCreated).Data(createdResponse{ID: id}).Write(w)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, inputError(err))
		return
	}

	if err := s.app.Expenses.Update(r.Context(), pathID(r), req.expense(s.today())); err != nil {
		writeError(w, r, err)
		return
	}
	NoContent().Write(w)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Expenses.Delete(r.Context(), pathID(r)); err != nil {
		writeError(w, r, err)
		return
	}
	NoContent().Write(w)
}

func (s *Server) handleExpenseSummary(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Data(s.app.ExpenseSummary()).Write(w)
}

func handleCategories(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Data(core.Categories).Write(w)
}
