package core

import (
	"errors"
	"strings"
)

type (
	// Category is an expense category id.
	Category string

	CategoryInfo struct {
		ID   Category `json:"id"`
		Name string   `json:"name"`
	}

	Expense struct {
		ID          string   `json:"id"`
		Amount      Money    `json:"amount"`
		Category    Category `json:"category"`
		Description string   `json:"description"`
		Date        Date     `json:"date"`
		Owner       string   `json:"userId"`
	}
)

const (
	CategoryFood          Category = "food"
	CategoryTransport     Category = "transport"
	CategoryShopping      Category = "shopping"
	CategoryBills         Category = "bills"
	CategoryEntertainment Category = "entertainment"
	CategoryHealth        Category = "health"
	CategoryEducation     Category = "education"
	CategoryTravel        Category = "travel"
	CategoryGroceries     Category = "groceries"
	CategoryOther         Category = "other"
)

// Categories is the fixed set of expense categories, in display order.
var Categories = []CategoryInfo{
	{CategoryFood, "Food & Dining"},
	{CategoryTransport, "Transport"},
	{CategoryShopping, "Shopping"},
	{CategoryBills, "Bills & Utilities"},
	{CategoryEntertainment, "Entertainment"},
	{CategoryHealth, "Healthcare"},
	{CategoryEducation, "Education"},
	{CategoryTravel, "Travel"},
	{CategoryGroceries, "Groceries"},
	{CategoryOther, "Other"},
}

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidDate      = errors.New("invalid date")
	ErrEmptyDescription = errors.New("empty description")
	ErrUnknownCategory  = errors.New("unknown category")
)

// Valid reports whether c belongs to the fixed category set.
func (c Category) Valid() bool {
	for _, info := range Categories {
		if info.ID == c {
			return true
		}
	}
	return false
}

func (e Expense) Validate() error {
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(e.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(e.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if e.Amount.Cents <= 0 {
		return ErrInvalidAmount
	}
	if !e.Category.Valid() {
		return ErrUnknownCategory
	}
	return nil
}

func (e Expense) RecordID() string    { return e.ID }
func (e Expense) RecordDate() Date    { return e.Date }
func (e Expense) RecordOwner() string { return e.Owner }

// Fields returns the document representation without id and owner.
func (e Expense) Fields() map[string]any {
	return map[string]any{
		"amount":      e.Amount.Units(),
		"category":    string(e.Category),
		"description": e.Description,
		FieldDate:     e.Date.Time,
	}
}

// ExpenseFromDocument decodes a stored expense document.
func ExpenseFromDocument(id string, fields map[string]any) (Expense, error) {
	date, err := dateField(fields)
	if err != nil {
		return Expense{}, err
	}
	return Expense{
		ID:          id,
		Amount:      MoneyFromFloat(numberField(fields, "amount")),
		Category:    Category(stringField(fields, "category")),
		Description: stringField(fields, "description"),
		Date:        date,
		Owner:       stringField(fields, FieldOwner),
	}, nil
}
