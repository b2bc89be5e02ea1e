package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Categories is the closed set of expense categories. Anything persisted
// outside this set renders under FallbackCategory instead of failing.
var Categories = []string{
	"Food",
	"Transport",
	"Utilities",
	"Entertainment",
	"Insurance",
	"Shopping",
	"Healthcare",
	"Education",
	"Rent",
	"Other",
}

// FallbackCategory is the presentation bucket for unknown categories.
const FallbackCategory = "Other"

const maxNoteLen = 200

type (
	// Expense is a single recorded expense. The id is opaque and assigned by
	// whichever store created the record; it never changes across edits.
	Expense struct {
		ID       string          `json:"id"`
		Category string          `json:"category"`
		Amount   decimal.Decimal `json:"amount"`
		Date     string          `json:"date"` // calendar date, "YYYY-MM-DD"
		Note     string          `json:"note"`
	}

	// ExpenseDraft carries the mutable fields of an expense: what an add
	// supplies and what an edit fully replaces.
	ExpenseDraft struct {
		Category string          `json:"category"`
		Amount   decimal.Decimal `json:"amount"`
		Date     string          `json:"date"`
		Note     string          `json:"note"`
	}

	// Profile is the per-owner budget profile. IsSetup flips to true exactly
	// once, when setup completes; Income may change at any time after.
	Profile struct {
		Income  decimal.Decimal `json:"income"`
		IsSetup bool            `json:"isSetup"`
	}
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidDate     = errors.New("invalid date")
	ErrUnknownCategory = errors.New("unknown category")
	ErrEmptyCategory   = errors.New("empty category")
	ErrNoteTooLong     = errors.New("note too long (max 200 characters)")
)

// IsCategory reports whether name belongs to the closed category set.
func IsCategory(name string) bool {
	for _, c := range Categories {
		if c == name {
			return true
		}
	}
	return false
}

// CategoryOrFallback maps a persisted category to its display bucket.
func CategoryOrFallback(name string) string {
	if IsCategory(name) {
		return name
	}
	return FallbackCategory
}

// ValidateDate checks for a strict "YYYY-MM-DD" calendar date. The
// aggregation engine groups by date-string prefixes, so anything loose
// (single-digit months, trailing garbage) is rejected here at the boundary.
func ValidateDate(s string) error {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return ErrInvalidDate
	}
	if t.Format("2006-01-02") != s {
		return ErrInvalidDate
	}
	return nil
}

// Validate checks a draft before it reaches any store. Stores and the
// aggregation engine trust drafts that passed this.
func (d ExpenseDraft) Validate() error {
	if strings.TrimSpace(d.Category) == "" {
		return ErrEmptyCategory
	}
	if !IsCategory(d.Category) {
		return ErrUnknownCategory
	}
	if !d.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if err := ValidateDate(d.Date); err != nil {
		return err
	}
	if len(d.Note) > maxNoteLen {
		return ErrNoteTooLong
	}
	return nil
}

// Expense builds the stored record for a draft once a store assigned the id.
func (d ExpenseDraft) Expense(id string) Expense {
	return Expense{
		ID:       id,
		Category: d.Category,
		Amount:   d.Amount,
		Date:     d.Date,
		Note:     d.Note,
	}
}

// Draft returns the mutable fields of an expense.
func (e Expense) Draft() ExpenseDraft {
	return ExpenseDraft{
		Category: e.Category,
		Amount:   e.Amount,
		Date:     e.Date,
		Note:     e.Note,
	}
}
