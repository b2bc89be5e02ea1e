// Package budget derives the read-only summary views from the current
// income and the full expense set. Everything here is a pure function of
// its inputs: nothing is cached, nothing is persisted, so derived values
// can never drift from the records they came from. Recomputation is O(n)
// per call, which is fine at personal-finance scale (hundreds to low
// thousands of records).
package budget

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"kharcha/internal/core"
)

type (
	// DailyPoint is one day's spending total.
	DailyPoint struct {
		Date   string          `json:"date"`
		Amount decimal.Decimal `json:"amount"`
	}

	// PeriodRollup is one month's or year's row: spending for the period
	// against the income the period is credited with.
	PeriodRollup struct {
		Label    string          `json:"label"`
		Income   decimal.Decimal `json:"income"`
		Expenses decimal.Decimal `json:"expenses"`
		Savings  decimal.Decimal `json:"savings"`
	}

	// Summary is the full set of derived views.
	Summary struct {
		TotalExpenses  decimal.Decimal            `json:"totalExpenses"`
		Savings        decimal.Decimal            `json:"savings"`
		CategoryTotals map[string]decimal.Decimal `json:"categoryTotals"`
		DailySpending  []DailyPoint               `json:"dailySpending"`
		Monthly        []PeriodRollup             `json:"monthlyData"`
		Yearly         []PeriodRollup             `json:"yearlyData"`
	}
)

var twelve = decimal.NewFromInt(12)

// Compute recomputes every derived view from scratch.
//
// Grouping keys come straight off the date string: full date for the daily
// series, "YYYY-MM" for months, "YYYY" for years. Dates are validated at
// the mutation boundary, so lexical order equals chronological order here.
// Monthly and yearly rows report the income currently in effect, not the
// income at the time of the expense; the model keeps a single income value.
// Yearly income is the current monthly income times twelve.
func Compute(income decimal.Decimal, expenses []core.Expense) Summary {
	total := decimal.Zero
	byCategory := make(map[string]decimal.Decimal)
	byDay := make(map[string]decimal.Decimal)
	byMonth := make(map[string]decimal.Decimal)
	byYear := make(map[string]decimal.Decimal)

	for _, e := range expenses {
		total = total.Add(e.Amount)
		byCategory[e.Category] = byCategory[e.Category].Add(e.Amount)
		byDay[e.Date] = byDay[e.Date].Add(e.Amount)
		if len(e.Date) >= 7 {
			byMonth[e.Date[:7]] = byMonth[e.Date[:7]].Add(e.Amount)
		}
		if len(e.Date) >= 4 {
			byYear[e.Date[:4]] = byYear[e.Date[:4]].Add(e.Amount)
		}
	}

	daily := make([]DailyPoint, 0, len(byDay))
	for _, d := range sortedKeys(byDay) {
		daily = append(daily, DailyPoint{Date: d, Amount: byDay[d]})
	}

	yearlyIncome := income.Mul(twelve)

	monthly := make([]PeriodRollup, 0, len(byMonth))
	for _, m := range sortedKeys(byMonth) {
		spent := byMonth[m]
		monthly = append(monthly, PeriodRollup{
			Label:    monthLabel(m),
			Income:   income,
			Expenses: spent,
			Savings:  income.Sub(spent),
		})
	}

	yearly := make([]PeriodRollup, 0, len(byYear))
	for _, y := range sortedKeys(byYear) {
		spent := byYear[y]
		yearly = append(yearly, PeriodRollup{
			Label:    y,
			Income:   yearlyIncome,
			Expenses: spent,
			Savings:  yearlyIncome.Sub(spent),
		})
	}

	return Summary{
		TotalExpenses:  total,
		Savings:        income.Sub(total),
		CategoryTotals: byCategory,
		DailySpending:  daily,
		Monthly:        monthly,
		Yearly:         yearly,
	}
}

// monthLabel renders a "YYYY-MM" key as a short month with a two-digit
// year, e.g. "Jan 24". Unparseable keys fall back to the raw key.
func monthLabel(key string) string {
	t, err := time.Parse("2006-01", key)
	if err != nil {
		return key
	}
	return t.Format("Jan 06")
}

func sortedKeys(m map[string]decimal.Decimal) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
