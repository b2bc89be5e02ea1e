// Package core holds the budget domain: expense and profile types, the
// closed category set, boundary validation and money parsing/formatting.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount parses a positive decimal amount from user input.
//
// Both dot (12.34) and comma (12,34) decimal separators are accepted.
// The value is kept exact; no rounding happens until display.
// Returns ErrInvalidAmount for anything non-numeric, zero or negative.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !v.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return v, nil
}

// ParseIncome is ParseAmount relaxed to allow zero, the default income of a
// fresh profile.
func ParseIncome(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	v, err := decimal.NewFromString(s)
	if err != nil || v.IsNegative() {
		return decimal.Zero, ErrInvalidAmount
	}
	return v, nil
}

// FormatINR renders a monetary value for display: rupee sign, zero decimal
// places, Indian digit grouping ("₹1,23,456"). Display-only; aggregation
// always works on the raw value.
func FormatINR(v decimal.Decimal) string {
	neg := v.IsNegative()
	s := v.Abs().Round(0).String()
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString("₹")
	b.WriteString(groupIndian(s))
	return b.String()
}

// groupIndian inserts separators per the Indian numbering system: the last
// three digits form one group, everything before that groups by two.
func groupIndian(digits string) string {
	n := len(digits)
	if n <= 3 {
		return digits
	}
	head := digits[:n-3]
	tail := digits[n-3:]
	var parts []string
	for len(head) > 2 {
		parts = append([]string{head[len(head)-2:]}, parts...)
		head = head[:len(head)-2]
	}
	if head != "" {
		parts = append([]string{head}, parts...)
	}
	return strings.Join(parts, ",") + "," + tail
}
