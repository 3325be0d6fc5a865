// Package core provides money parsing and handling utilities.
//
// This file contains the strict amount parser used by the command grammar.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a command amount to a decimal.
//
// Only ASCII digits with an optional single fractional part separated by a dot
// are accepted. Signs, exponents, thousands separators and decimal commas are
// rejected, as is a zero amount.
//
// Examples:
//
//	ParseAmount("12")    -> 12, nil
//	ParseAmount("12.50") -> 12.5, nil
//	ParseAmount("-5")    -> ErrInvalidAmount
//	ParseAmount("1e3")   -> ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	intPart, fracPart, hasFrac := strings.Cut(s, ".")
	if intPart == "" || !isDigits(intPart) {
		return decimal.Zero, ErrInvalidAmount
	}
	if hasFrac && (fracPart == "" || !isDigits(fracPart)) {
		return decimal.Zero, ErrInvalidAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !d.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
