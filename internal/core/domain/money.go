package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// minorUnitExponent is the number of decimal places in every supported currency.
const minorUnitExponent = 2

var (
	ErrAmountNotPositive = errors.New("amount must be greater than zero")
	ErrAmountTooPrecise  = errors.New("amount has more than 2 decimal places")
	ErrAmountOutOfRange  = errors.New("amount is too large")
)

var (
	hundred       = decimal.New(1, minorUnitExponent)
	maxMinorUnits = decimal.New(1, 15)
)

// ParseAmount converts a major-unit decimal string ("1500.50") into minor units.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return ToMinorUnits(d)
}

// ToMinorUnits converts a major-unit amount into minor units exactly.
func ToMinorUnits(d decimal.Decimal) (int64, error) {
	if !d.IsPositive() {
		return 0, ErrAmountNotPositive
	}
	minor := d.Mul(hundred)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, ErrAmountTooPrecise
	}
	if minor.GreaterThanOrEqual(maxMinorUnits) {
		return 0, ErrAmountOutOfRange
	}
	return minor.IntPart(), nil
}

// FormatMinorUnits renders minor units as a major-unit string with 2 decimals.
func FormatMinorUnits(amount int64) string {
	return decimal.New(amount, -minorUnitExponent).StringFixed(minorUnitExponent)
}
