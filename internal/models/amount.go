package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Decimals is the fixed-point scale of every amount: one unit is 10^18 base units.
const Decimals = 18

var ErrInvalidAmountFormat = errors.New("models: invalid amount format")

// Units returns n whole units expressed in base units.
func Units(n uint64) *uint256.Int {
	out := uint256.NewInt(n)
	return out.Mul(out, uint256.NewInt(1_000_000_000_000_000_000))
}

// ParseUnits converts a decimal string of whole units ("150", "0.25") into base units.
// Precision beyond 18 decimal places is rejected rather than truncated.
func ParseUnits(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmountFormat)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmountFormat, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %s", ErrInvalidAmountFormat, s)
	}
	scaled := d.Shift(Decimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmountFormat, Decimals)
	}
	out, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("%w: amount overflows 256 bits", ErrInvalidAmountFormat)
	}
	return out, nil
}

// FormatUnits renders base units as a decimal string of whole units.
func FormatUnits(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v.ToBig(), -Decimals).String()
}

// UnitsFloat approximates v in whole units, for metrics only.
func UnitsFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	return decimal.NewFromBigInt(v.ToBig(), -Decimals).InexactFloat64()
}
