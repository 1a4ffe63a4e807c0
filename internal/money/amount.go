// Package money holds the fixed-point currency amount used across the ledger.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of minor-unit digits (poisha per taka).
const Scale = 2

// Amount is a currency value stored as an integer count of minor units.
type Amount int64

// Zero is the zero amount.
const Zero Amount = 0

// ErrInvalidAmount indicates an amount that cannot be represented.
var ErrInvalidAmount = errors.New("money: invalid amount")

// FromMinor builds an Amount from minor units.
func FromMinor(minor int64) Amount {
	return Amount(minor)
}

// FromMajor builds an Amount from whole currency units.
func FromMajor(major int64) Amount {
	return Amount(major * 100)
}

// Parse reads a decimal string such as "500", "500.5" or "1,250.75".
func Parse(s string) (Amount, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return FromDecimal(d)
}

// FromDecimal converts a decimal, rejecting values with more than two fraction digits.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	minor := d.Shift(Scale)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, d.String(), Scale)
	}
	if !minor.IsInteger() || minor.Abs().GreaterThan(decimal.NewFromInt(1<<53)) {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidAmount, d.String())
	}
	return Amount(minor.IntPart()), nil
}

// Decimal returns the amount as a decimal in major units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Scale)
}

// Minor returns the raw minor unit count.
func (a Amount) Minor() int64 {
	return int64(a)
}

// String formats the amount with two decimal places, e.g. "1500.00".
func (a Amount) String() string {
	return a.Decimal().StringFixed(Scale)
}

// IsPositive reports a > 0.
func (a Amount) IsPositive() bool { return a > 0 }

// IsNegative reports a < 0.
func (a Amount) IsNegative() bool { return a < 0 }

// Mul multiplies the amount by an integer count.
func (a Amount) Mul(n int) Amount {
	return a * Amount(n)
}

// Min returns the smaller of two amounts.
func Min(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of two amounts.
func Max(a, b Amount) Amount {
	if a > b {
		return a
	}
	return b
}

// Sum adds all amounts.
func Sum(amounts ...Amount) Amount {
	var total Amount
	for _, a := range amounts {
		total += a
	}
	return total
}

// MarshalJSON renders the amount as a fixed two-decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*a = 0
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		raw = s
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
