// Package money provides the fixed-point decimal type used for every
// currency and energy quantity in the gateway, per spec §3's requirement
// of at least 9 fractional digits.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits every Amount is rounded to on
// construction, matching spec §3's "at least 9 fractional digits".
const Scale = 9

// Amount wraps decimal.Decimal so every quantity in the system carries the
// same rounding and comparison semantics, and so repository code can scan
// it directly out of a NUMERIC(38,9) column.
type Amount struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{d: decimal.Zero}

// New builds an Amount from a decimal.Decimal, rounding to Scale.
func New(d decimal.Decimal) Amount {
	return Amount{d: d.Round(Scale)}
}

// NewFromString parses a decimal string into an Amount.
func NewFromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return New(d), nil
}

// NewFromFloat builds an Amount from a float64, for constants and tests.
func NewFromFloat(f float64) Amount {
	return New(decimal.NewFromFloat(f))
}

func (a Amount) Decimal() decimal.Decimal { return a.d }

func (a Amount) Add(b Amount) Amount { return New(a.d.Add(b.d)) }
func (a Amount) Sub(b Amount) Amount { return New(a.d.Sub(b.d)) }
func (a Amount) Mul(b Amount) Amount { return New(a.d.Mul(b.d)) }
func (a Amount) Neg() Amount         { return New(a.d.Neg()) }

// MulFrac multiplies by a dimensionless fraction (e.g. a loss_factor or
// fee_rate) represented as a decimal, not an Amount.
func (a Amount) MulFrac(frac decimal.Decimal) Amount { return New(a.d.Mul(frac)) }

func (a Amount) Cmp(b Amount) int       { return a.d.Cmp(b.d) }
func (a Amount) IsZero() bool           { return a.d.IsZero() }
func (a Amount) IsNegative() bool       { return a.d.IsNegative() }
func (a Amount) IsPositive() bool       { return a.d.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.d.GreaterThan(b.d) }
func (a Amount) GreaterOrEqual(b Amount) bool { return a.d.GreaterThanOrEqual(b.d) }
func (a Amount) LessThan(b Amount) bool       { return a.d.LessThan(b.d) }
func (a Amount) LessOrEqual(b Amount) bool    { return a.d.LessThanOrEqual(b.d) }

func (a Amount) String() string { return a.d.StringFixed(Scale) }

// Min returns the smaller of two Amounts, used by the matching engine for
// matched_amount = min(remaining(buy), remaining(sell)).
func Min(a, b Amount) Amount {
	if a.LessOrEqual(b) {
		return a
	}
	return b
}

// Value implements driver.Valuer so an Amount can be passed directly as a
// query argument against a NUMERIC column.
func (a Amount) Value() (driver.Value, error) {
	return a.d.StringFixed(Scale), nil
}

// Scan implements sql.Scanner so an Amount can be read directly out of a
// NUMERIC column.
func (a *Amount) Scan(src interface{}) error {
	var d decimal.Decimal
	switch v := src.(type) {
	case nil:
		a.d = decimal.Zero
		return nil
	case []byte:
		parsed, err := decimal.NewFromString(string(v))
		if err != nil {
			return fmt.Errorf("scan amount from bytes: %w", err)
		}
		d = parsed
	case string:
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("scan amount from string: %w", err)
		}
		d = parsed
	case float64:
		d = decimal.NewFromFloat(v)
	default:
		return fmt.Errorf("unsupported amount source type %T", src)
	}
	a.d = d.Round(Scale)
	return nil
}
