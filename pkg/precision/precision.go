// Package precision provides fixed-scale decimal values for monetary arithmetic.
//
// Every Decimal carries its own scale and always rounds down (toward zero) when
// it is converted to a plain number or string. Nothing in this package reads or
// changes shared defaults of the underlying decimal library, so values built
// concurrently with different scales never interfere.
package precision

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// DefaultDecimals is the scale used when no WithDecimals option is given.
const DefaultDecimals = 3

var (
	// ErrParse is matched by every *ParseError.
	ErrParse = errors.New("precision: invalid numeral")
	// ErrInvalidDecimals is returned when a negative scale is requested.
	ErrInvalidDecimals = errors.New("precision: decimals must be non-negative")
	// ErrDivisionByZero is returned by Div when the divisor is zero.
	ErrDivisionByZero = errors.New("precision: division by zero")
)

// ParseError reports a value that is not a finite base-10 numeral.
type ParseError struct {
	Value any
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("precision: cannot parse %v (%T) as decimal: %v", e.Value, e.Value, e.Err)
	}
	return fmt.Sprintf("precision: cannot parse %v (%T) as decimal", e.Value, e.Value)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrParse) hold for any *ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

type options struct {
	decimals int
}

// Option configures New.
type Option func(*options)

// WithDecimals sets the number of decimal places kept on conversion.
func WithDecimals(n int) Option {
	return func(o *options) { o.decimals = n }
}

// Decimal is an immutable decimal value with a fixed, round-down scale.
// The zero value is 0 with scale 0.
type Decimal struct {
	value  decimal.Decimal
	places int32
}

// New builds a Decimal from a numeric literal, numeric string, Decimal or
// shopspring decimal.Decimal. The scale defaults to DefaultDecimals.
func New(value any, opts ...Option) (Decimal, error) {
	o := options{decimals: DefaultDecimals}
	for _, opt := range opts {
		opt(&o)
	}
	if o.decimals < 0 {
		return Decimal{}, ErrInvalidDecimals
	}

	d, err := parse(value)
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{value: d, places: int32(o.decimals)}, nil
}

// MustNew is like New but panics on error. Use it for static tables only.
func MustNew(value any, opts ...Option) Decimal {
	d, err := New(value, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

func parse(value any) (decimal.Decimal, error) {
	switch v := value.(type) {
	case Decimal:
		return v.value, nil
	case decimal.Decimal:
		return v, nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Decimal{}, &ParseError{Value: value, Err: err}
		}
		return d, nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Decimal{}, &ParseError{Value: value}
		}
		return decimal.NewFromFloat(v), nil
	case float32:
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Decimal{}, &ParseError{Value: value}
		}
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int32:
		return decimal.NewFromInt32(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case uint32:
		return decimal.NewFromInt(int64(v)), nil
	case uint64:
		return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0), nil
	default:
		return decimal.Decimal{}, &ParseError{Value: value}
	}
}

// Places returns the scale of d.
func (d Decimal) Places() int { return int(d.places) }

// Raw returns the exact, untruncated value.
func (d Decimal) Raw() decimal.Decimal { return d.value }

// Truncated returns the value cut toward zero at d's scale.
func (d Decimal) Truncated() decimal.Decimal { return d.value.Truncate(d.places) }

// Float64 returns the truncated value as a float64.
func (d Decimal) Float64() float64 {
	f, _ := d.Truncated().Float64()
	return f
}

// String returns the truncated value without trailing zeros.
func (d Decimal) String() string { return d.Truncated().String() }

// StringFixed returns the truncated value padded to exactly d's scale.
func (d Decimal) StringFixed() string { return d.Truncated().StringFixed(d.places) }

// IsZero reports whether the truncated value is zero.
func (d Decimal) IsZero() bool { return d.Truncated().IsZero() }

// Cmp compares the exact values of d and o.
func (d Decimal) Cmp(o Decimal) int { return d.value.Cmp(o.value) }

// Add returns d + o with d's scale.
func (d Decimal) Add(o Decimal) Decimal {
	return Decimal{value: d.value.Add(o.value), places: d.places}
}

// Sub returns d - o with d's scale.
func (d Decimal) Sub(o Decimal) Decimal {
	return Decimal{value: d.value.Sub(o.value), places: d.places}
}

// Mul returns d * o with d's scale.
func (d Decimal) Mul(o Decimal) Decimal {
	return Decimal{value: d.value.Mul(o.value), places: d.places}
}

// Div returns d / o truncated toward zero at d's scale.
func (d Decimal) Div(o Decimal) (Decimal, error) {
	if o.value.IsZero() {
		return Decimal{}, ErrDivisionByZero
	}
	q, _ := d.value.QuoRem(o.value, d.places)
	return Decimal{value: q, places: d.places}, nil
}

// Shift returns d * 10^exp with d's scale.
func (d Decimal) Shift(exp int32) Decimal {
	return Decimal{value: d.value.Shift(exp), places: d.places}
}

// MarshalJSON encodes the truncated value as a JSON number.
func (d Decimal) MarshalJSON() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalJSON accepts a JSON number or numeric string. The scale of d is
// left unchanged.
func (d *Decimal) UnmarshalJSON(data []byte) error {
	var raw json.Number
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return &ParseError{Value: string(data), Err: err}
		}
		raw = json.Number(s)
	} else {
		raw = json.Number(data)
	}
	v, err := decimal.NewFromString(raw.String())
	if err != nil {
		return &ParseError{Value: string(data), Err: err}
	}
	d.value = v
	return nil
}
