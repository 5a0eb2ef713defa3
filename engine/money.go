package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MaxScale bounds the number of decimal digits a Price may carry. 10^18
// still fits int64, so every representable mantissa/scale pair stays exact.
const MaxScale = 18

var pow10 = [MaxScale + 1]int64{
	1, 10, 100, 1_000, 10_000, 100_000, 1_000_000, 10_000_000, 100_000_000,
	1_000_000_000, 10_000_000_000, 100_000_000_000, 1_000_000_000_000,
	10_000_000_000_000, 100_000_000_000_000, 1_000_000_000_000_000,
	10_000_000_000_000_000, 100_000_000_000_000_000, 1_000_000_000_000_000_000,
}

// Price is an exact fixed-point decimal: mantissa * 10^-scale. Arithmetic
// never rounds; any operation that cannot be represented returns ErrOverflow
// or ErrPrecisionLoss instead of losing digits.
//
// The zero value is 0 at scale 0 and is what Market orders carry.
type Price struct {
	mantissa int64
	scale    uint8
}

// NewPrice builds a price from an integer mantissa and a decimal scale
// (digits to the right of the point).
func NewPrice(mantissa int64, scale uint8) (Price, error) {
	if scale > MaxScale {
		return Price{}, fmt.Errorf("%w: scale %d exceeds %d", ErrOverflow, scale, MaxScale)
	}
	return Price{mantissa: mantissa, scale: scale}, nil
}

// MustPrice is NewPrice for constants and tests; it panics on a bad scale.
func MustPrice(mantissa int64, scale uint8) Price {
	p, err := NewPrice(mantissa, scale)
	if err != nil {
		panic(err)
	}
	return p
}

// ParsePrice converts a decimal string ("101.25") into a Price at the given
// scale. Digits beyond the scale are an error, never rounded away.
func ParsePrice(s string, scale uint8) (Price, error) {
	if scale > MaxScale {
		return Price{}, fmt.Errorf("%w: scale %d exceeds %d", ErrOverflow, scale, MaxScale)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	shifted := d.Shift(int32(scale))
	if !shifted.IsInteger() {
		return Price{}, fmt.Errorf("%w: %q has more than %d decimal places", ErrPrecisionLoss, s, scale)
	}
	bi := shifted.BigInt()
	if !bi.IsInt64() {
		return Price{}, fmt.Errorf("%w: %q at scale %d", ErrOverflow, s, scale)
	}
	return Price{mantissa: bi.Int64(), scale: scale}, nil
}

// Mantissa returns the raw integer mantissa.
func (p Price) Mantissa() int64 { return p.mantissa }

// Scale returns the number of decimal digits.
func (p Price) Scale() uint8 { return p.scale }

// IsZero reports whether the price denotes zero, regardless of scale.
func (p Price) IsZero() bool { return p.mantissa == 0 }

// IsPositive reports whether the price is strictly greater than zero.
func (p Price) IsPositive() bool { return p.mantissa > 0 }

// Decimal returns the exact shopspring representation, used at the
// serialization boundary.
func (p Price) Decimal() decimal.Decimal {
	return decimal.New(p.mantissa, -int32(p.scale))
}

// String renders the price as a plain decimal string.
func (p Price) String() string { return p.Decimal().String() }

// Cmp totally orders prices by numeric value, normalizing scale first:
// 1.50 and 1.5 compare equal. Same-scale comparison is a mantissa compare;
// the mixed-scale path goes through exact decimals so it can never overflow.
func (p Price) Cmp(o Price) int {
	if p.scale == o.scale {
		switch {
		case p.mantissa < o.mantissa:
			return -1
		case p.mantissa > o.mantissa:
			return 1
		default:
			return 0
		}
	}
	return p.Decimal().Cmp(o.Decimal())
}

// Equal reports whether two prices denote the same number.
func (p Price) Equal(o Price) bool { return p.Cmp(o) == 0 }

// Add returns p+o at the wider of the two scales.
func (p Price) Add(o Price) (Price, error) {
	a, b, scale, err := align(p, o)
	if err != nil {
		return Price{}, err
	}
	sum, ok := addInt64(a, b)
	if !ok {
		return Price{}, fmt.Errorf("%w: %s + %s", ErrOverflow, p, o)
	}
	return Price{mantissa: sum, scale: scale}, nil
}

// Sub returns p-o at the wider of the two scales.
func (p Price) Sub(o Price) (Price, error) {
	a, b, scale, err := align(p, o)
	if err != nil {
		return Price{}, err
	}
	if b != 0 && -b == b { // b == MinInt64 cannot be negated
		return Price{}, fmt.Errorf("%w: %s - %s", ErrOverflow, p, o)
	}
	diff, ok := addInt64(a, -b)
	if !ok {
		return Price{}, fmt.Errorf("%w: %s - %s", ErrOverflow, p, o)
	}
	return Price{mantissa: diff, scale: scale}, nil
}

// MulInt multiplies the price by an integer quantity, e.g. for notional
// value. Exact or ErrOverflow.
func (p Price) MulInt(qty int64) (Price, error) {
	m, ok := mulInt64(p.mantissa, qty)
	if !ok {
		return Price{}, fmt.Errorf("%w: %s * %d", ErrOverflow, p, qty)
	}
	return Price{mantissa: m, scale: p.scale}, nil
}

// Rescale converts the price to a target scale. Scaling up can overflow;
// scaling down fails with ErrPrecisionLoss if any dropped digit is non-zero.
func (p Price) Rescale(scale uint8) (Price, error) {
	if scale > MaxScale {
		return Price{}, fmt.Errorf("%w: scale %d exceeds %d", ErrOverflow, scale, MaxScale)
	}
	switch {
	case scale == p.scale:
		return p, nil
	case scale > p.scale:
		m, ok := mulInt64(p.mantissa, pow10[scale-p.scale])
		if !ok {
			return Price{}, fmt.Errorf("%w: %s at scale %d", ErrOverflow, p, scale)
		}
		return Price{mantissa: m, scale: scale}, nil
	default:
		div := pow10[p.scale-scale]
		if p.mantissa%div != 0 {
			return Price{}, fmt.Errorf("%w: %s at scale %d", ErrPrecisionLoss, p, scale)
		}
		return Price{mantissa: p.mantissa / div, scale: scale}, nil
	}
}

// align rescales both operands to the wider scale.
func align(p, o Price) (a, b int64, scale uint8, err error) {
	scale = p.scale
	if o.scale > scale {
		scale = o.scale
	}
	pa, err := p.Rescale(scale)
	if err != nil {
		return 0, 0, 0, err
	}
	ob, err := o.Rescale(scale)
	if err != nil {
		return 0, 0, 0, err
	}
	return pa.mantissa, ob.mantissa, scale, nil
}

func addInt64(a, b int64) (int64, bool) {
	sum := a + b
	if (a > 0 && b > 0 && sum < 0) || (a < 0 && b < 0 && sum >= 0) {
		return 0, false
	}
	return sum, true
}

func mulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if (a == -1 && -b == b) || (b == -1 && -a == a) { // MinInt64 * -1
		return 0, false
	}
	prod := a * b
	if prod/b != a {
		return 0, false
	}
	return prod, true
}
