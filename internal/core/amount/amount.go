// Package amount provides the fixed-point integer arithmetic used by the
// option ledger. All ledger quantities are non-negative 64-bit integers in the
// settlement asset's base unit; proportional slices are computed with 128-bit
// intermediates and floor division so that truncation never invents value.
package amount

import (
	"fmt"
	"math"
	"math/bits"
)

// Amount is a quantity of the settlement asset in base units.
type Amount int64

// Price is a fixed-point price with PriceDecimals fractional digits.
type Price int64

// PriceDecimals is the number of fractional decimal digits in a Price.
const PriceDecimals = 8

// PriceScale is the Price value representing 1.0.
const PriceScale Price = 100_000_000

func New(v int64) Amount {
	return Amount(v)
}

func (a Amount) Int64() int64 {
	return int64(a)
}

func (a Amount) Add(other Amount) Amount {
	return a + other
}

func (a Amount) Sub(other Amount) Amount {
	return a - other
}

func (a Amount) IsZero() bool {
	return a == 0
}

func (a Amount) IsPositive() bool {
	return a > 0
}

func (a Amount) IsNegative() bool {
	return a < 0
}

func (a Amount) String() string {
	return fmt.Sprintf("%d", int64(a))
}

// Min returns the smaller of a and other.
func (a Amount) Min(other Amount) Amount {
	if other < a {
		return other
	}
	return a
}

// MulDiv returns floor(a * num / den) computed with a 128-bit intermediate,
// so the product may exceed 64 bits as long as the quotient does not.
// All operands must be non-negative. Panics if den is zero; saturates to
// MaxInt64 if the quotient overflows.
func (a Amount) MulDiv(num, den int64) Amount {
	return Amount(MulDiv(uint64(a), uint64(num), uint64(den)))
}

// MulDiv returns floor(a * b / c) with a 128-bit intermediate product.
// Panics if c is zero. Returns MaxInt64 if the quotient does not fit.
func MulDiv(a, b, c uint64) int64 {
	if c == 0 {
		panic("amount: division by zero")
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return math.MaxInt64
	}
	q, _ := bits.Div64(hi, lo, c)
	if q > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(q)
}

func (p Price) Int64() int64 {
	return int64(p)
}

func (p Price) IsPositive() bool {
	return p > 0
}

// Decimal renders the price with its fractional digits, e.g. 12000000000
// prints as "120.00000000".
func (p Price) Decimal() string {
	return fmt.Sprintf("%d.%08d", int64(p)/int64(PriceScale), int64(p)%int64(PriceScale))
}
