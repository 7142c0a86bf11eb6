package model

import "github.com/govalues/decimal"

// Decimal is the fixed-precision type used for every price, volume and
// quantity on the critical path. No floating-point accumulation happens
// outside the JSON boundary (see httpapi's response DTOs).
type Decimal = decimal.Decimal

// Zero is the additive identity, scale 0.
var Zero = decimal.Zero

// ParseDecimal parses a venue-supplied numeric string into a Decimal.
// Venues emit prices and volumes as strings; this is the single funnel
// for that conversion.
func ParseDecimal(s string) (Decimal, error) {
	return decimal.Parse(s)
}

// MustDecimal parses s and panics on failure. Only safe for literals
// known at compile time (limits, test fixtures).
func MustDecimal(s string) Decimal {
	d, err := decimal.Parse(s)
	if err != nil {
		panic("model: invalid decimal literal " + s + ": " + err.Error())
	}
	return d
}

// Add sums a and b, returning Internal-worthy overflow errors untouched;
// callers decide how to surface them.
func Add(a, b Decimal) (Decimal, error) {
	return a.Add(b)
}

// Mul multiplies a and b.
func Mul(a, b Decimal) (Decimal, error) {
	return a.Mul(b)
}

// Min returns the smaller of a and b.
func Min(a, b Decimal) Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Quo divides a by b, rounding to b's banker's-rounding default. Used for
// VWAP and slice-quantity division; callers absorb any residual in the
// final slice rather than carrying it forward (see twap package).
func Quo(a, b Decimal) (Decimal, error) {
	return a.Quo(b)
}

// DecimalFromInt builds a scale-0 Decimal from an int, used for slice counts.
func DecimalFromInt(n int) Decimal {
	d, err := decimal.New(int64(n), 0)
	if err != nil {
		panic("model: int decimal overflow")
	}
	return d
}

