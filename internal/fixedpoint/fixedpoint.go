// Package fixedpoint provides the checked integer primitives the pricing and
// share-accounting code is built on: 256-bit widened multiply/divide, an
// integer square root, and overflow-checked uint64 helpers.
//
// Nothing here wraps silently. Every operation that could overflow or
// underflow reports ErrOverflow instead.
package fixedpoint

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	// ErrOverflow is returned when a result does not fit the target width,
	// or when a subtraction would go below zero.
	ErrOverflow = errors.New("fixedpoint: arithmetic overflow")

	// ErrDivisionByZero is returned by the division helpers for a zero divisor.
	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
)

// Wide lifts a uint64 into a 256-bit integer.
func Wide(x uint64) *uint256.Int {
	return uint256.NewInt(x)
}

// Narrow converts a 256-bit value back to uint64.
func Narrow(x *uint256.Int) (uint64, error) {
	if !x.IsUint64() {
		return 0, ErrOverflow
	}
	return x.Uint64(), nil
}

// Add returns a + b.
func Add(a, b uint64) (uint64, error) {
	s := a + b
	if s < a {
		return 0, ErrOverflow
	}
	return s, nil
}

// Sub returns a - b.
func Sub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// Mul returns a * b.
func Mul(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	p := a * b
	if p/b != a {
		return 0, ErrOverflow
	}
	return p, nil
}

// MulChain multiplies all factors on a 256-bit accumulator.
func MulChain(factors ...*uint256.Int) (*uint256.Int, error) {
	acc := uint256.NewInt(1)
	for _, f := range factors {
		var overflow bool
		acc, overflow = new(uint256.Int).MulOverflow(acc, f)
		if overflow {
			return nil, ErrOverflow
		}
	}
	return acc, nil
}

// MulDiv returns floor(a * b / denom) computed on a 256-bit intermediate.
func MulDiv(a, b, denom uint64) (uint64, error) {
	if denom == 0 {
		return 0, ErrDivisionByZero
	}
	p := new(uint256.Int).Mul(Wide(a), Wide(b))
	return Narrow(p.Div(p, Wide(denom)))
}

// MulDivCeil returns ceil(a * b / denom) computed on a 256-bit intermediate.
func MulDivCeil(a, b, denom uint64) (uint64, error) {
	if denom == 0 {
		return 0, ErrDivisionByZero
	}
	p := new(uint256.Int).Mul(Wide(a), Wide(b))
	d := Wide(denom)
	q := new(uint256.Int).Div(p, d)
	if !new(uint256.Int).Mod(p, d).IsZero() {
		q.AddUint64(q, 1)
	}
	return Narrow(q)
}

// Div is a checked 256-bit floor division.
func Div(x, y *uint256.Int) (*uint256.Int, error) {
	if y.IsZero() {
		return nil, ErrDivisionByZero
	}
	return new(uint256.Int).Div(x, y), nil
}

// Pow10 returns 10^n as uint64. n above 19 overflows.
func Pow10(n uint8) (uint64, error) {
	if n > 19 {
		return 0, ErrOverflow
	}
	r := uint64(1)
	for i := uint8(0); i < n; i++ {
		r *= 10
	}
	return r, nil
}

// Isqrt returns floor(sqrt(y)) using the Babylonian method, the same
// iteration Uniswap v2 uses on-chain. It converges in O(log y) steps and is
// fully deterministic.
func Isqrt(y *uint256.Int) *uint256.Int {
	if y.IsZero() {
		return new(uint256.Int)
	}
	if y.LtUint64(4) {
		return uint256.NewInt(1)
	}

	z := new(uint256.Int).Set(y)
	x := new(uint256.Int).Rsh(y, 1)
	x.AddUint64(x, 1)

	for x.Lt(z) {
		z.Set(x)
		t := new(uint256.Int).Div(y, x)
		x.Add(t, x)
		x.Rsh(x, 1)
	}
	return z
}

// Isqrt64 is Isqrt for uint64 inputs.
func Isqrt64(y uint64) uint64 {
	return Isqrt(Wide(y)).Uint64()
}
