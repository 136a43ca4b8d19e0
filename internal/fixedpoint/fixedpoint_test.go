package fixedpoint

import (
	"errors"
	"math"
	"testing"

	"github.com/holiman/uint256"
)

func TestIsqrt64(t *testing.T) {
	tests := []struct {
		in, want uint64
	}{
		{0, 0},
		{1, 1},
		{2, 1},
		{3, 1},
		{4, 2},
		{15, 3},
		{16, 4},
		{17, 4},
		{1_000_000, 1_000},
		{999_999, 999},
		{math.MaxUint64, 4_294_967_295},
	}
	for _, tt := range tests {
		if got := Isqrt64(tt.in); got != tt.want {
			t.Errorf("Isqrt64(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestIsqrt_FloorProperty(t *testing.T) {
	// r*r <= y < (r+1)*(r+1) for a spread of wide inputs.
	inputs := []*uint256.Int{
		uint256.NewInt(5),
		uint256.NewInt(123_456_789),
		new(uint256.Int).Mul(uint256.NewInt(math.MaxUint64), uint256.NewInt(math.MaxUint64)),
		new(uint256.Int).Lsh(uint256.NewInt(1), 200),
	}
	for _, y := range inputs {
		r := Isqrt(y)
		sq := new(uint256.Int).Mul(r, r)
		if sq.Gt(y) {
			t.Errorf("isqrt(%s)=%s squared exceeds input", y.Hex(), r.Hex())
		}
		next := new(uint256.Int).AddUint64(r, 1)
		nextSq := new(uint256.Int).Mul(next, next)
		if !nextSq.Gt(y) {
			t.Errorf("isqrt(%s)=%s is not the floor root", y.Hex(), r.Hex())
		}
	}
}

func TestCheckedOps(t *testing.T) {
	if _, err := Add(math.MaxUint64, 1); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected overflow on add, got %v", err)
	}
	if _, err := Sub(1, 2); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected overflow on sub, got %v", err)
	}
	if _, err := Mul(math.MaxUint64, 2); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected overflow on mul, got %v", err)
	}
	if got, err := Mul(0, math.MaxUint64); err != nil || got != 0 {
		t.Errorf("Mul(0, max) = %d, %v", got, err)
	}
	if got, err := Sub(10, 10); err != nil || got != 0 {
		t.Errorf("Sub(10, 10) = %d, %v", got, err)
	}
}

func TestMulDiv(t *testing.T) {
	// a*b overflows 64 bits but the quotient fits.
	got, err := MulDiv(math.MaxUint64, 1_000_000_000, 1_000_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != math.MaxUint64 {
		t.Errorf("expected MaxUint64, got %d", got)
	}

	if _, err := MulDiv(math.MaxUint64, 2, 1); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected overflow, got %v", err)
	}
	if _, err := MulDiv(1, 1, 0); !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("expected division by zero, got %v", err)
	}

	floor, _ := MulDiv(10, 1, 3)
	ceil, _ := MulDivCeil(10, 1, 3)
	if floor != 3 || ceil != 4 {
		t.Errorf("floor/ceil of 10/3 = %d/%d, want 3/4", floor, ceil)
	}
	exact, _ := MulDivCeil(9, 1, 3)
	if exact != 3 {
		t.Errorf("ceil of exact 9/3 = %d, want 3", exact)
	}
}

func TestMulChain(t *testing.T) {
	p, err := MulChain(Wide(math.MaxUint64), Wide(math.MaxUint64), Wide(math.MaxUint64))
	if err != nil {
		t.Fatalf("three u64 factors must fit 256 bits: %v", err)
	}
	if p.IsZero() {
		t.Error("product should be non-zero")
	}

	max := Wide(math.MaxUint64)
	if _, err := MulChain(max, max, max, max, max); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected overflow past 256 bits, got %v", err)
	}
}

func TestPow10(t *testing.T) {
	if v, _ := Pow10(0); v != 1 {
		t.Errorf("10^0 = %d", v)
	}
	if v, _ := Pow10(9); v != 1_000_000_000 {
		t.Errorf("10^9 = %d", v)
	}
	if _, err := Pow10(20); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected overflow for 10^20, got %v", err)
	}
}
