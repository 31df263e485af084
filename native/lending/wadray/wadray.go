// Package wadray implements the fixed-point arithmetic shared by the hub and
// spoke ledgers. Values are unsigned 256-bit integers scaled by WAD (1e18),
// RAY (1e27) or basis points. Every operation comes in an explicit Down
// (floor) and Up (ceil) variant; callers pick the direction that favours the
// protocol.
//
// Multiplications use a 512-bit intermediate, so only results that do not fit
// in 256 bits overflow. Overflow and division by zero panic with ErrOverflow
// and ErrDivisionByZero respectively, mirroring Go's own integer division.
package wadray

import (
	"errors"

	"github.com/holiman/uint256"
)

// PercentageFactor is 100.00% expressed in basis points.
const PercentageFactor = 10_000

// SecondsPerYear is the accrual period used to annualise borrow rates.
const SecondsPerYear = 31_536_000

var (
	ErrOverflow       = errors.New("wadray: overflow")
	ErrDivisionByZero = errors.New("wadray: division by zero")
)

var (
	wad     = uint256.NewInt(1_000_000_000_000_000_000)
	ray     = new(uint256.Int).Mul(wad, uint256.NewInt(1_000_000_000))
	percent = uint256.NewInt(PercentageFactor)
	maxU256 = new(uint256.Int).SetAllOne()
)

// Wad returns a fresh copy of 1e18.
func Wad() *uint256.Int { return new(uint256.Int).Set(wad) }

// Ray returns a fresh copy of 1e27.
func Ray() *uint256.Int { return new(uint256.Int).Set(ray) }

// Max returns a fresh copy of 2^256-1.
func Max() *uint256.Int { return new(uint256.Int).Set(maxU256) }

// IsMax reports whether x equals 2^256-1.
func IsMax(x *uint256.Int) bool { return x != nil && x.Eq(maxU256) }

// MulDivDown returns floor(x*y/d).
func MulDivDown(x, y, d *uint256.Int) *uint256.Int {
	if d.IsZero() {
		panic(ErrDivisionByZero)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		panic(ErrOverflow)
	}
	return z
}

// MulDivUp returns ceil(x*y/d).
func MulDivUp(x, y, d *uint256.Int) *uint256.Int {
	z := MulDivDown(x, y, d)
	if new(uint256.Int).MulMod(x, y, d).IsZero() {
		return z
	}
	if _, overflow := z.AddOverflow(z, uint256.NewInt(1)); overflow {
		panic(ErrOverflow)
	}
	return z
}

// RayMulDown returns floor(a*b/RAY).
func RayMulDown(a, b *uint256.Int) *uint256.Int { return MulDivDown(a, b, ray) }

// RayMulUp returns ceil(a*b/RAY).
func RayMulUp(a, b *uint256.Int) *uint256.Int { return MulDivUp(a, b, ray) }

// RayDivDown returns floor(a*RAY/b).
func RayDivDown(a, b *uint256.Int) *uint256.Int { return MulDivDown(a, ray, b) }

// RayDivUp returns ceil(a*RAY/b).
func RayDivUp(a, b *uint256.Int) *uint256.Int { return MulDivUp(a, ray, b) }

// WadMulDown returns floor(a*b/WAD).
func WadMulDown(a, b *uint256.Int) *uint256.Int { return MulDivDown(a, b, wad) }

// WadMulUp returns ceil(a*b/WAD).
func WadMulUp(a, b *uint256.Int) *uint256.Int { return MulDivUp(a, b, wad) }

// WadDivDown returns floor(a*WAD/b).
func WadDivDown(a, b *uint256.Int) *uint256.Int { return MulDivDown(a, wad, b) }

// WadDivUp returns ceil(a*WAD/b).
func WadDivUp(a, b *uint256.Int) *uint256.Int { return MulDivUp(a, wad, b) }

// PercentMulDown returns floor(x*bps/10000).
func PercentMulDown(x *uint256.Int, bps uint64) *uint256.Int {
	return MulDivDown(x, uint256.NewInt(bps), percent)
}

// PercentMulUp returns ceil(x*bps/10000).
func PercentMulUp(x *uint256.Int, bps uint64) *uint256.Int {
	return MulDivUp(x, uint256.NewInt(bps), percent)
}

// BpsToRay converts a basis-point rate into ray precision.
func BpsToRay(bps uint64) *uint256.Int {
	return MulDivDown(uint256.NewInt(bps), ray, percent)
}

// Min returns a copy of the smaller operand.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Cmp(b) <= 0 {
		return new(uint256.Int).Set(a)
	}
	return new(uint256.Int).Set(b)
}

// Pow10 returns 10^n.
func Pow10(n uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
}
