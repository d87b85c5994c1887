// Package arith implements checked arithmetic for every balance and payout
// computation in the treasury. Overflow, underflow, and division by zero are
// errors, never silent wraps (spec: "Arithmetic overflow behavior (always:
// fail-closed)"). The underlying representation is a saferith.Nat, the same
// arbitrary-precision natural-number type the teacher protocol uses for its
// field arithmetic; here it is bounded to 64 bits so an Amount behaves like
// a checked uint64.
package arith

import (
	"errors"
	"fmt"

	"github.com/cronokirby/saferith"
)

// MaxBits is the width an Amount is allowed to occupy. Any operation whose
// true result needs more bits than this is rejected as an overflow.
const MaxBits = 64

// ErrOverflow is returned when an addition or multiplication would not fit
// in MaxBits.
var ErrOverflow = errors.New("arith: overflow")

// ErrUnderflow is returned when a subtraction's minuend is smaller than its
// subtrahend.
var ErrUnderflow = errors.New("arith: underflow")

// ErrDivideByZero is returned by Div when the divisor is zero.
var ErrDivideByZero = errors.New("arith: division by zero")

// Amount is a checked, non-negative integer balance, bounded to 64 bits.
type Amount struct {
	nat *saferith.Nat
}

// Zero is the additive identity.
func Zero() Amount {
	return Amount{nat: new(saferith.Nat).SetUint64(0)}
}

// FromUint64 builds an Amount from a plain uint64.
func FromUint64(v uint64) Amount {
	return Amount{nat: new(saferith.Nat).SetUint64(v)}
}

// Uint64 returns the amount as a uint64. Safe because every Amount in
// circulation has already been bounds-checked to MaxBits on construction.
func (a Amount) Uint64() uint64 {
	if a.nat == nil {
		return 0
	}
	return a.nat.Uint64()
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool {
	return a.Uint64() == 0
}

// Cmp returns -1, 0, or 1 as a is less than, equal to, or greater than b.
func (a Amount) Cmp(b Amount) int {
	au, bu := a.Uint64(), b.Uint64()
	switch {
	case au < bu:
		return -1
	case au > bu:
		return 1
	default:
		return 0
	}
}

// Add computes a+b, failing closed if the true sum overflows MaxBits.
func Add(a, b Amount) (Amount, error) {
	sum := new(saferith.Nat).Add(nat(a), nat(b), MaxBits+1)
	if sum.TrueLen() > MaxBits {
		return Amount{}, fmt.Errorf("%w: %d + %d exceeds %d bits", ErrOverflow, a.Uint64(), b.Uint64(), MaxBits)
	}
	return Amount{nat: sum}, nil
}

// Sub computes a-b, failing closed if b > a (spec forbids negative balances).
func Sub(a, b Amount) (Amount, error) {
	if a.Cmp(b) < 0 {
		return Amount{}, fmt.Errorf("%w: %d - %d", ErrUnderflow, a.Uint64(), b.Uint64())
	}
	diff := new(saferith.Nat).Sub(nat(a), nat(b), MaxBits)
	return Amount{nat: diff}, nil
}

// MulUint64 computes a*k, failing closed on overflow.
func MulUint64(a Amount, k uint64) (Amount, error) {
	kNat := new(saferith.Nat).SetUint64(k)
	product := new(saferith.Nat).Mul(nat(a), kNat, 2*MaxBits+1)
	if product.TrueLen() > MaxBits {
		return Amount{}, fmt.Errorf("%w: %d * %d exceeds %d bits", ErrOverflow, a.Uint64(), k, MaxBits)
	}
	return Amount{nat: product}, nil
}

// DivUint64 computes a/k, failing closed when k is zero.
func DivUint64(a Amount, k uint64) (Amount, error) {
	if k == 0 {
		return Amount{}, ErrDivideByZero
	}
	return FromUint64(a.Uint64() / k), nil
}

// Sum adds a slice of amounts left to right, failing closed on the first
// overflow encountered.
func Sum(amounts []Amount) (Amount, error) {
	total := Zero()
	var err error
	for _, a := range amounts {
		total, err = Add(total, a)
		if err != nil {
			return Amount{}, err
		}
	}
	return total, nil
}

func nat(a Amount) *saferith.Nat {
	if a.nat == nil {
		return new(saferith.Nat).SetUint64(0)
	}
	return a.nat
}
