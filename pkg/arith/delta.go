package arith

import (
	"fmt"
	"math"
)

// Delta is a checked signed balance adjustment, as carried in a settlement
// entry (wire format: 8-byte signed amount, two's complement).
type Delta int64

// AddDelta computes a+b, failing closed on signed 64-bit overflow.
func AddDelta(a, b Delta) (Delta, error) {
	sum := int64(a) + int64(b)
	if (b > 0 && sum < int64(a)) || (b < 0 && sum > int64(a)) {
		return 0, fmt.Errorf("%w: delta %d + %d", ErrOverflow, a, b)
	}
	return Delta(sum), nil
}

// SumDeltas adds a slice of deltas, failing closed on the first overflow.
func SumDeltas(deltas []Delta) (Delta, error) {
	var total Delta
	var err error
	for _, d := range deltas {
		total, err = AddDelta(total, d)
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

// ApplyDelta applies a signed delta to a non-negative Amount, failing closed
// if the result would be negative or overflow MaxBits.
func ApplyDelta(a Amount, d Delta) (Amount, error) {
	if d >= 0 {
		return Add(a, FromUint64(uint64(d)))
	}
	mag := d
	if mag == math.MinInt64 {
		return Amount{}, fmt.Errorf("%w: delta %d has no positive magnitude", ErrOverflow, d)
	}
	if mag < 0 {
		mag = -mag
	}
	return Sub(a, FromUint64(uint64(mag)))
}
