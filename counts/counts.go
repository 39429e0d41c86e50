package counts

import (
	"math"
)

// Count64 is a count of something (here, bytes), capped at
// math.MaxUint64 rather than wrapping around.
type Count64 uint64

func NewCount64(n uint64) Count64 {
	return Count64(n)
}

func (n Count64) ToUint64() uint64 {
	return uint64(n)
}

// Plus returns the sum of two Count64s, capped at math.MaxUint64.
func (n1 Count64) Plus(n2 Count64) Count64 {
	n := n1 + n2
	if n < n1 {
		// Overflow
		return math.MaxUint64
	}
	return n
}

// Increment `*n1` by `n2`, capped at math.MaxUint64.
func (n1 *Count64) Increment(n2 Count64) {
	*n1 = n1.Plus(n2)
}

// Sum adds up `ns`, capped at math.MaxUint64.
func Sum(ns ...Count64) Count64 {
	var total Count64
	for _, n := range ns {
		total.Increment(n)
	}
	return total
}
