package types

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
)

// OneCKB is the number of shannons in one CKB.
const OneCKB uint64 = 100_000_000

// ErrCapacityOverflow is returned when capacity arithmetic leaves the uint64 range.
var ErrCapacityOverflow = errors.New("capacity overflow")

// Capacity is a fixed-point amount of shannons. One byte of cell storage
// occupies one CKB worth of capacity.
type Capacity uint64

// Shannons returns the capacity as a raw shannon count.
func (c Capacity) Shannons() uint64 {
	return uint64(c)
}

// SafeAdd returns c+o, or ErrCapacityOverflow.
func (c Capacity) SafeAdd(o Capacity) (Capacity, error) {
	sum, carry := bits.Add64(uint64(c), uint64(o), 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %d + %d", ErrCapacityOverflow, c, o)
	}
	return Capacity(sum), nil
}

// SafeSub returns c-o, or ErrCapacityOverflow when o > c.
func (c Capacity) SafeSub(o Capacity) (Capacity, error) {
	diff, borrow := bits.Sub64(uint64(c), uint64(o), 0)
	if borrow != 0 {
		return 0, fmt.Errorf("%w: %d - %d", ErrCapacityOverflow, c, o)
	}
	return Capacity(diff), nil
}

// BytesCapacity returns the capacity occupied by n bytes of cell storage.
func BytesCapacity(n uint64) (Capacity, error) {
	if n > math.MaxUint64/OneCKB {
		return 0, fmt.Errorf("%w: %d bytes", ErrCapacityOverflow, n)
	}
	return Capacity(n * OneCKB), nil
}

// String formats the capacity in CKB with eight decimals.
func (c Capacity) String() string {
	return fmt.Sprintf("%d.%08d", uint64(c)/OneCKB, uint64(c)%OneCKB)
}
