package conv

import (
	"errors"
	"fmt"
	"math"
)

// ErrRange is returned when a value does not fit the target type.
var ErrRange = errors.New("conv: value out of range")

// IntToUint32 converts a non-negative int to uint32.
func IntToUint32(v int) (uint32, error) {
	if v < 0 || uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d as uint32", ErrRange, v)
	}
	return uint32(v), nil
}

// Uint64ToInt converts v to int.
func Uint64ToInt(v uint64) (int, error) {
	if v > uint64(math.MaxInt) {
		return 0, fmt.Errorf("%w: %d as int", ErrRange, v)
	}
	return int(v), nil
}

// Uint64ToUint32 converts v to uint32.
func Uint64ToUint32(v uint64) (uint32, error) {
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d as uint32", ErrRange, v)
	}
	return uint32(v), nil
}

// Bound checks that [off, off+n) lies inside a buffer of size total and
// returns the range as ints.
func Bound(off, n uint64, total int) (int, int, error) {
	if off > uint64(total) || n > uint64(total)-off {
		return 0, 0, fmt.Errorf("%w: range [%d,+%d) outside %d bytes", ErrRange, off, n, total)
	}
	return int(off), int(off + n), nil
}
