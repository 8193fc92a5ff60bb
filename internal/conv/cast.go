package conv

import (
	"errors"
	"fmt"
	"math"
)

// ErrOverflow is returned when a value does not fit the target type.
var ErrOverflow = errors.New("conv: integer overflow")

// IntToUint16 converts v to uint16.
func IntToUint16(v int) (uint16, error) {
	if v < 0 || v > math.MaxUint16 {
		return 0, fmt.Errorf("%w: %d does not fit uint16", ErrOverflow, v)
	}
	return uint16(v), nil
}

// IntToUint32 converts v to uint32.
func IntToUint32(v int) (uint32, error) {
	if v < 0 || uint64(v) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d does not fit uint32", ErrOverflow, v)
	}
	return uint32(v), nil
}

// MiB converts a size in mebibytes to bytes.
func MiB(v int64) (uintptr, error) {
	if v < 0 || uint64(v) > uint64(^uintptr(0))>>20 {
		return 0, fmt.Errorf("%w: %d MiB does not fit the address space", ErrOverflow, v)
	}
	return uintptr(v) << 20, nil
}
