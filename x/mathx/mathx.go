// Package mathx holds the small integer helpers the kernel's tick
// arithmetic and the device manager's page-split math share. Keep to
// positive inputs; this is firmware math, not a general numerics
// library.
package mathx

import "golang.org/x/exp/constraints"

// Min returns the smaller of a and b, e.g. clipping a page chunk to the
// bytes remaining in a write buffer.
func Min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b, e.g. flooring a timer's tick count
// at zero.
func Max[T constraints.Ordered](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// CeilDiv returns ceil(a/b) for positive integers: the page count a
// write of a bytes needs at b bytes per page. b == 0 yields 0 rather
// than faulting.
func CeilDiv[T ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64](a, b T) T {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
