//go:build !(rp2040 || rp2350)

// Package strconvx is the number formatting behind fmtx's debug-print
// path: host builds delegate to strconv, MCU builds use the fixed-buffer
// implementations in strconvx_mcu.go so a debug line never grows the
// heap. Signatures match strconv.
package strconvx

import "strconv"

func FormatInt(i int64, base int) string   { return strconv.FormatInt(i, base) }
func FormatUint(u uint64, base int) string { return strconv.FormatUint(u, base) }
func FormatFloat(f float64, fmt byte, prec, bitSize int) string {
	return strconv.FormatFloat(f, fmt, prec, bitSize)
}
