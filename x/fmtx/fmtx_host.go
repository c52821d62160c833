//go:build !(rp2040 || rp2350)

// Package fmtx is the formatting shim behind the debug-print boundary:
// debugpub and the AOs' unhandled-signal reporting format through it so
// host builds get fmt and MCU builds get the allocation-light formatter
// in fmtx_mcu.go, with no call-site changes between the two.
package fmtx

import "fmt"

func Sprintf(format string, a ...any) string      { return fmt.Sprintf(format, a...) }
func Printf(format string, a ...any) (int, error) { return fmt.Printf(format, a...) }
