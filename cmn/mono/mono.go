//go:build mono

// Package mono provides a low-level monotonic clock used for heartbeat
// liveness tracking and search back-off deadlines.
package mono

import (
	_ "unsafe" // for go:linkname
)

// https://golang.org/pkg/runtime/?m=all#nanotime
//
//go:linkname NanoTime runtime.nanotime
func NanoTime() int64
