//go:build !mono

package mono

import "time"

// NanoTime returns time.Now().UnixNano(): a wall-clock timestamp in
// nanoseconds, which is not monotonic and jumps if the system clock is set.
// Build with the "mono" tag to use the monotonic runtime.nanotime instead.
func NanoTime() int64 { return time.Now().UnixNano() }
