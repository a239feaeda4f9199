//go:build !amd64

package barrier

import "sync/atomic"

var fence atomic.Uint32

// sfence orders stores with a sequentially consistent atomic, which is the
// strongest ordering available without architecture-specific instructions.
func sfence() {
	fence.Add(1)
}

func clflush(uintptr)    { panic("internal error: clflush is not available on this architecture") }
func clflushopt(uintptr) { panic("internal error: clflushopt is not available on this architecture") }
func clwb(uintptr)       { panic("internal error: clwb is not available on this architecture") }

// Supported reports whether the CPU can execute the mechanism.
// Only None is available outside amd64.
func Supported(m Mechanism) bool {
	return m == None
}
