// Package barrier implements cache line flush barriers that make stores durable
// in a persistence domain.
//
// A Barrier is selected once, at construction, from one of four mechanisms; every
// flush afterwards dispatches through the same implementation.
package barrier

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"unsafe"
)

const LineSize = 64 // Cache line size in bytes.

var ErrUnsupported = errors.New("flush mechanism is not supported on this CPU")

// Mechanism selects the instruction used to flush a cache line.
type Mechanism uint8

const (
	None       Mechanism = iota // Fences only; memory stays volatile. Performance baseline.
	Clflush                     // Ordered flush that invalidates the line.
	Clflushopt                  // Unordered flush; ordered by the closing fence.
	Clwb                        // Write back without invalidating the line.
)

var mechanismNames = [...]string{
	None:       "none",
	Clflush:    "flush-invalidate",
	Clflushopt: "flush-no-invalidate",
	Clwb:       "write-back",
}

func (m Mechanism) String() string {
	if int(m) < len(mechanismNames) {
		return mechanismNames[m]
	}
	return fmt.Sprintf("Mechanism(%d)", m)
}

// ParseMechanism parses a mechanism name or its number (0-3).
func ParseMechanism(s string) (Mechanism, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n >= len(mechanismNames) {
			return 0, fmt.Errorf("invalid flush mechanism %d: must be between 0 and %d", n, len(mechanismNames)-1)
		}
		return Mechanism(n), nil
	}
	for m, name := range mechanismNames {
		if s == name {
			return Mechanism(m), nil
		}
	}
	return 0, fmt.Errorf("invalid flush mechanism %q: must be one of %s", s, strings.Join(mechanismNames[:], ", "))
}

// Stats represents barrier counters.
type Stats struct {
	Flushes uint64 // Calls to Flush with a non-empty range.
	Lines   uint64 // Cache lines flushed.
	Fences  uint64 // Store fences issued.
}

// Barrier makes memory ranges durable.
type Barrier interface {
	Mechanism() Mechanism

	// Flush returns once every byte of p is durable under the barrier's mechanism.
	// The None mechanism makes no such guarantee.
	Flush(p []byte)

	Stats() Stats
}

// New returns the barrier for m. The error is ErrUnsupported if the CPU cannot
// execute the mechanism's flush instruction.
func New(m Mechanism) (Barrier, error) {
	if int(m) >= len(mechanismNames) {
		return nil, fmt.Errorf("invalid flush mechanism %d", m)
	}
	if !Supported(m) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, m)
	}
	b := &lineBarrier{mechanism: m}
	switch m {
	case None:
		b.flushLine = nil
	case Clflush:
		b.flushLine = clflush
	case Clflushopt:
		b.flushLine = clflushopt
	case Clwb:
		b.flushLine = clwb
	}
	return b, nil
}

// lineBarrier flushes every cache line spanned by a range between two store fences.
type lineBarrier struct {
	mechanism Mechanism
	flushLine func(addr uintptr) // Nil for the None mechanism.
	flushes   atomic.Uint64
	lines     atomic.Uint64
	fences    atomic.Uint64
}

func (b *lineBarrier) Mechanism() Mechanism {
	return b.mechanism
}

func (b *lineBarrier) Flush(p []byte) {
	if len(p) == 0 {
		return
	}
	start, n := Lines(uintptr(unsafe.Pointer(&p[0])), len(p))
	b.flushes.Add(1)

	sfence()
	if b.flushLine != nil {
		for i := range n {
			b.flushLine(start + uintptr(i*LineSize))
		}
		b.lines.Add(uint64(n))
	}
	sfence()
	b.fences.Add(2)
}

func (b *lineBarrier) Stats() Stats {
	return Stats{
		Flushes: b.flushes.Load(),
		Lines:   b.lines.Load(),
		Fences:  b.fences.Load(),
	}
}

// Lines returns the first cache line address and the number of cache lines
// spanned by size bytes at addr.
func Lines(addr uintptr, size int) (start uintptr, n int) {
	if size <= 0 {
		return addr &^ (LineSize - 1), 0
	}
	start = addr &^ (LineSize - 1)
	end := (addr + uintptr(size) + LineSize - 1) &^ (LineSize - 1)
	return start, int((end - start) / LineSize)
}
