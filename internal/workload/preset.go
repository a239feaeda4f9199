package workload

import (
	"fmt"
	"math"
)

// Per-core cache sizes the presets are sized against.
const (
	L1Size  = 32 << 10
	L2Size  = 512 << 10
	LLCSize = 2 << 20
)

// LargeValueElements is the element count used for values larger than
// MaxPresetValueSize, where presets do not apply.
const (
	MaxPresetValueSize = 64
	LargeValueElements = 67408
)

// Preset names the cache level a store's working set is sized to.
type Preset string

const (
	L1Fit     Preset = "l1f"   // Fits in L1.
	L2Fit     Preset = "l2f"   // Fits in L2.
	LLCFit    Preset = "llcf"  // Fits in the last level cache.
	LLCNotFit Preset = "llcnf" // Four times the last level cache.
)

func ParsePreset(s string) (Preset, error) {
	switch p := Preset(s); p {
	case L1Fit, L2Fit, LLCFit, LLCNotFit:
		return p, nil
	default:
		return "", fmt.Errorf("unknown preset %q: want one of l1f, l2f, llcf, llcnf", s)
	}
}

// Elements returns the number of elements for the preset, given the bytes a
// single element occupies including its value.
func (p Preset) Elements(elementBytes, valueSize int) int {
	if valueSize > MaxPresetValueSize {
		return LargeValueElements
	}
	fit := func(cache int) float64 {
		return math.Floor(float64(cache) / float64(elementBytes))
	}
	switch p {
	case L1Fit:
		return int(0.9 * fit(L1Size))
	case L2Fit:
		return int(0.9 * fit(L2Size))
	case LLCFit:
		return int(0.9 * fit(LLCSize))
	case LLCNotFit:
		return int(4 * fit(LLCSize))
	default:
		return 0
	}
}
