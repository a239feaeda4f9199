package barrier

// Implemented in flush_amd64.s.
func sfence()
func clflush(addr uintptr)
func clflushopt(addr uintptr)
func clwb(addr uintptr)
func cpuid(eaxArg, ecxArg uint32) (eax, ebx, ecx, edx uint32)

const (
	cpuid1EDXCLFLUSH    = 1 << 19
	cpuid7EBXCLFLUSHOPT = 1 << 23
	cpuid7EBXCLWB       = 1 << 24
)

var features = probe()

type cpuFeatures struct {
	clflush    bool
	clflushopt bool
	clwb       bool
}

func probe() cpuFeatures {
	var f cpuFeatures
	maxID, _, _, _ := cpuid(0, 0)
	if maxID >= 1 {
		_, _, _, edx := cpuid(1, 0)
		f.clflush = edx&cpuid1EDXCLFLUSH != 0
	}
	if maxID >= 7 {
		_, ebx, _, _ := cpuid(7, 0)
		f.clflushopt = ebx&cpuid7EBXCLFLUSHOPT != 0
		f.clwb = ebx&cpuid7EBXCLWB != 0
	}
	return f
}

// Supported reports whether the CPU can execute the mechanism.
func Supported(m Mechanism) bool {
	switch m {
	case None:
		return true
	case Clflush:
		return features.clflush
	case Clflushopt:
		return features.clflushopt
	case Clwb:
		return features.clwb
	default:
		return false
	}
}
