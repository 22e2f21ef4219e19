// Package cpufeatures probes the running CPU for the vector extensions the
// remainder and fermat packages use to pick a batching width. None of the
// probed features change results, only how many primes or candidates are
// grouped together in a tight loop before the next queue/cancellation check.
package cpufeatures

import "github.com/klauspost/cpuid/v2"

// Probe reports which wide-batch code paths are available on this CPU.
type Probe struct {
	avx2   bool
	avx512 bool
}

// Detect inspects the running CPU once. Callers should cache the result;
// it never changes for the lifetime of the process.
func Detect() Probe {
	return Probe{
		avx2:   cpuid.CPU.Supports(cpuid.AVX2),
		avx512: cpuid.CPU.Supports(cpuid.AVX512F),
	}
}

// HasAVX2 reports AVX2 support. The pipeline uses it to gate
// handleCheck's batched base-test pre-filter.
func (p Probe) HasAVX2() bool { return p.avx2 }

// HasAVX512 reports whether the widest Fermat batch should be used.
func (p Probe) HasAVX512() bool { return p.avx512 }

// BatchWidth returns the number of primes (or candidates) to group per
// inner loop iteration: 8 with AVX-512, 4 with AVX2, 1 otherwise.
func (p Probe) BatchWidth() int {
	switch {
	case p.avx512:
		return 8
	case p.avx2:
		return 4
	default:
		return 1
	}
}
