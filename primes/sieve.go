// Package primes builds the immutable prime table the rest of the miner
// sieves against: a plain ascending list of every prime below a limit,
// produced by a sieve of Eratosthenes.
package primes

import "math"

// Sieve returns every prime strictly less than limit, in ascending order.
// Index 0 of the result is always 2.
func Sieve(limit uint64) []uint64 {
	if limit <= 2 {
		return nil
	}

	composite := make([]bool, limit)
	result := make([]uint64, 0, estimateCount(limit))

	for p := uint64(2); p < limit; p++ {
		if composite[p] {
			continue
		}
		result = append(result, p)
		if p > (limit-1)/p {
			continue
		}
		for m := p * p; m < limit; m += p {
			composite[m] = true
		}
	}
	return result
}

// estimateCount gives a generous preallocation hint using the prime
// counting function's asymptotic bound, avoiding slice growth for large
// limits.
func estimateCount(limit uint64) int {
	if limit < 16 {
		return 8
	}
	f := float64(limit)
	est := int(1.3 * f / math.Log(f))
	if est < 8 {
		est = 8
	}
	return est
}
