// Package fermat reconstructs candidate integers from sieve survivor
// indices, probable-prime-tests them with the 2-ary Fermat test, and
// walks the remaining constellation offsets to find the tuple length.
package fermat

import (
	"math/big"

	"github.com/fakecoinbase/PttnslashrieMiner/constellation"
	"github.com/fakecoinbase/PttnslashrieMiner/internal/cpufeatures"
)

// WorkIndexes is the largest batch of survivor indices a single
// verify job carries.
const WorkIndexes = 64

// batchWidth is how many candidates BatchTest groups together before
// moving to the next group, picked once from the running CPU's widest
// available batching path: 8 with AVX-512, 4 with AVX2, 1 otherwise.
var batchWidth = cpufeatures.Detect().BatchWidth()

var (
	two = big.NewInt(2)
	one = big.NewInt(1)
)

// Test runs the 2-ary Fermat probable-prime test: n passes if
// 2^(n-1) mod n == 1. n must be odd and > 2.
func Test(n *big.Int) bool {
	if n.Sign() <= 0 {
		return false
	}
	nMinus1 := new(big.Int).Sub(n, one)
	r := new(big.Int).Exp(two, nMinus1, n)
	return r.Cmp(one) == 0
}

// Candidate reconstructs the integer a sieve survivor index idx
// represents: pk*idx + ploop.
func Candidate(pk, ploop *big.Int, idx uint32) *big.Int {
	c := new(big.Int).Mul(pk, new(big.Int).SetUint64(uint64(idx)))
	return c.Add(c, ploop)
}

// Ploop builds the per-segment, per-sieve-worker base that Candidate
// adds pk*idx to: pk*segment*sieveSize + firstCandidate(0) +
// offsetDiffToFirst, where firstCandidate(0) is verifyTarget +
// verifyRemainderPrimorial and offsetDiffToFirst shifts from worker
// 0's base to worker w's.
func Ploop(pk *big.Int, segment, sieveSize uint64, firstCandidate *big.Int, offsetDiffToFirst uint64) *big.Int {
	p := new(big.Int).Mul(pk, new(big.Int).SetUint64(segment*sieveSize))
	p.Add(p, firstCandidate)
	p.Add(p, new(big.Int).SetUint64(offsetDiffToFirst))
	return p
}

// BatchTest runs Test against Candidate(pk, ploop, idx) for every idx
// in indexes, reporting which survive. The distilled spec's vectorized
// kernel is modeled here as a plain loop grouped into batchWidth-sized
// chunks: Go has no portable SIMD intrinsics, so "batched" means
// grouped for cache locality, not hand-assembled.
func BatchTest(pk, ploop *big.Int, indexes []uint32) []bool {
	out := make([]bool, len(indexes))
	width := batchWidth
	if width < 1 {
		width = 1
	}
	for start := 0; start < len(indexes); start += width {
		end := min(start+width, len(indexes))
		for i := start; i < end; i++ {
			out[i] = Test(Candidate(pk, ploop, indexes[i]))
		}
	}
	return out
}

// Mode picks how the constellation walk reacts to an early miss.
type Mode int

const (
	// Solo stops the walk at the first composite member.
	Solo Mode = iota
	// Pool keeps walking past a composite member as long as the
	// remaining offsets could still reach MinPoolLength.
	Pool
)

// MinPoolLength is the tuple length a pool share must reach to be
// worth submitting, independent of the solo submission threshold.
const MinPoolLength = 4

// Result is one candidate's constellation walk outcome.
type Result struct {
	Base        *big.Int // the family-0 candidate, n
	TupleLength int
}

// Walk builds the family-0 candidate for idx and extends it through
// pattern's offsets, testing each member with Test. In Pool mode a
// composite member doesn't stop the walk while enough offsets remain
// to still reach MinPoolLength.
//
// onTest, if non-nil, is called once for the initial attempt (length
// 0) and once more for every successful extension (length 1, 2, ...),
// so a caller can tally one statistics event per Fermat test actually
// performed rather than one per candidate.
func Walk(pk, ploop *big.Int, idx uint32, pattern constellation.Pattern, mode Mode, onTest func(length int)) Result {
	base := Candidate(pk, ploop, idx)
	if onTest != nil {
		onTest(0)
	}
	if !Test(base) {
		return Result{Base: base, TupleLength: 0}
	}
	return extend(base, pattern, mode, onTest)
}

// WalkConfirmed resumes the constellation walk for a candidate whose
// base member has already passed Test elsewhere (the BatchTest
// pre-filter path): it skips the redundant base test and starts
// extending from length 1. onTest still fires for length 1 and every
// successful extension after it, matching Walk's per-test contract.
func WalkConfirmed(base *big.Int, pattern constellation.Pattern, mode Mode, onTest func(length int)) Result {
	return extend(base, pattern, mode, onTest)
}

// extend walks pattern's offsets from an already-confirmed base,
// reporting tupleLength starting at 1.
func extend(base *big.Int, pattern constellation.Pattern, mode Mode, onTest func(length int)) Result {
	n := new(big.Int).Set(base)
	tupleLength := 1
	if onTest != nil {
		onTest(tupleLength)
	}
	l := pattern.Len()
	for f := 1; f < l; f++ {
		n.Add(n, new(big.Int).SetUint64(pattern.Offsets[f]))
		if Test(n) {
			tupleLength++
			if onTest != nil {
				onTest(tupleLength)
			}
			continue
		}
		remaining := l - 1 - f
		if mode == Pool && tupleLength+remaining >= MinPoolLength {
			continue
		}
		break
	}
	return Result{Base: base, TupleLength: tupleLength}
}
