// Package remainder implements the mod phase of the candidate-generation
// pipeline: for a range of primes, it finds where each prime first
// divides a candidate in every constellation family, for every
// sieve-worker's primorial-aligned base, and deposits the result into
// either a sieve instance's dense offset table (small primes) or its
// segment-hit spill buckets (large, "once-only" primes).
package remainder

import (
	"fmt"
	"math/big"
	"math/bits"
	"sync/atomic"

	"github.com/fakecoinbase/PttnslashrieMiner/constellation"
	"github.com/fakecoinbase/PttnslashrieMiner/internal/cpufeatures"
	"github.com/fakecoinbase/PttnslashrieMiner/primorial"
	"github.com/fakecoinbase/PttnslashrieMiner/sieve"
)

// batchWidth is how many primes ProcessRange advances between
// cancellation checks, picked once from the running CPU's widest
// available batching path: 8 with AVX-512, 4 with AVX2, 1 otherwise.
// Wider batches amortize the atomic height load over more work; they
// never change which primes get processed or in what order.
var batchWidth = cpufeatures.Detect().BatchWidth()

// OffsetStackSize is how many sparse-prime hits a worker batches in its
// thread-local spill buffer before reserving segment-hit slots and
// flushing, amortizing the atomic reservation cost.
const OffsetStackSize = 16384

// BlockContext bundles everything the mod phase needs that stays fixed
// for one block: the prime/inverse tables, the constellation pattern,
// the dense/sparse boundary, the aligned target, the per-worker
// primorial offset deltas, and the sieve instances being filled.
type BlockContext struct {
	Tables          *primorial.Tables
	Pattern         constellation.Pattern
	DistinctOffsets []uint64 // cached Pattern.DistinctOffsets()
	SparseLimit     int
	Target          *big.Int // verifyTarget + verifyRemainderPrimorial
	PrimorialOffsetDiff []uint64 // len == len(Sieves)-1
	Sieves              []*sieve.Instance
	Size                sieve.Sizes
}

// NewBlockContext validates the sieve-worker count against the
// primorial offset diffs and precomputes the pattern's distinct
// offsets once per block.
func NewBlockContext(tables *primorial.Tables, pattern constellation.Pattern, sparseLimit int, target *big.Int, primorialOffsetDiff []uint64, sieves []*sieve.Instance, size sieve.Sizes) (*BlockContext, error) {
	if len(primorialOffsetDiff) != len(sieves)-1 {
		return nil, fmt.Errorf("remainder: need %d primorial offset diffs for %d sieve workers, got %d", len(sieves)-1, len(sieves), len(primorialOffsetDiff))
	}
	return &BlockContext{
		Tables:          tables,
		Pattern:         pattern,
		DistinctOffsets: pattern.DistinctOffsets(),
		SparseLimit:     sparseLimit,
		Target:          target,
		PrimorialOffsetDiff: primorialOffsetDiff,
		Sieves:              sieves,
		Size:                size,
	}, nil
}

// ProcessRange runs the mod phase for primes[startI:endI]. height and
// currentHeight implement cooperative cancellation: if the live height
// no longer matches the block this range was computed for, the range
// abandons its remaining work and returns cleanly without error.
func ProcessRange(bc *BlockContext, startI, endI int, height uint32, currentHeight *atomic.Uint32) error {
	l := bc.Pattern.Len()
	workers := len(bc.Sieves)
	stacks := make([]spillStack, workers)
	fam := make([]uint64, l)

	width := batchWidth
	if width < 1 {
		width = 1
	}
	for batchStart := startI; batchStart < endI; batchStart += width {
		if currentHeight.Load() != height {
			return nil
		}
		batchEnd := min(batchStart+width, endI)

		for i := batchStart; i < batchEnd; i++ {
			p := bc.Tables.Primes[i]
			invert := bc.Tables.Inverts[i]

			tmod := Mod64(bc.Target, p)
			index := mulMod(subMod(0, tmod, p), invert, p)
			invMul := buildLattice(bc.DistinctOffsets, invert, p)

			for w := 0; w < workers; w++ {
				if w > 0 {
					rw := mulMod(bc.PrimorialOffsetDiff[w-1], invert, p)
					index = subMod(index, rw, p)
				}
				familyIndexes(index, bc.Pattern, invMul, p, fam)

				if i < bc.SparseLimit {
					inst := bc.Sieves[w]
					rel := uint64(i-bc.Tables.StartingPrimeIndex) * uint64(l)
					for f := 0; f < l; f++ {
						inst.Offsets[rel+uint64(f)] = uint32(fam[f])
					}
					continue
				}

				for f := 0; f < l; f++ {
					idxF := fam[f]
					if idxF >= bc.Size.MaxIncrements {
						continue
					}
					segment := idxF >> bc.Size.SieveBits
					local := uint32(idxF & (bc.Size.SieveSize - 1))
					if stacks[w].push(segment, local) {
						if err := stacks[w].flush(bc.Sieves[w]); err != nil {
							return err
						}
						if currentHeight.Load() != height {
							return nil
						}
					}
				}
			}
		}
	}

	for w := 0; w < workers; w++ {
		if err := stacks[w].flush(bc.Sieves[w]); err != nil {
			return err
		}
	}
	return nil
}

// buildLattice precomputes, for every distinct gap in the pattern, the
// inverse multiplier used to step the sieve index from one
// constellation family to the next: invMul[o] = o * inverts[i] mod p.
func buildLattice(distinctOffsets []uint64, invert, p uint64) map[uint64]uint64 {
	m := make(map[uint64]uint64, len(distinctOffsets))
	for _, o := range distinctOffsets {
		m[o] = mulMod(o, invert, p)
	}
	return m
}

// familyIndexes fills out[f] with the sieve index of constellation
// family f, chaining from family 0 via the precomputed lattice: each
// step subtracts that family's gap (mod p) converted through the same
// primorial inverse used to find family 0's index.
func familyIndexes(index0 uint64, pattern constellation.Pattern, invMul map[uint64]uint64, p uint64, out []uint64) {
	idx := index0
	out[0] = idx
	for f := 1; f < pattern.Len(); f++ {
		idx = subMod(idx, invMul[pattern.Offsets[f]], p)
		out[f] = idx
	}
}

// spillEntry is a pending once-only-prime hit awaiting an atomic
// reservation in its sieve instance's segment-hit bucket.
type spillEntry struct {
	segment uint64
	local   uint32
}

// spillStack is the thread-local batching buffer named in the distilled
// spec: hits accumulate here and are flushed together, amortizing the
// atomic segment-count reservation across OffsetStackSize entries.
type spillStack struct {
	entries []spillEntry
}

// push records a hit and reports whether the buffer has reached its
// flush threshold.
func (s *spillStack) push(segment uint64, local uint32) bool {
	s.entries = append(s.entries, spillEntry{segment: segment, local: local})
	return len(s.entries) >= OffsetStackSize
}

// flush reserves a slot in each buffered hit's segment-hit bucket via
// an atomic fetch-and-add on the segment's fill counter, then clears
// the buffer. A reservation landing at or past EntriesPerSegment means
// the capacity estimate was too small for this configuration, which is
// fatal: the bucket has no room left and data would be silently lost.
func (s *spillStack) flush(inst *sieve.Instance) error {
	for _, e := range s.entries {
		pos := atomic.AddUint64(&inst.SegmentCounts[e.segment], 1) - 1
		if pos >= inst.Size.EntriesPerSegment {
			return fmt.Errorf("remainder: segment-hit bucket overflow in sieve worker %d segment %d (capacity %d)", inst.ID, e.segment, inst.Size.EntriesPerSegment)
		}
		inst.SegmentHits[e.segment][pos] = e.local
	}
	s.entries = s.entries[:0]
	return nil
}

// mulMod returns a*b mod p without overflowing past 64 bits, by
// reducing the 128-bit product's high half modulo p before folding it
// back in with math/bits.Div64.
func mulMod(a, b, p uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	hi %= p
	_, rem := bits.Div64(hi, lo, p)
	return rem
}

// addMod returns a+b mod p.
func addMod(a, b, p uint64) uint64 {
	a %= p
	b %= p
	s := a + b
	if s >= p {
		s -= p
	}
	return s
}

// subMod returns a-b mod p.
func subMod(a, b, p uint64) uint64 {
	a %= p
	b %= p
	if a >= b {
		return a - b
	}
	return p - (b - a)
}
