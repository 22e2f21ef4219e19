package sieve

import (
	"encoding/binary"
	"math/bits"
	"sync/atomic"

	"github.com/fakecoinbase/PttnslashrieMiner/primorial"
)

// MinSieveBits is the smallest usable SieveBits: the candidate scanner
// reads the bitmap eight bytes at a time, so a segment must be at least
// 64 bits wide. NewSizes does not check it; callers validate SieveBits.
const MinSieveBits = 6

// Segment marks composite positions for one sieveSize-wide segment of
// sieve-worker inst, using both the dense offset table (for primes
// below sparseLimit, whose next hit in this segment is computed and
// advanced in place) and the segment-hit buckets the mod phase spilled
// for sparse, once-only primes. It returns the segment-local clear bit
// positions — the surviving candidates — as absolute sieve indices
// (segment*sieveSize + bit).
//
// Segment must be called for segment 0, 1, ..., Size.MaxIter-1 in
// order: the dense offset table carries running state forward from
// one call to the next.
func (inst *Instance) Segment(tables *primorial.Tables, sparseLimit int, segment uint64) []uint64 {
	sieveSize := inst.Size.SieveSize
	l := inst.Size.PatternLength

	for i := range inst.Sieve {
		inst.Sieve[i] = 0
	}

	for i := tables.StartingPrimeIndex; i < sparseLimit; i++ {
		p := tables.Primes[i]
		rel := uint64(i-tables.StartingPrimeIndex) * uint64(l)
		for f := 0; f < l; f++ {
			idx := uint64(inst.Offsets[rel+uint64(f)])
			for idx < sieveSize {
				inst.Sieve[idx>>3] |= 1 << (idx & 7)
				idx += p
			}
			inst.Offsets[rel+uint64(f)] = uint32(idx - sieveSize)
		}
	}

	inst.ModLock.Lock()
	count := atomic.LoadUint64(&inst.SegmentCounts[segment])
	hits := inst.SegmentHits[segment]
	for j := uint64(0); j < count; j++ {
		idx := uint64(hits[j])
		inst.Sieve[idx>>3] |= 1 << (idx & 7)
	}
	inst.ModLock.Unlock()

	return scanClearBits(inst.Sieve, segment*sieveSize)
}

// scanClearBits returns, as base+bitPosition, every bit in buf that is
// 0 — a survivor not ruled out by any prime in the constellation.
func scanClearBits(buf []byte, base uint64) []uint64 {
	var out []uint64
	for wordStart := 0; wordStart < len(buf); wordStart += 8 {
		w := binary.LittleEndian.Uint64(buf[wordStart : wordStart+8])
		clear := ^w
		for clear != 0 {
			bit := bits.TrailingZeros64(clear)
			clear &= clear - 1
			out = append(out, base+uint64(wordStart)*8+uint64(bit))
		}
	}
	return out
}
