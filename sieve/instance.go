// Package sieve turns the remainder worker's per-prime offsets into a
// bitmap of composite positions for one sieveSize-bit segment, then scans
// the clear bits into candidate indices for the Fermat verifier.
package sieve

import (
	"math"
	"sync"
)

// MaxSieveWorkers bounds how many independent SieveInstances (and hence
// primorial-offset "lanes") a single miner process runs concurrently.
const MaxSieveWorkers = 16

// Sizes are the derived buffer dimensions shared by every SieveInstance
// for a given configuration. They only change when the configuration
// (pattern length, sieve bits, max increments) changes, never per-block.
type Sizes struct {
	SieveBits                 uint
	SieveSize                 uint64 // 1 << SieveBits
	MaxIncrements             uint64
	MaxIter                   uint64 // MaxIncrements / SieveSize
	PrimeTestStoreOffsetsSize uint64 // sparseLimit - startingPrimeIndex
	EntriesPerSegment         uint64
	PatternLength             int
}

// SparseLimit returns the first prime-table index at or after
// startingPrimeIndex whose prime is >= maxIncrements, rounded down to an
// even index so the dense/sparse split always lands on an even
// boundary (the distilled spec requires this for its SIMD pairing; we
// keep the same boundary for consistency even without real SIMD).
func SparseLimit(primes []uint64, startingPrimeIndex int, maxIncrements uint64) int {
	limit := len(primes)
	for i := startingPrimeIndex; i < len(primes); i++ {
		if primes[i] >= maxIncrements {
			limit = i
			break
		}
	}
	if limit%2 != 0 {
		limit--
	}
	if limit < startingPrimeIndex {
		limit = startingPrimeIndex
	}
	return limit
}

// NewSizes derives Sizes from a configuration. sparseLimit and nPrimes
// delimit the sparse ("once-only") prime range used to estimate the
// segment-hit bucket capacity.
func NewSizes(primes []uint64, startingPrimeIndex, sparseLimit, nPrimes int, sieveBits uint, maxIncrements uint64, patternLength int) Sizes {
	sieveSize := uint64(1) << sieveBits
	maxIter := maxIncrements / sieveSize
	if maxIter == 0 {
		maxIter = 1
	}

	var sparseReciprocalSum float64
	for i := sparseLimit; i < nPrimes; i++ {
		sparseReciprocalSum += 1.0 / float64(primes[i])
	}

	entriesPerSegment := uint64(math.Ceil(float64(patternLength)*float64(maxIncrements)*sparseReciprocalSum/float64(maxIter)*1.125)) + 4

	return Sizes{
		SieveBits:                 sieveBits,
		SieveSize:                 sieveSize,
		MaxIncrements:             maxIncrements,
		MaxIter:                   maxIter,
		PrimeTestStoreOffsetsSize: uint64(sparseLimit - startingPrimeIndex),
		EntriesPerSegment:         entriesPerSegment,
		PatternLength:             patternLength,
	}
}

// Instance is one sieve-worker's lane: its own bitmap, dense offset
// table, and segment-hit spill buckets. Allocated once and reused
// across blocks.
type Instance struct {
	ID   int
	Size Sizes

	// ModLock is taken by Segment while it reads this instance's
	// segment hits. The pipeline does not hold it during the mod phase;
	// RunBlock orders the phases by waiting for every mod job to finish
	// before it queues any sieve job.
	ModLock sync.Mutex

	Sieve []byte // sieveSize/8 bytes; bit set = composite

	// Offsets[i*L+f] is the next sieve-local index prime i will hit for
	// family f, for i in [0, PrimeTestStoreOffsetsSize).
	Offsets []uint32

	// SegmentHits[s] holds up to EntriesPerSegment indices contributed
	// by once-only (sparse) primes for segment s. SegmentCounts[s] is
	// its atomic fill level. The mod phase reserves slots with
	// sync/atomic and no lock; Segment reads them under ModLock.
	SegmentHits   [][]uint32
	SegmentCounts []uint64
}

// NewInstance allocates a fresh Instance for the given sizes. Allocation
// happens once per configuration; ResetForBlock clears the per-block
// state without reallocating.
func NewInstance(id int, size Sizes) *Instance {
	inst := &Instance{
		ID:            id,
		Size:          size,
		Sieve:         make([]byte, size.SieveSize/8),
		Offsets:       make([]uint32, size.PrimeTestStoreOffsetsSize*uint64(size.PatternLength)),
		SegmentHits:   make([][]uint32, size.MaxIter),
		SegmentCounts: make([]uint64, size.MaxIter),
	}
	for s := range inst.SegmentHits {
		inst.SegmentHits[s] = make([]uint32, size.EntriesPerSegment)
	}
	return inst
}

// ResetForBlock zeroes the per-block state (segment counts; the bitmap
// and offsets are overwritten wholesale during the next mod/sieve pass
// and don't need zeroing here).
func (inst *Instance) ResetForBlock() {
	for i := range inst.SegmentCounts {
		inst.SegmentCounts[i] = 0
	}
}
